package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"bitcar/board"
	"bitcar/platform"
)

const testYaml = `
board:
  kind: fake
motors:
  left_forward: P9_14
  left_backward: P9_16
  right_forward: P8_19
  right_backward: P8_13
distance:
  pin: P8_10
  variant: v2
  unit: inch
  stop_distance: 8
follow:
  speed: 35
  interval: 50ms
  recheck: false
mqtt:
  broker: tcp://broker.local:1883
`

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "bitcar.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	Convey("the defaults are valid", t, func() {
		cfg := Default()
		So(cfg.Validate(), ShouldBeNil)
		So(cfg.Line.Threshold, ShouldEqual, 500)
		So(cfg.Follow.Recheck, ShouldBeTrue)
		So(cfg.MQTT.Enabled(), ShouldBeFalse)
		So(cfg.Battery.Enabled, ShouldBeFalse)
	})
}

func TestParse(t *testing.T) {
	Convey("parsing is successful", t, func() {
		cfg, err := Parse([]byte(testYaml))
		So(err, ShouldBeNil)
		So(cfg.Validate(), ShouldBeNil)

		Convey("set keys override the defaults", func() {
			So(cfg.Board.Kind, ShouldEqual, platform.Fake)
			So(cfg.Motors.LeftForward, ShouldEqual, board.Pin("P9_14"))
			So(cfg.Distance.Variant, ShouldEqual, "v2")
			So(cfg.Distance.StopDistance, ShouldEqual, 8.0)
			So(cfg.Follow.Interval, ShouldEqual, 50*time.Millisecond)
			So(cfg.Follow.Recheck, ShouldBeFalse)
			So(cfg.MQTT.Enabled(), ShouldBeTrue)
		})

		Convey("missing keys keep the defaults", func() {
			So(cfg.Line.Left, ShouldEqual, board.Pin("AIN1"))
			So(cfg.Server.Address, ShouldEqual, ":1337")
			So(cfg.Server.StatusPeriod, ShouldEqual, 500*time.Millisecond)
			So(cfg.MQTT.Topic, ShouldEqual, "bitcar/status")
		})
	})

	Convey("unknown keys are rejected", t, func() {
		_, err := Parse([]byte("motors:\n  left_fwd: P9_14\n"))
		So(err, ShouldNotBeNil)
	})
}

func TestLoad(t *testing.T) {
	Convey("loading a file", t, func() {
		path := writeConfig(t, testYaml)

		Convey("applies the file", func() {
			cfg, err := Load(path)
			So(err, ShouldBeNil)
			So(cfg.Follow.Speed, ShouldEqual, 35)
		})

		Convey("lets the environment win", func() {
			t.Setenv("BITCAR_FOLLOW_SPEED", "80")
			t.Setenv("BITCAR_LINE_THRESHOLD", "420")
			t.Setenv("BITCAR_BOARD", "periph")
			cfg, err := Load(path)
			So(err, ShouldBeNil)
			So(cfg.Follow.Speed, ShouldEqual, 80)
			So(cfg.Line.Threshold, ShouldEqual, 420)
			So(cfg.Board.Kind, ShouldEqual, platform.Periph)
		})

		Convey("reports invalid values by field", func() {
			t.Setenv("BITCAR_RIGHT_FORWARD", "P9_14")
			_, err := Load(path)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "motors.right_forward")
		})
	})

	Convey("a missing file is an error", t, func() {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		So(err, ShouldNotBeNil)
	})
}

func TestLoadDefaults(t *testing.T) {
	Convey("no file means defaults", t, func() {
		cfg, err := Load("")
		So(err, ShouldBeNil)
		So(cfg.Board.Kind, ShouldEqual, platform.Sysfs)
	})
}
