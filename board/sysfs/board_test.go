package sysfs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"bitcar/board"
	"bitcar/gpio"
	"bitcar/pwm"
)

func TestParsePWM(t *testing.T) {
	bus, channel, err := ParsePWM("0a")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bus, test.ShouldEqual, pwm.Bus0)
	test.That(t, channel, test.ShouldEqual, pwm.ChannelA)

	bus, channel, err = ParsePWM("PWM1b")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bus, test.ShouldEqual, pwm.Bus1)
	test.That(t, channel, test.ShouldEqual, pwm.ChannelB)

	for _, bad := range []board.Pin{"", "0c", "P8_03", "12a"} {
		_, _, err := ParsePWM(bad)
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestParseAnalog(t *testing.T) {
	ch, err := ParseAnalog("AIN2")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ch, test.ShouldEqual, 2)

	_, err = ParseAnalog("P9_40")
	test.That(t, err, test.ShouldNotBeNil)
}

type sysfsRoots struct {
	gpio, pwm, adc string
}

func fakeRoots(t *testing.T) sysfsRoots {
	t.Helper()
	r := sysfsRoots{gpio: t.TempDir(), pwm: t.TempDir(), adc: t.TempDir()}
	prevGpio, prevPwm := gpio.Root, pwm.Root
	gpio.Root, pwm.Root = r.gpio, r.pwm
	t.Cleanup(func() { gpio.Root, pwm.Root = prevGpio, prevPwm })

	test.That(t, os.MkdirAll(filepath.Join(r.pwm, "0", "a"), 0o755), test.ShouldBeNil)
	gdir := filepath.Join(r.gpio, "gpio7")
	test.That(t, os.MkdirAll(gdir, 0o755), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(gdir, "direction"), []byte("in"), 0o644), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(gdir, "value"), []byte("0"), 0o644), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(r.adc, "in_voltage1_raw"), []byte("4000"), 0o644), test.ShouldBeNil)
	return r
}

func TestBoardOpensAndCachesPins(t *testing.T) {
	roots := fakeRoots(t)
	b := NewBoard(Config{PWMPeriod: 2 * time.Millisecond, ADCDevice: roots.adc}, zaptest.NewLogger(t).Sugar())

	p1, err := b.PWMPinByName("0a")
	test.That(t, err, test.ShouldBeNil)
	p2, err := b.PWMPinByName("0a")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p1, test.ShouldEqual, p2)
	test.That(t, p1.SetDuty(board.DutyMax), test.ShouldBeNil)
	data, err := os.ReadFile(filepath.Join(roots.pwm, "0", "a", "duty_cycle"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual, "2000000")

	g, err := b.GPIOPinByName("gpio7")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.Set(true), test.ShouldBeNil)

	a, err := b.AnalogReaderByName("AIN1")
	test.That(t, err, test.ShouldBeNil)
	v, err := a.Read()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 1000)

	_, err = b.AnalogReaderByName("AIN5")
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, b.Close(), test.ShouldBeNil)
	data, err = os.ReadFile(filepath.Join(roots.pwm, "0", "a", "enable"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual, "0")
	data, err = os.ReadFile(filepath.Join(roots.gpio, "unexport"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual, "7")
}

func TestBoardRejectsBadNames(t *testing.T) {
	fakeRoots(t)
	b := NewBoard(Config{}, zaptest.NewLogger(t).Sugar())
	_, err := b.PWMPinByName("left")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = b.AnalogReaderByName("P9_39")
	test.That(t, err, test.ShouldNotBeNil)
}
