package command

import (
	"testing"
	"time"

	"go.viam.com/test"

	"bitcar/distance"
	"bitcar/linesensor"
)

func TestUnmarshal(t *testing.T) {
	cmd, err := Unmarshal([]byte(`{"type":"setSpeeds","left":-40,"right":75}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmd, test.ShouldResemble, &Command{Type: SetSpeeds, Left: -40, Right: 75})

	cmd, err = Unmarshal([]byte(`{"type":"ping","trigPin":"P1","echoPin":"P2","unit":"inch","maxCm":200}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmd.TrigPin, test.ShouldEqual, "P1")
	test.That(t, cmd.EchoPin, test.ShouldEqual, "P2")
	test.That(t, cmd.MaxCm, test.ShouldEqual, 200)

	_, err = Unmarshal([]byte(`{"type":`))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "malformed command")
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		cmd Command
		ok  bool
	}{
		{Command{Type: Stop}, true},
		{Command{Type: GetStatus}, true},
		{Command{Type: SetSpeeds, Left: 500}, true},
		{Command{Type: StandUp}, true},
		{Command{Type: StandUp, Speed: 101}, false},
		{Command{Type: StandUp, Speed: 80, ChargeMs: -1}, false},
		{Command{Type: FollowLine, Speed: 30}, true},
		{Command{Type: FollowLine, Speed: -30}, false},
		{Command{Type: LineState, Side: "left"}, true},
		{Command{Type: LineState, Side: "up"}, false},
		{Command{Type: MeasureDistance}, false},
		{Command{Type: MeasureDistance, Pin: "P0"}, true},
		{Command{Type: Ping, TrigPin: "P1"}, false},
		{Command{Type: Ping, TrigPin: "P1", EchoPin: "P2", MaxCm: -5}, false},
		{Command{Type: Ping, TrigPin: "P1", EchoPin: "P2", MaxCm: distance.MaxPingRange}, true},
		{Command{Type: Ping, TrigPin: "P1", EchoPin: "P2", MaxCm: distance.MaxPingRange + 1}, false},
		{Command{Type: MeasureDistance, Pin: "P8_03$(touch x)"}, false},
		{Command{Type: MeasureDistance, Pin: "../../export"}, false},
		{Command{Type: Ping, TrigPin: "P8_03;reboot", EchoPin: "P2"}, false},
		{Command{Type: Ping, TrigPin: "P1", EchoPin: "P2 `id`"}, false},
		{Command{}, false},
		{Command{Type: "fly"}, false},
	} {
		err := tc.cmd.Validate()
		if tc.ok {
			test.That(t, err, test.ShouldBeNil)
		} else {
			test.That(t, err, test.ShouldNotBeNil)
		}
	}
}

func TestReplyMarshal(t *testing.T) {
	v := 26.3
	r := &Reply{Type: MeasureDistance, OK: true, Value: &v}
	raw, err := r.Marshal()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(raw), test.ShouldEqual, `{"type":"measureDistance","ok":true,"value":26.3}`)

	raw, err = Failed(Ping, errRange).Marshal()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(raw), test.ShouldEqual, `{"type":"ping","ok":false,"error":"out of range"}`)

	s := &Status{
		Left:      10,
		Right:     -10,
		Line:      &linesensor.LineState{Left: true},
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	raw, err = s.Marshal()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(raw), test.ShouldEqual,
		`{"left":10,"right":-10,"following":false,"line":{"left":true,"right":false},"timestamp":"2024-01-02T03:04:05Z"}`)
}

type constError string

func (e constError) Error() string { return string(e) }

const errRange = constError("out of range")
