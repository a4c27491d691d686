package distance

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"bitcar/board/fake"
)

func TestConfigValidate(t *testing.T) {
	good := Config{Pin: "P0", Variant: "v1", Unit: "cm", PollPeriod: 100 * time.Millisecond}
	test.That(t, good.Validate("distance"), test.ShouldBeNil)

	for _, mutate := range []func(*Config){
		func(c *Config) { c.Variant = "v9" },
		func(c *Config) { c.Unit = "us" },
		func(c *Config) { c.TrigPin = "P1" },
		func(c *Config) { c.MaxCm = -1 },
		func(c *Config) { c.MaxCm = MaxPingRange + 1 },
		func(c *Config) { c.StopDistance = -3 },
		func(c *Config) { c.Pin = "" },
	} {
		c := good
		mutate(&c)
		test.That(t, c.Validate("distance"), test.ShouldNotBeNil)
	}
}

func TestMeasurement(t *testing.T) {
	b := fake.NewBoard()
	s := New(b, b.PulseTimer(), &fake.Sleeper{}, zaptest.NewLogger(t).Sugar())

	b.PulseTimer().QueueEcho(1000 * time.Microsecond)
	d, err := Config{Pin: "P0", Variant: "v2", Unit: "inch"}.Measurement(s)()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.Value, test.ShouldAlmostEqual, 6.7, 1e-9)

	two := Config{TrigPin: "P1", EchoPin: "P2", Unit: "cm"}.Measurement(s)
	b.PulseTimer().QueueEcho(5800 * time.Microsecond)
	d, err = two()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldResemble, Distance{Value: 100, Unit: Centimeters})

	d, err = two()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.InRange(), test.ShouldBeFalse)
}
