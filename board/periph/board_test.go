package periph

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"

	"bitcar/board"
	"bitcar/board/fake"
)

func testBoard(t *testing.T, pins ...*gpiotest.Pin) *Board {
	t.Helper()
	byName := func(name string) gpio.PinIO {
		for _, p := range pins {
			if p.N == name {
				return p
			}
		}
		return nil
	}
	return newBoard(Config{PWMPeriod: time.Millisecond}, byName, zaptest.NewLogger(t).Sugar())
}

func TestGPIOSetAndGet(t *testing.T) {
	raw := &gpiotest.Pin{N: "GPIO17"}
	b := testBoard(t, raw)

	p, err := b.GPIOPinByName("GPIO17")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Set(true), test.ShouldBeNil)
	test.That(t, raw.Read(), test.ShouldEqual, gpio.High)

	high, err := p.Get()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, high, test.ShouldBeTrue)

	_, err = b.GPIOPinByName("GPIO99")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSetDutyUsesHardwarePWM(t *testing.T) {
	raw := &gpiotest.Pin{N: "GPIO12"}
	b := testBoard(t, raw)

	p, err := b.PWMPinByName("GPIO12")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.SetDuty(board.DutyMax), test.ShouldBeNil)
	test.That(t, raw.D, test.ShouldEqual, gpio.DutyMax)
	test.That(t, raw.F, test.ShouldNotEqual, physic.Frequency(0))

	test.That(t, p.SetDuty(0), test.ShouldBeNil)
	test.That(t, raw.Read(), test.ShouldEqual, gpio.Low)

	test.That(t, p.SetDuty(board.DutyMax+1), test.ShouldNotBeNil)
}

func TestCloseDrivesPinsLow(t *testing.T) {
	raw := &gpiotest.Pin{N: "GPIO5"}
	b := testBoard(t, raw)
	p, err := b.GPIOPinByName("GPIO5")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Set(true), test.ShouldBeNil)
	test.That(t, b.Close(), test.ShouldBeNil)
	test.That(t, raw.Read(), test.ShouldEqual, gpio.Low)
}

func TestAnalogNeedsAINName(t *testing.T) {
	b := testBoard(t)
	_, err := b.AnalogReaderByName("GPIO5")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPulseInWithEdges(t *testing.T) {
	raw := &gpiotest.Pin{N: "GPIO6", EdgesChan: make(chan gpio.Level)}
	b := testBoard(t, raw)
	p, err := b.GPIOPinByName("GPIO6")
	test.That(t, err, test.ShouldBeNil)

	go func() {
		time.Sleep(5 * time.Millisecond)
		raw.EdgesChan <- gpio.High
		time.Sleep(5 * time.Millisecond)
		raw.EdgesChan <- gpio.Low
	}()

	r, err := NewPulseTimer(clock.New()).PulseIn(p, true, time.Second)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.TimedOut, test.ShouldBeFalse)
	test.That(t, r.Duration, test.ShouldBeGreaterThanOrEqualTo, 4*time.Millisecond)
	test.That(t, r.Duration, test.ShouldBeLessThan, time.Second)
}

func TestPulseInTimesOut(t *testing.T) {
	raw := &gpiotest.Pin{N: "GPIO6", EdgesChan: make(chan gpio.Level)}
	b := testBoard(t, raw)
	p, err := b.GPIOPinByName("GPIO6")
	test.That(t, err, test.ShouldBeNil)

	r, err := NewPulseTimer(clock.New()).PulseIn(p, true, 10*time.Millisecond)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.TimedOut, test.ShouldBeTrue)
}

func TestPulseInFallsBackToPolling(t *testing.T) {
	fb := fake.NewBoard()
	r, err := NewPulseTimer(clock.New()).PulseIn(fb.GPIO("echo"), true, time.Millisecond)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.TimedOut, test.ShouldBeTrue)
}
