package distance

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bitcar/board"
)

// Sensor runs trigger/echo measurements. Calls are serialised so two
// callers never interleave a trigger sequence.
type Sensor struct {
	mu      sync.Mutex
	board   board.Board
	timer   board.PulseTimer
	sleeper board.Sleeper
	logger  *zap.SugaredLogger
}

// New returns a sensor that resolves its pins on b for every call, so one
// Sensor can serve any number of ports.
func New(b board.Board, timer board.PulseTimer, sleeper board.Sleeper, logger *zap.SugaredLogger) *Sensor {
	return &Sensor{board: b, timer: timer, sleeper: sleeper, logger: logger}
}

func (s *Sensor) pin(name board.Pin) (board.GPIOPin, error) {
	p, err := s.board.GPIOPinByName(name)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open ultrasonic pin %q", name)
	}
	return p, nil
}

// trigger drives low for 2µs, high for 10µs, then low.
func (s *Sensor) trigger(p board.GPIOPin) error {
	if err := p.Set(false); err != nil {
		return errors.Wrap(err, "could not reset trigger")
	}
	s.timer.Wait(TriggerSettle)
	if err := p.Set(true); err != nil {
		return errors.Wrap(err, "could not raise trigger")
	}
	s.timer.Wait(TriggerWidth)
	return errors.Wrap(p.Set(false), "could not lower trigger")
}

// Measure triggers the single-pin sensor on pin and converts the echo with
// cal. Without an echo within 50ms the result is Sentinel, not an error.
// Every call ends with a 50ms settle, so a sensor is read at most ~20 times
// per second.
func (s *Sensor) Measure(pin board.Pin, unit Unit, cal Calibration) (Distance, error) {
	if _, err := cal.divisor(unit); err != nil {
		return Distance{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.pin(pin)
	if err != nil {
		return Distance{}, err
	}
	if err := s.trigger(p); err != nil {
		return Distance{}, err
	}
	r, err := s.timer.PulseIn(p, true, EchoTimeout)
	if err != nil {
		return Distance{}, errors.Wrap(err, "could not time echo")
	}
	d, err := Convert(r, unit, cal)
	if err != nil {
		return Distance{}, err
	}
	s.logger.Debugw("measured distance", "pin", pin, "variant", cal.Name, "echo_us", r.Micros(), "timed_out", r.TimedOut, "value", d.Value, "unit", unit)
	s.sleeper.Sleep(MeasureSettle)
	return d, nil
}

// MeasureV1 measures with the first Grove sensor revision.
func (s *Sensor) MeasureV1(pin board.Pin, unit Unit) (Distance, error) {
	return s.Measure(pin, unit, GroveV1)
}

// MeasureV2 measures with the second Grove sensor revision.
func (s *Sensor) MeasureV2(pin board.Pin, unit Unit) (Distance, error) {
	return s.Measure(pin, unit, GroveV2)
}

// Ping triggers on trig and times the echo on echo, waiting at most as long
// as sound needs for maxCm (DefaultMaxRange when maxCm <= 0, capped at
// MaxPingRange). The result is
// whole centimeters, whole inches or raw microseconds. No echo yields 0.
func (s *Sensor) Ping(trig, echo board.Pin, unit Unit, maxCm int) (int, error) {
	if maxCm <= 0 {
		maxCm = DefaultMaxRange
	}
	maxCm = min(maxCm, MaxPingRange)
	s.mu.Lock()
	defer s.mu.Unlock()

	tp, err := s.pin(trig)
	if err != nil {
		return 0, err
	}
	ep, err := s.pin(echo)
	if err != nil {
		return 0, err
	}
	if err := s.trigger(tp); err != nil {
		return 0, err
	}
	timeout := time.Duration(maxCm*MicrosPerCentimeter) * time.Microsecond
	r, err := s.timer.PulseIn(ep, true, timeout)
	if err != nil {
		return 0, errors.Wrap(err, "could not time echo")
	}
	v := PingValue(r.Micros(), unit)
	s.logger.Debugw("ping", "trig", trig, "echo", echo, "echo_us", r.Micros(), "timed_out", r.TimedOut, "value", v, "unit", unit)
	return v, nil
}
