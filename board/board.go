// Package board defines the boundary between the vehicle control code and
// the host platform: digital pins, PWM channels, analog inputs and the
// microsecond pulse timer.
package board

import (
	"regexp"
	"time"

	"github.com/pkg/errors"
)

// Pin names a physical pin or channel on a board. How the name maps to
// hardware is up to the Board implementation.
type Pin string

var pinPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

// Validate rejects names no board can map, such as empty names or names
// carrying shell or path characters.
func (p Pin) Validate() error {
	if !pinPattern.MatchString(string(p)) {
		return errors.Errorf("invalid pin name %q", p)
	}
	return nil
}

// DutyMax is the full-scale PWM duty value accepted by PWMPin.SetDuty.
const DutyMax = 1023

// AnalogMax is the full-scale value returned by AnalogReader.Read.
const AnalogMax = 1023

// GPIOPin is a digital pin. Set configures the pin as an output, Get as an
// input, so a single pin can be used for both trigger and echo.
type GPIOPin interface {
	Set(high bool) error
	Get() (bool, error)
}

// PWMPin is a PWM output taking a duty in [0, DutyMax].
type PWMPin interface {
	SetDuty(duty uint16) error
}

// AnalogReader samples an analog input scaled to [0, AnalogMax].
type AnalogReader interface {
	Read() (int, error)
}

// Board resolves pins by name.
type Board interface {
	GPIOPinByName(pin Pin) (GPIOPin, error)
	PWMPinByName(pin Pin) (PWMPin, error)
	AnalogReaderByName(pin Pin) (AnalogReader, error)
	Close() error
}

// PulseReading is the outcome of one pulse-width measurement.
type PulseReading struct {
	Duration time.Duration
	TimedOut bool
}

// Micros returns the pulse width in whole microseconds, 0 on timeout.
func (r PulseReading) Micros() int64 {
	if r.TimedOut {
		return 0
	}
	return r.Duration.Microseconds()
}

// PulseTimer provides blocking microsecond waits and pulse-width
// measurement. Both block the caller for a bounded time.
type PulseTimer interface {
	Wait(d time.Duration)
	PulseIn(pin GPIOPin, high bool, timeout time.Duration) (PulseReading, error)
}

// Sleeper blocks for millisecond-scale pauses. clock.Clock satisfies it.
type Sleeper interface {
	Sleep(d time.Duration)
}
