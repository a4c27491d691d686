// Package distance measures range with Grove-style ultrasonic sensors.
//
// A measurement sends a 10µs trigger pulse, times the echo pulse and turns
// the echo width into centimeters or inches. The calibrated measurements
// report Sentinel when no echo comes back; Ping reports 0.
package distance

import (
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"

	"bitcar/board"
)

// Sentinel is returned by calibrated measurements when there is no echo.
// It is the nominal maximum range of the sensor.
const Sentinel = 350

const (
	TriggerSettle   = 2 * time.Microsecond
	TriggerWidth    = 10 * time.Microsecond
	EchoTimeout     = 50 * time.Millisecond
	MeasureSettle   = 50 * time.Millisecond
	DefaultMaxRange = 500 // cm
	MaxPingRange    = 1000

	MicrosPerCentimeter = 58
	MicrosPerInch       = 148

	speedNumerator = 153
	speedScale     = 100
)

// Unit is the unit a measurement is reported in.
type Unit int

const (
	Centimeters Unit = iota
	Inches
	// Microseconds reports the raw echo width. Only Ping accepts it.
	Microseconds
)

func (u Unit) String() string {
	switch u {
	case Centimeters:
		return "cm"
	case Inches:
		return "inch"
	case Microseconds:
		return "us"
	default:
		return "unknown"
	}
}

// ParseUnit accepts the short and long unit names.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cm", "centimeter", "centimeters":
		return Centimeters, nil
	case "in", "inch", "inches":
		return Inches, nil
	case "us", "µs", "microsecond", "microseconds":
		return Microseconds, nil
	}
	return 0, errors.Errorf("unknown distance unit %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (u Unit) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *Unit) UnmarshalText(text []byte) error {
	parsed, err := ParseUnit(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Calibration holds the divisors of one sensor hardware revision. A
// distance is echo µs * 153 / divisor / 100.
type Calibration struct {
	Name              string
	CentimeterDivisor float64
	InchDivisor       float64
}

var (
	GroveV1 = Calibration{Name: "v1", CentimeterDivisor: 58, InchDivisor: 148}
	GroveV2 = Calibration{Name: "v2", CentimeterDivisor: 88, InchDivisor: 226}
)

// CalibrationByName returns the preset called name ("v1" or "v2").
func CalibrationByName(name string) (Calibration, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "v1":
		return GroveV1, nil
	case "v2":
		return GroveV2, nil
	}
	return Calibration{}, errors.Errorf("unknown sensor variant %q", name)
}

func (c Calibration) divisor(unit Unit) (float64, error) {
	switch unit {
	case Centimeters:
		return c.CentimeterDivisor, nil
	case Inches:
		return c.InchDivisor, nil
	}
	return 0, errors.Errorf("calibrated measurements report cm or inch, not %s", unit)
}

// Distance is one converted measurement.
type Distance struct {
	Value float64 `json:"value"`
	Unit  Unit    `json:"unit"`
}

// InRange reports whether the measurement saw an echo.
func (d Distance) InRange() bool {
	return d.Value != Sentinel
}

// Convert turns an echo width into a distance floored to one decimal. A
// timed out reading or a non-positive distance yields Sentinel.
func Convert(r board.PulseReading, unit Unit, cal Calibration) (Distance, error) {
	div, err := cal.divisor(unit)
	if err != nil {
		return Distance{}, err
	}
	if div <= 0 {
		return Distance{}, errors.Errorf("calibration %q has no %s divisor", cal.Name, unit)
	}
	v := float64(r.Micros()) * speedNumerator / div / speedScale
	if r.TimedOut || v <= 0 {
		return Distance{Value: Sentinel, Unit: unit}, nil
	}
	return Distance{Value: math.Floor(v*10) / 10, Unit: unit}, nil
}

// PingValue converts an echo width the way Ping does: integer division by
// 58 or 148, or the raw width for Microseconds.
func PingValue(micros int64, unit Unit) int {
	switch unit {
	case Centimeters:
		return int(micros / MicrosPerCentimeter)
	case Inches:
		return int(micros / MicrosPerInch)
	default:
		return int(micros)
	}
}
