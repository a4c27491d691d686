package distance

import (
	"time"

	"github.com/pkg/errors"

	"bitcar/board"
)

// Config describes the ultrasonic sensors fitted to the vehicle. Pin is a
// single-pin Grove sensor; TrigPin and EchoPin a two-pin HC-SR04 style one.
type Config struct {
	Pin          board.Pin     `yaml:"pin" env:"BITCAR_DISTANCE_PIN"`
	Variant      string        `yaml:"variant" env:"BITCAR_DISTANCE_VARIANT"`
	Unit         string        `yaml:"unit" env:"BITCAR_DISTANCE_UNIT"`
	TrigPin      board.Pin     `yaml:"trig_pin" env:"BITCAR_DISTANCE_TRIG_PIN"`
	EchoPin      board.Pin     `yaml:"echo_pin" env:"BITCAR_DISTANCE_ECHO_PIN"`
	MaxCm        int           `yaml:"max_cm" env:"BITCAR_DISTANCE_MAX_CM"`
	StopDistance float64       `yaml:"stop_distance" env:"BITCAR_DISTANCE_STOP"`
	PollPeriod   time.Duration `yaml:"poll_period" env:"BITCAR_DISTANCE_POLL_PERIOD"`
}

func (c Config) Validate(path string) error {
	if _, err := CalibrationByName(c.Variant); err != nil {
		return errors.Wrapf(err, "%s.variant", path)
	}
	unit, err := ParseUnit(c.Unit)
	if err != nil {
		return errors.Wrapf(err, "%s.unit", path)
	}
	if unit == Microseconds {
		return errors.Errorf("%s.unit must be cm or inch", path)
	}
	if (c.TrigPin == "") != (c.EchoPin == "") {
		return errors.Errorf("%s.trig_pin and %s.echo_pin must be set together", path, path)
	}
	if c.MaxCm < 0 || c.MaxCm > MaxPingRange {
		return errors.Errorf("%s.max_cm must be within [0, %d]", path, MaxPingRange)
	}
	if c.StopDistance < 0 {
		return errors.Errorf("%s.stop_distance must not be negative", path)
	}
	if c.PollPeriod < 0 {
		return errors.Errorf("%s.poll_period must not be negative", path)
	}
	if c.PollPeriod > 0 && c.Pin == "" && c.TrigPin == "" {
		return errors.Errorf("%s.poll_period needs a pin or trig_pin/echo_pin", path)
	}
	return nil
}

// Measurement returns the function a Monitor polls: the single-pin sensor
// if Pin is set, the two-pin one otherwise. The config must be valid.
func (c Config) Measurement(s *Sensor) func() (Distance, error) {
	unit, _ := ParseUnit(c.Unit)
	if c.Pin != "" {
		cal, _ := CalibrationByName(c.Variant)
		return func() (Distance, error) {
			return s.Measure(c.Pin, unit, cal)
		}
	}
	return func() (Distance, error) {
		v, err := s.Ping(c.TrigPin, c.EchoPin, unit, c.MaxCm)
		if err != nil {
			return Distance{}, err
		}
		if v == 0 {
			return Distance{Value: Sentinel, Unit: unit}, nil
		}
		return Distance{Value: float64(v), Unit: unit}, nil
	}
}
