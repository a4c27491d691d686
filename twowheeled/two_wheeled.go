// Package twowheeled drives the two motors of a differential-drive vehicle.
// Each motor has a forward and a backward PWM channel; at most one of them
// carries a non-zero duty at any time.
package twowheeled

import (
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"bitcar/board"
)

const SpeedMax = 100

const (
	DefaultStandUpSpeed  = 100
	DefaultStandUpCharge = 250 * time.Millisecond
	StandUpReverse       = 200 * time.Millisecond
)

// Config names the four motor channels.
type Config struct {
	LeftForward   board.Pin `yaml:"left_forward" env:"BITCAR_LEFT_FORWARD"`
	LeftBackward  board.Pin `yaml:"left_backward" env:"BITCAR_LEFT_BACKWARD"`
	RightForward  board.Pin `yaml:"right_forward" env:"BITCAR_RIGHT_FORWARD"`
	RightBackward board.Pin `yaml:"right_backward" env:"BITCAR_RIGHT_BACKWARD"`
}

// Validate checks that all four channels are set and distinct.
func (c Config) Validate(path string) error {
	seen := make(map[board.Pin]string)
	for _, ch := range []struct {
		field string
		pin   board.Pin
	}{
		{"left_forward", c.LeftForward},
		{"left_backward", c.LeftBackward},
		{"right_forward", c.RightForward},
		{"right_backward", c.RightBackward},
	} {
		if ch.pin == "" {
			return errors.Errorf("%s.%s is required", path, ch.field)
		}
		if other, ok := seen[ch.pin]; ok {
			return errors.Errorf("%s.%s uses pin %q already used by %s", path, ch.field, ch.pin, other)
		}
		seen[ch.pin] = ch.field
	}
	return nil
}

// DutyPair is the duty of one motor's forward and backward channels.
type DutyPair struct {
	Forward  uint16 `json:"forward"`
	Backward uint16 `json:"backward"`
}

// Duties maps a signed speed percentage to channel duties. Speeds outside
// [-SpeedMax, SpeedMax] are clamped.
func Duties(speed int) DutyPair {
	speed = clamp(speed)
	magnitude := speed
	if magnitude < 0 {
		magnitude = -magnitude
	}
	duty := uint16(math.Round(float64(magnitude) / SpeedMax * board.DutyMax))
	if speed >= 0 {
		return DutyPair{Forward: duty}
	}
	return DutyPair{Backward: duty}
}

func clamp(speed int) int {
	return min(max(speed, -SpeedMax), SpeedMax)
}

type wheel struct {
	name     string
	forward  board.PWMPin
	backward board.PWMPin
}

// set writes the zero channel before the driven one so the two are never
// both non-zero. If zeroing fails the driven channel is left untouched.
func (w *wheel) set(d DutyPair) error {
	if d.Backward == 0 {
		if err := w.backward.SetDuty(0); err != nil {
			return errors.Wrapf(err, "could not set %s wheel backward duty", w.name)
		}
		return errors.Wrapf(w.forward.SetDuty(d.Forward), "could not set %s wheel forward duty", w.name)
	}
	if err := w.forward.SetDuty(0); err != nil {
		return errors.Wrapf(err, "could not set %s wheel forward duty", w.name)
	}
	return errors.Wrapf(w.backward.SetDuty(d.Backward), "could not set %s wheel backward duty", w.name)
}

func (w *wheel) stop() error {
	return multierr.Combine(
		errors.Wrapf(w.backward.SetDuty(0), "could not stop %s wheel backward", w.name),
		errors.Wrapf(w.forward.SetDuty(0), "could not stop %s wheel forward", w.name),
	)
}

// Driver is the motor driver of the vehicle.
type Driver struct {
	mu      sync.Mutex
	left    wheel
	right   wheel
	sleeper board.Sleeper
	logger  *zap.SugaredLogger

	leftSpeed  int
	rightSpeed int
}

// New resolves the four channels on b. sleeper paces RecoverFromStill.
func New(b board.Board, cfg Config, sleeper board.Sleeper, logger *zap.SugaredLogger) (*Driver, error) {
	if err := cfg.Validate("motors"); err != nil {
		return nil, err
	}
	open := func(pin board.Pin) (board.PWMPin, error) {
		p, err := b.PWMPinByName(pin)
		if err != nil {
			return nil, errors.Wrapf(err, "could not open motor channel %q", pin)
		}
		return p, nil
	}
	d := &Driver{sleeper: sleeper, logger: logger}
	var err error
	d.left.name, d.right.name = "left", "right"
	if d.left.forward, err = open(cfg.LeftForward); err != nil {
		return nil, err
	}
	if d.left.backward, err = open(cfg.LeftBackward); err != nil {
		return nil, err
	}
	if d.right.forward, err = open(cfg.RightForward); err != nil {
		return nil, err
	}
	if d.right.backward, err = open(cfg.RightBackward); err != nil {
		return nil, err
	}
	return d, nil
}

// SetSpeeds drives each motor at a signed percentage of full power.
// Positive is forward. Values outside [-100, 100] are clamped.
func (d *Driver) SetSpeeds(left, right int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	left, right = clamp(left), clamp(right)
	d.logger.Debugw("set speeds", "left", left, "right", right)
	err := multierr.Combine(
		d.left.set(Duties(left)),
		d.right.set(Duties(right)),
	)
	d.leftSpeed, d.rightSpeed = left, right
	return err
}

// Stop writes a zero duty to all four channels.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger.Debug("stop")
	d.leftSpeed, d.rightSpeed = 0, 0
	return multierr.Combine(d.left.stop(), d.right.stop())
}

// Speeds returns the last commanded speeds after clamping.
func (d *Driver) Speeds() (left, right int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.leftSpeed, d.rightSpeed
}

// RecoverFromStill rocks a tipped-over vehicle back onto its wheels: reverse
// for StandUpReverse, forward for charge, then stop. It is open loop; if the
// vehicle stays down, tune speed and charge. Stop is always attempted.
func (d *Driver) RecoverFromStill(speed int, charge time.Duration) error {
	d.logger.Infow("stand up", "speed", speed, "charge", charge)
	err := d.SetSpeeds(-speed, -speed)
	if err == nil {
		d.sleeper.Sleep(StandUpReverse)
		err = d.SetSpeeds(speed, speed)
	}
	if err == nil {
		d.sleeper.Sleep(charge)
	}
	return multierr.Combine(err, d.Stop())
}
