package pwm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"bitcar/board"
)

// Root is the BeagleBone pwm symlink directory.
var Root = "/dev/bone/pwm"

type Bus int

const (
	Bus0 Bus = 0
	Bus1 Bus = 1
	Bus2 Bus = 2
)

type Channel string

const (
	ChannelA Channel = "a"
	ChannelB Channel = "b"
)

type Polarity string

const (
	PolarityNormal   Polarity = "normal"
	PolarityInversed Polarity = "inversed"
)

// PWM is one sysfs pwm channel. SetDuty scales a 10-bit duty into the
// configured period.
type PWM struct {
	mu        sync.Mutex
	name      string
	enable    string
	dutyCycle string
	period    string
	polarity  string
	periodDur time.Duration
}

var _ = board.PWMPin(&PWM{})

func NewPWM(bus Bus, channel Channel) *PWM {
	dir := filepath.Join(Root, fmt.Sprintf("%d", bus), string(channel))
	return &PWM{
		name:      fmt.Sprintf("pwm%d%s", bus, channel),
		enable:    filepath.Join(dir, "enable"),
		dutyCycle: filepath.Join(dir, "duty_cycle"),
		period:    filepath.Join(dir, "period"),
		polarity:  filepath.Join(dir, "polarity"),
	}
}

// Open prepares a channel for motor drive: period, polarity, enable and a
// zero duty, in that order.
func Open(bus Bus, channel Channel, period time.Duration, polarity Polarity) (*PWM, error) {
	pwm := NewPWM(bus, channel)
	if err := pwm.Period(period); err != nil {
		return nil, errors.Wrapf(err, "could not set %s period", pwm.name)
	}
	if err := pwm.Polarity(polarity); err != nil {
		return nil, errors.Wrapf(err, "could not set %s polarity", pwm.name)
	}
	if err := pwm.Enable(); err != nil {
		return nil, errors.Wrapf(err, "could not enable %s", pwm.name)
	}
	if err := pwm.DutyCycle(0); err != nil {
		return nil, errors.Wrapf(err, "could not set %s duty cycle", pwm.name)
	}
	return pwm, nil
}

func (pwm *PWM) Name() string {
	return pwm.name
}

func (pwm *PWM) Enable() error {
	return os.WriteFile(pwm.enable, []byte{'1'}, 0666)
}

func (pwm *PWM) Disable() error {
	return os.WriteFile(pwm.enable, []byte{'0'}, 0666)
}

func (pwm *PWM) Polarity(polarity Polarity) error {
	return os.WriteFile(pwm.polarity, []byte(polarity), 0666)
}

func (pwm *PWM) Period(period time.Duration) error {
	value := fmt.Sprintf("%d", period.Nanoseconds())
	if err := os.WriteFile(pwm.period, []byte(value), 0666); err != nil {
		return err
	}
	pwm.mu.Lock()
	pwm.periodDur = period
	pwm.mu.Unlock()
	return nil
}

func (pwm *PWM) DutyCycle(dutyCycle time.Duration) error {
	value := fmt.Sprintf("%d", dutyCycle.Nanoseconds())
	return os.WriteFile(pwm.dutyCycle, []byte(value), 0666)
}

// SetDuty writes duty/DutyMax of the period as the duty cycle.
func (pwm *PWM) SetDuty(duty uint16) error {
	if duty > board.DutyMax {
		return errors.Errorf("%s: duty %d above %d", pwm.name, duty, board.DutyMax)
	}
	pwm.mu.Lock()
	period := pwm.periodDur
	pwm.mu.Unlock()
	if period == 0 {
		return errors.Errorf("%s: period not set", pwm.name)
	}
	return pwm.DutyCycle(DutyToCycle(duty, period))
}

// DutyToCycle converts a 10-bit duty to the on-time within period.
func DutyToCycle(duty uint16, period time.Duration) time.Duration {
	return time.Duration(int64(period) * int64(duty) / board.DutyMax)
}
