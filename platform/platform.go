// Package platform opens the board the vehicle runs on.
package platform

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bitcar/board"
	"bitcar/board/fake"
	"bitcar/board/periph"
	"bitcar/board/sysfs"
	"bitcar/pulse"
	"bitcar/pwm"
)

type Kind string

const (
	// Sysfs drives BeagleBone pins through /sys and /dev/bone.
	Sysfs Kind = "sysfs"
	// Periph drives pins through periph.io host drivers.
	Periph Kind = "periph"
	// Fake is an in-memory board for dry runs.
	Fake Kind = "fake"
)

// Config selects and tunes the board.
type Config struct {
	Kind        Kind          `yaml:"kind" env:"BITCAR_BOARD"`
	PWMPeriod   time.Duration `yaml:"pwm_period" env:"BITCAR_PWM_PERIOD"`
	PWMPolarity string        `yaml:"pwm_polarity" env:"BITCAR_PWM_POLARITY"`
	ADCDevice   string        `yaml:"adc_device" env:"BITCAR_ADC_DEVICE"`
	ADCBits     uint          `yaml:"adc_bits" env:"BITCAR_ADC_BITS"`
}

func (c Config) Validate(path string) error {
	switch c.Kind {
	case Sysfs, Periph, Fake:
	default:
		return errors.Errorf("%s.kind %q is not one of sysfs, periph, fake", path, c.Kind)
	}
	if c.PWMPeriod < 0 {
		return errors.Errorf("%s.pwm_period must not be negative", path)
	}
	switch pwm.Polarity(c.PWMPolarity) {
	case "", pwm.PolarityNormal, pwm.PolarityInversed:
	default:
		return errors.Errorf("%s.pwm_polarity %q is not normal or inversed", path, c.PWMPolarity)
	}
	if c.ADCBits > 16 {
		return errors.Errorf("%s.adc_bits %d above 16", path, c.ADCBits)
	}
	return nil
}

// Open returns the board and the pulse timer that goes with it.
func Open(cfg Config, logger *zap.SugaredLogger) (board.Board, board.PulseTimer, error) {
	if err := cfg.Validate("board"); err != nil {
		return nil, nil, err
	}
	logger.Infow("opening board", "kind", cfg.Kind)
	switch cfg.Kind {
	case Periph:
		b, err := periph.NewBoard(periph.Config{
			PWMPeriod: cfg.PWMPeriod,
			ADCDevice: cfg.ADCDevice,
			ADCBits:   cfg.ADCBits,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return b, periph.NewPulseTimer(clock.New()), nil
	case Fake:
		b := fake.NewBoard()
		return b, b.PulseTimer(), nil
	default:
		b := sysfs.NewBoard(sysfs.Config{
			PWMPeriod:   cfg.PWMPeriod,
			PWMPolarity: pwm.Polarity(cfg.PWMPolarity),
			ADCDevice:   cfg.ADCDevice,
			ADCBits:     cfg.ADCBits,
		}, logger)
		return b, pulse.New(clock.New()), nil
	}
}
