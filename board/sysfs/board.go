// Package sysfs is a board backed by the Linux sysfs gpio, pwm and IIO adc
// interfaces, as exposed on BeagleBone boards.
//
// Pin names:
//
//	"0a", "pwm1b"     pwm bus and channel
//	"AIN3"            adc channel
//	"gpio45"          gpio by sysfs number
//	"P8_03"           gpio by header name, resolved with gpiofind
package sysfs

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"bitcar/adc"
	"bitcar/board"
	"bitcar/gpio"
	"bitcar/pwm"
)

// Config selects the pwm period and the adc device.
type Config struct {
	PWMPeriod   time.Duration
	PWMPolarity pwm.Polarity
	ADCDevice   string
	ADCBits     uint
}

// Board lazily opens and caches pins.
type Board struct {
	mu      sync.Mutex
	cfg     Config
	gpios   map[board.Pin]*gpio.Gpio
	pwms    map[board.Pin]*pwm.PWM
	analogs map[board.Pin]*adc.ADC
	logger  *zap.SugaredLogger
}

var _ = board.Board(&Board{})

// NewBoard returns a sysfs board. Nothing is touched until a pin is asked for.
func NewBoard(cfg Config, logger *zap.SugaredLogger) *Board {
	if cfg.PWMPeriod == 0 {
		cfg.PWMPeriod = time.Millisecond
	}
	if cfg.PWMPolarity == "" {
		cfg.PWMPolarity = pwm.PolarityInversed
	}
	if cfg.ADCDevice == "" {
		cfg.ADCDevice = adc.DefaultDevice
	}
	if cfg.ADCBits == 0 {
		cfg.ADCBits = 12
	}
	return &Board{
		cfg:     cfg,
		gpios:   make(map[board.Pin]*gpio.Gpio),
		pwms:    make(map[board.Pin]*pwm.PWM),
		analogs: make(map[board.Pin]*adc.ADC),
		logger:  logger,
	}
}

var (
	pwmName    = regexp.MustCompile(`^(?:pwm)?([0-9])([ab])$`)
	analogName = regexp.MustCompile(`^AIN([0-9]+)$`)
	gpioName   = regexp.MustCompile(`^gpio([0-9]+)$`)
)

// ParsePWM splits a pwm pin name into bus and channel.
func ParsePWM(pin board.Pin) (pwm.Bus, pwm.Channel, error) {
	m := pwmName.FindStringSubmatch(strings.ToLower(string(pin)))
	if m == nil {
		return 0, "", errors.Errorf("%q is not a pwm channel name", pin)
	}
	bus, _ := strconv.Atoi(m[1])
	return pwm.Bus(bus), pwm.Channel(m[2]), nil
}

// ParseAnalog returns the adc channel of an "AIN<n>" pin name.
func ParseAnalog(pin board.Pin) (int, error) {
	m := analogName.FindStringSubmatch(strings.ToUpper(string(pin)))
	if m == nil {
		return 0, errors.Errorf("%q is not an analog input name", pin)
	}
	return strconv.Atoi(m[1])
}

// GPIOPinByName implements board.Board.
func (b *Board) GPIOPinByName(pin board.Pin) (board.GPIOPin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if g, ok := b.gpios[pin]; ok {
		return g, nil
	}
	var g *gpio.Gpio
	var err error
	if m := gpioName.FindStringSubmatch(string(pin)); m != nil {
		n, _ := strconv.Atoi(m[1])
		g, err = gpio.ExportNumber(gpio.Number(n))
	} else {
		g, err = gpio.Export(gpio.Alias(pin))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cannot export gpio %q", pin)
	}
	b.logger.Debugw("exported gpio", "pin", pin, "number", g.Number())
	b.gpios[pin] = g
	return g, nil
}

// PWMPinByName implements board.Board.
func (b *Board) PWMPinByName(pin board.Pin) (board.PWMPin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pwms[pin]; ok {
		return p, nil
	}
	bus, channel, err := ParsePWM(pin)
	if err != nil {
		return nil, err
	}
	p, err := pwm.Open(bus, channel, b.cfg.PWMPeriod, b.cfg.PWMPolarity)
	if err != nil {
		return nil, err
	}
	b.logger.Debugw("opened pwm", "pin", pin, "period", b.cfg.PWMPeriod)
	b.pwms[pin] = p
	return p, nil
}

// AnalogReaderByName implements board.Board.
func (b *Board) AnalogReaderByName(pin board.Pin) (board.AnalogReader, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := b.analogs[pin]; ok {
		return a, nil
	}
	channel, err := ParseAnalog(pin)
	if err != nil {
		return nil, err
	}
	a, err := adc.Open(b.cfg.ADCDevice, channel, b.cfg.ADCBits)
	if err != nil {
		return nil, err
	}
	b.analogs[pin] = a
	return a, nil
}

// Close zeroes and disables every pwm channel and unexports every gpio.
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs error
	for _, p := range b.pwms {
		errs = multierr.Combine(errs, p.DutyCycle(0), p.Disable())
	}
	for _, g := range b.gpios {
		errs = multierr.Combine(errs, g.Unexport())
	}
	b.pwms = make(map[board.Pin]*pwm.PWM)
	b.gpios = make(map[board.Pin]*gpio.Gpio)
	return errs
}
