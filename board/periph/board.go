// Package periph is a board backed by periph.io. GPIO and PWM pins are looked
// up in the periph gpio registry by name; echo pulses are timed with edge
// interrupts instead of polling. Analog inputs go through the IIO adc.
package periph

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"bitcar/adc"
	"bitcar/board"
	"bitcar/board/sysfs"
	"bitcar/pulse"
)

// Config selects the pwm frequency and the adc device.
type Config struct {
	PWMPeriod time.Duration
	ADCDevice string
	ADCBits   uint
}

// Board resolves pins through periph.io.
type Board struct {
	mu      sync.Mutex
	cfg     Config
	byName  func(name string) gpio.PinIO
	pins    map[board.Pin]*Pin
	analogs map[board.Pin]*adc.ADC
	logger  *zap.SugaredLogger
}

var _ = board.Board(&Board{})

// NewBoard initialises the periph host drivers and returns a board.
func NewBoard(cfg Config, logger *zap.SugaredLogger) (*Board, error) {
	state, err := host.Init()
	if err != nil {
		return nil, errors.Wrap(err, "periph host init failed")
	}
	for _, d := range state.Loaded {
		logger.Debugw("periph driver loaded", "driver", d.String())
	}
	return newBoard(cfg, gpioreg.ByName, logger), nil
}

func newBoard(cfg Config, byName func(string) gpio.PinIO, logger *zap.SugaredLogger) *Board {
	if cfg.PWMPeriod == 0 {
		cfg.PWMPeriod = time.Millisecond
	}
	if cfg.ADCDevice == "" {
		cfg.ADCDevice = adc.DefaultDevice
	}
	if cfg.ADCBits == 0 {
		cfg.ADCBits = 12
	}
	return &Board{
		cfg:     cfg,
		byName:  byName,
		pins:    make(map[board.Pin]*Pin),
		analogs: make(map[board.Pin]*adc.ADC),
		logger:  logger,
	}
}

func (b *Board) pin(name board.Pin) (*Pin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pins[name]; ok {
		return p, nil
	}
	io := b.byName(string(name))
	if io == nil {
		return nil, errors.Errorf("no gpio named %q", name)
	}
	p := &Pin{pin: io, freq: physic.PeriodToFrequency(b.cfg.PWMPeriod)}
	b.pins[name] = p
	return p, nil
}

// GPIOPinByName implements board.Board.
func (b *Board) GPIOPinByName(name board.Pin) (board.GPIOPin, error) {
	return b.pin(name)
}

// PWMPinByName implements board.Board.
func (b *Board) PWMPinByName(name board.Pin) (board.PWMPin, error) {
	return b.pin(name)
}

// AnalogReaderByName implements board.Board. periph has no adc registry, so
// "AIN<n>" names are read from the IIO device.
func (b *Board) AnalogReaderByName(name board.Pin) (board.AnalogReader, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := b.analogs[name]; ok {
		return a, nil
	}
	channel, err := sysfs.ParseAnalog(name)
	if err != nil {
		return nil, err
	}
	a, err := adc.Open(b.cfg.ADCDevice, channel, b.cfg.ADCBits)
	if err != nil {
		return nil, err
	}
	b.analogs[name] = a
	return a, nil
}

// Close drives every used pin low.
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs error
	for _, p := range b.pins {
		errs = multierr.Combine(errs, p.Set(false))
	}
	return errs
}

type mode int

const (
	modeUnset mode = iota
	modeOut
	modeIn
	modeEdges
)

// Pin adapts a periph pin to the board pin interfaces. The pin is
// reconfigured on demand: Set and SetDuty make it an output, Get an input.
type Pin struct {
	mu   sync.Mutex
	pin  gpio.PinIO
	freq physic.Frequency
	mode mode
}

// Set implements board.GPIOPin.
func (p *Pin) Set(high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = modeOut
	return p.pin.Out(gpio.Level(high))
}

// Get implements board.GPIOPin.
func (p *Pin) Get() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode != modeIn && p.mode != modeEdges {
		if err := p.pin.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
			return false, err
		}
		p.mode = modeIn
	}
	return bool(p.pin.Read()), nil
}

// SetDuty implements board.PWMPin. A zero duty drives the pin low instead of
// running a 0% waveform.
func (p *Pin) SetDuty(duty uint16) error {
	if duty > board.DutyMax {
		return errors.Errorf("%s: duty %d above %d", p.pin, duty, board.DutyMax)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = modeOut
	if duty == 0 {
		return p.pin.Out(gpio.Low)
	}
	d := gpio.Duty(int64(duty) * int64(gpio.DutyMax) / board.DutyMax)
	return p.pin.PWM(d, p.freq)
}

func (p *Pin) watchEdges() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode == modeEdges {
		return nil
	}
	if err := p.pin.In(gpio.PullNoChange, gpio.BothEdges); err != nil {
		return err
	}
	p.mode = modeEdges
	return nil
}

// PulseTimer times pulses on periph pins with edge interrupts and falls back
// to polling for any other pin.
type PulseTimer struct {
	clk      clock.Clock
	fallback *pulse.Timer
}

var _ = board.PulseTimer(&PulseTimer{})

// NewPulseTimer returns an edge-driven pulse timer.
func NewPulseTimer(clk clock.Clock) *PulseTimer {
	return &PulseTimer{clk: clk, fallback: pulse.New(clk)}
}

// Wait implements board.PulseTimer.
func (t *PulseTimer) Wait(d time.Duration) {
	t.fallback.Wait(d)
}

// PulseIn implements board.PulseTimer.
func (t *PulseTimer) PulseIn(pin board.GPIOPin, high bool, timeout time.Duration) (board.PulseReading, error) {
	p, ok := pin.(*Pin)
	if !ok {
		return t.fallback.PulseIn(pin, high, timeout)
	}
	if err := p.watchEdges(); err != nil {
		return board.PulseReading{}, errors.Wrap(err, "cannot watch echo edges")
	}
	level := gpio.Level(high)
	start := t.clk.Now()
	waitEdge := func() bool {
		remaining := timeout - t.clk.Since(start)
		return remaining > 0 && p.pin.WaitForEdge(remaining)
	}

	for p.pin.Read() == level {
		if !waitEdge() {
			return board.PulseReading{TimedOut: true}, nil
		}
	}
	for p.pin.Read() != level {
		if !waitEdge() {
			return board.PulseReading{TimedOut: true}, nil
		}
	}
	rise := t.clk.Now()
	for p.pin.Read() == level {
		if !waitEdge() {
			return board.PulseReading{TimedOut: true}, nil
		}
	}
	return board.PulseReading{Duration: t.clk.Since(rise)}, nil
}
