// Package fake implements an in-memory board for tests and simulation. Every
// pin write and timer wait is recorded in order; analog samples and echo
// pulses are scripted.
package fake

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"bitcar/board"
)

// EventKind identifies what happened on the board.
type EventKind string

const (
	EventSet     EventKind = "set"
	EventGet     EventKind = "get"
	EventDuty    EventKind = "duty"
	EventAnalog  EventKind = "analog"
	EventWait    EventKind = "wait"
	EventPulseIn EventKind = "pulse_in"
)

// Event is one recorded board interaction.
type Event struct {
	Kind     EventKind
	Pin      board.Pin
	Value    int
	Duration time.Duration
}

// Board is a fake board whose pins are created on first lookup.
type Board struct {
	mu      sync.Mutex
	events  []Event
	gpios   map[board.Pin]*GPIOPin
	pwms    map[board.Pin]*PWMPin
	analogs map[board.Pin]*AnalogReader
	timer   *PulseTimer
	closed  bool
}

var _ = board.Board(&Board{})

// NewBoard returns an empty fake board.
func NewBoard() *Board {
	b := &Board{
		gpios:   make(map[board.Pin]*GPIOPin),
		pwms:    make(map[board.Pin]*PWMPin),
		analogs: make(map[board.Pin]*AnalogReader),
	}
	b.timer = &PulseTimer{board: b}
	return b
}

func (b *Board) record(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

// Events returns a copy of every interaction so far.
func (b *Board) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// ResetEvents drops the recorded history.
func (b *Board) ResetEvents() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

// GPIOPinByName implements board.Board.
func (b *Board) GPIOPinByName(pin board.Pin) (board.GPIOPin, error) {
	return b.GPIO(pin), nil
}

// PWMPinByName implements board.Board.
func (b *Board) PWMPinByName(pin board.Pin) (board.PWMPin, error) {
	return b.PWM(pin), nil
}

// AnalogReaderByName implements board.Board.
func (b *Board) AnalogReaderByName(pin board.Pin) (board.AnalogReader, error) {
	return b.Analog(pin), nil
}

// GPIO returns the concrete fake digital pin.
func (b *Board) GPIO(pin board.Pin) *GPIOPin {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.gpios[pin]
	if !ok {
		g = &GPIOPin{board: b, name: pin}
		b.gpios[pin] = g
	}
	return g
}

// PWM returns the concrete fake PWM channel.
func (b *Board) PWM(pin board.Pin) *PWMPin {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pwms[pin]
	if !ok {
		p = &PWMPin{board: b, name: pin}
		b.pwms[pin] = p
	}
	return p
}

// Analog returns the concrete fake analog input. New inputs read AnalogMax.
func (b *Board) Analog(pin board.Pin) *AnalogReader {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.analogs[pin]
	if !ok {
		a = &AnalogReader{board: b, name: pin, value: board.AnalogMax}
		b.analogs[pin] = a
	}
	return a
}

// PulseTimer returns the timer sharing this board's event log.
func (b *Board) PulseTimer() *PulseTimer {
	return b.timer
}

// Closed reports whether Close was called.
func (b *Board) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close implements board.Board.
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// GPIOPin is a fake digital pin.
type GPIOPin struct {
	mu    sync.Mutex
	board *Board
	name  board.Pin
	high  bool
	err   error
}

// Set implements board.GPIOPin.
func (g *GPIOPin) Set(high bool) error {
	g.mu.Lock()
	if g.err != nil {
		defer g.mu.Unlock()
		return g.err
	}
	g.high = high
	g.mu.Unlock()
	v := 0
	if high {
		v = 1
	}
	g.board.record(Event{Kind: EventSet, Pin: g.name, Value: v})
	return nil
}

// Get implements board.GPIOPin.
func (g *GPIOPin) Get() (bool, error) {
	g.mu.Lock()
	high, err := g.high, g.err
	g.mu.Unlock()
	if err != nil {
		return false, err
	}
	g.board.record(Event{Kind: EventGet, Pin: g.name})
	return high, nil
}

// High reports the last written level.
func (g *GPIOPin) High() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.high
}

// FailWith makes every later access return err. nil clears it.
func (g *GPIOPin) FailWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

// PWMPin is a fake PWM channel.
type PWMPin struct {
	mu     sync.Mutex
	board  *Board
	name   board.Pin
	duty   uint16
	writes []uint16
	err    error
}

// SetDuty implements board.PWMPin.
func (p *PWMPin) SetDuty(duty uint16) error {
	p.mu.Lock()
	if p.err != nil {
		defer p.mu.Unlock()
		return p.err
	}
	if duty > board.DutyMax {
		defer p.mu.Unlock()
		return errors.Errorf("duty %d out of range for %s", duty, p.name)
	}
	p.duty = duty
	p.writes = append(p.writes, duty)
	p.mu.Unlock()
	p.board.record(Event{Kind: EventDuty, Pin: p.name, Value: int(duty)})
	return nil
}

// Duty returns the last written duty.
func (p *PWMPin) Duty() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty
}

// Writes returns every duty written so far.
func (p *PWMPin) Writes() []uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]uint16, len(p.writes))
	copy(out, p.writes)
	return out
}

// FailWith makes every later write return err. nil clears it.
func (p *PWMPin) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// AnalogReader is a fake analog input. Queued samples are returned first,
// then the steady value.
type AnalogReader struct {
	mu     sync.Mutex
	board  *Board
	name   board.Pin
	value  int
	queued []int
	err    error
}

// Read implements board.AnalogReader.
func (a *AnalogReader) Read() (int, error) {
	a.mu.Lock()
	if a.err != nil {
		defer a.mu.Unlock()
		return 0, a.err
	}
	v := a.value
	if len(a.queued) > 0 {
		v = a.queued[0]
		a.queued = a.queued[1:]
	}
	a.mu.Unlock()
	a.board.record(Event{Kind: EventAnalog, Pin: a.name, Value: v})
	return v, nil
}

// SetValue sets the steady sample.
func (a *AnalogReader) SetValue(v int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.value = v
}

// Queue appends one-shot samples.
func (a *AnalogReader) Queue(values ...int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queued = append(a.queued, values...)
}

// FailWith makes every later read return err. nil clears it.
func (a *AnalogReader) FailWith(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

// PulseTimer is a fake pulse timer. Waits return immediately; PulseIn
// returns queued readings, then the steady reading (timed out by default).
type PulseTimer struct {
	mu       sync.Mutex
	board    *Board
	steady   *board.PulseReading
	queued   []board.PulseReading
	timeouts []time.Duration
}

var _ = board.PulseTimer(&PulseTimer{})

// Wait implements board.PulseTimer.
func (t *PulseTimer) Wait(d time.Duration) {
	t.board.record(Event{Kind: EventWait, Duration: d})
}

// PulseIn implements board.PulseTimer.
func (t *PulseTimer) PulseIn(pin board.GPIOPin, high bool, timeout time.Duration) (board.PulseReading, error) {
	if _, err := pin.Get(); err != nil {
		return board.PulseReading{}, err
	}
	t.mu.Lock()
	t.timeouts = append(t.timeouts, timeout)
	r := board.PulseReading{TimedOut: true}
	if t.steady != nil {
		r = *t.steady
	}
	if len(t.queued) > 0 {
		r = t.queued[0]
		t.queued = t.queued[1:]
	}
	t.mu.Unlock()

	var name board.Pin
	if g, ok := pin.(*GPIOPin); ok {
		name = g.name
	}
	t.board.record(Event{Kind: EventPulseIn, Pin: name, Duration: timeout})
	if !r.TimedOut && r.Duration > timeout {
		return board.PulseReading{TimedOut: true}, nil
	}
	return r, nil
}

// Queue appends one-shot readings.
func (t *PulseTimer) Queue(readings ...board.PulseReading) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queued = append(t.queued, readings...)
}

// QueueEcho appends one echo of the given width.
func (t *PulseTimer) QueueEcho(d time.Duration) {
	t.Queue(board.PulseReading{Duration: d})
}

// SetSteady sets the reading returned once the queue is empty.
func (t *PulseTimer) SetSteady(r board.PulseReading) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steady = &r
}

// Timeouts returns the timeout passed to each PulseIn call.
func (t *PulseTimer) Timeouts() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]time.Duration, len(t.timeouts))
	copy(out, t.timeouts)
	return out
}

// Sleeper records requested sleeps without blocking.
type Sleeper struct {
	mu    sync.Mutex
	slept []time.Duration
}

// Sleep implements board.Sleeper.
func (s *Sleeper) Sleep(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slept = append(s.slept, d)
}

// Slept returns every requested sleep.
func (s *Sleeper) Slept() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.slept))
	copy(out, s.slept)
	return out
}
