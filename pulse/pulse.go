// Package pulse measures pulse widths by polling a digital pin against a
// clock. It is the fallback PulseTimer for boards without edge interrupts.
package pulse

import (
	"runtime"
	"time"

	"github.com/benbjohnson/clock"

	"bitcar/board"
)

// Timer is a polling board.PulseTimer.
type Timer struct {
	clk clock.Clock
}

var _ = board.PulseTimer(&Timer{})

// New returns a Timer reading time from clk.
func New(clk clock.Clock) *Timer {
	return &Timer{clk: clk}
}

// Wait spins until d has elapsed. Sleeping would overshoot microsecond
// waits by orders of magnitude.
func (t *Timer) Wait(d time.Duration) {
	start := t.clk.Now()
	for t.clk.Since(start) < d {
		runtime.Gosched()
	}
}

// PulseIn waits for the pin to reach the given level, then measures how long
// it stays there. Any pulse already in progress is skipped first. timeout
// bounds the whole call; on expiry the reading is marked TimedOut.
func (t *Timer) PulseIn(pin board.GPIOPin, high bool, timeout time.Duration) (board.PulseReading, error) {
	start := t.clk.Now()
	expired := func() bool { return t.clk.Since(start) >= timeout }

	// wait for a previous pulse to end
	for {
		level, err := pin.Get()
		if err != nil {
			return board.PulseReading{}, err
		}
		if level != high {
			break
		}
		if expired() {
			return board.PulseReading{TimedOut: true}, nil
		}
	}
	// wait for the pulse to start
	for {
		level, err := pin.Get()
		if err != nil {
			return board.PulseReading{}, err
		}
		if level == high {
			break
		}
		if expired() {
			return board.PulseReading{TimedOut: true}, nil
		}
	}
	rise := t.clk.Now()
	for {
		level, err := pin.Get()
		if err != nil {
			return board.PulseReading{}, err
		}
		if level != high {
			break
		}
		if expired() {
			return board.PulseReading{TimedOut: true}, nil
		}
	}
	return board.PulseReading{Duration: t.clk.Since(rise)}, nil
}
