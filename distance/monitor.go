package distance

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Reading is the last value seen by a Monitor.
type Reading struct {
	Distance Distance
	At       time.Time
}

// Monitor measures in the background and keeps the latest distance.
type Monitor struct {
	mu      sync.RWMutex
	measure func() (Distance, error)
	clk     clock.Clock
	logger  *zap.SugaredLogger
	latest  Reading
	ok      bool
}

// NewMonitor polls measure. A nil clk means the wall clock.
func NewMonitor(measure func() (Distance, error), clk clock.Clock, logger *zap.SugaredLogger) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	return &Monitor{measure: measure, clk: clk, logger: logger}
}

// Run measures once per period until ctx is done. Failed measurements are
// logged and keep the previous reading.
func (m *Monitor) Run(ctx context.Context, period time.Duration) {
	for {
		d, err := m.measure()
		if err != nil {
			m.logger.Warnw("distance measurement failed", "error", err)
		} else {
			m.mu.Lock()
			m.latest = Reading{Distance: d, At: m.clk.Now()}
			m.ok = true
			m.mu.Unlock()
		}

		select {
		case <-ctx.Done():
			return
		case <-m.clk.After(period):
		}
	}
}

// Latest returns the most recent reading. ok is false until the first
// successful measurement.
func (m *Monitor) Latest() (r Reading, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.ok
}

// Closer reports whether the latest reading is in range and below limit.
// Without a reading it returns false.
func (m *Monitor) Closer(limit float64) bool {
	r, ok := m.Latest()
	return ok && r.Distance.InRange() && r.Distance.Value < limit
}
