// Package battery reports the state of the vehicle's battery pack as seen by
// an INA219 power monitor (Waveshare UPS Module 3S).
package battery

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"bitcar/ina219"
)

// A Li-Ion 18650 cell is taken as full at 4.0V and empty at 3.5V.
const (
	CellFull  = 4.0
	CellEmpty = 3.5
)

// Status is one battery reading. Negative ShuntVoltage and Current mean the
// battery is discharging.
type Status struct {
	BusVoltage     float64 `json:"busVoltage"`
	ShuntVoltage   float64 `json:"shuntVoltage"`
	BatteryVoltage float64 `json:"batteryVoltage"`
	CellVoltage    float64 `json:"cellVoltage"`
	Current        float64 `json:"current"`
	Power          float64 `json:"power"`
	ChargePercents float64 `json:"chargePercents"`
}

// Meter is a power monitor.
type Meter interface {
	ShuntVoltage() (float64, error)
	BusVoltage() (float64, error)
	Current() (float64, error)
	Power() (float64, error)
}

// Config locates the power monitor.
type Config struct {
	Enabled bool          `yaml:"enabled" env:"BITCAR_BATTERY_ENABLED"`
	Bus     string        `yaml:"bus" env:"BITCAR_BATTERY_BUS"`
	Address uint16        `yaml:"address" env:"BITCAR_BATTERY_ADDRESS"`
	Cells   int           `yaml:"cells" env:"BITCAR_BATTERY_CELLS"`
	Period  time.Duration `yaml:"period" env:"BITCAR_BATTERY_PERIOD"`
}

func (c Config) Validate(path string) error {
	if !c.Enabled {
		return nil
	}
	if c.Cells <= 0 {
		return errors.Errorf("%s.cells must be positive", path)
	}
	if c.Period <= 0 {
		return errors.Errorf("%s.period must be positive", path)
	}
	if c.Address == 0 || c.Address > 0x7F {
		return errors.Errorf("%s.address %#x is not a 7-bit i2c address", path, c.Address)
	}
	return nil
}

// Charge maps a cell voltage to a percentage in [0, 100].
func Charge(cellVoltage float64) float64 {
	p := (cellVoltage - CellEmpty) / (CellFull - CellEmpty) * 100
	return min(max(p, 0), 100)
}

// Monitor polls a Meter and keeps the latest Status.
type Monitor struct {
	mu     sync.RWMutex
	meter  Meter
	cells  int
	clk    clock.Clock
	logger *zap.SugaredLogger
	status Status
	ok     bool
}

// NewMonitor returns a monitor for a pack of cells in series.
func NewMonitor(meter Meter, cells int, clk clock.Clock, logger *zap.SugaredLogger) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	return &Monitor{meter: meter, cells: cells, clk: clk, logger: logger}
}

// Open opens the configured i2c bus and returns a monitor for the INA219 on
// it. The closer releases the bus.
func Open(cfg Config, logger *zap.SugaredLogger) (*Monitor, io.Closer, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, errors.Wrap(err, "periph host init failed")
	}
	bus, err := i2creg.Open(cfg.Bus)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "could not open i2c bus %q", cfg.Bus)
	}
	dev, err := ina219.New(bus, cfg.Address)
	if err != nil {
		return nil, nil, multierr.Append(err, bus.Close())
	}
	logger.Infow("battery monitor ready", "bus", bus.String(), "address", cfg.Address)
	return NewMonitor(dev, cfg.Cells, nil, logger), bus, nil
}

// Read takes one reading from the meter.
func (m *Monitor) Read() (Status, error) {
	var s Status
	var err error
	if s.ShuntVoltage, err = m.meter.ShuntVoltage(); err != nil {
		return Status{}, err
	}
	if s.BusVoltage, err = m.meter.BusVoltage(); err != nil {
		return Status{}, err
	}
	if s.Current, err = m.meter.Current(); err != nil {
		return Status{}, err
	}
	if s.Power, err = m.meter.Power(); err != nil {
		return Status{}, err
	}
	s.BatteryVoltage = s.BusVoltage - s.ShuntVoltage
	s.CellVoltage = s.BatteryVoltage / float64(m.cells)
	s.ChargePercents = Charge(s.CellVoltage)
	return s, nil
}

// Run reads the meter every period until ctx is done. A failed read keeps
// the previous status.
func (m *Monitor) Run(ctx context.Context, period time.Duration) {
	for {
		s, err := m.Read()
		if err != nil {
			m.logger.Warnw("battery read failed", "error", err)
		} else {
			m.mu.Lock()
			m.status = s
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

// Status returns the latest reading; ok is false before the first one.
func (m *Monitor) Status() (s Status, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.ok
}
