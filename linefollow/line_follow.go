// Package linefollow steers the vehicle along a dark line using the two
// reflectance sensors. Each tick is memoryless.
package linefollow

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bitcar/linesensor"
)

// DefaultSpeed and DefaultInterval are the follow parameters used when the
// caller does not set any.
const (
	DefaultSpeed    = 50
	DefaultInterval = 20 * time.Millisecond
)

// LineReader samples both line sensors.
type LineReader interface {
	Read() (linesensor.LineState, error)
}

// Driver is the part of the motor driver the controller needs.
type Driver interface {
	SetSpeeds(left, right int) error
	Stop() error
}

// Controller turns line readings into motor commands.
type Controller struct {
	sensor  LineReader
	driver  Driver
	logger  *zap.SugaredLogger
	clk     clock.Clock
	recheck bool
	gate    func() bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithoutRecheck skips the second sensor read after a correction.
func WithoutRecheck() Option {
	return func(c *Controller) { c.recheck = false }
}

// WithRecheck sets whether a correction is followed by a second read.
func WithRecheck(recheck bool) Option {
	return func(c *Controller) { c.recheck = recheck }
}

// WithClock sets the clock driving Run.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) { c.clk = clk }
}

// WithGate makes Run skip ticks while open returns false.
func WithGate(open func() bool) Option {
	return func(c *Controller) { c.gate = open }
}

// New returns a controller that re-checks after corrections.
func New(sensor LineReader, driver Driver, logger *zap.SugaredLogger, opts ...Option) *Controller {
	c := &Controller{
		sensor:  sensor,
		driver:  driver,
		logger:  logger,
		clk:     clock.New(),
		recheck: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Step runs one control tick at the given speed:
//
//	both sensors on the line   drive straight
//	only right on the line     SetSpeeds(speed, 0)
//	only left on the line      SetSpeeds(0, speed)
//	neither                    no motor command
//
// After a correction the sensors are read again and, if both lost the
// line, the same correction is sent once more.
func (c *Controller) Step(speed int) error {
	st, err := c.sensor.Read()
	if err != nil {
		return err
	}
	var left, right int
	switch {
	case st.Left && st.Right:
		c.logger.Debugw("follow straight", "speed", speed)
		return c.driver.SetSpeeds(speed, speed)
	case !st.Left && st.Right:
		left, right = speed, 0
	case st.Left && !st.Right:
		left, right = 0, speed
	default:
		c.logger.Debug("line lost")
		return nil
	}
	c.logger.Debugw("follow correct", "left", left, "right", right)
	if err := c.driver.SetSpeeds(left, right); err != nil {
		return err
	}
	if !c.recheck {
		return nil
	}
	st, err = c.sensor.Read()
	if err != nil {
		return err
	}
	if !st.Left && !st.Right {
		return c.driver.SetSpeeds(left, right)
	}
	return nil
}

// Run calls Step every interval until ctx is done, then stops the motors.
// Step errors are logged and the loop carries on. When a gate is set and
// closes, the motors are stopped once and ticks are skipped until it
// opens again.
func (c *Controller) Run(ctx context.Context, speed int, interval time.Duration) error {
	if interval <= 0 {
		return errors.Errorf("follow interval must be positive, got %s", interval)
	}
	ticker := c.clk.Ticker(interval)
	defer ticker.Stop()
	c.logger.Infow("line follow started", "speed", speed, "interval", interval)

	gated := false
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("line follow stopped")
			return c.driver.Stop()
		case <-ticker.C:
		}
		if c.gate != nil && !c.gate() {
			if !gated {
				c.logger.Info("line follow paused")
				if err := c.driver.Stop(); err != nil {
					c.logger.Errorw("stop failed", "error", err)
				}
				gated = true
			}
			continue
		}
		if gated {
			c.logger.Info("line follow resumed")
			gated = false
		}
		if err := c.Step(speed); err != nil {
			c.logger.Errorw("follow step failed", "error", err)
		}
	}
}

// Config holds the follow loop parameters.
type Config struct {
	Speed    int           `yaml:"speed" env:"BITCAR_FOLLOW_SPEED"`
	Interval time.Duration `yaml:"interval" env:"BITCAR_FOLLOW_INTERVAL"`
	Recheck  bool          `yaml:"recheck" env:"BITCAR_FOLLOW_RECHECK"`
}

func (c Config) Validate(path string) error {
	if c.Speed < 0 || c.Speed > 100 {
		return errors.Errorf("%s.speed %d outside [0, 100]", path, c.Speed)
	}
	if c.Interval <= 0 {
		return errors.Errorf("%s.interval must be positive", path)
	}
	return nil
}
