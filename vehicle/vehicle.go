// Package vehicle ties the motors and sensors of one BitCar together and
// executes remote commands against them.
package vehicle

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"bitcar/battery"
	"bitcar/board"
	"bitcar/command"
	"bitcar/config"
	"bitcar/distance"
	"bitcar/linefollow"
	"bitcar/linesensor"
	"bitcar/platform"
	"bitcar/twowheeled"
)

// Vehicle owns the board and every component built on it.
type Vehicle struct {
	Board    board.Board
	Driver   *twowheeled.Driver
	Line     *linesensor.Sensor
	Follower *linefollow.Controller
	Ranger   *distance.Sensor
	// Distance is nil when no sensor is polled.
	Distance *distance.Monitor
	// Battery is nil when no power monitor is fitted.
	Battery *battery.Monitor

	cfg     config.Config
	clk     clock.Clock
	logger  *zap.SugaredLogger
	closers []io.Closer

	// followMu serializes starting and stopping the follow loop; mu guards
	// the fields below.
	followMu   sync.Mutex
	mu         sync.Mutex
	stopFollow context.CancelFunc
	followDone chan struct{}
}

// New builds a vehicle on an open board. sleeper paces the stand-up move
// and measurement settles; clk drives loops and timestamps.
func New(
	b board.Board,
	timer board.PulseTimer,
	sleeper board.Sleeper,
	clk clock.Clock,
	cfg config.Config,
	logger *zap.SugaredLogger,
) (*Vehicle, error) {
	driver, err := twowheeled.New(b, cfg.Motors, sleeper, logger.Named("motors"))
	if err != nil {
		return nil, err
	}
	line, err := linesensor.New(b, cfg.Line, logger.Named("line"))
	if err != nil {
		return nil, err
	}
	v := &Vehicle{
		Board:  b,
		Driver: driver,
		Line:   line,
		Ranger: distance.New(b, timer, sleeper, logger.Named("distance")),
		cfg:    cfg,
		clk:    clk,
		logger: logger,
	}
	if cfg.Distance.PollPeriod > 0 {
		v.Distance = distance.NewMonitor(cfg.Distance.Measurement(v.Ranger), clk, logger.Named("distance"))
	}
	opts := []linefollow.Option{linefollow.WithClock(clk), linefollow.WithRecheck(cfg.Follow.Recheck)}
	if v.Distance != nil && cfg.Distance.StopDistance > 0 {
		stopAt := cfg.Distance.StopDistance
		opts = append(opts, linefollow.WithGate(func() bool {
			return !v.Distance.Closer(stopAt)
		}))
	}
	v.Follower = linefollow.New(line, driver, logger.Named("follow"), opts...)
	return v, nil
}

// Open opens the configured board and power monitor and builds a vehicle.
func Open(cfg config.Config, logger *zap.SugaredLogger) (*Vehicle, error) {
	b, timer, err := platform.Open(cfg.Board, logger.Named("board"))
	if err != nil {
		return nil, err
	}
	clk := clock.New()
	v, err := New(b, timer, clk, clk, cfg, logger)
	if err != nil {
		return nil, multierr.Append(err, b.Close())
	}
	if cfg.Battery.Enabled {
		mon, closer, err := battery.Open(cfg.Battery, logger.Named("battery"))
		if err != nil {
			return nil, multierr.Append(err, b.Close())
		}
		v.Battery = mon
		v.closers = append(v.closers, closer)
	}
	return v, nil
}

// Start runs the background monitors until ctx is done.
func (v *Vehicle) Start(ctx context.Context) {
	if v.Distance != nil {
		go v.Distance.Run(ctx, v.cfg.Distance.PollPeriod)
	}
	if v.Battery != nil {
		go v.Battery.Run(ctx, v.cfg.Battery.Period)
	}
}

// StartFollowing runs the line follow loop in the background until
// StopFollowing. A running loop is replaced. speed 0 selects the configured
// follow speed.
func (v *Vehicle) StartFollowing(speed int) {
	v.followMu.Lock()
	defer v.followMu.Unlock()
	v.stopFollowingLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	v.mu.Lock()
	v.stopFollow, v.followDone = cancel, done
	v.mu.Unlock()
	go func() {
		defer close(done)
		if err := v.Follower.Run(ctx, v.followSpeed(speed), v.cfg.Follow.Interval); err != nil {
			v.logger.Errorw("line follow ended with error", "error", err)
		}
	}()
}

// StopFollowing ends the follow loop, if any, and waits for it to return.
func (v *Vehicle) StopFollowing() {
	v.followMu.Lock()
	defer v.followMu.Unlock()
	v.stopFollowingLocked()
}

// stopFollowingLocked needs followMu.
func (v *Vehicle) stopFollowingLocked() {
	v.mu.Lock()
	cancel, done := v.stopFollow, v.followDone
	v.stopFollow, v.followDone = nil, nil
	v.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (v *Vehicle) Following() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopFollow != nil
}

// Reset stops following and stops the motors.
func (v *Vehicle) Reset() error {
	v.StopFollowing()
	return v.Driver.Stop()
}

// Status snapshots the vehicle. Line is sampled now; distance and battery
// come from their monitors.
func (v *Vehicle) Status() command.Status {
	left, right := v.Driver.Speeds()
	s := command.Status{
		Left:      left,
		Right:     right,
		Following: v.Following(),
		Timestamp: v.clk.Now().UTC(),
	}
	if st, err := v.Line.Read(); err != nil {
		v.logger.Warnw("line read failed", "error", err)
	} else {
		s.Line = &st
	}
	if v.Distance != nil {
		if r, ok := v.Distance.Latest(); ok {
			d := r.Distance.Value
			s.Distance = &d
			s.Unit = r.Distance.Unit.String()
		}
	}
	if v.Battery != nil {
		if b, ok := v.Battery.Status(); ok {
			s.Battery = &b
		}
	}
	return s
}

func value(f float64) *float64 {
	return &f
}

// Execute runs one command and builds its reply. Driving commands stop a
// running follow loop first.
func (v *Vehicle) Execute(cmd *command.Command) *command.Reply {
	reply, err := v.execute(cmd)
	if err != nil {
		v.logger.Warnw("command failed", "type", cmd.Type, "error", err)
		return command.Failed(cmd.Type, err)
	}
	reply.Type = cmd.Type
	reply.OK = true
	return reply
}

func (v *Vehicle) execute(cmd *command.Command) (*command.Reply, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	switch cmd.Type {
	case command.SetSpeeds:
		v.StopFollowing()
		return &command.Reply{}, v.Driver.SetSpeeds(cmd.Left, cmd.Right)

	case command.Stop:
		return &command.Reply{}, v.Reset()

	case command.StandUp:
		v.StopFollowing()
		speed, charge := cmd.Speed, time.Duration(cmd.ChargeMs)*time.Millisecond
		if speed == 0 {
			speed = twowheeled.DefaultStandUpSpeed
		}
		if charge == 0 {
			charge = twowheeled.DefaultStandUpCharge
		}
		return &command.Reply{}, v.Driver.RecoverFromStill(speed, charge)

	case command.FollowLine:
		if v.Following() {
			return nil, errors.New("line follow loop is running")
		}
		return &command.Reply{}, v.Follower.Step(v.followSpeed(cmd.Speed))

	case command.StartFollow:
		v.StartFollowing(cmd.Speed)
		return &command.Reply{}, nil

	case command.StopFollow:
		v.StopFollowing()
		return &command.Reply{}, nil

	case command.LineState:
		st, err := v.Line.Read()
		if err != nil {
			return nil, err
		}
		r := &command.Reply{Line: &st}
		if cmd.Side != "" {
			side, _ := linesensor.ParseSide(cmd.Side)
			detected := st.Left
			if side == linesensor.Right {
				detected = st.Right
			}
			if detected {
				r.Value = value(1)
			} else {
				r.Value = value(0)
			}
		}
		return r, nil

	case command.MeasureDistance:
		unit, cal, err := v.distanceParams(cmd.Unit, cmd.Variant)
		if err != nil {
			return nil, err
		}
		d, err := v.Ranger.Measure(board.Pin(cmd.Pin), unit, cal)
		if err != nil {
			return nil, err
		}
		return &command.Reply{Value: value(d.Value)}, nil

	case command.Ping:
		unit := distance.Centimeters
		if cmd.Unit != "" {
			var err error
			if unit, err = distance.ParseUnit(cmd.Unit); err != nil {
				return nil, err
			}
		}
		n, err := v.Ranger.Ping(board.Pin(cmd.TrigPin), board.Pin(cmd.EchoPin), unit, cmd.MaxCm)
		if err != nil {
			return nil, err
		}
		return &command.Reply{Value: value(float64(n))}, nil

	case command.GetStatus:
		s := v.Status()
		return &command.Reply{Status: &s}, nil
	}
	return nil, errors.Errorf("unhandled command type %q", cmd.Type)
}

func (v *Vehicle) followSpeed(speed int) int {
	if speed == 0 {
		return v.cfg.Follow.Speed
	}
	return speed
}

func (v *Vehicle) distanceParams(unitName, variant string) (distance.Unit, distance.Calibration, error) {
	if unitName == "" {
		unitName = v.cfg.Distance.Unit
	}
	if variant == "" {
		variant = v.cfg.Distance.Variant
	}
	unit, err := distance.ParseUnit(unitName)
	if err != nil {
		return 0, distance.Calibration{}, err
	}
	cal, err := distance.CalibrationByName(variant)
	if err != nil {
		return 0, distance.Calibration{}, err
	}
	return unit, cal, nil
}

// Close stops the vehicle and releases the board.
func (v *Vehicle) Close() error {
	err := v.Reset()
	for _, c := range v.closers {
		err = multierr.Append(err, c.Close())
	}
	return multierr.Append(err, v.Board.Close())
}
