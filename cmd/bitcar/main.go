// Package main is the bitcar command line tool. Each subcommand opens the
// vehicle, runs one command against it and prints the reply as JSON. move
// and follow then keep the vehicle running until their duration elapses or
// the tool is interrupted; the motors stop when the tool exits.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"bitcar/command"
	"bitcar/config"
	"bitcar/logging"
	"bitcar/vehicle"
)

const (
	// Flags.
	flagConfig  = "config"
	flagDebug   = "debug"
	flagLeft    = "left"
	flagRight   = "right"
	flagSpeed   = "speed"
	flagCharge  = "charge"
	flagSide    = "side"
	flagPin     = "pin"
	flagUnit    = "unit"
	flagVariant = "variant"
	flagTrig    = "trig"
	flagEcho    = "echo"
	flagMax     = "max"
	flagFor     = "duration"
	flagOnce    = "once"
)

// car is the part of vehicle.Vehicle the tool drives.
type car interface {
	Execute(cmd *command.Command) *command.Reply
	Start(ctx context.Context)
	Close() error
}

type openFunc func(cfg config.Config, logger *zap.SugaredLogger) (car, error)

func openVehicle(cfg config.Config, logger *zap.SugaredLogger) (car, error) {
	return vehicle.Open(cfg, logger)
}

type runner struct {
	open   openFunc
	cfg    config.Config
	logger *zap.SugaredLogger
	out    io.Writer
}

// run opens the vehicle, executes cmd and prints the reply.
func (r *runner) run(cmd *command.Command) error {
	return r.exec(cmd, nil)
}

// hold runs cmd like run, then keeps the vehicle open with its monitors
// running until d elapses, or until interrupted when d is 0.
func (r *runner) hold(c *cli.Context, cmd *command.Command, d time.Duration) error {
	if d < 0 {
		return cli.Exit(fmt.Sprintf("negative duration %s", d), 2)
	}
	return r.exec(cmd, func(v car) {
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		v.Start(ctx)
		r.logger.Infow("holding, interrupt to stop", "duration", d)
		<-ctx.Done()
	})
}

// exec validates and executes cmd, then calls wait, if any, on a successful
// reply. Closing the vehicle stops the motors.
func (r *runner) exec(cmd *command.Command, wait func(v car)) error {
	if err := cmd.Validate(); err != nil {
		return cli.Exit(err.Error(), 2)
	}
	v, err := r.open(r.cfg, r.logger)
	if err != nil {
		return errors.Wrap(err, "could not open vehicle")
	}
	defer func() {
		if err := v.Close(); err != nil {
			r.logger.Warnw("close failed", "error", err)
		}
	}()
	if err := r.print(v.Execute(cmd)); err != nil {
		return err
	}
	if wait != nil {
		wait(v)
	}
	return nil
}

func (r *runner) print(reply *command.Reply) error {
	data, err := reply.Marshal()
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, string(data))
	if !reply.OK {
		return cli.Exit(reply.Error, 1)
	}
	return nil
}

func newApp(open openFunc, out io.Writer) *cli.App {
	r := &runner{open: open, out: out}

	return &cli.App{
		Name:      "bitcar",
		Usage:     "drive a BitCar from the command line",
		Writer:    out,
		ErrWriter: out,
		// exit codes are handled by main
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				EnvVars: []string{"BITCAR_CONFIG"},
				Usage:   "Load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load(c.String(flagConfig))
			if err != nil {
				return err
			}
			if c.Bool(flagDebug) {
				cfg.Log.Level = "debug"
			}
			logger, err := logging.New("bitcar", cfg.Log)
			if err != nil {
				return err
			}
			r.cfg, r.logger = cfg, logger
			return nil
		},
		After: func(c *cli.Context) error {
			if r.logger != nil {
				//nolint:errcheck
				r.logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "move",
				Usage: "drive each wheel at a signed speed in percent",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: flagLeft, Aliases: []string{"l"}, Usage: "left wheel speed"},
					&cli.IntFlag{Name: flagRight, Aliases: []string{"r"}, Usage: "right wheel speed"},
					&cli.DurationFlag{Name: flagFor, Aliases: []string{"d"}, Usage: "stop after `DURATION`, 0 runs until interrupted"},
				},
				Action: func(c *cli.Context) error {
					return r.hold(c, &command.Command{
						Type:  command.SetSpeeds,
						Left:  c.Int(flagLeft),
						Right: c.Int(flagRight),
					}, c.Duration(flagFor))
				},
			},
			{
				Name:  "stop",
				Usage: "stop both motors",
				Action: func(c *cli.Context) error {
					return r.run(&command.Command{Type: command.Stop})
				},
			},
			{
				Name:  "standup",
				Usage: "rock a tipped-over vehicle back onto its wheels",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: flagSpeed, Usage: "stand up speed"},
					&cli.IntFlag{Name: flagCharge, Usage: "forward charge in `MS`"},
				},
				Action: func(c *cli.Context) error {
					return r.run(&command.Command{
						Type:     command.StandUp,
						Speed:    c.Int(flagSpeed),
						ChargeMs: c.Int(flagCharge),
					})
				},
			},
			{
				Name:  "line",
				Usage: "read the line sensors",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagSide, Usage: "only report `SIDE` (left or right)"},
				},
				Action: func(c *cli.Context) error {
					return r.run(&command.Command{Type: command.LineState, Side: c.String(flagSide)})
				},
			},
			{
				Name:  "follow",
				Usage: "follow the line",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: flagSpeed, Usage: "forward speed, the configured one when 0"},
					&cli.DurationFlag{Name: flagFor, Aliases: []string{"d"}, Usage: "stop after `DURATION`, 0 runs until interrupted"},
					&cli.BoolFlag{Name: flagOnce, Usage: "take a single follow step and exit"},
				},
				Action: func(c *cli.Context) error {
					if c.Bool(flagOnce) {
						return r.run(&command.Command{Type: command.FollowLine, Speed: c.Int(flagSpeed)})
					}
					return r.hold(c, &command.Command{Type: command.StartFollow, Speed: c.Int(flagSpeed)}, c.Duration(flagFor))
				},
			},
			{
				Name:  "distance",
				Usage: "measure the distance with a single pin ultrasonic ranger",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagPin, Usage: "signal `PIN`, the configured one when empty"},
					&cli.StringFlag{Name: flagUnit, Usage: "cm or inch"},
					&cli.StringFlag{Name: flagVariant, Usage: "sensor calibration, v1 or v2"},
				},
				Action: func(c *cli.Context) error {
					return r.run(r.measure(c.String(flagPin), c.String(flagUnit), c.String(flagVariant)))
				},
			},
			{
				Name:  "ping",
				Usage: "measure the distance with a trigger/echo ranger",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagTrig, Required: true, Usage: "trigger `PIN`"},
					&cli.StringFlag{Name: flagEcho, Required: true, Usage: "echo `PIN`"},
					&cli.StringFlag{Name: flagUnit, Usage: "cm, inch or us"},
					&cli.IntFlag{Name: flagMax, Usage: "maximum range in centimeters"},
				},
				Action: func(c *cli.Context) error {
					return r.run(&command.Command{
						Type:    command.Ping,
						TrigPin: c.String(flagTrig),
						EchoPin: c.String(flagEcho),
						Unit:    c.String(flagUnit),
						MaxCm:   c.Int(flagMax),
					})
				},
			},
			{
				Name:  "status",
				Usage: "print a vehicle snapshot",
				Action: func(c *cli.Context) error {
					return r.run(&command.Command{Type: command.GetStatus})
				},
			},
			{
				Name:  "shell",
				Usage: "interactive shell on an open vehicle",
				Action: func(c *cli.Context) error {
					v, err := r.open(r.cfg, r.logger)
					if err != nil {
						return errors.Wrap(err, "could not open vehicle")
					}
					defer v.Close()
					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
					defer stop()
					v.Start(ctx)
					runShell(v, r.out)
					return nil
				},
			},
			{
				Name:  "drive",
				Usage: "drive from the keyboard with a live status view",
				Action: func(c *cli.Context) error {
					v, err := r.open(r.cfg, r.logger)
					if err != nil {
						return errors.Wrap(err, "could not open vehicle")
					}
					defer v.Close()
					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
					defer stop()
					v.Start(ctx)
					_, err = tea.NewProgram(newDriveModel(v), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
					if errors.Is(err, tea.ErrProgramKilled) {
						return nil
					}
					return err
				},
			},
		},
	}
}

func (r *runner) measure(pin, unit, variant string) *command.Command {
	if pin == "" {
		pin = string(r.cfg.Distance.Pin)
	}
	return &command.Command{Type: command.MeasureDistance, Pin: pin, Unit: unit, Variant: variant}
}

func main() {
	err := newApp(openVehicle, os.Stdout).Run(os.Args)
	if err == nil {
		return
	}
	var exit cli.ExitCoder
	if errors.As(err, &exit) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exit.ExitCode())
	}
	logging.NewDefault("bitcar").Fatal(err)
}
