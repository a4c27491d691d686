package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"bitcar/config"
	"bitcar/distance"
	"bitcar/linesensor"
	"bitcar/logging"
	"bitcar/platform"
)

const CONFIG_PATH_ENV = "BITCAR_CONFIG"
const WATCH_PERIOD = time.Second

// Logs the line sensors and the distance sensor once a second without
// touching the motors. Useful when setting the line threshold.
func main() {
	cfg, err := config.Load(os.Getenv(CONFIG_PATH_ENV))
	if err != nil {
		logging.NewDefault("sensor_watch").Fatalw("invalid configuration", "error", err)
	}
	logger, err := logging.New("sensor_watch", cfg.Log)
	if err != nil {
		logging.NewDefault("sensor_watch").Fatalw("could not build logger", "error", err)
	}
	defer logger.Sync()

	b, timer, err := platform.Open(cfg.Board, logger)
	if err != nil {
		logger.Fatalw("could not open board", "error", err)
	}
	defer b.Close()

	line, err := linesensor.New(b, cfg.Line, logger)
	if err != nil {
		logger.Fatalw("could not open line sensors", "error", err)
	}
	measure := cfg.Distance.Measurement(distance.New(b, timer, clock.New(), logger))
	if cfg.Distance.Pin == "" && cfg.Distance.TrigPin == "" {
		measure = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	for {
		state, err := line.Read()
		if err != nil {
			logger.Errorw("can not read line sensors", "error", err)
		} else {
			logger.Infow("line", "left", state.Left, "right", state.Right)
		}
		if measure != nil {
			d, err := measure()
			if err != nil {
				logger.Errorw("can not measure distance", "error", err)
			} else {
				logger.Infow("distance", "value", d.Value, "unit", d.Unit.String(), "in_range", d.InRange())
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(WATCH_PERIOD):
		}
	}
}
