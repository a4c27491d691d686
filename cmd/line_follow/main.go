package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"bitcar/config"
	"bitcar/logging"
	"bitcar/vehicle"
)

const CONFIG_PATH_ENV = "BITCAR_CONFIG"

// Follows the line at the configured speed until interrupted. With
// distance.stop_distance set the vehicle waits while an obstacle is closer.
func main() {
	cfg, err := config.Load(os.Getenv(CONFIG_PATH_ENV))
	if err != nil {
		logging.NewDefault("line_follow").Fatalw("invalid configuration", "error", err)
	}
	logger, err := logging.New("line_follow", cfg.Log)
	if err != nil {
		logging.NewDefault("line_follow").Fatalw("could not build logger", "error", err)
	}
	defer logger.Sync()

	car, err := vehicle.Open(cfg, logger)
	if err != nil {
		logger.Fatalw("could not open vehicle", "error", err)
	}
	defer car.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	car.Start(ctx)

	if err := car.Follower.Run(ctx, cfg.Follow.Speed, cfg.Follow.Interval); err != nil {
		logger.Errorw("line follow failed", "error", err)
	}
}
