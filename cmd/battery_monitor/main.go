package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bitcar/battery"
	"bitcar/config"
	"bitcar/logging"
)

const CONFIG_PATH_ENV = "BITCAR_CONFIG"

// Logs the battery state every battery.period until interrupted. The battery
// section does not need to be enabled.
func main() {
	cfg, err := config.Load(os.Getenv(CONFIG_PATH_ENV))
	if err != nil {
		logging.NewDefault("battery_monitor").Fatalw("invalid configuration", "error", err)
	}
	logger, err := logging.New("battery_monitor", cfg.Log)
	if err != nil {
		logging.NewDefault("battery_monitor").Fatalw("could not build logger", "error", err)
	}
	defer logger.Sync()

	cfg.Battery.Enabled = true
	if err := cfg.Battery.Validate("battery"); err != nil {
		logger.Fatalw("invalid battery configuration", "error", err)
	}
	monitor, bus, err := battery.Open(cfg.Battery, logger)
	if err != nil {
		logger.Fatalw("can not open ina219", "error", err)
	}
	defer bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	for {
		s, err := monitor.Read()
		if err != nil {
			logger.Errorw("can not read battery", "error", err)
		} else {
			logger.Infow("battery",
				"battery_v", s.BatteryVoltage,
				"cell_v", s.CellVoltage,
				"current_a", s.Current,
				"power_w", s.Power,
				"charge", s.ChargePercents)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.Battery.Period):
		}
	}
}
