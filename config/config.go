// Package config loads the vehicle configuration: built-in defaults, then a
// YAML file, then BITCAR_* environment variables.
package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"bitcar/battery"
	"bitcar/distance"
	"bitcar/linefollow"
	"bitcar/linesensor"
	"bitcar/logging"
	"bitcar/platform"
	"bitcar/telemetry"
	"bitcar/twowheeled"
)

// Server configures the websocket remote control.
type Server struct {
	Address     string        `yaml:"address" env:"BITCAR_SERVER_ADDRESS"`
	PublicDir   string        `yaml:"public_dir" env:"BITCAR_SERVER_PUBLIC_DIR"`
	ReadTimeout time.Duration `yaml:"read_timeout" env:"BITCAR_SERVER_READ_TIMEOUT"`

	// StatusPeriod paces the /status stream. Zero turns it off.
	StatusPeriod time.Duration `yaml:"status_period" env:"BITCAR_SERVER_STATUS_PERIOD"`
}

func (s Server) Validate(path string) error {
	if s.Address == "" {
		return errors.Errorf("%s.address is required", path)
	}
	if s.ReadTimeout <= 0 {
		return errors.Errorf("%s.read_timeout must be positive", path)
	}
	if s.StatusPeriod < 0 {
		return errors.Errorf("%s.status_period is negative", path)
	}
	return nil
}

type Config struct {
	Board    platform.Config   `yaml:"board"`
	Motors   twowheeled.Config `yaml:"motors"`
	Line     linesensor.Config `yaml:"line"`
	Distance distance.Config   `yaml:"distance"`
	Follow   linefollow.Config `yaml:"follow"`
	Server   Server            `yaml:"server"`
	MQTT     telemetry.Config  `yaml:"mqtt"`
	Battery  battery.Config    `yaml:"battery"`
	Log      logging.Config    `yaml:"log"`
}

// Default returns the configuration of a BitCar on a BeagleBone AI-64.
func Default() Config {
	return Config{
		Board: platform.Config{
			Kind:        platform.Sysfs,
			PWMPeriod:   time.Millisecond,
			PWMPolarity: "inversed",
			ADCBits:     12,
		},
		Motors: twowheeled.Config{
			LeftBackward:  "0a",
			LeftForward:   "0b",
			RightForward:  "1a",
			RightBackward: "1b",
		},
		Line: linesensor.Config{
			Left:      "AIN1",
			Right:     "AIN2",
			Threshold: linesensor.DefaultThreshold,
		},
		Distance: distance.Config{
			Pin:        "P8_03",
			Variant:    distance.GroveV1.Name,
			Unit:       "cm",
			MaxCm:      distance.DefaultMaxRange,
			PollPeriod: 200 * time.Millisecond,
		},
		Follow: linefollow.Config{
			Speed:    linefollow.DefaultSpeed,
			Interval: linefollow.DefaultInterval,
			Recheck:  true,
		},
		Server: Server{
			Address:      ":1337",
			PublicDir:    "./public",
			ReadTimeout:  time.Second,
			StatusPeriod: 500 * time.Millisecond,
		},
		MQTT: telemetry.Config{
			ClientID:     "bitcar",
			Topic:        "bitcar/status",
			CommandTopic: "bitcar/command",
			ReplyTopic:   "bitcar/reply",
			Period:       time.Second,
		},
		Battery: battery.Config{
			Address: 0x41,
			Cells:   3,
			Period:  time.Second,
		},
		Log: logging.Config{
			Level: "info",
		},
	}
}

// Validate checks every section. The error names the offending field.
func (c Config) Validate() error {
	for _, v := range []struct {
		path string
		fn   func(string) error
	}{
		{"board", c.Board.Validate},
		{"motors", c.Motors.Validate},
		{"line", c.Line.Validate},
		{"distance", c.Distance.Validate},
		{"follow", c.Follow.Validate},
		{"server", c.Server.Validate},
		{"mqtt", c.MQTT.Validate},
		{"battery", c.Battery.Validate},
		{"log", c.Log.Validate},
	} {
		if err := v.fn(v.path); err != nil {
			return err
		}
	}
	return nil
}

// Parse applies YAML on top of the defaults. Unknown keys are errors.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "unable to unmarshal yaml")
	}
	return cfg, nil
}

// Load reads path (skipped when empty), applies the environment and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "unable to read config file")
		}
		if cfg, err = Parse(data); err != nil {
			return Config{}, errors.Wrapf(err, "in %s", path)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unable to parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
