// Package logging builds the zap loggers used across the vehicle.
package logging

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the log level and format.
type Config struct {
	Level string `yaml:"level" env:"BITCAR_LOG_LEVEL"`
	// Development switches to colored console output with stack traces.
	Development bool `yaml:"development" env:"BITCAR_LOG_DEVELOPMENT"`
}

func (c Config) Validate(path string) error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return errors.Wrapf(err, "%s.level", path)
	}
	return nil
}

// NewLoggerConfig returns console output to stdout in ISO8601 time, the
// same keys as zap's production config and no stack traces.
func NewLoggerConfig(level zapcore.Level) zap.Config {
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// New builds a named logger from cfg.
func New(name string, cfg Config) (*zap.SugaredLogger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrap(err, "bad log level")
	}
	zcfg := NewLoggerConfig(level)
	if cfg.Development {
		zcfg.Development = true
		zcfg.DisableStacktrace = false
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "could not build logger")
	}
	return logger.Sugar().Named(name), nil
}

// NewDefault is New at info level. It never fails.
func NewDefault(name string) *zap.SugaredLogger {
	logger, err := New(name, Config{Level: "info"})
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger
}
