// Package linesensor reads the two reflectance sensors under the vehicle.
package linesensor

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bitcar/board"
)

// DefaultThreshold is the analog level below which a sensor sees the line.
const DefaultThreshold = 500

// Side selects one of the two sensors.
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "unknown"
	}
}

// ParseSide accepts "left" or "right" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	}
	return 0, errors.Errorf("unknown line sensor %q", s)
}

// LineState is one reading of both sensors.
type LineState struct {
	Left  bool `json:"left"`
	Right bool `json:"right"`
}

// Config names the analog inputs of the two sensors.
type Config struct {
	Left      board.Pin `yaml:"left" env:"BITCAR_LINE_LEFT"`
	Right     board.Pin `yaml:"right" env:"BITCAR_LINE_RIGHT"`
	Threshold int       `yaml:"threshold" env:"BITCAR_LINE_THRESHOLD"`
}

func (c Config) Validate(path string) error {
	if c.Left == "" {
		return errors.Errorf("%s.left is required", path)
	}
	if c.Right == "" {
		return errors.Errorf("%s.right is required", path)
	}
	if c.Left == c.Right {
		return errors.Errorf("%s.left and %s.right both use pin %q", path, path, c.Left)
	}
	if c.Threshold < 0 || c.Threshold > board.AnalogMax {
		return errors.Errorf("%s.threshold %d outside [0, %d]", path, c.Threshold, board.AnalogMax)
	}
	return nil
}

// Sensor thresholds single analog samples. There is no hysteresis and no
// averaging, so a noisy surface can flip the result between ticks.
type Sensor struct {
	left      board.AnalogReader
	right     board.AnalogReader
	threshold int
	logger    *zap.SugaredLogger
}

// New opens both analog inputs. A zero threshold means DefaultThreshold.
func New(b board.Board, cfg Config, logger *zap.SugaredLogger) (*Sensor, error) {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if err := cfg.Validate("line"); err != nil {
		return nil, err
	}
	left, err := b.AnalogReaderByName(cfg.Left)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open left line sensor %q", cfg.Left)
	}
	right, err := b.AnalogReaderByName(cfg.Right)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open right line sensor %q", cfg.Right)
	}
	return &Sensor{left: left, right: right, threshold: cfg.Threshold, logger: logger}, nil
}

// IsLineDetected samples one sensor and reports whether it is over the line.
func (s *Sensor) IsLineDetected(side Side) (bool, error) {
	var r board.AnalogReader
	switch side {
	case Left:
		r = s.left
	case Right:
		r = s.right
	default:
		return false, errors.Errorf("unknown line sensor side %d", side)
	}
	v, err := r.Read()
	if err != nil {
		return false, errors.Wrapf(err, "could not read %s line sensor", side)
	}
	return v < s.threshold, nil
}

// Read samples left then right.
func (s *Sensor) Read() (LineState, error) {
	var st LineState
	var err error
	if st.Left, err = s.IsLineDetected(Left); err != nil {
		return LineState{}, err
	}
	if st.Right, err = s.IsLineDetected(Right); err != nil {
		return LineState{}, err
	}
	s.logger.Debugw("line state", "left", st.Left, "right", st.Right)
	return st, nil
}
