// Package adc reads analog inputs through the Linux IIO sysfs interface.
package adc

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"bitcar/board"
)

// DefaultDevice is the on-chip ADC of BeagleBone boards.
const DefaultDevice = "/sys/bus/iio/devices/iio:device0"

// ADC is one IIO voltage channel. Read rescales the raw sample to the
// 10-bit board.AnalogMax range.
type ADC struct {
	raw  string
	bits uint
}

var _ = board.AnalogReader(&ADC{})

// Open checks that channel exists on device. bits is the converter
// resolution, 12 on BeagleBone boards.
func Open(device string, channel int, bits uint) (*ADC, error) {
	if bits == 0 || bits > 16 {
		return nil, errors.Errorf("unsupported adc resolution %d bits", bits)
	}
	raw := filepath.Join(device, fmt.Sprintf("in_voltage%d_raw", channel))
	if _, err := os.Stat(raw); err != nil {
		return nil, errors.Wrapf(err, "adc channel %d", channel)
	}
	return &ADC{raw: raw, bits: bits}, nil
}

// Raw returns the unscaled sample.
func (a *ADC) Raw() (int, error) {
	data, err := os.ReadFile(a.raw)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, errors.Wrapf(err, "bad adc sample %q", data)
	}
	return value, nil
}

// Read implements board.AnalogReader.
func (a *ADC) Read() (int, error) {
	raw, err := a.Raw()
	if err != nil {
		return 0, err
	}
	return Scale(raw, a.bits), nil
}

// Scale maps a sample of the given resolution onto [0, board.AnalogMax].
func Scale(raw int, bits uint) int {
	switch {
	case bits > 10:
		raw >>= bits - 10
	case bits < 10:
		raw <<= 10 - bits
	}
	return min(max(raw, 0), board.AnalogMax)
}
