package gpio

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Root is the sysfs gpio class directory.
var Root = "/sys/class/gpio"

// Alias is a header pin name such as "P8_03", resolved with gpiofind.
type Alias string

type Number int

type Value int

const (
	LOW  Value = 0
	HIGH Value = 1
)

type Direction string

const (
	IN  Direction = "in"
	OUT Direction = "out"
)

// Gpio is an exported sysfs gpio line. Set drives it as an output and Get
// samples it as an input, switching direction on demand.
type Gpio struct {
	mu        sync.Mutex
	alias     Alias
	number    Number
	direction string
	value     string
	current   Direction
}

func (g *Gpio) Number() Number {
	return g.number
}

func (g *Gpio) Alias() Alias {
	return g.alias
}

func (g *Gpio) Value() (Value, error) {
	data, err := os.ReadFile(g.value)
	if err != nil {
		return LOW, err
	}
	value, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return LOW, errors.Wrapf(err, "gpio%d: bad value %q", g.number, data)
	}
	return Value(value), nil
}

func (g *Gpio) SetValue(value Value) error {
	data := fmt.Sprintf("%d", value)
	return os.WriteFile(g.value, []byte(data), 0666)
}

func (g *Gpio) Direction() (Direction, error) {
	data, err := os.ReadFile(g.direction)
	if err != nil {
		return IN, err
	}
	return Direction(strings.TrimSpace(string(data))), nil
}

func (g *Gpio) SetDirection(direction Direction) error {
	if err := os.WriteFile(g.direction, []byte(direction), 0666); err != nil {
		return err
	}
	g.current = direction
	return nil
}

// Set drives the line, switching it to an output first if needed.
func (g *Gpio) Set(high bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current != OUT {
		if err := g.SetDirection(OUT); err != nil {
			return errors.Wrapf(err, "gpio%d: cannot set direction", g.number)
		}
	}
	value := LOW
	if high {
		value = HIGH
	}
	return g.SetValue(value)
}

// Get samples the line, switching it to an input first if needed.
func (g *Gpio) Get() (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current != IN {
		if err := g.SetDirection(IN); err != nil {
			return false, errors.Wrapf(err, "gpio%d: cannot set direction", g.number)
		}
	}
	value, err := g.Value()
	if err != nil {
		return false, err
	}
	return value != LOW, nil
}

func (g *Gpio) Unexport() error {
	value := fmt.Sprintf("%d", g.number)
	return os.WriteFile(filepath.Join(Root, "unexport"), []byte(value), 0666)
}

// Export resolves a header alias to its sysfs number and exports it.
func Export(alias Alias) (*Gpio, error) {
	number, err := GrepNumber(alias)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot resolve %s", alias)
	}
	g, err := ExportNumber(Number(number))
	if err != nil {
		return nil, err
	}
	g.alias = alias
	return g, nil
}

// ExportNumber exports a line by its sysfs number. Lines that are already
// exported are reused.
func ExportNumber(number Number) (*Gpio, error) {
	dir := filepath.Join(Root, fmt.Sprintf("gpio%d", number))
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		value := fmt.Sprintf("%d", number)
		if err := os.WriteFile(filepath.Join(Root, "export"), []byte(value), 0666); err != nil {
			return nil, errors.Wrapf(err, "cannot export gpio%d", number)
		}
	}
	g := &Gpio{
		number:    number,
		alias:     Alias(fmt.Sprintf("gpio%d", number)),
		value:     filepath.Join(dir, "value"),
		direction: filepath.Join(dir, "direction"),
	}
	current, err := g.Direction()
	if err != nil {
		return nil, errors.Wrapf(err, "gpio%d not exported", number)
	}
	g.current = current
	return g, nil
}

var (
	aliasPattern  = regexp.MustCompile(`^P[89]_[0-9]{2}$`)
	chipPattern   = regexp.MustCompile(`gpiochip[0-9]+`)
	devicePattern = regexp.MustCompile(`[0-9a-f]+\.gpio`)
	basePattern   = regexp.MustCompile(`[0-9]+$`)
)

// gpiofind and gpiodetect run the gpiod tools. Tests replace them.
var (
	gpiofind = func(alias Alias) ([]byte, error) {
		return exec.Command("gpiofind", string(alias)).Output()
	}
	gpiodetect = func() ([]byte, error) {
		return exec.Command("gpiodetect").Output()
	}
)

// ValidAlias reports whether alias names a P8 or P9 header pin.
func ValidAlias(alias Alias) bool {
	return aliasPattern.MatchString(string(alias))
}

// GrepNumber maps a header alias to the global sysfs gpio number: the base
// of the chip gpiofind names plus the line offset on that chip.
func GrepNumber(alias Alias) (int, error) {
	if !ValidAlias(alias) {
		return 0, errors.Errorf("invalid header pin %q", alias)
	}
	out, err := gpiofind(alias)
	if err != nil {
		return 0, errors.Wrap(err, "gpiofind")
	}
	fields := strings.Fields(string(out))
	if len(fields) != 2 || !chipPattern.MatchString(fields[0]) {
		return 0, errors.Errorf("unexpected gpiofind output %q", out)
	}
	chip := fields[0]
	offset, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, errors.Wrapf(err, "bad line offset %q", fields[1])
	}
	base, err := chipBase(chip)
	if err != nil {
		return 0, err
	}
	return base + offset, nil
}

// chipBase finds the sysfs gpiochip linked to the same device as the gpiod
// chip and returns its base number.
func chipBase(chip string) (int, error) {
	out, err := gpiodetect()
	if err != nil {
		return 0, errors.Wrap(err, "gpiodetect")
	}
	var device string
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == chip {
			device = devicePattern.FindString(line)
			break
		}
	}
	if device == "" {
		return 0, errors.Errorf("no device for %s", chip)
	}
	links, err := filepath.Glob(filepath.Join(Root, "gpiochip*"))
	if err != nil {
		return 0, err
	}
	for _, link := range links {
		target, err := os.Readlink(link)
		if err != nil || !strings.Contains(target, "/"+device+"/") {
			continue
		}
		return strconv.Atoi(basePattern.FindString(filepath.Base(link)))
	}
	return 0, errors.Errorf("no sysfs chip for %s (%s)", chip, device)
}
