package gpio

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"go.viam.com/test"
)

func fakeSysfs(t *testing.T, number int, direction string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "gpio"+strconv.Itoa(number))
	test.That(t, os.MkdirAll(dir, 0o755), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dir, "direction"), []byte(direction+"\n"), 0o644), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dir, "value"), []byte("0\n"), 0o644), test.ShouldBeNil)

	prev := Root
	Root = root
	t.Cleanup(func() { Root = prev })
	return dir
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	return string(data)
}

func TestExportNumberReusesExportedLine(t *testing.T) {
	dir := fakeSysfs(t, 42, "in")
	g, err := ExportNumber(42)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.Number(), test.ShouldEqual, Number(42))
	test.That(t, g.Alias(), test.ShouldEqual, Alias("gpio42"))

	d, err := g.Direction()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldEqual, IN)

	// no export request for a line that already exists
	_, err = os.Stat(filepath.Join(Root, "export"))
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
	test.That(t, dir, test.ShouldNotBeEmpty)
}

func TestExportNumberMissingLine(t *testing.T) {
	fakeSysfs(t, 10, "in")
	_, err := ExportNumber(11)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, readFile(t, filepath.Join(Root, "export")), test.ShouldEqual, "11")
}

func TestSetSwitchesToOutput(t *testing.T) {
	dir := fakeSysfs(t, 17, "in")
	g, err := ExportNumber(17)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, g.Set(true), test.ShouldBeNil)
	test.That(t, readFile(t, filepath.Join(dir, "direction")), test.ShouldEqual, "out")
	test.That(t, readFile(t, filepath.Join(dir, "value")), test.ShouldEqual, "1")

	test.That(t, g.Set(false), test.ShouldBeNil)
	test.That(t, readFile(t, filepath.Join(dir, "value")), test.ShouldEqual, "0")
}

func TestGetSwitchesToInput(t *testing.T) {
	dir := fakeSysfs(t, 23, "out")
	g, err := ExportNumber(23)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, os.WriteFile(filepath.Join(dir, "value"), []byte("1\n"), 0o644), test.ShouldBeNil)
	high, err := g.Get()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, high, test.ShouldBeTrue)
	test.That(t, readFile(t, filepath.Join(dir, "direction")), test.ShouldEqual, "in")

	v, err := g.Value()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, HIGH)
}

func TestValueRejectsGarbage(t *testing.T) {
	dir := fakeSysfs(t, 30, "in")
	g, err := ExportNumber(30)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dir, "value"), []byte("x"), 0o644), test.ShouldBeNil)
	_, err = g.Get()
	test.That(t, err, test.ShouldNotBeNil)
}

func TestUnexport(t *testing.T) {
	fakeSysfs(t, 12, "in")
	g, err := ExportNumber(12)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.Unexport(), test.ShouldBeNil)
	test.That(t, readFile(t, filepath.Join(Root, "unexport")), test.ShouldEqual, "12")
}

func fakeGpiod(t *testing.T, find, detect string) *[]Alias {
	t.Helper()
	var asked []Alias
	prevFind, prevDetect := gpiofind, gpiodetect
	gpiofind = func(alias Alias) ([]byte, error) {
		asked = append(asked, alias)
		if find == "" {
			return nil, errors.New("exit status 1")
		}
		return []byte(find), nil
	}
	gpiodetect = func() ([]byte, error) { return []byte(detect), nil }
	t.Cleanup(func() { gpiofind, gpiodetect = prevFind, prevDetect })
	return &asked
}

func fakeChips(t *testing.T) {
	t.Helper()
	root := t.TempDir()
	chips := map[string]string{
		"gpiochip300": "../../devices/platform/bus@100000/600000.gpio/gpio/gpiochip300",
		"gpiochip32":  "../../devices/platform/bus@100000/42010000.gpio/gpio/gpiochip32",
	}
	for name, target := range chips {
		test.That(t, os.Symlink(target, filepath.Join(root, name)), test.ShouldBeNil)
	}
	prev := Root
	Root = root
	t.Cleanup(func() { Root = prev })
}

const detectOutput = `gpiochip0 [600000.gpio] (128 lines)
gpiochip1 [42010000.gpio] (32 lines)
`

func TestGrepNumberAddsChipBase(t *testing.T) {
	fakeChips(t)
	asked := fakeGpiod(t, "gpiochip1 23\n", detectOutput)

	n, err := GrepNumber("P8_03")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 55)
	test.That(t, *asked, test.ShouldResemble, []Alias{"P8_03"})

	fakeGpiod(t, "gpiochip0 7\n", detectOutput)
	n, err = GrepNumber("P9_12")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 307)
}

func TestGrepNumberRejectsBadAliases(t *testing.T) {
	fakeChips(t)
	asked := fakeGpiod(t, "gpiochip1 23\n", detectOutput)

	for _, alias := range []Alias{
		"P8_03$(touch x)",
		"P8_03; reboot",
		"P8_3",
		"P10_01",
		"gpio7",
		"",
	} {
		_, err := GrepNumber(alias)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, ValidAlias(alias), test.ShouldBeFalse)
	}
	// nothing reached gpiofind
	test.That(t, *asked, test.ShouldBeEmpty)
}

func TestGrepNumberUnknownLine(t *testing.T) {
	fakeChips(t)
	fakeGpiod(t, "", detectOutput)
	_, err := GrepNumber("P8_03")
	test.That(t, err, test.ShouldNotBeNil)

	fakeGpiod(t, "gpiochip5 1\n", detectOutput)
	_, err = GrepNumber("P8_03")
	test.That(t, err, test.ShouldNotBeNil)

	fakeGpiod(t, "garbage", detectOutput)
	_, err = GrepNumber("P8_03")
	test.That(t, err, test.ShouldNotBeNil)
}
