package battery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"
)

type fakeMeter struct {
	reads atomic.Int64
	fail  atomic.Bool
}

func (m *fakeMeter) ShuntVoltage() (float64, error) {
	m.reads.Add(1)
	if m.fail.Load() {
		return 0, errors.New("i2c nack")
	}
	return -0.03, nil
}

func (m *fakeMeter) BusVoltage() (float64, error) { return 11.37, nil }
func (m *fakeMeter) Current() (float64, error)    { return -0.4, nil }
func (m *fakeMeter) Power() (float64, error)      { return 4.6, nil }

func TestCharge(t *testing.T) {
	test.That(t, Charge(4.2), test.ShouldEqual, 100.0)
	test.That(t, Charge(4.0), test.ShouldEqual, 100.0)
	test.That(t, Charge(3.75), test.ShouldAlmostEqual, 50.0, 1e-9)
	test.That(t, Charge(3.5), test.ShouldEqual, 0.0)
	test.That(t, Charge(3.0), test.ShouldEqual, 0.0)
}

func TestRead(t *testing.T) {
	m := NewMonitor(&fakeMeter{}, 3, clock.NewMock(), zaptest.NewLogger(t).Sugar())
	s, err := m.Read()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.BatteryVoltage, test.ShouldAlmostEqual, 11.4, 1e-9)
	test.That(t, s.CellVoltage, test.ShouldAlmostEqual, 3.8, 1e-9)
	test.That(t, s.ChargePercents, test.ShouldAlmostEqual, 60.0, 1e-6)
	test.That(t, s.Current, test.ShouldEqual, -0.4)
}

func TestRunKeepsLastGoodStatus(t *testing.T) {
	mock := clock.NewMock()
	meter := &fakeMeter{}
	m := NewMonitor(meter, 3, mock, zaptest.NewLogger(t).Sugar())
	_, ok := m.Status()
	test.That(t, ok, test.ShouldBeFalse)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Second)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for meter.reads.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("monitor did not poll")
		}
		mock.Add(time.Second)
	}
	meter.fail.Store(true)
	seen := meter.reads.Load()
	for meter.reads.Load() < seen+2 {
		if time.Now().After(deadline) {
			t.Fatal("monitor did not poll")
		}
		mock.Add(time.Second)
	}
	cancel()
	<-done

	s, ok := m.Status()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, s.CellVoltage, test.ShouldAlmostEqual, 3.8, 1e-9)
}

func TestConfigValidate(t *testing.T) {
	test.That(t, Config{}.Validate("battery"), test.ShouldBeNil)
	good := Config{Enabled: true, Address: 0x41, Cells: 3, Period: time.Second}
	test.That(t, good.Validate("battery"), test.ShouldBeNil)

	bad := good
	bad.Cells = 0
	test.That(t, bad.Validate("battery"), test.ShouldBeError, errors.New("battery.cells must be positive"))
	bad = good
	bad.Address = 0x80
	test.That(t, bad.Validate("battery"), test.ShouldNotBeNil)
}
