package linefollow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"bitcar/linesensor"
)

type call struct {
	stop        bool
	left, right int
}

type recordingDriver struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (d *recordingDriver) SetSpeeds(left, right int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call{left: left, right: right})
	return d.err
}

func (d *recordingDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call{stop: true})
	return nil
}

func (d *recordingDriver) Calls() []call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]call(nil), d.calls...)
}

func (d *recordingDriver) count(stop bool) int {
	n := 0
	for _, c := range d.Calls() {
		if c.stop == stop {
			n++
		}
	}
	return n
}

// scriptedSensor returns queued states, then the last one forever.
type scriptedSensor struct {
	mu     sync.Mutex
	states []linesensor.LineState
	reads  int
	err    error
}

func (s *scriptedSensor) Read() (linesensor.LineState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.err != nil {
		return linesensor.LineState{}, s.err
	}
	st := s.states[0]
	if len(s.states) > 1 {
		s.states = s.states[1:]
	}
	return st, nil
}

func state(left, right bool) linesensor.LineState {
	return linesensor.LineState{Left: left, Right: right}
}

func TestStepDecisionTable(t *testing.T) {
	for _, tc := range []struct {
		name   string
		states []linesensor.LineState
		want   []call
		reads  int
	}{
		{"both", []linesensor.LineState{state(true, true)}, []call{{left: 60, right: 60}}, 1},
		{"right only, line kept", []linesensor.LineState{state(false, true), state(false, true)}, []call{{left: 60}}, 2},
		{"right only, line lost", []linesensor.LineState{state(false, true), state(false, false)}, []call{{left: 60}, {left: 60}}, 2},
		{"left only, line kept", []linesensor.LineState{state(true, false), state(true, true)}, []call{{right: 60}}, 2},
		{"left only, line lost", []linesensor.LineState{state(true, false), state(false, false)}, []call{{right: 60}, {right: 60}}, 2},
		{"neither", []linesensor.LineState{state(false, false)}, nil, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sensor := &scriptedSensor{states: tc.states}
			driver := &recordingDriver{}
			c := New(sensor, driver, zaptest.NewLogger(t).Sugar())
			test.That(t, c.Step(60), test.ShouldBeNil)
			test.That(t, driver.Calls(), test.ShouldResemble, tc.want)
			test.That(t, sensor.reads, test.ShouldEqual, tc.reads)
		})
	}
}

func TestStepWithoutRecheck(t *testing.T) {
	for _, tc := range []struct {
		name  string
		first linesensor.LineState
		want  []call
	}{
		{"right only", state(false, true), []call{{left: 40}}},
		{"left only", state(true, false), []call{{right: 40}}},
		{"both", state(true, true), []call{{left: 40, right: 40}}},
		{"neither", state(false, false), nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sensor := &scriptedSensor{states: []linesensor.LineState{tc.first, state(false, false)}}
			driver := &recordingDriver{}
			c := New(sensor, driver, zaptest.NewLogger(t).Sugar(), WithoutRecheck())
			test.That(t, c.Step(40), test.ShouldBeNil)
			test.That(t, driver.Calls(), test.ShouldResemble, tc.want)
			test.That(t, sensor.reads, test.ShouldEqual, 1)
		})
	}
}

func TestStepErrors(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	sensor := &scriptedSensor{err: errors.New("adc busy")}
	driver := &recordingDriver{}
	test.That(t, New(sensor, driver, logger).Step(50), test.ShouldBeError, errors.New("adc busy"))
	test.That(t, driver.Calls(), test.ShouldBeEmpty)

	sensor = &scriptedSensor{states: []linesensor.LineState{state(false, true), state(false, false)}}
	driver = &recordingDriver{err: errors.New("pwm gone")}
	test.That(t, New(sensor, driver, logger).Step(50), test.ShouldBeError, errors.New("pwm gone"))
	test.That(t, driver.Calls(), test.ShouldHaveLength, 1)
}

func waitFor(t *testing.T, mock *clock.Mock, interval time.Duration, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !done() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for follow loop")
		}
		mock.Add(interval)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	mock := clock.NewMock()
	sensor := &scriptedSensor{states: []linesensor.LineState{state(true, true)}}
	driver := &recordingDriver{}
	c := New(sensor, driver, zaptest.NewLogger(t).Sugar(), WithClock(mock))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx, 70, 10*time.Millisecond) }()

	waitFor(t, mock, 10*time.Millisecond, func() bool { return driver.count(false) >= 3 })
	cancel()
	test.That(t, <-errc, test.ShouldBeNil)

	calls := driver.Calls()
	test.That(t, calls[len(calls)-1], test.ShouldResemble, call{stop: true})
	for _, c := range calls[:len(calls)-1] {
		test.That(t, c, test.ShouldResemble, call{left: 70, right: 70})
	}
}

func TestRunGate(t *testing.T) {
	mock := clock.NewMock()
	sensor := &scriptedSensor{states: []linesensor.LineState{state(true, true)}}
	driver := &recordingDriver{}
	var open atomic.Bool
	var checks atomic.Int64
	gate := func() bool {
		checks.Add(1)
		return open.Load()
	}
	c := New(sensor, driver, zaptest.NewLogger(t).Sugar(), WithClock(mock), WithGate(gate))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx, 50, 10*time.Millisecond) }()

	waitFor(t, mock, 10*time.Millisecond, func() bool { return checks.Load() >= 3 })
	test.That(t, driver.count(true), test.ShouldEqual, 1)
	test.That(t, driver.count(false), test.ShouldEqual, 0)

	open.Store(true)
	waitFor(t, mock, 10*time.Millisecond, func() bool { return driver.count(false) >= 2 })
	test.That(t, driver.count(true), test.ShouldEqual, 1)

	open.Store(false)
	seen := checks.Load()
	waitFor(t, mock, 10*time.Millisecond, func() bool { return checks.Load() >= seen+3 })
	test.That(t, driver.count(true), test.ShouldEqual, 2)

	cancel()
	test.That(t, <-errc, test.ShouldBeNil)
	test.That(t, driver.count(true), test.ShouldEqual, 3)
}

func TestRunRejectsBadInterval(t *testing.T) {
	c := New(&scriptedSensor{}, &recordingDriver{}, zaptest.NewLogger(t).Sugar())
	test.That(t, c.Run(context.Background(), 50, 0), test.ShouldNotBeNil)
}
