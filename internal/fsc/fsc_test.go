package fsc

import (
	"errors"
	"testing"

	"github.com/sweeney/cdu-controller/internal/actuator"
	"github.com/sweeney/cdu-controller/internal/sensor"
	"github.com/sweeney/cdu-controller/internal/zone"
)

type call struct {
	group actuator.Group
	duty  int
}

type fakeDriver struct {
	calls []call
	err   error
}

func (d *fakeDriver) RequestDuty(g actuator.Group, duty int) (int, error) {
	d.calls = append(d.calls, call{g, duty})
	return duty, d.err
}

func (d *fakeDriver) last(t *testing.T) call {
	t.Helper()
	if len(d.calls) == 0 {
		t.Fatal("no duty requested")
	}
	return d.calls[len(d.calls)-1]
}

// mapTable maps reading v to duty v for 0..100.
func mapTable() []zone.Step {
	steps := make([]zone.Step, 0, 100)
	for i := 1; i <= 100; i++ {
		steps = append(steps, zone.Step{Temp: float64(i), Duty: i})
	}
	return steps
}

func newZone(id sensor.ID) *Zone {
	return &Zone{
		ID:       1,
		Target:   actuator.GroupPump,
		Stepwise: []*zone.Stepwise{{Sensor: id, Steps: mapTable()}},
		Interval: 1,
		OutMin:   0,
		OutMax:   100,
		SlewPos:  5,
		SlewNeg:  3,
	}
}

func TestDisabledDoesNothing(t *testing.T) {
	src := sensor.NewFake()
	src.Set(1, 50)
	drv := &fakeDriver{}
	s := New([]*Zone{newZone(1)}, src, drv, nil)

	if res := s.Tick(); res != nil {
		t.Errorf("got %v, want nil", res)
	}
	if len(drv.calls) != 0 {
		t.Errorf("got %d calls, want 0", len(drv.calls))
	}
	if got := s.ZoneState(s.Zones()[0]); got != Disabled {
		t.Errorf("state: got %v, want disabled", got)
	}
}

func TestFirstComputationSkipsSlew(t *testing.T) {
	src := sensor.NewFake()
	src.Set(1, 60)
	drv := &fakeDriver{}
	z := newZone(1)
	s := New([]*Zone{z}, src, drv, nil)
	s.SetEnabled(true)

	if got := s.ZoneState(z); got != Uninitialized {
		t.Errorf("state before tick: got %v, want uninitialized", got)
	}
	s.Tick()
	if got := drv.last(t).duty; got != 60 {
		t.Errorf("got %d, want 60", got)
	}
	if got := s.ZoneState(z); got != Running {
		t.Errorf("state after tick: got %v, want running", got)
	}
}

func TestSlewLimit(t *testing.T) {
	src := sensor.NewFake()
	src.Set(1, 50)
	drv := &fakeDriver{}
	z := newZone(1)
	s := New([]*Zone{z}, src, drv, nil)
	s.SetEnabled(true)
	s.Tick()

	readings := []float64{90, 90, 10, 10, 52, 100, 0}
	prev := 50
	for i, v := range readings {
		src.Set(1, v)
		s.Tick()
		d := drv.last(t).duty
		if d-prev > z.SlewPos || prev-d > z.SlewNeg {
			t.Errorf("tick %d: duty moved %d -> %d beyond slew +%d/-%d", i, prev, d, z.SlewPos, z.SlewNeg)
		}
		prev = d
	}

	src.Set(1, 90)
	s.Tick()
	if got := z.LastDuty(); got != prev+5 {
		t.Errorf("rising: got %d, want %d", got, prev+5)
	}
}

func TestOutputClamp(t *testing.T) {
	src := sensor.NewFake()
	src.Set(1, 95)
	drv := &fakeDriver{}
	z := newZone(1)
	z.OutMin, z.OutMax = 20, 80
	s := New([]*Zone{z}, src, drv, nil)
	s.SetEnabled(true)

	s.Tick()
	if got := drv.last(t).duty; got != 80 {
		t.Errorf("high: got %d, want 80", got)
	}

	z.SlewNeg = 100
	src.Set(1, 5)
	s.Tick()
	if got := drv.last(t).duty; got != 20 {
		t.Errorf("low: got %d, want 20", got)
	}
}

func TestStepwisePlusPID(t *testing.T) {
	src := sensor.NewFake()
	src.Set(1, 30)
	src.Set(2, 35)
	drv := &fakeDriver{}
	z := newZone(1)
	z.SlewPos = 100
	z.PID = []*zone.PID{{Sensor: 2, Setpoint: 45, Kp: 1, IMin: 0, IMax: 0}}
	s := New([]*Zone{z}, src, drv, nil)
	s.SetEnabled(true)

	s.Tick()
	if got := drv.last(t).duty; got != 40 {
		t.Errorf("got %d, want 40 (30 stepwise + 10 pid)", got)
	}
}

func TestFeatureGate(t *testing.T) {
	src := sensor.NewFake()
	src.Set(1, 30)
	src.Set(2, 35)
	drv := &fakeDriver{}
	bit := uint8(2)
	z := newZone(1)
	z.SlewPos, z.SlewNeg = 100, 100
	z.PID = []*zone.PID{{Sensor: 2, Setpoint: 45, Kp: 1, IMin: 0, IMax: 0, Feature: &bit}}

	enabled := false
	s := New([]*Zone{z}, src, drv, func(b uint8) bool { return b == bit && enabled })
	s.SetEnabled(true)

	s.Tick()
	if got := drv.last(t).duty; got != 30 {
		t.Errorf("gated: got %d, want 30", got)
	}

	enabled = true
	s.Tick()
	if got := drv.last(t).duty; got != 40 {
		t.Errorf("enabled: got %d, want 40", got)
	}
}

func TestPollInterval(t *testing.T) {
	src := sensor.NewFake()
	src.Set(1, 10)
	src.Set(2, 20)
	drv := &fakeDriver{}
	fast := newZone(1)
	slow := newZone(2)
	slow.ID = 2
	slow.Target = actuator.GroupHexFan
	slow.Interval = 3
	s := New([]*Zone{fast, slow}, src, drv, nil)
	s.SetEnabled(true)

	counts := map[actuator.Group]int{}
	for i := 0; i < 9; i++ {
		for _, r := range s.Tick() {
			counts[r.Target]++
		}
	}
	if counts[actuator.GroupPump] != 9 {
		t.Errorf("fast zone: got %d runs, want 9", counts[actuator.GroupPump])
	}
	if counts[actuator.GroupHexFan] != 3 {
		t.Errorf("slow zone: got %d runs, want 3", counts[actuator.GroupHexFan])
	}
}

func TestReenableResetsState(t *testing.T) {
	src := sensor.NewFake()
	src.Set(1, 50)
	drv := &fakeDriver{}
	z := newZone(1)
	z.PID = []*zone.PID{{Sensor: 1, Setpoint: 60, Ki: 1, IMin: -20, IMax: 20}}
	s := New([]*Zone{z}, src, drv, nil)
	s.SetEnabled(true)
	for i := 0; i < 4; i++ {
		s.Tick()
	}
	if z.PID[0].Integral() == 0 {
		t.Fatal("expected integral to accumulate")
	}

	s.SetEnabled(false)
	if got := s.ZoneState(z); got != Disabled {
		t.Errorf("state: got %v, want disabled", got)
	}
	s.SetEnabled(true)
	if got := s.ZoneState(z); got != Uninitialized {
		t.Errorf("state: got %v, want uninitialized", got)
	}

	src.Set(1, 90)
	s.Tick()
	// Slew is skipped again and the integral restarts from zero.
	if got := z.PID[0].Integral(); got != -20 {
		t.Errorf("integral: got %v, want -20", got)
	}
	if got := drv.last(t).duty; got != 70 {
		t.Errorf("duty: got %d, want 70", got)
	}
}

func TestSetEnabledTwiceDoesNotReset(t *testing.T) {
	src := sensor.NewFake()
	src.Set(1, 50)
	drv := &fakeDriver{}
	z := newZone(1)
	s := New([]*Zone{z}, src, drv, nil)
	s.SetEnabled(true)
	s.Tick()

	s.SetEnabled(true)
	src.Set(1, 90)
	s.Tick()
	if got := drv.last(t).duty; got != 55 {
		t.Errorf("got %d, want 55 (slew still applied)", got)
	}
}

func TestUnboundZone(t *testing.T) {
	src := sensor.NewFake()
	src.Set(1, 50)
	drv := &fakeDriver{}
	z := newZone(1)
	z.Target = actuator.GroupNone
	s := New([]*Zone{z}, src, drv, nil)
	s.SetEnabled(true)

	res := s.Tick()
	if len(res) != 1 || res[0].Err == nil {
		t.Fatalf("got %+v, want one result with an error", res)
	}
	if len(drv.calls) != 0 {
		t.Errorf("got %d calls, want 0", len(drv.calls))
	}
	if z.LastDuty() != 50 {
		t.Errorf("last duty: got %d, want 50", z.LastDuty())
	}
}

func TestDriverErrorContinues(t *testing.T) {
	src := sensor.NewFake()
	src.Set(1, 50)
	src.Set(2, 30)
	drv := &fakeDriver{err: errors.New("bus fault")}
	a := newZone(1)
	b := newZone(2)
	b.Target = actuator.GroupHexFan
	s := New([]*Zone{a, b}, src, drv, nil)
	s.SetEnabled(true)

	res := s.Tick()
	if len(res) != 2 {
		t.Fatalf("got %d results, want 2", len(res))
	}
	for _, r := range res {
		if r.Err == nil {
			t.Errorf("zone %d: expected error", r.Zone)
		}
	}
	if len(drv.calls) != 2 {
		t.Errorf("got %d calls, want 2", len(drv.calls))
	}
}
