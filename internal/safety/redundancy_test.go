package safety

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/cdu-controller/internal/status"
)

type fakeTicks struct {
	mu      sync.Mutex
	ch      chan time.Time
	started []time.Duration
	stopped int
}

// manualTicks returns a TickSource driven by the test. Passing nil
// creates an unobserved source.
func manualTicks(ft *fakeTicks) TickSource {
	if ft == nil {
		ft = &fakeTicks{}
	}
	return func(d time.Duration) (<-chan time.Time, func()) {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		ft.ch = make(chan time.Time)
		ft.started = append(ft.started, d)
		return ft.ch, func() {
			ft.mu.Lock()
			ft.stopped++
			ft.mu.Unlock()
		}
	}
}

func (ft *fakeTicks) tick() {
	ft.mu.Lock()
	ch := ft.ch
	ft.mu.Unlock()
	ch <- time.Now()
}

func waitState(t *testing.T, r *Redundancy, want State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if r.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state: got %s, want %s", r.State(), want)
}

func TestRedundancyCycle(t *testing.T) {
	regs := status.NewRegisters()
	r := NewRedundancy(regs, Interval{Count: 1, Unit: UnitHour}, 0, manualTicks(nil))
	defer r.Close()

	if r.State() != StateDisabled {
		t.Fatalf("initial: got %s, want DISABLED", r.State())
	}
	r.Advance()
	if r.State() != StateDisabled {
		t.Errorf("advance while disabled: got %s", r.State())
	}

	r.Enable()
	want := []State{StateB, StateC, StateA, StateB, StateC, StateA}
	if r.State() != StateA {
		t.Fatalf("after enable: got %s, want A", r.State())
	}
	for i, w := range want {
		r.Advance()
		if got := r.State(); got != w {
			t.Fatalf("step %d: got %s, want %s", i, got, w)
		}
	}
	if got := regs.Value(status.RegPumpRedundancy); got != uint32(StateA) {
		t.Errorf("register: got %d, want %d", got, StateA)
	}
}

func TestRedundancyTimerAdvances(t *testing.T) {
	ft := &fakeTicks{}
	r := NewRedundancy(status.NewRegisters(), Interval{Count: 2, Unit: UnitDay}, 0, manualTicks(ft))
	defer r.Close()

	r.Enable()
	if len(ft.started) != 1 || ft.started[0] != 48*time.Hour {
		t.Fatalf("started: got %v, want [48h]", ft.started)
	}
	if r.State() != StateA {
		t.Fatalf("enable must not advance immediately: got %s", r.State())
	}
	ft.tick()
	waitState(t, r, StateB)
	ft.tick()
	waitState(t, r, StateC)
	ft.tick()
	waitState(t, r, StateA)
}

func TestRedundancyEnableIsIdempotent(t *testing.T) {
	ft := &fakeTicks{}
	r := NewRedundancy(status.NewRegisters(), Interval{Count: 1, Unit: UnitHour}, 0, manualTicks(ft))
	defer r.Close()

	r.Enable()
	r.Advance()
	r.Enable()
	if r.State() != StateB {
		t.Errorf("got %s, want B", r.State())
	}
	if len(ft.started) != 1 {
		t.Errorf("timer started %d times, want 1", len(ft.started))
	}
}

func TestRedundancyEnableAfterRegisterCleared(t *testing.T) {
	ft := &fakeTicks{}
	regs := status.NewRegisters()
	r := NewRedundancy(regs, Interval{Count: 1, Unit: UnitHour}, 0, manualTicks(ft))
	defer r.Close()

	r.Enable()
	if err := regs.Set(status.RegPumpRedundancy, status.WholeRegister, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	r.Enable()
	if r.State() != StateA {
		t.Errorf("state: got %s, want A", r.State())
	}
	if len(ft.started) != 1 {
		t.Errorf("timer started %d times, want 1", len(ft.started))
	}

	r.Disable()
	if r.Running() {
		t.Error("rotation still running after Disable")
	}
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if running := len(ft.started) - ft.stopped; running != 0 {
		t.Errorf("%d rotation timers still running after Disable, want 0", running)
	}
}

func TestRedundancyDisableFromAnyPhase(t *testing.T) {
	for _, steps := range []int{0, 1, 2} {
		ft := &fakeTicks{}
		r := NewRedundancy(status.NewRegisters(), Interval{Count: 1, Unit: UnitHour}, 0, manualTicks(ft))
		r.Enable()
		for i := 0; i < steps; i++ {
			r.Advance()
		}
		r.Disable()
		if r.State() != StateDisabled {
			t.Errorf("steps %d: got %s, want DISABLED", steps, r.State())
		}
		if r.Running() {
			t.Errorf("steps %d: timer still running", steps)
		}
		if ft.stopped != 1 {
			t.Errorf("steps %d: stopped %d times, want 1", steps, ft.stopped)
		}
	}
}

func TestRedundancySetInterval(t *testing.T) {
	ft := &fakeTicks{}
	r := NewRedundancy(status.NewRegisters(), Interval{Count: 1, Unit: UnitHour}, 0, manualTicks(ft))
	defer r.Close()

	if err := r.SetInterval(Interval{Count: 3, Unit: UnitHour}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ft.started) != 0 {
		t.Error("setting the interval while disabled should not start the timer")
	}

	r.Enable()
	r.SetInterval(Interval{Count: 1, Unit: UnitDay})
	if len(ft.started) != 2 || ft.started[1] != 24*time.Hour {
		t.Errorf("started: got %v, want [3h 24h]", ft.started)
	}
	if got := r.Interval(); got != (Interval{Count: 1, Unit: UnitDay}) {
		t.Errorf("Interval: got %v", got)
	}

	if err := r.SetInterval(Interval{Count: 0}); !errors.Is(err, ErrInterval) {
		t.Errorf("got %v, want ErrInterval", err)
	}
}

func TestRedundancyIsolate(t *testing.T) {
	regs := status.NewRegisters()
	stop := uint32(1 << status.FailEmergencyButton)
	r := NewRedundancy(regs, Interval{Count: 1, Unit: UnitHour}, stop, manualTicks(nil))
	defer r.Close()

	r.Isolate(2)
	if r.State() != StateDisabled {
		t.Errorf("isolate while disabled: got %s", r.State())
	}

	r.Enable()
	r.Isolate(2)
	if idx, ok := r.Rested(); !ok || idx != 2 {
		t.Errorf("rested: got %d %v, want 2 true", idx, ok)
	}

	regs.SetBit(status.RegFailure, status.FailEmergencyButton, true)
	r.Isolate(0)
	if idx, _ := r.Rested(); idx != 2 {
		t.Errorf("isolate under stop: got member %d, want 2", idx)
	}
}

func TestStateFromUnknownRegisterValue(t *testing.T) {
	regs := status.NewRegisters()
	regs.Set(status.RegPumpRedundancy, status.WholeRegister, 9)
	r := NewRedundancy(regs, Interval{Count: 1, Unit: UnitHour}, 0, manualTicks(nil))
	if r.State() != StateDisabled {
		t.Errorf("got %s, want DISABLED", r.State())
	}
}
