package safety

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/cdu-controller/internal/status"
)

// State is the pump redundancy phase. Each active phase rests one member
// of the redundant group.
type State uint32

const (
	StateDisabled State = iota
	StateA
	StateB
	StateC
)

func (s State) String() string {
	switch s {
	case StateA:
		return "A"
	case StateB:
		return "B"
	case StateC:
		return "C"
	default:
		return "DISABLED"
	}
}

// Rested returns the index of the member taken offline in this phase.
func (s State) Rested() (int, bool) {
	if s < StateA || s > StateC {
		return 0, false
	}
	return int(s - StateA), true
}

// Unit is the granularity of the rotation interval.
type Unit uint8

const (
	UnitHour Unit = iota
	UnitDay
)

func (u Unit) String() string {
	if u == UnitDay {
		return "day"
	}
	return "hour"
}

// ParseUnit converts "hour" or "day" into a Unit.
func ParseUnit(s string) (Unit, error) {
	switch s {
	case "hour", "hours", "h":
		return UnitHour, nil
	case "day", "days", "d":
		return UnitDay, nil
	}
	return 0, fmt.Errorf("safety: unknown interval unit %q", s)
}

// Interval is the time between redundancy phase changes.
type Interval struct {
	Count int
	Unit  Unit
}

// ErrInterval is returned for an interval with a non-positive count.
var ErrInterval = errors.New("safety: interval count must be positive")

// Duration converts the interval to a time.Duration.
func (i Interval) Duration() time.Duration {
	d := time.Hour
	if i.Unit == UnitDay {
		d = 24 * time.Hour
	}
	return time.Duration(i.Count) * d
}

func (i Interval) String() string {
	return fmt.Sprintf("%d %s", i.Count, i.Unit)
}

// Redundancy rotates which member of the redundant group is rested. The
// phase lives in the PUMP_REDUNDANCY register so other components and
// diagnostics see it.
type Redundancy struct {
	regs     *status.Registers
	ticks    TickSource
	stopMask uint32

	// mu guards the rotation lifecycle; stateMu guards phase changes.
	mu       sync.Mutex
	interval Interval
	rot      *rotation

	stateMu sync.Mutex
}

// NewRedundancy creates a disabled state machine. stopMask is the set of
// FAILURE bits under which Isolate does nothing.
func NewRedundancy(regs *status.Registers, interval Interval, stopMask uint32, ticks TickSource) *Redundancy {
	if ticks == nil {
		ticks = RealTicks
	}
	return &Redundancy{regs: regs, interval: interval, stopMask: stopMask, ticks: ticks}
}

// State returns the current phase. Values outside the known phases read
// as disabled.
func (r *Redundancy) State() State {
	s := State(r.regs.Value(status.RegPumpRedundancy))
	if s > StateC {
		return StateDisabled
	}
	return s
}

// Rested returns the member index taken offline, if any.
func (r *Redundancy) Rested() (int, bool) {
	return r.State().Rested()
}

func (r *Redundancy) setState(s State) {
	_ = r.regs.Set(status.RegPumpRedundancy, status.WholeRegister, uint32(s))
}

// Enable starts rotation in phase A. With the timer already running it
// only restores phase A if the register was cleared.
func (r *Redundancy) Enable() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stateMu.Lock()
	if r.State() == StateDisabled {
		r.setState(StateA)
	}
	r.stateMu.Unlock()
	// The timer, not the register, says whether rotation runs: the
	// register can be rewritten from diagnostics.
	if r.rot != nil {
		return
	}
	r.start()
	log.Printf("safety: redundancy enabled, switching every %s", r.interval)
}

// Disable stops the rotation and forces the disabled phase.
func (r *Redundancy) Disable() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rot != nil {
		r.rot.stop()
		r.rot = nil
	}
	r.stateMu.Lock()
	prev := r.State()
	r.setState(StateDisabled)
	r.stateMu.Unlock()
	if prev != StateDisabled {
		log.Printf("safety: redundancy disabled (was %s)", prev)
	}
}

// Advance moves to the next phase: A to B to C and back to A. It does
// nothing while disabled.
func (r *Redundancy) Advance() {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	s := r.State()
	if s == StateDisabled {
		return
	}
	next := s + 1
	if next > StateC {
		next = StateA
	}
	r.setState(next)
}

// Interval returns the configured rotation interval.
func (r *Redundancy) Interval() Interval {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// SetInterval changes the rotation interval, restarting the timer when
// rotation is running.
func (r *Redundancy) SetInterval(i Interval) error {
	if i.Count <= 0 {
		return fmt.Errorf("%w: %d", ErrInterval, i.Count)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.interval = i
	if r.rot != nil {
		r.rot.stop()
		r.rot = nil
		r.start()
	}
	return nil
}

// Isolate rests member when rotation is active and no stop condition is
// present, so a failing member is the one taken offline.
func (r *Redundancy) Isolate(member int) {
	if member < 0 || member > int(StateC-StateA) {
		return
	}
	if r.regs.Value(status.RegFailure)&r.stopMask != 0 {
		return
	}
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.State() == StateDisabled {
		return
	}
	next := StateA + State(member)
	if r.State() != next {
		log.Printf("safety: redundancy isolating member %d (phase %s)", member, next)
	}
	r.setState(next)
}

// Running reports whether the rotation timer is active.
func (r *Redundancy) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rot != nil
}

// Close stops the rotation timer without changing the phase.
func (r *Redundancy) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rot != nil {
		r.rot.stop()
		r.rot = nil
	}
}

func (r *Redundancy) start() {
	d := r.interval.Duration()
	if d <= 0 {
		log.Printf("safety: redundancy interval %s invalid, timer not started", r.interval)
		return
	}
	r.rot = startRotation(r.ticks, d, r.Advance)
}
