// Package safety sits between the control loop and the actuators. Every
// duty request passes through Layer, which may replace the computed duty
// with a stop, a forced maximum or a manual value. Redundancy rotates
// which pump is rested.
package safety

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/cdu-controller/internal/actuator"
	"github.com/sweeney/cdu-controller/internal/status"
)

// ErrPumpStopped is returned when a stop condition forced the group off.
var ErrPumpStopped = errors.New("safety: pump stopped by failure condition")

// DefaultManualDuty is the manual cache value before any override.
const DefaultManualDuty = 70

// Action is what a matching failure rule does to the output.
type Action uint8

const (
	ActionStop Action = iota
	ActionMax
)

func (a Action) String() string {
	if a == ActionMax {
		return "max"
	}
	return "stop"
}

// Rule forces the output of groups while a FAILURE bit is set. Empty
// Groups applies to every group.
type Rule struct {
	Bit    uint8
	Action Action
	Groups []actuator.Group
}

func (r Rule) applies(g actuator.Group) bool {
	if len(r.Groups) == 0 {
		return true
	}
	for _, rg := range r.Groups {
		if rg == g {
			return true
		}
	}
	return false
}

// Config holds the static safety settings.
type Config struct {
	// StopMask is the set of FAILURE bits that stop StopGroups outright.
	StopMask   uint32
	StopGroups []actuator.Group

	// GracePeriod must pass after enable before Rules are evaluated.
	GracePeriod time.Duration
	Rules       []Rule

	ManualDefault int

	// SemiAutoPair are the two groups whose mixed manual/automatic
	// state enables redundancy.
	SemiAutoPair [2]actuator.Group
	// Redundant is the group whose members rotate.
	Redundant actuator.Group
	// Switchover stages a change of the rested member.
	Switchover Switchover
}

// Output is the actuator side of the layer.
type Output interface {
	actuator.Sink
	Members(g actuator.Group) []actuator.Device
}

// Layer evaluates each duty request against the failure state.
type Layer struct {
	cfg  Config
	regs *status.Registers
	out  Output
	red  *Redundancy
	now  func() time.Time

	mu           sync.Mutex
	manual       map[actuator.Group]bool
	manualDuty   map[actuator.Group]int
	deviceManual map[actuator.Device]int
	armed        map[actuator.Group]bool
	enabledAt    map[actuator.Group]time.Time
	applied      map[actuator.Group]int
	xfer         switchover
}

// NewLayer creates a layer. red may be nil when the unit has no
// redundant group. Every group starts armed so the first cycle after
// boot writes 0.
func NewLayer(cfg Config, regs *status.Registers, out Output, red *Redundancy) *Layer {
	if cfg.ManualDefault == 0 {
		cfg.ManualDefault = DefaultManualDuty
	}
	cfg.Switchover = cfg.Switchover.withDefaults()
	l := &Layer{
		cfg:          cfg,
		regs:         regs,
		out:          out,
		red:          red,
		now:          time.Now,
		manual:       make(map[actuator.Group]bool),
		manualDuty:   make(map[actuator.Group]int),
		deviceManual: make(map[actuator.Device]int),
		armed:        make(map[actuator.Group]bool),
		enabledAt:    make(map[actuator.Group]time.Time),
		applied:      make(map[actuator.Group]int),
		xfer:         switchover{cfg: cfg.Switchover},
	}
	for _, g := range actuator.Groups() {
		l.manualDuty[g] = cfg.ManualDefault
		l.armed[g] = true
	}
	return l
}

// RequestDuty applies the first matching override to duty and writes
// the result. It returns the duty written for the group.
func (l *Layer) RequestDuty(g actuator.Group, duty int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped(g) {
		err := l.write(g, 0, nil)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrPumpStopped, err)
		}
		return 0, ErrPumpStopped
	}

	if l.manual[g] {
		d := l.manualDuty[g]
		return d, l.write(g, d, l.deviceManual)
	}

	if !l.regs.Bit(status.RegAutoTune, status.AutoTuneEnable) {
		l.armed[g] = true
		return 0, l.write(g, 0, nil)
	}

	if l.armed[g] {
		l.armed[g] = false
		l.enabledAt[g] = l.now()
		return 0, l.write(g, 0, nil)
	}

	if l.now().Sub(l.enabledAt[g]) >= l.cfg.GracePeriod {
		failure := l.regs.Value(status.RegFailure)
		for _, r := range l.cfg.Rules {
			if failure&(1<<r.Bit) == 0 || !r.applies(g) {
				continue
			}
			forced := 0
			if r.Action == ActionMax {
				forced = actuator.MaxDuty
			}
			return forced, l.write(g, forced, nil)
		}
	}

	return duty, l.write(g, duty, nil)
}

// Direct writes duty to g without evaluating overrides, as fault
// handlers and warm-up do. The redundancy rest still applies.
func (l *Layer) Direct(g actuator.Group, duty int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(g, duty, nil)
}

// Applied returns the last group duty written for g.
func (l *Layer) Applied(g actuator.Group) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applied[g]
}

// Stopped reports whether a stop condition currently holds for g.
func (l *Layer) Stopped(g actuator.Group) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped(g)
}

func (l *Layer) stopped(g actuator.Group) bool {
	if l.regs.Value(status.RegFailure)&l.cfg.StopMask == 0 {
		return false
	}
	for _, sg := range l.cfg.StopGroups {
		if sg == g {
			return true
		}
	}
	return false
}

// Rearm re-arms every group so the next enabled cycle writes 0, and
// abandons any switchover in progress.
func (l *Layer) Rearm() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, g := range actuator.Groups() {
		l.armed[g] = true
	}
	l.xfer.reset()
}

// ResetSwitchover abandons any switchover in progress. Call it when
// redundancy is disabled.
func (l *Layer) ResetSwitchover() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.xfer.reset()
}

// Switchover returns the current switchover stage.
func (l *Layer) Switchover() Stage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.xfer.stage
}

// SetManual switches manual override for g on or off.
func (l *Layer) SetManual(g actuator.Group, on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.manual[g] = on
}

// SetManualDuty stores the manual duty for g and turns its override on.
func (l *Layer) SetManualDuty(g actuator.Group, duty int) error {
	if duty < 0 || duty > actuator.MaxDuty {
		return fmt.Errorf("%w: %d", actuator.ErrDutyRange, duty)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.manualDuty[g] = duty
	l.manual[g] = true
	return nil
}

// SetDeviceDuty stores a manual duty for one device. It applies while
// the device's group is in manual override.
func (l *Layer) SetDeviceDuty(d actuator.Device, duty int) error {
	if duty < 0 || duty > actuator.MaxDuty {
		return fmt.Errorf("%w: %d", actuator.ErrDutyRange, duty)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deviceManual[d] = duty
	return nil
}

// ClearDeviceDuty removes a per-device manual duty.
func (l *Layer) ClearDeviceDuty(d actuator.Device) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.deviceManual, d)
}

// Manual returns whether g is in manual override and its manual duty.
func (l *Layer) Manual(g actuator.Group) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.manual[g], l.manualDuty[g]
}

// ResetManual turns every override off and restores the default caches.
func (l *Layer) ResetManual() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, g := range actuator.Groups() {
		l.manual[g] = false
		l.manualDuty[g] = l.cfg.ManualDefault
	}
	l.deviceManual = make(map[actuator.Device]int)
}

// SemiAuto reports whether exactly one group of the pair is manual.
func (l *Layer) SemiAuto() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.semiAuto()
}

func (l *Layer) semiAuto() bool {
	a, b := l.cfg.SemiAutoPair[0], l.cfg.SemiAutoPair[1]
	if a == actuator.GroupNone || b == actuator.GroupNone {
		return false
	}
	return l.manual[a] != l.manual[b]
}

// rested returns the device taken offline in g, if redundancy applies.
func (l *Layer) rested(g actuator.Group) (actuator.Device, bool) {
	if l.red == nil || g != l.cfg.Redundant || !l.semiAuto() {
		return 0, false
	}
	idx, ok := l.red.Rested()
	if !ok {
		return 0, false
	}
	members := l.out.Members(g)
	if idx >= len(members) {
		return 0, false
	}
	return members[idx], true
}

// write sends duty to every member of g. Per-device overrides and the
// rested member are written individually; otherwise the group is set
// in one call. A change of rested member runs the switchover first.
func (l *Layer) write(g actuator.Group, duty int, overrides map[actuator.Device]int) error {
	l.applied[g] = duty
	rest, resting := l.rested(g)
	members := l.out.Members(g)

	if l.red != nil && g == l.cfg.Redundant {
		if l.stopped(g) {
			l.xfer.reset()
		} else if st, incoming := l.xfer.step(rest, resting); st != StageIdle {
			return l.writeSwitchover(g, members, st, incoming)
		}
	}

	perDevice := resting
	if !perDevice {
		for _, d := range members {
			if _, ok := overrides[d]; ok {
				perDevice = true
				break
			}
		}
	}
	if !perDevice {
		return l.out.SetGroupDuty(g, duty)
	}

	var firstErr error
	for _, d := range members {
		v := duty
		if o, ok := overrides[d]; ok {
			v = o
		}
		if resting && d == rest {
			v = 0
		}
		if err := l.out.SetDeviceDuty(d, v); err != nil {
			log.Printf("safety: %s device %d duty %d: %v", g, d, v, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (l *Layer) writeSwitchover(g actuator.Group, members []actuator.Device, st Stage, rest actuator.Device) error {
	var firstErr error
	for _, d := range members {
		v := st.duty(d, rest)
		if err := l.out.SetDeviceDuty(d, v); err != nil {
			log.Printf("safety: %s switchover %s device %d duty %d: %v", g, st, d, v, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
