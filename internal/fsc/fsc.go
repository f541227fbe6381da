// Package fsc runs the fan speed control loop: on every tick each due
// zone computes its duty, limits its rate of change, clamps it and
// hands it to the driver.
package fsc

import (
	"fmt"
	"log"
	"sync/atomic"

	"github.com/sweeney/cdu-controller/internal/actuator"
	"github.com/sweeney/cdu-controller/internal/sensor"
	"github.com/sweeney/cdu-controller/internal/zone"
)

// Driver applies a computed duty to an actuator group and returns the
// duty actually written.
type Driver interface {
	RequestDuty(g actuator.Group, duty int) (int, error)
}

// ZoneState is the control state of a zone.
type ZoneState int

const (
	Disabled ZoneState = iota
	Uninitialized
	Running
)

func (s ZoneState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Running:
		return "running"
	default:
		return "disabled"
	}
}

// Zone is one independently controlled output.
type Zone struct {
	ID       uint8
	Target   actuator.Group
	Stepwise []*zone.Stepwise
	PID      []*zone.PID

	// Interval is the number of scheduler ticks between recomputations.
	Interval int
	OutMin   int
	OutMax   int
	SlewPos  int
	SlewNeg  int

	lastDuty int
	running  bool
	counter  int
}

// LastDuty returns the last duty computed for the zone.
func (z *Zone) LastDuty() int { return z.lastDuty }

func (z *Zone) reset() {
	z.lastDuty = 0
	z.running = false
	z.counter = 0
	for _, s := range z.Stepwise {
		s.Reset()
	}
	for _, p := range z.PID {
		p.Reset()
	}
}

func (z *Zone) String() string {
	return fmt.Sprintf("%d(%s)", z.ID, z.Target)
}

// Result reports the outcome of one zone recomputation.
type Result struct {
	Zone    uint8
	Target  actuator.Group
	Duty    int
	Applied int
	Err     error
}

// Scheduler owns the zone list. Tick must be called from a single
// goroutine; SetEnabled may be called from any goroutine.
type Scheduler struct {
	zones    []*Zone
	src      sensor.Source
	driver   Driver
	features func(bit uint8) bool

	enabled      atomic.Bool
	resetPending atomic.Bool
}

// New creates a scheduler. features reports whether a SETPOINT_ENABLE
// bit is set and may be nil when no PID entry is feature gated. The
// scheduler starts disabled.
func New(zones []*Zone, src sensor.Source, driver Driver, features func(bit uint8) bool) *Scheduler {
	return &Scheduler{
		zones:    zones,
		src:      src,
		driver:   driver,
		features: features,
	}
}

// SetEnabled turns the control loop on or off. Turning it on from off
// schedules a full reset of every zone before the next computation.
func (s *Scheduler) SetEnabled(on bool) {
	was := s.enabled.Swap(on)
	if on && !was {
		s.resetPending.Store(true)
	}
}

// Enabled reports whether the loop is enabled.
func (s *Scheduler) Enabled() bool { return s.enabled.Load() }

// Zones returns the scheduler's zones.
func (s *Scheduler) Zones() []*Zone { return s.zones }

// ZoneState returns the state of z.
func (s *Scheduler) ZoneState(z *Zone) ZoneState {
	if !s.enabled.Load() {
		return Disabled
	}
	if s.resetPending.Load() || !z.running {
		return Uninitialized
	}
	return Running
}

// Tick advances every zone's poll counter and recomputes the zones that
// are due. It returns one Result per recomputed zone.
func (s *Scheduler) Tick() []Result {
	if !s.enabled.Load() {
		return nil
	}
	if s.resetPending.Swap(false) {
		for _, z := range s.zones {
			z.reset()
		}
	}

	var results []Result
	for _, z := range s.zones {
		z.counter++
		if z.counter < z.Interval {
			continue
		}
		z.counter = 0
		results = append(results, s.run(z))
	}
	return results
}

func (s *Scheduler) run(z *Zone) Result {
	s.gate(z)

	duty := zone.ComputeStepwise(s.src, z.Stepwise) + zone.ComputePID(s.src, z.PID)
	if z.running {
		duty = limit(duty, z.lastDuty-z.SlewNeg, z.lastDuty+z.SlewPos)
	}
	duty = limit(duty, z.OutMin, z.OutMax)

	z.lastDuty = duty
	z.running = true

	res := Result{Zone: z.ID, Target: z.Target, Duty: duty}
	if z.Target == actuator.GroupNone {
		res.Err = fmt.Errorf("zone %s: no actuator bound", z)
		log.Printf("fsc: zone %d has no actuator bound (duty %d)", z.ID, duty)
		return res
	}
	res.Applied, res.Err = s.driver.RequestDuty(z.Target, duty)
	if res.Err != nil {
		log.Printf("fsc: zone %s: set duty %d: %v", z, duty, res.Err)
	}
	return res
}

func (s *Scheduler) gate(z *Zone) {
	for _, p := range z.PID {
		if p.Feature == nil {
			p.SetGated(false)
			continue
		}
		p.SetGated(s.features == nil || !s.features(*p.Feature))
	}
}

func limit(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
