package zone

import (
	"math"

	"github.com/sweeney/cdu-controller/internal/sensor"
)

// PID is one PID control entry.
type PID struct {
	Sensor   sensor.ID
	Setpoint float64
	Kp       float64
	Ki       float64
	Kd       float64
	IMin     float64
	IMax     float64
	Hyst     Hysteresis

	// Truncate drops the fractional part of the filtered value before use.
	Truncate bool

	// Feature, when set, is the SETPOINT_ENABLE bit that must be on for
	// the entry to run.
	Feature *uint8

	integral float64
	prevErr  Sample
	filtered Sample
	gated    bool
}

// Integral returns the current integral accumulator.
func (p *PID) Integral() float64 { return p.integral }

// Filtered returns the entry's current filtered value.
func (p *PID) Filtered() Sample { return p.filtered }

// SetGated marks the entry as skipped until cleared. Skipped entries
// contribute nothing and keep their state.
func (p *PID) SetGated(g bool) { p.gated = g }

// Gated reports whether the entry is skipped.
func (p *PID) Gated() bool { return p.gated }

// Reset returns the entry's control state to uninitialized.
func (p *PID) Reset() {
	p.integral = 0
	p.prevErr = Sample{}
	p.filtered = Sample{}
}

// Step runs one PID update on value and returns the truncated duty.
func (p *PID) Step(value float64) int {
	err := p.Setpoint - value

	p.integral += p.Ki * err
	p.integral = clamp(p.integral, p.IMin, p.IMax)

	d := 0.0
	if prev, ok := p.prevErr.Get(); ok {
		d = p.Kd * (err - prev)
	}
	p.prevErr = Value(err)

	return int(math.Trunc(p.Kp*err + p.integral + d))
}

func (p *PID) update(src sensor.Source) int {
	p.filtered = p.Hyst.apply(p.filtered, read(src, p.Sensor))
	v, _ := p.filtered.Get()
	if p.Truncate {
		v = math.Trunc(v)
	}
	return p.Step(v)
}

// ComputePID evaluates every active entry and returns the largest duty,
// or 0 when no entry is active.
func ComputePID(src sensor.Source, entries []*PID) int {
	duty, found := 0, false
	for _, e := range entries {
		if e.gated {
			continue
		}
		d := e.update(src)
		if !found || d > duty {
			duty, found = d, true
		}
	}
	return duty
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
