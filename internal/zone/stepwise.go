package zone

import (
	"github.com/sweeney/cdu-controller/internal/sensor"
)

// Step is one breakpoint of a stepwise table.
type Step struct {
	Temp float64
	Duty int
}

// Stepwise maps a filtered sensor reading to a duty through a table.
type Stepwise struct {
	Sensor sensor.ID
	Steps  []Step
	Hyst   Hysteresis

	// Ambient entries add their duty on top of the other entries.
	Ambient bool

	filtered Sample
}

// Filtered returns the entry's current filtered value.
func (s *Stepwise) Filtered() Sample { return s.filtered }

// Reset returns the entry to its uninitialized state.
func (s *Stepwise) Reset() { s.filtered = Sample{} }

// Lookup returns the duty for v. The first breakpoint at or above v
// wins; past the end of the table the last defined breakpoint applies.
// The table ends at the first zero breakpoint.
func (s *Stepwise) Lookup(v float64) int {
	duty := 0
	for _, st := range s.Steps {
		if st.Temp == 0 {
			break
		}
		duty = st.Duty
		if st.Temp >= v {
			return duty
		}
	}
	return duty
}

func (s *Stepwise) update(src sensor.Source) int {
	s.filtered = s.Hyst.apply(s.filtered, read(src, s.Sensor))
	v, _ := s.filtered.Get()
	return s.Lookup(v)
}

// ComputeStepwise evaluates every entry and combines them: the ambient
// duty is added to the maximum of the rest. The result is not clamped.
func ComputeStepwise(src sensor.Source, entries []*Stepwise) int {
	top, ambient := 0, 0
	for _, e := range entries {
		d := e.update(src)
		if e.Ambient {
			ambient += d
			continue
		}
		if d > top {
			top = d
		}
	}
	return top + ambient
}
