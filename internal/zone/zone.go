// Package zone computes a zone's duty from its sensor readings by
// stepwise table lookup and PID control. It holds no goroutines; the
// caller owns every entry and calls it from a single task.
package zone

import (
	"github.com/sweeney/cdu-controller/internal/sensor"
)

// FallbackValue substitutes a failed sensor read. It sits above every
// breakpoint so a lost sensor drives the zone toward maximum cooling.
const FallbackValue = 255

// Sample is a filtered value that may not have been set yet. The zero
// value is uninitialized.
type Sample struct {
	value float64
	valid bool
}

// Value returns an initialized Sample holding v.
func Value(v float64) Sample { return Sample{value: v, valid: true} }

// Get returns the held value and whether the sample is initialized.
func (s Sample) Get() (float64, bool) { return s.value, s.valid }

// Valid reports whether the sample holds a value.
func (s Sample) Valid() bool { return s.valid }

// Hysteresis is the minimum change needed before a filtered value
// follows the raw reading.
type Hysteresis struct {
	Pos float64
	Neg float64
}

// apply returns the next filtered sample for raw.
func (h Hysteresis) apply(filtered Sample, raw float64) Sample {
	last, ok := filtered.Get()
	switch {
	case !ok:
		return Value(raw)
	case raw-last > h.Pos:
		return Value(raw)
	case last-raw > h.Neg:
		return Value(raw)
	}
	return filtered
}

// read returns the current value of id, or FallbackValue when the read
// did not succeed.
func read(src sensor.Source, id sensor.ID) float64 {
	v, st := src.Read(id)
	if st != sensor.StatusOK {
		return FallbackValue
	}
	return v
}
