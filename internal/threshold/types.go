// Package threshold classifies sensor readings against configured limits
// and reports debounced status transitions to a dispatcher.
// Time is injectable; nothing here sleeps.
package threshold

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sweeney/cdu-controller/internal/sensor"
	"github.com/sweeney/cdu-controller/internal/status"
)

// Mode selects which limits an entry checks.
type Mode uint8

const (
	ModeDisabled Mode = iota
	ModeLCR
	ModeUCR
	ModeBoth
)

var modeNames = map[Mode]string{
	ModeDisabled: "disabled",
	ModeLCR:      "lcr",
	ModeUCR:      "ucr",
	ModeBoth:     "both",
}

func (m Mode) String() string {
	if n, ok := modeNames[m]; ok {
		return n
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// ParseMode converts "disabled", "lcr", "ucr" or "both" into a Mode.
func ParseMode(s string) (Mode, error) {
	for m, n := range modeNames {
		if strings.EqualFold(s, n) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("threshold: unknown mode %q", s)
}

// Status is the classification of a reading.
type Status uint32

const (
	StatusNormal Status = iota
	StatusLCR
	StatusUCR
	StatusNotPresent
)

func (s Status) String() string {
	switch s {
	case StatusLCR:
		return "LCR"
	case StatusUCR:
		return "UCR"
	case StatusNotPresent:
		return "NOT_PRESENT"
	default:
		return "NORMAL"
	}
}

// Abnormal reports whether the status is a limit violation.
func (s Status) Abnormal() bool {
	return s == StatusLCR || s == StatusUCR
}

// Category selects the fault handler run on a transition.
type Category uint8

const (
	CategoryNone Category = iota
	CategoryStatusBit
	CategoryPumpFailure
	CategoryRPUFanFailure
	CategoryHexFanFailure
	CategoryLeak
	CategoryPressure
	CategoryLowLevel
	CategoryHighLevel
	CategoryAirTemp
	CategoryCoolantTemp
	CategoryFlow
	CategoryHexAirInlet
)

var categoryNames = map[Category]string{
	CategoryNone:          "none",
	CategoryStatusBit:     "status_bit",
	CategoryPumpFailure:   "pump_failure",
	CategoryRPUFanFailure: "rpu_fan_failure",
	CategoryHexFanFailure: "hex_fan_failure",
	CategoryLeak:          "leak",
	CategoryPressure:      "pressure",
	CategoryLowLevel:      "low_level",
	CategoryHighLevel:     "high_level",
	CategoryAirTemp:       "air_temp",
	CategoryCoolantTemp:   "coolant_temp",
	CategoryFlow:          "flow",
	CategoryHexAirInlet:   "hex_air_inlet",
}

func (c Category) String() string {
	if n, ok := categoryNames[c]; ok {
		return n
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// ParseCategory converts a category name into a Category. The empty
// string is CategoryNone.
func ParseCategory(s string) (Category, error) {
	if s == "" {
		return CategoryNone, nil
	}
	for c, n := range categoryNames {
		if strings.EqualFold(s, n) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("threshold: unknown category %q", s)
}

// Arg is the handler argument carried by an entry. Register and Bit name
// the status bit the handler owns; Member is the index of the device
// within its group, when the category concerns one device.
type Arg struct {
	Register status.Register
	Bit      uint8
	Member   int
}

// Entry is one monitored sensor. Only Poll writes the last status.
type Entry struct {
	Sensor       sensor.ID
	Name         string
	Mode         Mode
	Lower        float64
	Upper        float64
	DetectAbsent bool
	Category     Category
	Arg          Arg

	last atomic.Uint32
}

// LastStatus returns the last classified status.
func (e *Entry) LastStatus() Status {
	return Status(e.last.Load())
}

// Reset returns the entry to NORMAL.
func (e *Entry) Reset() {
	e.last.Store(uint32(StatusNormal))
}

// Classify returns the status of v under the entry's mode. It returns
// false for a disabled or unknown mode.
func (e *Entry) Classify(v float64) (Status, bool) {
	if e.Mode == ModeDisabled || e.Mode > ModeBoth {
		return StatusNormal, false
	}
	if e.DetectAbsent && v == 0 {
		return StatusNotPresent, true
	}
	switch e.Mode {
	case ModeLCR:
		if v < e.Lower {
			return StatusLCR, true
		}
	case ModeUCR:
		if v > e.Upper {
			return StatusUCR, true
		}
	case ModeBoth:
		if v < e.Lower {
			return StatusLCR, true
		}
		if v > e.Upper {
			return StatusUCR, true
		}
	}
	return StatusNormal, true
}

// Event is a debounced status transition.
type Event struct {
	Time     time.Time
	Sensor   sensor.ID
	Name     string
	Category Category
	Arg      Arg
	Previous Status
	Status   Status
	Value    float64
}

// Dispatcher receives transitions. It runs synchronously inside Poll.
type Dispatcher interface {
	Dispatch(Event)
}

// Settler is implemented by dispatchers that need a hook after every
// completed pass.
type Settler interface {
	Settle()
}

// Counts tracks the number of transitions into each status since start.
type Counts struct {
	Normal     int
	LCR        int
	UCR        int
	NotPresent int
}

func (c *Counts) add(s Status) {
	switch s {
	case StatusLCR:
		c.LCR++
	case StatusUCR:
		c.UCR++
	case StatusNotPresent:
		c.NotPresent++
	default:
		c.Normal++
	}
}
