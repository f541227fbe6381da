// Package fault reacts to threshold transitions. Each category updates
// the status registers, the panel LEDs and the unit-ready lines, and may
// stop or restore the pumps directly.
package fault

import (
	"log"
	"sync"

	"github.com/sweeney/cdu-controller/internal/actuator"
	"github.com/sweeney/cdu-controller/internal/errlog"
	"github.com/sweeney/cdu-controller/internal/gpio"
	"github.com/sweeney/cdu-controller/internal/led"
	"github.com/sweeney/cdu-controller/internal/status"
	"github.com/sweeney/cdu-controller/internal/threshold"
)

// RestoreDuty is written to the pumps when a pump-stopping fault clears.
const RestoreDuty = 60

// pumpStopFaults are the LED_FAULT bits whose presence keeps the pumps off.
var pumpStopFaults = []uint8{
	status.LEDFaultRPUFan,
	status.LEDFaultHighPressure,
	status.LEDFaultLowLevel,
	status.LEDFaultFlow,
	status.LEDFaultLeak,
}

// Pumps is the direct actuator path used by handlers. safety.Layer
// implements it.
type Pumps interface {
	Direct(g actuator.Group, duty int) error
	Stopped(g actuator.Group) bool
}

// Isolator rests a failing member of the redundant group.
// safety.Redundancy implements it.
type Isolator interface {
	Isolate(member int)
}

// Deps are the collaborators handlers act on. Sticky, Log, Panel, Ready,
// Pumps and Redundancy may be nil.
type Deps struct {
	Regs       *status.Registers
	Sticky     *status.Sticky
	Log        *errlog.Log
	Context    func() errlog.Context
	Panel      *led.Panel
	Ready      gpio.Writer
	ReadyLines []int
	Pumps      Pumps
	Redundancy Isolator
}

// Handlers dispatches transitions by category. It implements
// threshold.Dispatcher and threshold.Settler.
type Handlers struct {
	d Deps

	mu sync.Mutex
	// active holds, per category, the Arg bits currently abnormal.
	active map[threshold.Category]uint32
	ready  *bool
}

// New creates the handlers.
func New(d Deps) *Handlers {
	return &Handlers{d: d, active: make(map[threshold.Category]uint32)}
}

// Dispatch implements threshold.Dispatcher.
func (h *Handlers) Dispatch(e threshold.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if e.Status == threshold.StatusNotPresent {
		log.Printf("fault: %s (%s) not present", e.Name, e.Sensor)
		return
	}
	h.record(e)

	switch e.Category {
	case threshold.CategoryNone:
	case threshold.CategoryStatusBit:
		h.setArg(e, e.Status.Abnormal())
	case threshold.CategoryPumpFailure:
		h.pumpFailure(e)
	case threshold.CategoryRPUFanFailure:
		h.rpuFanFailure(e)
	case threshold.CategoryHexFanFailure:
		h.hexFanFailure(e)
	case threshold.CategoryLeak:
		h.leak(e)
	case threshold.CategoryPressure:
		h.pressure(e)
	case threshold.CategoryLowLevel:
		h.lowLevel(e)
	case threshold.CategoryHighLevel:
		h.highLevel(e)
	case threshold.CategoryAirTemp:
		h.airTemp(e)
	case threshold.CategoryCoolantTemp:
		h.coolantTemp(e)
	case threshold.CategoryFlow:
		h.flow(e)
	case threshold.CategoryHexAirInlet:
		h.hexAirInlet(e)
	default:
		log.Printf("fault: %s: unknown category %s", e.Name, e.Category)
	}
}

// Settle restores the unit-ready lines once no LED fault bit remains.
func (h *Handlers) Settle() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.d.Regs.Value(status.RegLEDFault) == 0 {
		h.setReady(true)
	}
}

// Active returns the Arg bits currently abnormal for a category.
func (h *Handlers) Active(c threshold.Category) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active[c]
}

func (h *Handlers) record(e threshold.Event) {
	if h.d.Log == nil || e.Previous == threshold.StatusNotPresent {
		return
	}
	var ctx errlog.Context
	if h.d.Context != nil {
		ctx = h.d.Context()
	}
	if _, err := h.d.Log.RecordSensor(e.Sensor, e.Status == threshold.StatusNormal, ctx); err != nil {
		log.Printf("fault: error log %s: %v", e.Name, err)
	}
}

// track updates the category's active mask and returns it.
func (h *Handlers) track(e threshold.Event, abnormal bool) uint32 {
	m := h.active[e.Category]
	if abnormal {
		m |= 1 << e.Arg.Bit
	} else {
		m &^= 1 << e.Arg.Bit
	}
	h.active[e.Category] = m
	return m
}

func (h *Handlers) setBit(reg status.Register, bit uint8, on bool) {
	var v uint32
	if on {
		v = 1
	}
	if err := h.d.Regs.Set(reg, bit, v); err != nil {
		log.Printf("fault: set %s bit %d: %v", reg, bit, err)
	}
}

func (h *Handlers) setArg(e threshold.Event, on bool) {
	h.setBit(e.Arg.Register, e.Arg.Bit, on)
}

// raise sets the LED_FAULT bit and lights the fault LED.
func (h *Handlers) raise(ledBit uint8) {
	h.setBit(status.RegLEDFault, ledBit, true)
	h.led(led.Fault, true)
}

// clear drops the LED_FAULT bit and darkens the fault LED when no other
// fault holds it.
func (h *Handlers) clear(ledBit uint8) {
	h.setBit(status.RegLEDFault, ledBit, false)
	if h.d.Regs.Value(status.RegLEDFault) == 0 {
		h.led(led.Fault, false)
	}
}

func (h *Handlers) led(id led.ID, on bool) {
	if h.d.Panel == nil {
		return
	}
	var err error
	if on {
		err = h.d.Panel.On(id)
	} else {
		err = h.d.Panel.Off(id)
	}
	if err != nil {
		log.Printf("fault: %v", err)
	}
}

func (h *Handlers) setReady(on bool) {
	if h.ready != nil && *h.ready == on {
		return
	}
	if h.d.Ready != nil {
		for _, line := range h.d.ReadyLines {
			if err := h.d.Ready.Set(line, on); err != nil {
				log.Printf("fault: ready line %d: %v", line, err)
			}
		}
	}
	if !on {
		log.Printf("fault: unit-ready lines deasserted")
	}
	h.ready = &on
}

func (h *Handlers) stopPumps() {
	if h.d.Pumps == nil {
		return
	}
	if err := h.d.Pumps.Direct(actuator.GroupPump, 0); err != nil {
		log.Printf("fault: stop pumps: %v", err)
	}
}

// restorePumps writes RestoreDuty unless a stop condition or another
// pump-stopping fault still holds.
func (h *Handlers) restorePumps() {
	if h.d.Pumps == nil {
		return
	}
	if h.d.Pumps.Stopped(actuator.GroupPump) {
		log.Printf("fault: pumps held off by failure condition")
		return
	}
	for _, bit := range pumpStopFaults {
		if h.d.Regs.Bit(status.RegLEDFault, bit) {
			return
		}
	}
	if err := h.d.Pumps.Direct(actuator.GroupPump, RestoreDuty); err != nil {
		log.Printf("fault: restore pumps: %v", err)
	}
}
