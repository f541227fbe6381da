package fault

import (
	"log"
	"math/bits"

	"github.com/sweeney/cdu-controller/internal/led"
	"github.com/sweeney/cdu-controller/internal/status"
	"github.com/sweeney/cdu-controller/internal/threshold"
)

// pumpFailure: Arg.Register/Bit is the pump's status bit, Arg.Member its
// index in the redundant group.
func (h *Handlers) pumpFailure(e threshold.Event) {
	switch e.Status {
	case threshold.StatusLCR:
		h.setReady(false)
		h.raise(status.LEDFaultPump)
		h.setArg(e, true)
		failed := h.track(e, true)
		h.setBit(status.RegStatusAlarm, status.AlarmPumpAbnormal, true)
		if bits.OnesCount32(failed) >= 2 {
			log.Printf("fault: %d pumps failed", bits.OnesCount32(failed))
			h.setBit(status.RegFailure, status.FailTwoPump, true)
		}
		if h.d.Redundancy != nil {
			h.d.Redundancy.Isolate(e.Arg.Member)
		}
	case threshold.StatusNormal:
		h.setArg(e, false)
		failed := h.track(e, false)
		if bits.OnesCount32(failed) < 2 {
			h.setBit(status.RegFailure, status.FailTwoPump, false)
		}
		if failed == 0 {
			h.setBit(status.RegStatusAlarm, status.AlarmPumpAbnormal, false)
			h.clear(status.LEDFaultPump)
		}
	default:
		unexpected(e)
	}
}

// rpuFanFailure holds the pumps off through the FAILURE stop bit while
// any unit fan is below limit.
func (h *Handlers) rpuFanFailure(e threshold.Event) {
	switch e.Status {
	case threshold.StatusLCR:
		h.setReady(false)
		h.setBit(status.RegFailure, status.FailRPUFan, true)
		h.stopPumps()
		h.raise(status.LEDFaultRPUFan)
		h.setArg(e, true)
		h.track(e, true)
	case threshold.StatusNormal:
		h.setArg(e, false)
		if h.track(e, false) == 0 {
			h.setBit(status.RegFailure, status.FailRPUFan, false)
			h.clear(status.LEDFaultRPUFan)
			h.restorePumps()
		}
	default:
		unexpected(e)
	}
}

// hexFanFailure: Arg.Register is HEX_FAN_ALARM_1 or HEX_FAN_ALARM_2.
func (h *Handlers) hexFanFailure(e threshold.Event) {
	switch e.Status {
	case threshold.StatusLCR:
		h.raise(status.LEDFaultHexFan)
		h.setArg(e, true)
		h.setBit(status.RegFailure, status.FailHexFan, true)
	case threshold.StatusNormal:
		h.setArg(e, false)
		if h.d.Regs.Value(status.RegHexFanAlarm1) == 0 && h.d.Regs.Value(status.RegHexFanAlarm2) == 0 {
			h.clear(status.LEDFaultHexFan)
			h.setBit(status.RegFailure, status.FailHexFan, false)
		}
	default:
		unexpected(e)
	}
}

// leak latches: a dry reading after a leak changes nothing until the
// operator clears the LEAK register and the sticky flag. Arg.Bit is the
// LEAK register bit and the sticky index.
func (h *Handlers) leak(e threshold.Event) {
	switch e.Status {
	case threshold.StatusLCR, threshold.StatusUCR:
		log.Printf("fault: leak detected by %s", e.Name)
		h.setReady(false)
		h.stopPumps()
		h.setBit(status.RegLeak, e.Arg.Bit, true)
		h.setBit(status.RegFailure, status.FailLeak, true)
		h.raise(status.LEDFaultLeak)
		h.led(led.Leak, true)
		if h.d.Sticky != nil && int(e.Arg.Bit) < status.StickyMax {
			if err := h.d.Sticky.SetBool(int(e.Arg.Bit), true); err != nil {
				log.Printf("fault: sticky leak %d: %v", e.Arg.Bit, err)
			}
		}
	case threshold.StatusNormal:
		log.Printf("fault: %s dry, leak stays latched", e.Name)
	default:
		unexpected(e)
	}
}

// pressure: UCR stops the pumps, LCR only raises the alarm bits.
func (h *Handlers) pressure(e threshold.Event) {
	switch e.Status {
	case threshold.StatusUCR:
		h.stopPumps()
		h.setReady(false)
		h.raise(status.LEDFaultHighPressure)
		h.setBit(status.RegFailure, status.FailHighPressure, true)
		h.setArg(e, true)
		h.setBit(status.RegStatusAlarm, status.AlarmPressure, true)
		h.track(e, true)
	case threshold.StatusLCR:
		h.setArg(e, true)
		h.setBit(status.RegStatusAlarm, status.AlarmPressure, true)
		h.track(e, true)
	case threshold.StatusNormal:
		h.setArg(e, false)
		if h.track(e, false) == 0 {
			h.setBit(status.RegStatusAlarm, status.AlarmPressure, false)
		}
		if h.d.Regs.Bit(status.RegFailure, status.FailHighPressure) {
			h.setBit(status.RegFailure, status.FailHighPressure, false)
			h.clear(status.LEDFaultHighPressure)
			h.restorePumps()
		}
	default:
		unexpected(e)
	}
}

// lowLevel handles the lower reservoir switch.
func (h *Handlers) lowLevel(e threshold.Event) {
	switch e.Status {
	case threshold.StatusLCR:
		h.stopPumps()
		h.setReady(false)
		h.raise(status.LEDFaultLowLevel)
		h.setBit(status.RegFailure, status.FailLowLevel, true)
		if h.d.Panel != nil {
			h.d.Panel.StopBlink(led.Coolant)
		}
		h.led(led.Coolant, false)
		h.setBit(status.RegSensorAlarm, status.SensorAlarmLevel, true)
		h.setBit(status.RegReservoir, status.ReservoirLevel2, false)
		h.setBit(status.RegStatusAlarm, status.AlarmReservoirAbnormal, true)
	case threshold.StatusNormal:
		h.clear(status.LEDFaultLowLevel)
		h.setBit(status.RegFailure, status.FailLowLevel, false)
		h.blink(led.Coolant)
		h.restorePumps()
		h.setBit(status.RegSensorAlarm, status.SensorAlarmLevel, false)
		h.setBit(status.RegReservoir, status.ReservoirLevel2, true)
		h.setBit(status.RegStatusAlarm, status.AlarmReservoirAbnormal, false)
	default:
		unexpected(e)
	}
}

// highLevel handles the upper reservoir switch: below it the coolant LED
// blinks to ask for a refill.
func (h *Handlers) highLevel(e threshold.Event) {
	switch e.Status {
	case threshold.StatusLCR:
		h.blink(led.Coolant)
		h.setBit(status.RegReservoir, status.ReservoirLevel1, false)
	case threshold.StatusNormal:
		if h.d.Panel != nil {
			h.d.Panel.StopBlink(led.Coolant)
		}
		h.led(led.Coolant, true)
		h.setBit(status.RegReservoir, status.ReservoirLevel1, true)
	default:
		unexpected(e)
	}
}

func (h *Handlers) airTemp(e threshold.Event) {
	switch e.Status {
	case threshold.StatusUCR:
		h.raise(status.LEDFaultHighAirTemp)
		h.setArg(e, true)
		h.track(e, true)
		h.setBit(status.RegFailure, status.FailHighAirTemp, true)
	case threshold.StatusNormal:
		h.setArg(e, false)
		if h.track(e, false) == 0 {
			h.clear(status.LEDFaultHighAirTemp)
			h.setBit(status.RegFailure, status.FailHighAirTemp, false)
		}
	default:
		unexpected(e)
	}
}

func (h *Handlers) coolantTemp(e threshold.Event) {
	switch e.Status {
	case threshold.StatusUCR:
		h.setReady(false)
		h.raise(status.LEDFaultHighCoolantTemp)
		h.setArg(e, true)
		h.track(e, true)
		h.setBit(status.RegStatusAlarm, status.AlarmCoolantTemp, true)
		h.setBit(status.RegFailure, status.FailHighCoolantTemp, true)
	case threshold.StatusNormal:
		h.setArg(e, false)
		if h.track(e, false) == 0 {
			h.clear(status.LEDFaultHighCoolantTemp)
			h.setBit(status.RegStatusAlarm, status.AlarmCoolantTemp, false)
			h.setBit(status.RegFailure, status.FailHighCoolantTemp, false)
		}
	default:
		unexpected(e)
	}
}

func (h *Handlers) flow(e threshold.Event) {
	switch e.Status {
	case threshold.StatusLCR:
		h.setReady(false)
		h.raise(status.LEDFaultFlow)
		h.setArg(e, true)
		h.setBit(status.RegStatusAlarm, status.AlarmFlow, true)
		h.setBit(status.RegFailure, status.FailLowFlow, true)
	case threshold.StatusNormal:
		h.setArg(e, false)
		h.clear(status.LEDFaultFlow)
		h.setBit(status.RegStatusAlarm, status.AlarmFlow, false)
		h.setBit(status.RegFailure, status.FailLowFlow, false)
	default:
		unexpected(e)
	}
}

func (h *Handlers) hexAirInlet(e threshold.Event) {
	switch e.Status {
	case threshold.StatusUCR:
		h.setArg(e, true)
		h.track(e, true)
		h.setBit(status.RegStatusAlarm, status.AlarmHexAirInletTemp, true)
	case threshold.StatusNormal:
		h.setArg(e, false)
		if h.track(e, false) == 0 {
			h.setBit(status.RegStatusAlarm, status.AlarmHexAirInletTemp, false)
		}
	default:
		unexpected(e)
	}
}

func (h *Handlers) blink(id led.ID) {
	if h.d.Panel == nil || h.d.Panel.State(id) == led.Blinking {
		return
	}
	if err := h.d.Panel.Blink(id); err != nil {
		log.Printf("fault: %v", err)
	}
}

func unexpected(e threshold.Event) {
	log.Printf("fault: %s: unexpected status %s for %s", e.Name, e.Status, e.Category)
}
