package status

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// ErrUnknownRegister is returned for a register outside the known set.
var ErrUnknownRegister = errors.New("status: unknown register")

// WholeRegister is the conventional bit index that requests a full
// overwrite. Any index of 32 or more has the same effect.
const WholeRegister = 0xFF

// Register names a 32-bit status register.
type Register uint8

const (
	RegFailure Register = iota
	RegLeak
	RegAutoTune
	RegPumpRedundancy
	RegSetpointEnable
	RegSpecialMode
	RegLEDFault
	RegSensorAlarm
	RegStatusAlarm
	RegPumpStatus
	RegPumpFanStatus
	RegHexFanAlarm1
	RegHexFanAlarm2
	RegReservoir
	RegPowerGood
	numRegisters
)

var registerNames = [numRegisters]string{
	"failure",
	"leak",
	"auto_tune",
	"pump_redundancy",
	"setpoint_enable",
	"special_mode",
	"led_fault",
	"sensor_alarm",
	"status_alarm",
	"pump_status",
	"pump_fan_status",
	"hex_fan_alarm_1",
	"hex_fan_alarm_2",
	"reservoir",
	"power_good",
}

func (r Register) String() string {
	if r < numRegisters {
		return registerNames[r]
	}
	return fmt.Sprintf("register(%d)", uint8(r))
}

// ParseRegister converts a register name into a Register.
func ParseRegister(s string) (Register, error) {
	for i, n := range registerNames {
		if strings.EqualFold(s, n) {
			return Register(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRegister, s)
}

// AllRegisters returns every register in order.
func AllRegisters() []Register {
	regs := make([]Register, numRegisters)
	for i := range regs {
		regs[i] = Register(i)
	}
	return regs
}

// Registers holds the volatile status registers. Each Set is a single
// atomic read-modify-write, so concurrent writers to different bits of
// the same register never lose updates.
type Registers struct {
	regs [numRegisters]atomic.Uint32
}

// NewRegisters creates zeroed registers.
func NewRegisters() *Registers {
	return &Registers{}
}

// Get returns the full value of a register.
func (r *Registers) Get(reg Register) (uint32, error) {
	if reg >= numRegisters {
		return 0, fmt.Errorf("%w: %d", ErrUnknownRegister, reg)
	}
	return r.regs[reg].Load(), nil
}

// Value returns the register value, or 0 for an unknown register.
func (r *Registers) Value(reg Register) uint32 {
	v, _ := r.Get(reg)
	return v
}

// Bit reports whether a single bit is set.
func (r *Registers) Bit(reg Register, bit uint8) bool {
	if bit >= 32 {
		return false
	}
	return r.Value(reg)&(1<<bit) != 0
}

// Set updates a register. A bit index below 32 sets (value != 0) or
// clears (value == 0) that bit; any larger index overwrites the whole
// register with value.
func (r *Registers) Set(reg Register, bit uint8, value uint32) error {
	if reg >= numRegisters {
		return fmt.Errorf("%w: %d", ErrUnknownRegister, reg)
	}
	a := &r.regs[reg]
	if bit >= 32 {
		a.Store(value)
		return nil
	}
	mask := uint32(1) << bit
	for {
		old := a.Load()
		next := old &^ mask
		if value != 0 {
			next = old | mask
		}
		if a.CompareAndSwap(old, next) {
			return nil
		}
	}
}

// SetBit is Set for a boolean bit.
func (r *Registers) SetBit(reg Register, bit uint8, on bool) {
	var v uint32
	if on {
		v = 1
	}
	_ = r.Set(reg, bit, v)
}

// Snapshot returns every register value keyed by name.
func (r *Registers) Snapshot() map[string]uint32 {
	out := make(map[string]uint32, numRegisters)
	for i := Register(0); i < numRegisters; i++ {
		out[i.String()] = r.regs[i].Load()
	}
	return out
}
