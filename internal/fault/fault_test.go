package fault

import (
	"testing"

	"github.com/sweeney/cdu-controller/internal/actuator"
	"github.com/sweeney/cdu-controller/internal/eeprom"
	"github.com/sweeney/cdu-controller/internal/errlog"
	"github.com/sweeney/cdu-controller/internal/gpio"
	"github.com/sweeney/cdu-controller/internal/led"
	"github.com/sweeney/cdu-controller/internal/sensor"
	"github.com/sweeney/cdu-controller/internal/status"
	"github.com/sweeney/cdu-controller/internal/threshold"
)

const (
	lineFault = 1
	lineLeak  = 2
	lineCool  = 3
	lineReady = 10
)

type write struct {
	g    actuator.Group
	duty int
}

type fakePumps struct {
	writes  []write
	stopped bool
}

func (p *fakePumps) Direct(g actuator.Group, duty int) error {
	p.writes = append(p.writes, write{g, duty})
	return nil
}

func (p *fakePumps) Stopped(actuator.Group) bool { return p.stopped }

func (p *fakePumps) last() int {
	if len(p.writes) == 0 {
		return -1
	}
	return p.writes[len(p.writes)-1].duty
}

type fakeIsolator struct{ members []int }

func (f *fakeIsolator) Isolate(m int) { f.members = append(f.members, m) }

type fixture struct {
	h      *Handlers
	regs   *status.Registers
	sticky *status.Sticky
	log    *errlog.Log
	gpio   *gpio.FakeWriter
	panel  *led.Panel
	pumps  *fakePumps
	iso    *fakeIsolator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := eeprom.NewMemory(eeprom.DefaultSize)
	f := &fixture{
		regs:   status.NewRegisters(),
		sticky: status.NewSticky(mem),
		log: errlog.New(mem, errlog.Codes{
			Abnormal: map[sensor.ID]uint16{1: 0x10, 2: 0x11},
			Recover:  map[sensor.ID]uint16{1: 0x90},
		}),
		gpio:  gpio.NewFakeWriter(),
		pumps: &fakePumps{},
		iso:   &fakeIsolator{},
	}
	if err := f.log.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	f.panel = led.NewPanel(f.gpio, map[led.ID]int{led.Fault: lineFault, led.Leak: lineLeak, led.Coolant: lineCool})
	f.h = New(Deps{
		Regs:       f.regs,
		Sticky:     f.sticky,
		Log:        f.log,
		Panel:      f.panel,
		Ready:      f.gpio,
		ReadyLines: []int{lineReady},
		Pumps:      f.pumps,
		Redundancy: f.iso,
	})
	return f
}

func event(c threshold.Category, id sensor.ID, arg threshold.Arg, prev, next threshold.Status) threshold.Event {
	return threshold.Event{Sensor: id, Name: "test", Category: c, Arg: arg, Previous: prev, Status: next}
}

func pumpArg(member int) threshold.Arg {
	return threshold.Arg{Register: status.RegPumpStatus, Bit: uint8(member), Member: member}
}

func TestPumpFailure(t *testing.T) {
	f := newFixture(t)
	f.h.Settle()
	if !f.gpio.Level(lineReady) {
		t.Fatal("ready line should be asserted with no faults")
	}

	f.h.Dispatch(event(threshold.CategoryPumpFailure, 1, pumpArg(0), threshold.StatusNormal, threshold.StatusLCR))
	if f.gpio.Level(lineReady) {
		t.Error("ready line should be deasserted")
	}
	if !f.regs.Bit(status.RegLEDFault, status.LEDFaultPump) || !f.gpio.Level(lineFault) {
		t.Error("fault LED and LED_FAULT pump bit expected")
	}
	if !f.regs.Bit(status.RegPumpStatus, 0) || !f.regs.Bit(status.RegStatusAlarm, status.AlarmPumpAbnormal) {
		t.Error("pump status bits expected")
	}
	if f.regs.Bit(status.RegFailure, status.FailTwoPump) {
		t.Error("one pump failure must not set the two-pump bit")
	}
	if len(f.iso.members) != 1 || f.iso.members[0] != 0 {
		t.Errorf("isolate: got %v, want [0]", f.iso.members)
	}
	if f.log.Count() != 1 {
		t.Errorf("error log: got %d records, want 1", f.log.Count())
	}

	f.h.Dispatch(event(threshold.CategoryPumpFailure, 2, pumpArg(1), threshold.StatusNormal, threshold.StatusLCR))
	if !f.regs.Bit(status.RegFailure, status.FailTwoPump) {
		t.Error("two pump failures must set the two-pump bit")
	}

	f.h.Dispatch(event(threshold.CategoryPumpFailure, 2, pumpArg(1), threshold.StatusLCR, threshold.StatusNormal))
	if f.regs.Bit(status.RegFailure, status.FailTwoPump) {
		t.Error("two-pump bit should clear with one failure left")
	}
	if !f.regs.Bit(status.RegLEDFault, status.LEDFaultPump) {
		t.Error("pump LED fault must stay while a pump is failed")
	}

	f.h.Dispatch(event(threshold.CategoryPumpFailure, 1, pumpArg(0), threshold.StatusLCR, threshold.StatusNormal))
	if f.regs.Value(status.RegLEDFault) != 0 || f.gpio.Level(lineFault) {
		t.Error("fault LED should clear when no pump is failed")
	}
	f.h.Settle()
	if !f.gpio.Level(lineReady) {
		t.Error("ready line should be restored")
	}
	if r, _ := f.log.Nth(0); r.Code != 0x90 {
		t.Errorf("recovery code: got %#x, want 0x90", r.Code)
	}
}

func TestRPUFanStopsAndRestoresPumps(t *testing.T) {
	f := newFixture(t)
	arg := threshold.Arg{Register: status.RegPumpFanStatus, Bit: 2}

	f.h.Dispatch(event(threshold.CategoryRPUFanFailure, 5, arg, threshold.StatusNormal, threshold.StatusLCR))
	if f.pumps.last() != 0 {
		t.Errorf("pumps: got %d, want 0", f.pumps.last())
	}
	if !f.regs.Bit(status.RegFailure, status.FailRPUFan) {
		t.Error("FAILURE unit fan bit expected while the fan is failed")
	}
	f.h.Dispatch(event(threshold.CategoryRPUFanFailure, 5, arg, threshold.StatusLCR, threshold.StatusNormal))
	if f.regs.Bit(status.RegFailure, status.FailRPUFan) {
		t.Error("FAILURE unit fan bit should clear on recovery")
	}
	if f.pumps.last() != RestoreDuty {
		t.Errorf("pumps: got %d, want %d", f.pumps.last(), RestoreDuty)
	}
}

func TestRPUFanBitHeldWhileAnyFanFailed(t *testing.T) {
	f := newFixture(t)
	fan1 := threshold.Arg{Register: status.RegPumpFanStatus, Bit: 0}
	fan2 := threshold.Arg{Register: status.RegPumpFanStatus, Bit: 1}

	f.h.Dispatch(event(threshold.CategoryRPUFanFailure, 5, fan1, threshold.StatusNormal, threshold.StatusLCR))
	f.h.Dispatch(event(threshold.CategoryRPUFanFailure, 6, fan2, threshold.StatusNormal, threshold.StatusLCR))
	f.h.Dispatch(event(threshold.CategoryRPUFanFailure, 5, fan1, threshold.StatusLCR, threshold.StatusNormal))
	if !f.regs.Bit(status.RegFailure, status.FailRPUFan) {
		t.Error("FAILURE unit fan bit must stay while a fan is failed")
	}
	if f.pumps.last() != 0 {
		t.Errorf("pumps: got %d, want 0", f.pumps.last())
	}
}

func TestPressureHighThenLowClearsStop(t *testing.T) {
	f := newFixture(t)
	arg := threshold.Arg{Register: status.RegSensorAlarm, Bit: 3}

	f.h.Dispatch(event(threshold.CategoryPressure, 7, arg, threshold.StatusNormal, threshold.StatusUCR))
	f.h.Dispatch(event(threshold.CategoryPressure, 7, arg, threshold.StatusUCR, threshold.StatusLCR))
	if !f.regs.Bit(status.RegFailure, status.FailHighPressure) {
		t.Fatal("high pressure bit should hold through a low reading")
	}
	f.h.Dispatch(event(threshold.CategoryPressure, 7, arg, threshold.StatusLCR, threshold.StatusNormal))
	if f.regs.Bit(status.RegFailure, status.FailHighPressure) {
		t.Error("high pressure bit should clear on NORMAL")
	}
	if f.regs.Bit(status.RegLEDFault, status.LEDFaultHighPressure) {
		t.Error("high pressure LED fault bit should clear on NORMAL")
	}
	if f.pumps.last() != RestoreDuty {
		t.Errorf("pumps: got %d, want %d", f.pumps.last(), RestoreDuty)
	}
}

func TestRestoreHeldByStopCondition(t *testing.T) {
	f := newFixture(t)
	arg := threshold.Arg{Register: status.RegPumpFanStatus, Bit: 0}
	f.h.Dispatch(event(threshold.CategoryRPUFanFailure, 5, arg, threshold.StatusNormal, threshold.StatusLCR))
	f.pumps.stopped = true
	f.h.Dispatch(event(threshold.CategoryRPUFanFailure, 5, arg, threshold.StatusLCR, threshold.StatusNormal))
	if f.pumps.last() != 0 {
		t.Errorf("pumps: got %d, want 0 while stopped", f.pumps.last())
	}
}

func TestRestoreHeldByOtherFault(t *testing.T) {
	f := newFixture(t)
	press := threshold.Arg{Register: status.RegSensorAlarm, Bit: 3}
	fan := threshold.Arg{Register: status.RegPumpFanStatus, Bit: 0}

	f.h.Dispatch(event(threshold.CategoryPressure, 7, press, threshold.StatusNormal, threshold.StatusUCR))
	f.h.Dispatch(event(threshold.CategoryRPUFanFailure, 5, fan, threshold.StatusNormal, threshold.StatusLCR))
	f.h.Dispatch(event(threshold.CategoryRPUFanFailure, 5, fan, threshold.StatusLCR, threshold.StatusNormal))
	if f.pumps.last() != 0 {
		t.Errorf("pumps restored while high pressure holds: %d", f.pumps.last())
	}
	f.h.Dispatch(event(threshold.CategoryPressure, 7, press, threshold.StatusUCR, threshold.StatusNormal))
	if f.pumps.last() != RestoreDuty {
		t.Errorf("pumps: got %d, want %d", f.pumps.last(), RestoreDuty)
	}
}

func TestLeakLatches(t *testing.T) {
	f := newFixture(t)
	arg := threshold.Arg{Register: status.RegLeak, Bit: 1}

	f.h.Dispatch(event(threshold.CategoryLeak, 9, arg, threshold.StatusNormal, threshold.StatusLCR))
	f.h.Dispatch(event(threshold.CategoryLeak, 9, arg, threshold.StatusLCR, threshold.StatusNormal))

	if !f.regs.Bit(status.RegLeak, 1) || !f.regs.Bit(status.RegFailure, status.FailLeak) {
		t.Error("leak bits must stay latched")
	}
	if !f.gpio.Level(lineLeak) {
		t.Error("leak LED must stay on")
	}
	if !f.sticky.IsSet(1) {
		t.Error("sticky leak flag expected")
	}
	if f.pumps.last() != 0 {
		t.Errorf("pumps: got %d, want 0", f.pumps.last())
	}
}

func TestPressureLowOnlyAlarms(t *testing.T) {
	f := newFixture(t)
	arg := threshold.Arg{Register: status.RegSensorAlarm, Bit: 2}
	f.h.Dispatch(event(threshold.CategoryPressure, 7, arg, threshold.StatusNormal, threshold.StatusLCR))
	if len(f.pumps.writes) != 0 {
		t.Error("low pressure must not drive the pumps")
	}
	if !f.regs.Bit(status.RegSensorAlarm, 2) || !f.regs.Bit(status.RegStatusAlarm, status.AlarmPressure) {
		t.Error("alarm bits expected")
	}
	if f.regs.Value(status.RegLEDFault) != 0 {
		t.Error("low pressure must not light the fault LED")
	}
	f.h.Dispatch(event(threshold.CategoryPressure, 7, arg, threshold.StatusLCR, threshold.StatusNormal))
	if f.regs.Bit(status.RegStatusAlarm, status.AlarmPressure) {
		t.Error("pressure alarm should clear")
	}
}

func TestReservoirLevels(t *testing.T) {
	f := newFixture(t)

	f.h.Dispatch(event(threshold.CategoryHighLevel, 20, threshold.Arg{}, threshold.StatusNormal, threshold.StatusLCR))
	if f.panel.State(led.Coolant) != led.Blinking {
		t.Errorf("coolant LED: got %s, want blink", f.panel.State(led.Coolant))
	}

	f.h.Dispatch(event(threshold.CategoryLowLevel, 21, threshold.Arg{}, threshold.StatusNormal, threshold.StatusLCR))
	if f.panel.State(led.Coolant) != led.Off {
		t.Errorf("coolant LED: got %s, want off", f.panel.State(led.Coolant))
	}
	if !f.regs.Bit(status.RegFailure, status.FailLowLevel) || f.pumps.last() != 0 {
		t.Error("low level must stop the pumps and set the failure bit")
	}

	f.h.Dispatch(event(threshold.CategoryLowLevel, 21, threshold.Arg{}, threshold.StatusLCR, threshold.StatusNormal))
	if f.panel.State(led.Coolant) != led.Blinking {
		t.Errorf("coolant LED: got %s, want blink", f.panel.State(led.Coolant))
	}
	if !f.regs.Bit(status.RegReservoir, status.ReservoirLevel2) {
		t.Error("level 2 bit should be set")
	}

	f.h.Dispatch(event(threshold.CategoryHighLevel, 20, threshold.Arg{}, threshold.StatusLCR, threshold.StatusNormal))
	if f.panel.State(led.Coolant) != led.On {
		t.Errorf("coolant LED: got %s, want on", f.panel.State(led.Coolant))
	}
}

func TestCoolantTempMultipleSensors(t *testing.T) {
	f := newFixture(t)
	in := threshold.Arg{Register: status.RegSensorAlarm, Bit: 0}
	out := threshold.Arg{Register: status.RegSensorAlarm, Bit: 1}

	f.h.Dispatch(event(threshold.CategoryCoolantTemp, 30, in, threshold.StatusNormal, threshold.StatusUCR))
	f.h.Dispatch(event(threshold.CategoryCoolantTemp, 31, out, threshold.StatusNormal, threshold.StatusUCR))
	f.h.Dispatch(event(threshold.CategoryCoolantTemp, 30, in, threshold.StatusUCR, threshold.StatusNormal))
	if !f.regs.Bit(status.RegFailure, status.FailHighCoolantTemp) {
		t.Error("failure bit must stay while one sensor is hot")
	}
	f.h.Dispatch(event(threshold.CategoryCoolantTemp, 31, out, threshold.StatusUCR, threshold.StatusNormal))
	if f.regs.Bit(status.RegFailure, status.FailHighCoolantTemp) || f.regs.Value(status.RegSensorAlarm) != 0 {
		t.Error("coolant bits should clear")
	}
}

func TestStatusBitCategory(t *testing.T) {
	f := newFixture(t)
	arg := threshold.Arg{Register: status.RegSensorAlarm, Bit: 4}
	f.h.Dispatch(event(threshold.CategoryStatusBit, 40, arg, threshold.StatusNormal, threshold.StatusUCR))
	if !f.regs.Bit(status.RegSensorAlarm, 4) {
		t.Error("bit expected")
	}
	f.h.Dispatch(event(threshold.CategoryStatusBit, 40, arg, threshold.StatusUCR, threshold.StatusNormal))
	if f.regs.Bit(status.RegSensorAlarm, 4) {
		t.Error("bit should clear")
	}
}

func TestNotPresentIgnored(t *testing.T) {
	f := newFixture(t)
	f.h.Dispatch(event(threshold.CategoryHexFanFailure, 50, threshold.Arg{Register: status.RegHexFanAlarm1}, threshold.StatusNormal, threshold.StatusNotPresent))
	if f.regs.Value(status.RegLEDFault) != 0 || f.log.Count() != 0 {
		t.Error("NOT_PRESENT must not raise faults or log")
	}
}

func TestHexFanAlarmRegisters(t *testing.T) {
	f := newFixture(t)
	a := threshold.Arg{Register: status.RegHexFanAlarm1, Bit: 3}
	b := threshold.Arg{Register: status.RegHexFanAlarm2, Bit: 1}

	f.h.Dispatch(event(threshold.CategoryHexFanFailure, 50, a, threshold.StatusNormal, threshold.StatusLCR))
	f.h.Dispatch(event(threshold.CategoryHexFanFailure, 51, b, threshold.StatusNormal, threshold.StatusLCR))
	f.h.Dispatch(event(threshold.CategoryHexFanFailure, 50, a, threshold.StatusLCR, threshold.StatusNormal))
	if !f.regs.Bit(status.RegFailure, status.FailHexFan) {
		t.Error("hex fan failure must hold while a fan is failed")
	}
	f.h.Dispatch(event(threshold.CategoryHexFanFailure, 51, b, threshold.StatusLCR, threshold.StatusNormal))
	if f.regs.Bit(status.RegFailure, status.FailHexFan) {
		t.Error("hex fan failure should clear")
	}
}
