package controller

import (
	"errors"
	"fmt"
	"log"

	"github.com/sweeney/cdu-controller/internal/actuator"
	"github.com/sweeney/cdu-controller/internal/errlog"
	"github.com/sweeney/cdu-controller/internal/safety"
	"github.com/sweeney/cdu-controller/internal/status"
)

// SetControl switches table-driven control through the AUTO_TUNE enable
// bit and applies the change immediately.
func (c *Controller) SetControl(on bool) {
	c.regs.SetBit(status.RegAutoTune, status.AutoTuneEnable, on)
	c.syncControl()
	c.refreshFlags()
}

// Control reports whether table-driven control is enabled.
func (c *Controller) Control() bool { return c.control.Load() }

// SetPolling enables or disables sensor polling.
func (c *Controller) SetPolling(on bool) {
	c.sensors.SetPolling(on)
	log.Printf("controller: sensor polling %v", on)
	c.refreshFlags()
}

// Polling reports whether sensor polling is enabled.
func (c *Controller) Polling() bool { return c.sensors.Polling() }

// SetMonitor enables or disables the threshold monitor.
func (c *Controller) SetMonitor(on bool) {
	c.monitor.SetEnabled(on)
	log.Printf("controller: threshold monitor %v", on)
	c.refreshFlags()
}

// MonitorEnabled reports whether the threshold monitor runs.
func (c *Controller) MonitorEnabled() bool { return c.monitor.Enabled() }

// DeviceDuty is the last duty written to one device.
type DeviceDuty struct {
	Device actuator.Device
	Duty   int
}

// GroupDuty describes the output state of a group.
type GroupDuty struct {
	Group      actuator.Group
	Applied    int
	Manual     bool
	ManualDuty int
	Stopped    bool
	Devices    []DeviceDuty
}

// Groups returns the groups that have members.
func (c *Controller) Groups() []actuator.Group { return c.groups }

// Duty returns the output state of g.
func (c *Controller) Duty(g actuator.Group) (GroupDuty, error) {
	members := c.bank.Members(g)
	if len(members) == 0 {
		return GroupDuty{}, fmt.Errorf("%w: %s", actuator.ErrUnknownGroup, g)
	}
	manual, md := c.layer.Manual(g)
	out := GroupDuty{
		Group:      g,
		Applied:    c.layer.Applied(g),
		Manual:     manual,
		ManualDuty: md,
		Stopped:    c.layer.Stopped(g),
	}
	for _, d := range members {
		out.Devices = append(out.Devices, DeviceDuty{Device: d, Duty: c.bank.DeviceDuty(d)})
	}
	return out, nil
}

// ForceGroupDuty puts g in manual override at duty and writes it now.
// A stop condition still wins; that case returns ErrPumpStopped.
func (c *Controller) ForceGroupDuty(g actuator.Group, duty int) error {
	if len(c.bank.Members(g)) == 0 {
		return fmt.Errorf("%w: %s", actuator.ErrUnknownGroup, g)
	}
	if err := c.layer.SetManualDuty(g, duty); err != nil {
		return err
	}
	log.Printf("controller: %s forced to %d%%", g, duty)
	_, err := c.layer.RequestDuty(g, duty)
	return err
}

// ForceDeviceDuty overrides one device. Its group enters manual
// override; the other members keep the group's manual duty.
func (c *Controller) ForceDeviceDuty(d actuator.Device, duty int) error {
	g, ok := c.groupOf(d)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownDevice, d)
	}
	if err := c.layer.SetDeviceDuty(d, duty); err != nil {
		return err
	}
	c.layer.SetManual(g, true)
	log.Printf("controller: %s device %d forced to %d%%", g, d, duty)
	_, md := c.layer.Manual(g)
	_, err := c.layer.RequestDuty(g, md)
	return err
}

// Release returns g to automatic control and drops its device
// overrides.
func (c *Controller) Release(g actuator.Group) error {
	members := c.bank.Members(g)
	if len(members) == 0 {
		return fmt.Errorf("%w: %s", actuator.ErrUnknownGroup, g)
	}
	c.layer.SetManual(g, false)
	for _, d := range members {
		c.layer.ClearDeviceDuty(d)
	}
	log.Printf("controller: %s released to automatic", g)
	return nil
}

// ReleaseAll turns every manual override off and restores the default
// manual duty.
func (c *Controller) ReleaseAll() {
	c.layer.ResetManual()
	log.Printf("controller: all manual overrides released")
}

func (c *Controller) groupOf(d actuator.Device) (actuator.Group, bool) {
	for _, g := range c.groups {
		for _, m := range c.topo[g] {
			if m == d {
				return g, true
			}
		}
	}
	return actuator.GroupNone, false
}

// RedundancyInfo describes the pump rotation.
type RedundancyInfo struct {
	State    safety.State
	Interval safety.Interval
	Running  bool
	Rested   int // -1 when no member rests
}

// Redundancy returns the rotation state.
func (c *Controller) Redundancy() (RedundancyInfo, error) {
	if c.red == nil {
		return RedundancyInfo{}, ErrNoRedundancy
	}
	info := RedundancyInfo{
		State:    c.red.State(),
		Interval: c.red.Interval(),
		Running:  c.red.Running(),
		Rested:   -1,
	}
	if idx, ok := c.red.Rested(); ok {
		info.Rested = idx
	}
	return info, nil
}

// SetRedundancy starts or stops the rotation.
func (c *Controller) SetRedundancy(on bool) error {
	if c.red == nil {
		return ErrNoRedundancy
	}
	if on {
		c.red.Enable()
	} else {
		c.red.Disable()
		c.layer.ResetSwitchover()
	}
	c.refreshFlags()
	return nil
}

// SetRedundancyInterval changes the rotation interval.
func (c *Controller) SetRedundancyInterval(i safety.Interval) error {
	if c.red == nil {
		return ErrNoRedundancy
	}
	return c.red.SetInterval(i)
}

// Register returns a status register value.
func (c *Controller) Register(reg status.Register) (uint32, error) {
	return c.regs.Get(reg)
}

// SetRegister sets one bit of reg, or the whole register when bit is
// 32 or more.
func (c *Controller) SetRegister(reg status.Register, bit uint8, value uint32) error {
	if err := c.regs.Set(reg, bit, value); err != nil {
		return err
	}
	log.Printf("controller: register %s bit %d set to %d", reg, bit, value)
	c.refreshFlags()
	return nil
}

// Sticky returns a persistent sticky status value.
func (c *Controller) Sticky(idx int) (uint16, error) {
	return c.sticky.Get(idx)
}

// SetSticky writes a persistent sticky status value. Clearing a leak
// latch is done by clearing both its sticky value and its LEAK bit.
func (c *Controller) SetSticky(idx int, value uint16) error {
	return c.sticky.Set(idx, value)
}

// ErrorLog returns the persisted error records, newest first.
func (c *Controller) ErrorLog() []errlog.Record {
	return c.errlog.Records()
}

// ErrorRecord returns the nth newest error record (0 is the newest).
func (c *Controller) ErrorRecord(n int) (errlog.Record, error) {
	return c.errlog.Nth(n)
}

// ClearErrorLog erases the error log.
func (c *Controller) ClearErrorLog() error {
	if err := c.errlog.Clear(); err != nil {
		return fmt.Errorf("clear error log: %w", err)
	}
	log.Printf("controller: error log cleared")
	return nil
}

// LEDs returns the panel LED states by name.
func (c *Controller) LEDs() map[string]string { return c.panel.States() }

// IsStopped reports whether err means a stop condition overrode a
// request.
func IsStopped(err error) bool { return errors.Is(err, safety.ErrPumpStopped) }
