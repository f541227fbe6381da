// Package controller wires the control loops, the threshold monitor, the
// safety layer and the fault handlers around one set of status
// registers, and exposes the operations used by the diagnostics surfaces.
//
// The Tick methods must be called from a single goroutine. Every other
// method is safe to call concurrently with them.
package controller

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/cdu-controller/internal/actuator"
	"github.com/sweeney/cdu-controller/internal/config"
	"github.com/sweeney/cdu-controller/internal/eeprom"
	"github.com/sweeney/cdu-controller/internal/errlog"
	"github.com/sweeney/cdu-controller/internal/fault"
	"github.com/sweeney/cdu-controller/internal/fsc"
	"github.com/sweeney/cdu-controller/internal/gpio"
	"github.com/sweeney/cdu-controller/internal/led"
	"github.com/sweeney/cdu-controller/internal/mqtt"
	"github.com/sweeney/cdu-controller/internal/safety"
	"github.com/sweeney/cdu-controller/internal/sensor"
	"github.com/sweeney/cdu-controller/internal/status"
	"github.com/sweeney/cdu-controller/internal/threshold"
)

var (
	// ErrUnknownDevice is returned for a device outside the topology.
	ErrUnknownDevice = errors.New("controller: unknown device")
	// ErrNoRedundancy is returned when the unit has no redundant group.
	ErrNoRedundancy = errors.New("controller: no redundant group configured")
)

// Sensors is the cached sensor view. sensor.Cache implements it.
type Sensors interface {
	sensor.Source
	threshold.Readiness
	SetPolling(on bool)
}

// Deps are the hardware seams. PowerGood, Publisher and Ticks may be nil.
type Deps struct {
	Sensors   Sensors
	Actuators actuator.DeviceWriter
	PowerGood actuator.PowerGood
	Store     eeprom.Store
	GPIO      gpio.Writer
	Publisher mqtt.Publisher
	Ticks     safety.TickSource

	InstanceID string
	Start      time.Time
	Display    status.Config
}

// Controller owns every piece of control state.
type Controller struct {
	cfg     *config.Config
	sensors Sensors
	pg      actuator.PowerGood
	pub     mqtt.Publisher

	regs    *status.Registers
	sticky  *status.Sticky
	errlog  *errlog.Log
	bank    *actuator.Bank
	layer   *safety.Layer
	red     *safety.Redundancy
	panel   *led.Panel
	faults  *fault.Handlers
	monitor *threshold.Monitor
	sched   *fsc.Scheduler
	tracker *status.Tracker

	topo   actuator.Topology
	groups []actuator.Group

	control atomic.Bool

	// pgMu guards the last power-good reading per device.
	pgMu   sync.Mutex
	pgLast map[actuator.Device]bool
}

// New builds a controller from cfg. Control starts disabled; the
// threshold monitor starts enabled and waits out its start delay.
func New(cfg *config.Config, d Deps) (*Controller, error) {
	if d.Sensors == nil || d.Actuators == nil || d.Store == nil || d.GPIO == nil {
		return nil, errors.New("controller: sensors, actuators, store and gpio are required")
	}
	zones, err := cfg.Zones()
	if err != nil {
		return nil, err
	}
	entries, err := cfg.Entries()
	if err != nil {
		return nil, err
	}
	sc, err := cfg.SafetyConfig()
	if err != nil {
		return nil, fmt.Errorf("safety: %w", err)
	}
	topo, err := cfg.ActuatorTopology()
	if err != nil {
		return nil, err
	}
	lines, err := cfg.LEDLines()
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:     cfg,
		sensors: d.Sensors,
		pg:      d.PowerGood,
		pub:     d.Publisher,
		regs:    status.NewRegisters(),
		topo:    topo,
		pgLast:  make(map[actuator.Device]bool),
	}
	for _, g := range actuator.Groups() {
		if len(topo[g]) > 0 {
			c.groups = append(c.groups, g)
		}
	}

	c.sticky = status.NewSticky(d.Store)
	c.errlog = errlog.New(d.Store, cfg.Codes())
	if err := c.errlog.Load(); err != nil {
		log.Printf("controller: error log load: %v", err)
	}

	if sc.Redundant != actuator.GroupNone {
		iv, err := cfg.RedundancyInterval()
		if err != nil {
			return nil, fmt.Errorf("redundancy: %w", err)
		}
		c.red = safety.NewRedundancy(c.regs, iv, sc.StopMask, d.Ticks)
	}

	c.bank = actuator.NewBank(d.Actuators, topo)
	c.layer = safety.NewLayer(sc, c.regs, c.bank, c.red)
	c.panel = led.NewPanel(d.GPIO, lines)

	fd := fault.Deps{
		Regs:       c.regs,
		Sticky:     c.sticky,
		Log:        c.errlog,
		Context:    c.errContext,
		Panel:      c.panel,
		Ready:      d.GPIO,
		ReadyLines: cfg.GPIO.Ready,
		Pumps:      c.layer,
	}
	if c.red != nil {
		fd.Redundancy = c.red
	}
	c.faults = fault.New(fd)

	c.monitor = threshold.New(entries, d.Sensors, d.Sensors, dispatcher{faults: c.faults, pub: d.Publisher})
	c.monitor.SetWarmup(threshold.Warmup{
		Delay: cfg.StartDelay(),
		Duty:  cfg.Threshold.StartupDuty,
		Apply: c.applyAll,
	})

	c.sched = fsc.New(zones, d.Sensors, c.layer, func(bit uint8) bool {
		return c.regs.Bit(status.RegSetpointEnable, bit)
	})

	c.tracker = status.NewTracker(d.InstanceID, d.Start, d.Display, c.regs)

	if err := c.panel.On(led.Power); err != nil {
		log.Printf("controller: power led: %v", err)
	}
	c.restoreLatches(entries)
	c.refresh()
	return c, nil
}

// restoreLatches re-raises leaks recorded in the sticky store before the
// last restart.
func (c *Controller) restoreLatches(entries []*threshold.Entry) {
	for _, e := range entries {
		if e.Category != threshold.CategoryLeak || int(e.Arg.Bit) >= status.StickyMax {
			continue
		}
		if !c.sticky.IsSet(int(e.Arg.Bit)) {
			continue
		}
		log.Printf("controller: %s leak latched before restart", e.Name)
		c.regs.SetBit(status.RegLeak, e.Arg.Bit, true)
		c.regs.SetBit(status.RegFailure, status.FailLeak, true)
		c.regs.SetBit(status.RegLEDFault, status.LEDFaultLeak, true)
		for _, id := range []led.ID{led.Fault, led.Leak} {
			if err := c.panel.On(id); err != nil {
				log.Printf("controller: %v", err)
			}
		}
	}
}

// dispatcher fans each transition out to the fault handlers and the
// event publisher.
type dispatcher struct {
	faults *fault.Handlers
	pub    mqtt.Publisher
}

func (d dispatcher) Dispatch(e threshold.Event) {
	d.faults.Dispatch(e)
	if d.pub == nil {
		return
	}
	if err := d.pub.Publish(e); err != nil {
		log.Printf("controller: publish %s: %v", e.Name, err)
	}
}

func (d dispatcher) Settle() { d.faults.Settle() }

// TickFSC runs one scheduler tick. Control follows the AUTO_TUNE enable
// bit, so a register write from diagnostics takes effect here.
func (c *Controller) TickFSC() []fsc.Result {
	c.syncControl()
	results := c.sched.Tick()
	c.refresh()
	return results
}

// TickThreshold runs one threshold pass.
func (c *Controller) TickThreshold() []threshold.Event {
	events := c.monitor.Poll()
	if len(events) > 0 {
		c.refresh()
	}
	return events
}

// TickPanel polls power-good inputs and advances LED blinking. Call it
// once a second.
func (c *Controller) TickPanel() {
	c.pollPowerGood()
	c.panel.Tick()
}

// pollPowerGood mirrors each device into POWER_GOOD. A bad board is
// flagged on every poll it stays bad.
func (c *Controller) pollPowerGood() {
	if c.pg == nil {
		return
	}
	c.pgMu.Lock()
	defer c.pgMu.Unlock()
	for _, g := range c.groups {
		for _, d := range c.topo[g] {
			good, err := c.pg.PowerGood(d)
			if err != nil {
				continue
			}
			if uint8(d) < 32 {
				c.regs.SetBit(status.RegPowerGood, uint8(d), good)
			}
			prev, seen := c.pgLast[d]
			if seen && prev != good {
				log.Printf("controller: %s device %d power good %v -> %v", g, d, prev, good)
			} else if !seen && !good {
				log.Printf("controller: %s device %d power not good", g, d)
			}
			c.pgLast[d] = good
			if bf, ok := c.pg.(actuator.BoardFault); ok && !good {
				if err := bf.SignalBoardFault(d); err != nil {
					log.Printf("controller: %s device %d board fault: %v", g, d, err)
				}
			}
		}
	}
}

// syncControl applies a change of the AUTO_TUNE enable bit. Switching
// off re-arms every group and drives the automatic outputs to 0.
func (c *Controller) syncControl() {
	on := c.regs.Bit(status.RegAutoTune, status.AutoTuneEnable)
	if c.control.Swap(on) == on {
		return
	}
	c.sched.SetEnabled(on)
	if on {
		log.Printf("controller: control enabled")
		return
	}
	log.Printf("controller: control disabled")
	c.layer.Rearm()
	for _, g := range c.groups {
		if _, err := c.layer.RequestDuty(g, 0); err != nil && !errors.Is(err, safety.ErrPumpStopped) {
			log.Printf("controller: %s off: %v", g, err)
		}
	}
}

// applyAll is the warm-up: every group goes to duty directly.
func (c *Controller) applyAll(duty int) {
	for _, g := range c.groups {
		if err := c.layer.Direct(g, duty); err != nil {
			log.Printf("controller: warm-up %s: %v", g, err)
		}
	}
}

func (c *Controller) errContext() errlog.Context {
	ids := c.cfg.ErrLog.Context
	return errlog.Context{
		PumpDuty:    uint16(c.layer.Applied(actuator.GroupPump)),
		FanDuty:     uint16(c.layer.Applied(actuator.GroupHexFan)),
		OutletTemp:  c.sample(ids.OutletTemp),
		OutletPress: c.sample(ids.OutletPress),
		FlowRate:    c.sample(ids.FlowRate),
		Volt:        c.sample(ids.Volt),
	}
}

func (c *Controller) sample(id uint16) int16 {
	if id == 0 {
		return 0
	}
	v, st := c.sensors.Read(sensor.ID(id))
	if st != sensor.StatusOK {
		return 0
	}
	return int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(v))))
}

// refresh publishes the current state to the tracker.
func (c *Controller) refresh() {
	zones := make([]status.ZoneInfo, 0, len(c.sched.Zones()))
	for _, z := range c.sched.Zones() {
		zones = append(zones, status.ZoneInfo{
			ID:     z.ID,
			Target: z.Target.String(),
			State:  c.sched.ZoneState(z).String(),
			Duty:   z.LastDuty(),
		})
	}
	c.tracker.SetZones(zones)

	entries := c.monitor.Entries()
	infos := make([]status.ThresholdInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, status.ThresholdInfo{
			Sensor:   e.Sensor.String(),
			Name:     e.Name,
			Mode:     e.Mode.String(),
			Category: e.Category.String(),
			Status:   e.LastStatus().String(),
		})
	}
	c.tracker.SetThresholds(infos)
	c.refreshFlags()
}

func (c *Controller) refreshFlags() {
	red := "NONE"
	if c.red != nil {
		red = c.red.State().String()
	}
	c.tracker.SetFlags(status.Flags{
		Control:    c.control.Load(),
		Monitor:    c.monitor.Enabled(),
		Polling:    c.sensors.Polling(),
		Redundancy: red,
	})
}

// Registers returns the status registers.
func (c *Controller) Registers() *status.Registers { return c.regs }

// Tracker returns the state tracker fed by the Tick methods.
func (c *Controller) Tracker() *status.Tracker { return c.tracker }

// Scheduler returns the FSC scheduler.
func (c *Controller) Scheduler() *fsc.Scheduler { return c.sched }

// Monitor returns the threshold monitor.
func (c *Controller) Monitor() *threshold.Monitor { return c.monitor }

// Snapshot returns the tracker snapshot with current flags.
func (c *Controller) Snapshot() status.Snapshot {
	c.refreshFlags()
	return c.tracker.Snapshot()
}

// Close stops background timers.
func (c *Controller) Close() {
	if c.red != nil {
		c.red.Close()
	}
}
