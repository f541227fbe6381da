package config

import (
	"fmt"
	"time"

	"github.com/sweeney/cdu-controller/internal/actuator"
	"github.com/sweeney/cdu-controller/internal/errlog"
	"github.com/sweeney/cdu-controller/internal/fsc"
	"github.com/sweeney/cdu-controller/internal/led"
	"github.com/sweeney/cdu-controller/internal/safety"
	"github.com/sweeney/cdu-controller/internal/sensor"
	"github.com/sweeney/cdu-controller/internal/status"
	"github.com/sweeney/cdu-controller/internal/threshold"
	"github.com/sweeney/cdu-controller/internal/zone"
)

// Every builder returns fresh values, so two controllers built from one
// Config share no mutable state.

// Zones builds the FSC zone list.
func (c *Config) Zones() ([]*fsc.Zone, error) {
	zones := make([]*fsc.Zone, 0, len(c.FSC.Zones))
	for _, zc := range c.FSC.Zones {
		target := actuator.GroupNone
		if zc.Target != "" {
			g, err := actuator.ParseGroup(zc.Target)
			if err != nil {
				return nil, fmt.Errorf("zone %d: %w", zc.ID, err)
			}
			target = g
		}
		z := &fsc.Zone{
			ID:       zc.ID,
			Target:   target,
			Interval: zc.Interval,
			OutMin:   zc.OutMin,
			OutMax:   zc.OutMax,
			SlewPos:  zc.SlewPos,
			SlewNeg:  zc.SlewNeg,
		}
		for _, sc := range zc.Stepwise {
			steps := make([]zone.Step, len(sc.Steps))
			for i, st := range sc.Steps {
				steps[i] = zone.Step{Temp: st.Temp, Duty: st.Duty}
			}
			z.Stepwise = append(z.Stepwise, &zone.Stepwise{
				Sensor:  sensor.ID(sc.Sensor),
				Steps:   steps,
				Hyst:    zone.Hysteresis{Pos: sc.HystPos, Neg: sc.HystNeg},
				Ambient: sc.Ambient,
			})
		}
		for _, pc := range zc.PID {
			p := &zone.PID{
				Sensor:   sensor.ID(pc.Sensor),
				Setpoint: pc.Setpoint,
				Kp:       pc.Kp,
				Ki:       pc.Ki,
				Kd:       pc.Kd,
				IMin:     pc.IMin,
				IMax:     pc.IMax,
				Hyst:     zone.Hysteresis{Pos: pc.HystPos, Neg: pc.HystNeg},
				Truncate: pc.Truncate,
			}
			if pc.Feature != nil {
				bit := *pc.Feature
				p.Feature = &bit
			}
			z.PID = append(z.PID, p)
		}
		zones = append(zones, z)
	}
	return zones, nil
}

// Entries builds the threshold table.
func (c *Config) Entries() ([]*threshold.Entry, error) {
	entries := make([]*threshold.Entry, 0, len(c.Threshold.Entries))
	for _, ec := range c.Threshold.Entries {
		mode, err := threshold.ParseMode(ec.Mode)
		if err != nil {
			return nil, fmt.Errorf("threshold %s: %w", ec.Name, err)
		}
		cat, err := threshold.ParseCategory(ec.Category)
		if err != nil {
			return nil, fmt.Errorf("threshold %s: %w", ec.Name, err)
		}
		e := &threshold.Entry{
			Sensor:       sensor.ID(ec.Sensor),
			Name:         ec.Name,
			Mode:         mode,
			Lower:        ec.Lower,
			Upper:        ec.Upper,
			DetectAbsent: ec.DetectAbsent,
			Category:     cat,
			Arg:          threshold.Arg{Bit: ec.Bit, Member: ec.Member},
		}
		if ec.Register != "" {
			reg, err := status.ParseRegister(ec.Register)
			if err != nil {
				return nil, fmt.Errorf("threshold %s: %w", ec.Name, err)
			}
			e.Arg.Register = reg
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// SafetyConfig builds the override layer settings.
func (c *Config) SafetyConfig() (safety.Config, error) {
	s := c.Safety
	out := safety.Config{
		GracePeriod:   time.Duration(s.GraceMs) * time.Millisecond,
		ManualDefault: s.ManualDefault,
	}
	out.StopMask = mask(s.StopBits)

	var err error
	if out.StopGroups, err = groups(s.StopGroups); err != nil {
		return out, fmt.Errorf("stop_groups: %w", err)
	}
	for i, rc := range s.Rules {
		r := safety.Rule{Bit: rc.Bit}
		switch rc.Action {
		case "stop", "":
			r.Action = safety.ActionStop
		case "max":
			r.Action = safety.ActionMax
		default:
			return out, fmt.Errorf("rule %d: unknown action %q", i, rc.Action)
		}
		if r.Groups, err = groups(rc.Groups); err != nil {
			return out, fmt.Errorf("rule %d: %w", i, err)
		}
		out.Rules = append(out.Rules, r)
	}
	if len(s.SemiAutoPair) != 0 {
		if len(s.SemiAutoPair) != 2 {
			return out, fmt.Errorf("semi_auto_pair: want 2 groups, got %d", len(s.SemiAutoPair))
		}
		pair, err := groups(s.SemiAutoPair)
		if err != nil {
			return out, fmt.Errorf("semi_auto_pair: %w", err)
		}
		out.SemiAutoPair = [2]actuator.Group{pair[0], pair[1]}
	}
	if s.Redundancy.Group != "" {
		g, err := actuator.ParseGroup(s.Redundancy.Group)
		if err != nil {
			return out, fmt.Errorf("redundancy: %w", err)
		}
		out.Redundant = g
	}
	sw := s.Redundancy.Switchover
	out.Switchover = safety.Switchover{Blend: sw.Blend, Ramp: sw.Ramp, Drain: sw.Drain}
	return out, nil
}

// StopMask returns the FAILURE bits that stop the pumps.
func (c *Config) StopMask() uint32 { return mask(c.Safety.StopBits) }

// RedundancyInterval returns the rotation interval.
func (c *Config) RedundancyInterval() (safety.Interval, error) {
	r := c.Safety.Redundancy
	unit, err := safety.ParseUnit(r.Unit)
	if err != nil {
		return safety.Interval{}, err
	}
	if r.Interval <= 0 {
		return safety.Interval{}, safety.ErrInterval
	}
	return safety.Interval{Count: r.Interval, Unit: unit}, nil
}

// ActuatorTopology builds the group membership.
func (c *Config) ActuatorTopology() (actuator.Topology, error) {
	topo := make(actuator.Topology, len(c.Topology))
	for name, ids := range c.Topology {
		g, err := actuator.ParseGroup(name)
		if err != nil {
			return nil, fmt.Errorf("topology: %w", err)
		}
		devs := make([]actuator.Device, len(ids))
		for i, id := range ids {
			if id < 0 || id > 0xFF {
				return nil, fmt.Errorf("topology: %s device %d out of range", name, id)
			}
			devs[i] = actuator.Device(id)
		}
		topo[g] = devs
	}
	return topo, nil
}

// Codes builds the error log code maps.
func (c *Config) Codes() errlog.Codes {
	codes := errlog.Codes{
		Abnormal: make(map[sensor.ID]uint16, len(c.ErrLog.Codes)),
		Recover:  make(map[sensor.ID]uint16, len(c.ErrLog.Codes)),
	}
	for _, cc := range c.ErrLog.Codes {
		id := sensor.ID(cc.Sensor)
		if cc.Abnormal != 0 {
			codes.Abnormal[id] = cc.Abnormal
		}
		if cc.Recover != 0 {
			codes.Recover[id] = cc.Recover
		}
	}
	return codes
}

// LEDLines maps panel LEDs to GPIO lines.
func (c *Config) LEDLines() (map[led.ID]int, error) {
	lines := make(map[led.ID]int, len(c.GPIO.LEDs))
	for name, line := range c.GPIO.LEDs {
		id, err := led.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("gpio: %w", err)
		}
		lines[id] = line
	}
	return lines, nil
}

// OutputLines returns every GPIO line the controller drives.
func (c *Config) OutputLines() []int {
	var lines []int
	for _, l := range c.GPIO.LEDs {
		lines = append(lines, l)
	}
	return append(lines, c.GPIO.Ready...)
}

// Points builds the sensor hub register map.
func (c *Config) Points() map[sensor.ID]sensor.Point {
	points := make(map[sensor.ID]sensor.Point, len(c.Modbus.Sensors.Points))
	for _, pc := range c.Modbus.Sensors.Points {
		points[sensor.ID(pc.Sensor)] = sensor.Point{Address: pc.Address, Scale: pc.Scale, Signed: pc.Signed}
	}
	return points
}

// Channels builds the PWM controller register map.
func (c *Config) Channels() map[actuator.Device]actuator.Channel {
	ch := make(map[actuator.Device]actuator.Channel, len(c.Modbus.Actuators.Channels))
	for _, cc := range c.Modbus.Actuators.Channels {
		out := actuator.Channel{DutyRegister: cc.Duty}
		if cc.PowerGood != nil {
			out.PowerGood = *cc.PowerGood
			out.HasPowerGood = true
		}
		if cc.FaultPWM != nil {
			out.FaultPWM = *cc.FaultPWM
			out.HasFaultPWM = true
		}
		if cc.PowerGoodOut != nil {
			out.PowerGoodOut = *cc.PowerGoodOut
			out.HasPowerGoodOut = true
		}
		ch[actuator.Device(cc.Device)] = out
	}
	return ch
}

// SensorIDs returns every sensor the controller reads, each once, in
// table order: zone inputs, threshold entries, then error log context.
func (c *Config) SensorIDs() []sensor.ID {
	seen := make(map[sensor.ID]bool)
	var ids []sensor.ID
	add := func(raw uint16) {
		id := sensor.ID(raw)
		if raw == 0 || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}
	for _, z := range c.FSC.Zones {
		for _, s := range z.Stepwise {
			add(s.Sensor)
		}
		for _, p := range z.PID {
			add(p.Sensor)
		}
	}
	for _, e := range c.Threshold.Entries {
		add(e.Sensor)
	}
	ctx := c.ErrLog.Context
	for _, s := range []uint16{ctx.OutletTemp, ctx.OutletPress, ctx.FlowRate, ctx.Volt} {
		add(s)
	}
	return ids
}

// Durations.

func (c *Config) FSCTick() time.Duration {
	return time.Duration(c.FSC.TickMs) * time.Millisecond
}

func (c *Config) ThresholdInterval() time.Duration {
	return time.Duration(c.Threshold.IntervalMs) * time.Millisecond
}

func (c *Config) StartDelay() time.Duration {
	return time.Duration(c.Threshold.StartDelayMs) * time.Millisecond
}

func (c *Config) SensorPoll() time.Duration {
	return time.Duration(c.Modbus.Sensors.PollMs) * time.Millisecond
}

func groups(names []string) ([]actuator.Group, error) {
	out := make([]actuator.Group, 0, len(names))
	for _, n := range names {
		g, err := actuator.ParseGroup(n)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func mask(bits []uint8) uint32 {
	var m uint32
	for _, b := range bits {
		if b < 32 {
			m |= 1 << b
		}
	}
	return m
}
