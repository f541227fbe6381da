package config

import (
	"fmt"

	"github.com/sweeney/cdu-controller/internal/actuator"
	"github.com/sweeney/cdu-controller/internal/threshold"
)

// Validate checks configuration correctness. It runs every builder, so
// a table that would fail to build is rejected here, and adds the
// cross-table checks the builders do not make. It does not mutate cfg.
func Validate(cfg *Config) error {
	if cfg.FSC.TickMs <= 0 {
		return fmt.Errorf("fsc: tick_ms must be positive")
	}
	if cfg.Threshold.IntervalMs <= 0 {
		return fmt.Errorf("threshold: interval_ms must be positive")
	}
	if d := cfg.Threshold.StartupDuty; d < 0 || d > actuator.MaxDuty {
		return fmt.Errorf("threshold: startup_duty %d out of range", d)
	}
	if d := cfg.Safety.ManualDefault; d < 0 || d > actuator.MaxDuty {
		return fmt.Errorf("safety: manual_default %d out of range", d)
	}

	topo, err := cfg.ActuatorTopology()
	if err != nil {
		return err
	}
	owner := make(map[actuator.Device]actuator.Group)
	for g, devs := range topo {
		if g == actuator.GroupNone {
			return fmt.Errorf("topology: group none cannot have members")
		}
		for _, d := range devs {
			if prev, ok := owner[d]; ok {
				return fmt.Errorf("topology: device %d in both %s and %s", d, prev, g)
			}
			owner[d] = g
		}
	}

	zones, err := cfg.Zones()
	if err != nil {
		return err
	}
	ids := make(map[uint8]bool)
	for _, z := range zones {
		if ids[z.ID] {
			return fmt.Errorf("zone %d: duplicate id", z.ID)
		}
		ids[z.ID] = true
		if z.Interval <= 0 {
			return fmt.Errorf("zone %d: interval must be positive", z.ID)
		}
		if z.OutMin < 0 || z.OutMax > actuator.MaxDuty || z.OutMin > z.OutMax {
			return fmt.Errorf("zone %d: output range [%d,%d] invalid", z.ID, z.OutMin, z.OutMax)
		}
		if z.SlewPos < 0 || z.SlewNeg < 0 {
			return fmt.Errorf("zone %d: slew limits must not be negative", z.ID)
		}
		if z.Target != actuator.GroupNone && len(topo[z.Target]) == 0 {
			return fmt.Errorf("zone %d: target %s has no devices", z.ID, z.Target)
		}
		for _, s := range z.Stepwise {
			for i := 1; i < len(s.Steps); i++ {
				if s.Steps[i].Temp == 0 {
					break
				}
				if s.Steps[i].Temp < s.Steps[i-1].Temp {
					return fmt.Errorf("zone %d: stepwise %s breakpoints not ascending", z.ID, s.Sensor)
				}
			}
		}
		for _, p := range z.PID {
			if p.IMin > p.IMax {
				return fmt.Errorf("zone %d: pid %s integral range [%g,%g] invalid", z.ID, p.Sensor, p.IMin, p.IMax)
			}
			if p.Feature != nil && *p.Feature >= 32 {
				return fmt.Errorf("zone %d: pid %s feature bit %d out of range", z.ID, p.Sensor, *p.Feature)
			}
		}
	}

	entries, err := cfg.Entries()
	if err != nil {
		return err
	}
	sensors := make(map[uint16]string)
	for i, e := range entries {
		ec := cfg.Threshold.Entries[i]
		if prev, ok := sensors[ec.Sensor]; ok {
			return fmt.Errorf("threshold %s: sensor %s already used by %s", e.Name, e.Sensor, prev)
		}
		sensors[ec.Sensor] = e.Name
		if e.Arg.Bit >= 32 {
			return fmt.Errorf("threshold %s: bit %d out of range", e.Name, e.Arg.Bit)
		}
		if e.Mode == threshold.ModeBoth && e.Lower > e.Upper {
			return fmt.Errorf("threshold %s: lower %g above upper %g", e.Name, e.Lower, e.Upper)
		}
		if needsRegister(e.Category) && ec.Register == "" {
			return fmt.Errorf("threshold %s: category %s needs a register", e.Name, e.Category)
		}
	}

	sc, err := cfg.SafetyConfig()
	if err != nil {
		return fmt.Errorf("safety: %w", err)
	}
	for _, b := range cfg.Safety.StopBits {
		if b >= 32 {
			return fmt.Errorf("safety: stop bit %d out of range", b)
		}
	}
	for i, r := range sc.Rules {
		if r.Bit >= 32 {
			return fmt.Errorf("safety: rule %d: bit %d out of range", i, r.Bit)
		}
	}
	if sc.Switchover.Blend < 0 || sc.Switchover.Ramp < 0 || sc.Switchover.Drain < 0 {
		return fmt.Errorf("safety: redundancy: negative switchover length %+v", sc.Switchover)
	}
	if sc.Redundant != actuator.GroupNone {
		if _, err := cfg.RedundancyInterval(); err != nil {
			return fmt.Errorf("safety: redundancy: %w", err)
		}
		if n := len(topo[sc.Redundant]); n < 3 {
			return fmt.Errorf("safety: redundant group %s has %d members, want 3", sc.Redundant, n)
		}
	}

	if _, err := cfg.LEDLines(); err != nil {
		return err
	}
	lines := make(map[int]bool)
	for _, l := range cfg.OutputLines() {
		if lines[l] {
			return fmt.Errorf("gpio: line %d assigned twice", l)
		}
		lines[l] = true
	}
	return nil
}

// needsRegister reports whether a category's handler writes Arg.Register.
func needsRegister(c threshold.Category) bool {
	switch c {
	case threshold.CategoryNone, threshold.CategoryLowLevel, threshold.CategoryHighLevel:
		return false
	}
	return true
}
