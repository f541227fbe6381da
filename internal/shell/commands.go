package shell

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/cdu-controller/internal/actuator"
	"github.com/sweeney/cdu-controller/internal/controller"
	"github.com/sweeney/cdu-controller/internal/errlog"
	"github.com/sweeney/cdu-controller/internal/safety"
	"github.com/sweeney/cdu-controller/internal/status"
)

func usage(format string) error {
	return fmt.Errorf("%w: %s", ErrUsage, format)
}

func cmdStatus(ctl Controller, w io.Writer) error {
	snap := ctl.Snapshot()
	f := snap.Flags
	fmt.Fprintf(w, "instance %s, up %s\n", snap.InstanceID, snap.Uptime().Truncate(time.Second))
	fmt.Fprintf(w, "control %s, monitor %s, polling %s, redundancy %s, mqtt %s\n",
		onoff(f.Control), onoff(f.Monitor), onoff(f.Polling), f.Redundancy, connected(snap.MQTTConnected))
	for _, z := range snap.Zones {
		fmt.Fprintf(w, "  zone %d -> %-8s %-13s %3d%%\n", z.ID, z.Target, z.State, z.Duty)
	}
	abnormal := 0
	for _, t := range snap.Thresholds {
		if t.Status == "NORMAL" {
			continue
		}
		abnormal++
		fmt.Fprintf(w, "  %-28s %s %s\n", t.Name, t.Sensor, t.Status)
	}
	if abnormal == 0 {
		fmt.Fprintln(w, "  all thresholds normal")
	}
	return nil
}

func cmdDuty(ctl Controller, w io.Writer, args []string) error {
	if len(args) == 0 {
		args = []string{"get"}
	}
	switch args[0] {
	case "get":
		groups := ctl.Groups()
		if len(args) > 1 {
			g, err := parseGroup(args[1])
			if err != nil {
				return err
			}
			groups = []actuator.Group{g}
		}
		for _, g := range groups {
			gd, err := ctl.Duty(g)
			if err != nil {
				return err
			}
			printDuty(w, gd)
		}
		return nil

	case "set":
		if len(args) != 3 {
			return usage("duty set <group> <duty>")
		}
		g, err := parseGroup(args[1])
		if err != nil {
			return err
		}
		duty, err := strconv.Atoi(args[2])
		if err != nil {
			return usage("duty must be a number")
		}
		if err := ctl.ForceGroupDuty(g, duty); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s forced to %d%%\n", g, duty)
		return nil

	case "device":
		if len(args) != 3 {
			return usage("duty device <n> <duty>")
		}
		d, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil {
			return usage("device must be 0..255")
		}
		duty, err := strconv.Atoi(args[2])
		if err != nil {
			return usage("duty must be a number")
		}
		if err := ctl.ForceDeviceDuty(actuator.Device(d), duty); err != nil {
			return err
		}
		fmt.Fprintf(w, "device %d forced to %d%%\n", d, duty)
		return nil

	case "release":
		if len(args) != 2 {
			return usage("duty release <group|all>")
		}
		if args[1] == "all" {
			ctl.ReleaseAll()
			fmt.Fprintln(w, "all groups released")
			return nil
		}
		g, err := parseGroup(args[1])
		if err != nil {
			return err
		}
		if err := ctl.Release(g); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s released\n", g)
		return nil
	}
	return usage("duty get|set|device|release")
}

func printDuty(w io.Writer, gd controller.GroupDuty) {
	mode := "auto"
	if gd.Manual {
		mode = fmt.Sprintf("manual %d%%", gd.ManualDuty)
	}
	if gd.Stopped {
		mode += ", stopped"
	}
	devs := make([]string, 0, len(gd.Devices))
	for _, d := range gd.Devices {
		devs = append(devs, fmt.Sprintf("%d:%d", d.Device, d.Duty))
	}
	fmt.Fprintf(w, "%-8s %3d%% (%s) [%s]\n", gd.Group, gd.Applied, mode, strings.Join(devs, " "))
}

func parseGroup(s string) (actuator.Group, error) {
	g, err := actuator.ParseGroup(s)
	if err != nil {
		return g, err
	}
	if g == actuator.GroupNone {
		return g, fmt.Errorf("%w: none", actuator.ErrUnknownGroup)
	}
	return g, nil
}

func cmdToggle(w io.Writer, cmd, name string, set func(bool), args []string) error {
	if len(args) != 1 {
		return usage(cmd + " on|off")
	}
	on, err := parseOnOff(args[0])
	if err != nil {
		return err
	}
	set(on)
	fmt.Fprintf(w, "%s %s\n", name, onoff(on))
	return nil
}

func cmdRedundancy(ctl Controller, w io.Writer, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "interval":
			if len(args) != 3 {
				return usage("redundancy interval <n> <hour|day>")
			}
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return usage("interval must be a number")
			}
			u, err := safety.ParseUnit(args[2])
			if err != nil {
				return err
			}
			if err := ctl.SetRedundancyInterval(safety.Interval{Count: n, Unit: u}); err != nil {
				return err
			}
		default:
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			if err := ctl.SetRedundancy(on); err != nil {
				return err
			}
		}
	}

	info, err := ctl.Redundancy()
	if err != nil {
		return err
	}
	rested := "none"
	if info.Rested >= 0 {
		rested = strconv.Itoa(info.Rested)
	}
	running := "stopped"
	if info.Running {
		running = "running"
	}
	fmt.Fprintf(w, "redundancy %s, rested member %s, every %s, %s\n", info.State, rested, info.Interval, running)
	return nil
}

func cmdRegister(ctl Controller, w io.Writer, args []string) error {
	if len(args) < 2 {
		return usage("reg get|set <name> ...")
	}
	reg, err := status.ParseRegister(args[1])
	if err != nil {
		return err
	}
	switch args[0] {
	case "get":
	case "set":
		if len(args) != 4 {
			return usage("reg set <name> <bit|all> <value>")
		}
		var bit uint8 = status.WholeRegister
		if args[2] != "all" {
			b, err := strconv.ParseUint(args[2], 10, 8)
			if err != nil || b > 31 {
				return usage("bit must be 0..31 or all")
			}
			bit = uint8(b)
		}
		v, err := strconv.ParseUint(args[3], 0, 32)
		if err != nil {
			return usage("value must be a number")
		}
		if err := ctl.SetRegister(reg, bit, uint32(v)); err != nil {
			return err
		}
	default:
		return usage("reg get|set <name> ...")
	}
	v, err := ctl.Register(reg)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s = 0x%08X\n", reg, v)
	return nil
}

func cmdSticky(ctl Controller, w io.Writer, args []string) error {
	if len(args) < 2 {
		return usage("sticky get|set <idx> [value]")
	}
	idx, err := strconv.Atoi(args[1])
	if err != nil {
		return usage("index must be a number")
	}
	switch args[0] {
	case "get":
	case "set":
		if len(args) != 3 {
			return usage("sticky set <idx> <value>")
		}
		v, err := strconv.ParseUint(args[2], 0, 16)
		if err != nil {
			return usage("value must be 0..65535")
		}
		if err := ctl.SetSticky(idx, uint16(v)); err != nil {
			return err
		}
	default:
		return usage("sticky get|set <idx> [value]")
	}
	v, err := ctl.Sticky(idx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "sticky %d = %d\n", idx, v)
	return nil
}

func cmdErrorLog(ctl Controller, w io.Writer, args []string) error {
	if len(args) == 0 {
		recs := ctl.ErrorLog()
		if len(recs) == 0 {
			fmt.Fprintln(w, "error log empty")
			return nil
		}
		for i, r := range recs {
			printRecord(w, i, r)
		}
		return nil
	}
	if args[0] == "clear" {
		if err := ctl.ClearErrorLog(); err != nil {
			return err
		}
		fmt.Fprintln(w, "error log cleared")
		return nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return usage("errlog [n|clear]")
	}
	r, err := ctl.ErrorRecord(n)
	if err != nil {
		return err
	}
	printRecord(w, n, r)
	return nil
}

func printRecord(w io.Writer, n int, r errlog.Record) {
	fmt.Fprintf(w, "%2d #%-4d code 0x%04X at %ds pump %d%% fan %d%% outlet %dC %dkPa flow %d volt %d\n",
		n, r.Index, r.Code, r.Uptime, r.PumpDuty, r.FanDuty, r.OutletTemp, r.OutletPress, r.FlowRate, r.Volt)
}

func cmdLEDs(ctl Controller, w io.Writer) error {
	leds := ctl.LEDs()
	names := make([]string, 0, len(leds))
	for name := range leds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%-8s %s\n", name, leds[name])
	}
	return nil
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "enable", "1", "true":
		return true, nil
	case "off", "disable", "0", "false":
		return false, nil
	}
	return false, usage("expected on or off")
}

func onoff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func connected(b bool) string {
	if b {
		return "connected"
	}
	return "disconnected"
}
