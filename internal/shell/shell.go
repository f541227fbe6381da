// Package shell provides the interactive diagnostics console of the
// cdu-controller daemon.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/sweeney/cdu-controller/internal/actuator"
	"github.com/sweeney/cdu-controller/internal/controller"
	"github.com/sweeney/cdu-controller/internal/errlog"
	"github.com/sweeney/cdu-controller/internal/safety"
	"github.com/sweeney/cdu-controller/internal/status"
)

// Controller is the set of controller operations the shell drives.
// *controller.Controller implements it.
type Controller interface {
	Snapshot() status.Snapshot

	Register(reg status.Register) (uint32, error)
	SetRegister(reg status.Register, bit uint8, value uint32) error

	Groups() []actuator.Group
	Duty(g actuator.Group) (controller.GroupDuty, error)
	ForceGroupDuty(g actuator.Group, duty int) error
	ForceDeviceDuty(d actuator.Device, duty int) error
	Release(g actuator.Group) error
	ReleaseAll()

	SetControl(on bool)
	SetMonitor(on bool)
	SetPolling(on bool)

	Redundancy() (controller.RedundancyInfo, error)
	SetRedundancy(on bool) error
	SetRedundancyInterval(i safety.Interval) error

	Sticky(idx int) (uint16, error)
	SetSticky(idx int, value uint16) error

	ErrorLog() []errlog.Record
	ErrorRecord(n int) (errlog.Record, error)
	ClearErrorLog() error

	LEDs() map[string]string
}

// ErrUsage is returned for a malformed command line.
var ErrUsage = errors.New("usage")

// Shell runs diagnostics commands against a controller.
type Shell struct {
	ctl Controller
	rl  *readline.Instance
}

// New creates a shell reading from the terminal.
func New(ctl Controller) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "cdu> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Shell{ctl: ctl, rl: rl}, nil
}

// Stdout returns a writer that coordinates with the prompt. Route log
// output here while the shell runs.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Run reads commands until EOF, quit or ctx is done. cancel is called
// when the operator exits.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	out := s.rl.Stdout()
	fmt.Fprintln(out, "cdu-controller diagnostics, type 'help' for commands")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(out, "Exiting...")
			cancel()
			return
		}

		quit, err := Exec(s.ctl, out, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		if quit {
			fmt.Fprintln(out, "Exiting...")
			cancel()
			return
		}
	}
}

// Close releases the terminal.
func (s *Shell) Close() error {
	return s.rl.Close()
}

func completer() *readline.PrefixCompleter {
	groups := func() []readline.PrefixCompleterInterface {
		var items []readline.PrefixCompleterInterface
		for _, g := range actuator.Groups() {
			items = append(items, readline.PcItem(g.String()))
		}
		return items
	}
	var regs []readline.PrefixCompleterInterface
	for _, r := range status.AllRegisters() {
		regs = append(regs, readline.PcItem(r.String()))
	}
	onoff := func() []readline.PrefixCompleterInterface {
		return []readline.PrefixCompleterInterface{readline.PcItem("on"), readline.PcItem("off")}
	}

	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("status"),
		readline.PcItem("duty",
			readline.PcItem("get", groups()...),
			readline.PcItem("set", groups()...),
			readline.PcItem("device"),
			readline.PcItem("release", append(groups(), readline.PcItem("all"))...),
		),
		readline.PcItem("control", onoff()...),
		readline.PcItem("monitor", onoff()...),
		readline.PcItem("poll", onoff()...),
		readline.PcItem("redundancy", append(onoff(), readline.PcItem("interval"))...),
		readline.PcItem("reg",
			readline.PcItem("get", regs...),
			readline.PcItem("set", regs...),
		),
		readline.PcItem("sticky", readline.PcItem("get"), readline.PcItem("set")),
		readline.PcItem("errlog", readline.PcItem("clear")),
		readline.PcItem("leds"),
		readline.PcItem("quit"),
	)
}

// Exec runs one command line, writing its output to w. It reports
// whether the operator asked to quit.
func Exec(ctl Controller, w io.Writer, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help", "?":
		printHelp(w)
	case "status", "s":
		return false, cmdStatus(ctl, w)
	case "duty", "d":
		return false, cmdDuty(ctl, w, args)
	case "control":
		return false, cmdToggle(w, cmd, "control", ctl.SetControl, args)
	case "monitor":
		return false, cmdToggle(w, cmd, "threshold monitor", ctl.SetMonitor, args)
	case "poll":
		return false, cmdToggle(w, cmd, "sensor polling", ctl.SetPolling, args)
	case "redundancy", "red":
		return false, cmdRedundancy(ctl, w, args)
	case "reg", "r":
		return false, cmdRegister(ctl, w, args)
	case "sticky":
		return false, cmdSticky(ctl, w, args)
	case "errlog", "log":
		return false, cmdErrorLog(ctl, w, args)
	case "leds":
		return false, cmdLEDs(ctl, w)
	case "quit", "exit", "q":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q (type 'help' for commands)", cmd)
	}
	return false, nil
}

func printHelp(w io.Writer) {
	fmt.Fprint(w, `
CDU Controller Commands:
  Outputs:
    duty get [group]              - Show group or all group duties
    duty set <group> <duty>       - Force a group duty (manual override)
    duty device <n> <duty>        - Force one device duty
    duty release <group|all>      - Return to automatic control

  Switches:
    control on|off                - Table-driven fan/pump control
    monitor on|off                - Threshold monitor
    poll on|off                   - Sensor polling
    redundancy [on|off]           - Show or switch pump rotation
    redundancy interval <n> <hour|day>

  Status:
    status                        - Flags, zones, abnormal thresholds
    reg get <name>                - Read a status register
    reg set <name> <bit|all> <v>  - Write a status register bit or value
    sticky get|set <idx> [value]  - Persistent sticky values
    errlog [n|clear]              - Error log (0 is the newest)
    leds                          - LED panel states

    quit                          - Exit the shell
`)
}
