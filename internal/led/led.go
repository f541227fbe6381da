// Package led drives the front-panel LEDs over GPIO lines.
package led

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/sweeney/cdu-controller/internal/gpio"
)

// ErrUnknownLED is returned for an LED with no line assigned.
var ErrUnknownLED = errors.New("led: unknown led")

// ID names a panel LED.
type ID uint8

const (
	Power ID = iota
	Fault
	Leak
	Coolant
	numLEDs
)

var names = [numLEDs]string{"power", "fault", "leak", "coolant"}

func (id ID) String() string {
	if id < numLEDs {
		return names[id]
	}
	return fmt.Sprintf("led(%d)", uint8(id))
}

// Parse converts an LED name into an ID.
func Parse(s string) (ID, error) {
	for i, n := range names {
		if n == s {
			return ID(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLED, s)
}

// State is what an LED is doing.
type State uint8

const (
	Off State = iota
	On
	Blinking
)

func (s State) String() string {
	switch s {
	case On:
		return "on"
	case Blinking:
		return "blink"
	default:
		return "off"
	}
}

// Panel tracks the state of every LED. Blinking LEDs toggle on each
// Tick, so a one second caller gives a one second blink.
type Panel struct {
	w     gpio.Writer
	lines map[ID]int

	mu     sync.Mutex
	states map[ID]State
	lit    map[ID]bool
}

// NewPanel creates a panel with every LED off. lines maps each LED to its
// GPIO line; LEDs absent from it are rejected.
func NewPanel(w gpio.Writer, lines map[ID]int) *Panel {
	return &Panel{
		w:      w,
		lines:  lines,
		states: make(map[ID]State),
		lit:    make(map[ID]bool),
	}
}

// On lights the LED and stops any blink.
func (p *Panel) On(id ID) error {
	return p.set(id, On)
}

// Off turns the LED off and stops any blink.
func (p *Panel) Off(id ID) error {
	return p.set(id, Off)
}

// Blink starts blinking. Calling it on a blinking LED does nothing.
func (p *Panel) Blink(id ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.lines[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLED, id)
	}
	if p.states[id] == Blinking {
		return nil
	}
	p.states[id] = Blinking
	return nil
}

// StopBlink stops a blink and leaves the LED off. The LED keeps its
// state when it was not blinking.
func (p *Panel) StopBlink(id ID) error {
	p.mu.Lock()
	blinking := p.states[id] == Blinking
	p.mu.Unlock()
	if !blinking {
		return nil
	}
	return p.set(id, Off)
}

// State returns what the LED is doing.
func (p *Panel) State(id ID) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.states[id]
}

// States returns every LED state keyed by name.
func (p *Panel) States() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.lines))
	for id := range p.lines {
		out[id.String()] = p.states[id].String()
	}
	return out
}

// Tick toggles every blinking LED.
func (p *Panel) Tick() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, st := range p.states {
		if st != Blinking {
			continue
		}
		if err := p.drive(id, !p.lit[id]); err != nil {
			log.Printf("led: blink %s: %v", id, err)
		}
	}
}

func (p *Panel) set(id ID, st State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.lines[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLED, id)
	}
	p.states[id] = st
	return p.drive(id, st == On)
}

func (p *Panel) drive(id ID, lit bool) error {
	if err := p.w.Set(p.lines[id], lit); err != nil {
		return fmt.Errorf("led %s: %w", id, err)
	}
	p.lit[id] = lit
	return nil
}
