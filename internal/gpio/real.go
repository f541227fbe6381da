//go:build linux

package gpio

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// RealWriter drives output lines on a Linux GPIO character device.
type RealWriter struct {
	chip *gpiocdev.Chip

	mu     sync.Mutex
	lines  map[int]*gpiocdev.Line
	levels map[int]bool
}

// NewRealWriter requests every offset in lines as an output driven low.
func NewRealWriter(chipName string, lines []int) (*RealWriter, error) {
	if chipName == "" {
		chipName = DefaultChip
	}
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	w := &RealWriter{
		chip:   chip,
		lines:  make(map[int]*gpiocdev.Line),
		levels: make(map[int]bool),
	}
	for _, offset := range lines {
		if _, ok := w.lines[offset]; ok {
			continue
		}
		l, err := chip.RequestLine(offset, gpiocdev.AsOutput(0))
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("request line %d: %w", offset, err)
		}
		w.lines[offset] = l
	}
	return w, nil
}

// Set drives line high or low.
func (w *RealWriter) Set(line int, high bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.lines[line]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownLine, line)
	}
	v := 0
	if high {
		v = 1
	}
	if err := l.SetValue(v); err != nil {
		return fmt.Errorf("set line %d: %w", line, err)
	}
	w.levels[line] = high
	return nil
}

// Get returns the last level driven on line.
func (w *RealWriter) Get(line int) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.lines[line]; !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownLine, line)
	}
	return w.levels[line], nil
}

// Close releases GPIO resources.
// Lines are reconfigured as inputs with pull-down before closing so the
// panel is left in its boot state.
func (w *RealWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	for offset, l := range w.lines {
		if err := l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure line %d: %w", offset, err))
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line %d: %w", offset, err))
		}
	}
	w.lines = map[int]*gpiocdev.Line{}
	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		w.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
