// Package gpio drives digital output lines: the front-panel LEDs and the
// unit-ready signals to the rack. The real implementation uses the Linux
// GPIO character device; the fake records writes for tests.
package gpio

import "errors"

// ErrUnknownLine is returned for a line that was not requested.
var ErrUnknownLine = errors.New("gpio: line not requested")

// Writer sets and reads back output lines.
type Writer interface {
	// Set drives line high or low.
	Set(line int, high bool) error

	// Get returns the last level driven on line.
	Get(line int) (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// DefaultChip is the gpiochip holding the panel lines.
const DefaultChip = "gpiochip0"
