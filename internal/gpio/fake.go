package gpio

import (
	"fmt"
	"sync"
)

// Write is one recorded Set call.
type Write struct {
	Line int
	High bool
}

// FakeWriter is a test double that records every line change.
type FakeWriter struct {
	mu     sync.Mutex
	levels map[int]bool

	// Writes lists every Set call in order.
	Writes []Write

	// Closed tracks if Close was called.
	Closed bool

	// SetError, if set, is returned by Set.
	SetError error
}

// NewFakeWriter creates a FakeWriter with every line low.
func NewFakeWriter() *FakeWriter {
	return &FakeWriter{levels: make(map[int]bool)}
}

// Set records the write.
func (f *FakeWriter) Set(line int, high bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	if line < 0 {
		return fmt.Errorf("%w: %d", ErrUnknownLine, line)
	}
	f.levels[line] = high
	f.Writes = append(f.Writes, Write{Line: line, High: high})
	return nil
}

// Get returns the last level written to line.
func (f *FakeWriter) Get(line int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels[line], nil
}

// Level is Get without the error, for tests.
func (f *FakeWriter) Level(line int) bool {
	v, _ := f.Get(line)
	return v
}

// Close marks the writer as closed.
func (f *FakeWriter) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// Reset clears recorded writes and levels.
func (f *FakeWriter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels = make(map[int]bool)
	f.Writes = nil
	f.Closed = false
}
