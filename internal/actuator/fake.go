package actuator

import "sync"

// Write records one device write.
type Write struct {
	Device Device
	Duty   int
}

// FakeWriter records device writes for test assertions.
type FakeWriter struct {
	mu sync.Mutex

	// Writes contains every write in order.
	Writes []Write

	// WriteError, if set, is returned by WriteDuty.
	WriteError error

	// Bad lists devices reporting bad power.
	Bad map[Device]bool

	// Faults lists every SignalBoardFault call in order.
	Faults []Device
}

// NewFakeWriter creates a FakeWriter.
func NewFakeWriter() *FakeWriter {
	return &FakeWriter{Bad: make(map[Device]bool)}
}

// WriteDuty records the write.
func (f *FakeWriter) WriteDuty(d Device, duty int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteError != nil {
		return f.WriteError
	}
	f.Writes = append(f.Writes, Write{Device: d, Duty: duty})
	return nil
}

// PowerGood reports false for devices listed in Bad.
func (f *FakeWriter) PowerGood(d Device) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.Bad[d], nil
}

// SignalBoardFault records the device.
func (f *FakeWriter) SignalBoardFault(d Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Faults = append(f.Faults, d)
	return nil
}

// Last returns the last duty written to d, or -1.
func (f *FakeWriter) Last(d Device) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.Writes) - 1; i >= 0; i-- {
		if f.Writes[i].Device == d {
			return f.Writes[i].Duty
		}
	}
	return -1
}

// Reset clears recorded writes.
func (f *FakeWriter) Reset() {
	f.mu.Lock()
	f.Writes = nil
	f.mu.Unlock()
}
