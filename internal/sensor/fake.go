package sensor

import (
	"errors"
	"sync"
)

// Fake is a test double implementing both Source and Reader.
type Fake struct {
	mu       sync.Mutex
	values   map[ID]float64
	statuses map[ID]Status

	// Reads counts Read calls per sensor.
	Reads map[ID]int
}

// NewFake creates an empty Fake. Unknown sensors report StatusNotReady.
func NewFake() *Fake {
	return &Fake{
		values:   make(map[ID]float64),
		statuses: make(map[ID]Status),
		Reads:    make(map[ID]int),
	}
}

// Set stores an accurate reading.
func (f *Fake) Set(id ID, v float64) {
	f.mu.Lock()
	f.values[id] = v
	f.statuses[id] = StatusOK
	f.mu.Unlock()
}

// SetStatus overrides the status reported for a sensor.
func (f *Fake) SetStatus(id ID, s Status) {
	f.mu.Lock()
	f.statuses[id] = s
	f.mu.Unlock()
}

// Read implements Source.
func (f *Fake) Read(id ID) (float64, Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads[id]++
	st := f.statuses[id]
	if st != StatusOK {
		return 0, st
	}
	return f.values[id], st
}

// LastStatus implements Source.
func (f *Fake) LastStatus(id ID) Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

// ReadSensor implements Reader.
func (f *Fake) ReadSensor(id ID) (float64, error) {
	v, st := f.Read(id)
	if st != StatusOK {
		return 0, errors.New("fake: sensor not available")
	}
	return v, nil
}
