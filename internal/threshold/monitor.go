package threshold

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/cdu-controller/internal/sensor"
)

// Readiness reports whether the sensor subsystem may be trusted.
// sensor.Cache implements it.
type Readiness interface {
	InitDone() bool
	Polling() bool
}

// Warmup is applied once, after Delay has passed since the monitor was
// created and before the first classification pass.
type Warmup struct {
	Delay time.Duration
	Duty  int
	Apply func(duty int)
}

// Monitor classifies every entry on each Poll. Poll must be called from
// a single goroutine; SetEnabled and the accessors are safe from any.
type Monitor struct {
	entries []*Entry
	src     sensor.Source
	ready   Readiness
	disp    Dispatcher
	now     func() time.Time

	warmup   Warmup
	startAt  time.Time
	warmedUp bool

	enabled atomic.Bool

	mu     sync.Mutex
	counts Counts
}

// New creates an enabled monitor. Entries with a disabled mode are kept
// but never transition.
func New(entries []*Entry, src sensor.Source, ready Readiness, disp Dispatcher) *Monitor {
	m := &Monitor{
		entries: entries,
		src:     src,
		ready:   ready,
		disp:    disp,
		now:     time.Now,
	}
	m.enabled.Store(true)
	for _, e := range entries {
		if e.Mode == ModeDisabled {
			log.Printf("threshold: %s (%s) mode disabled, not monitored", e.Name, e.Sensor)
		}
	}
	return m
}

// SetWarmup configures the start delay and the startup duty. It must be
// called before the first Poll.
func (m *Monitor) SetWarmup(w Warmup) {
	m.warmup = w
	m.startAt = m.now().Add(w.Delay)
}

// SetEnabled turns classification on or off. Last statuses are kept.
func (m *Monitor) SetEnabled(on bool) {
	m.enabled.Store(on)
}

// Enabled reports whether classification is on.
func (m *Monitor) Enabled() bool {
	return m.enabled.Load()
}

// Entries returns the monitored entries.
func (m *Monitor) Entries() []*Entry {
	return m.entries
}

// Counts returns the transitions seen since start.
func (m *Monitor) Counts() Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts
}

// WarmedUp reports whether the start delay has elapsed.
func (m *Monitor) WarmedUp() bool {
	return m.warmedUp
}

// Poll runs one classification pass and returns the transitions it
// dispatched. It does nothing until the start delay has passed, or while
// the monitor is disabled or sensors are not ready.
func (m *Monitor) Poll() []Event {
	now := m.now()
	if !m.warmedUp {
		if now.Before(m.startAt) {
			return nil
		}
		m.warmedUp = true
		if m.warmup.Apply != nil {
			log.Printf("threshold: warm-up done, setting all groups to %d%%", m.warmup.Duty)
			m.warmup.Apply(m.warmup.Duty)
		}
	}

	if !m.enabled.Load() {
		return nil
	}
	if m.ready != nil && (!m.ready.InitDone() || !m.ready.Polling()) {
		return nil
	}

	var events []Event
	for _, e := range m.entries {
		if m.src.LastStatus(e.Sensor) != sensor.StatusOK {
			continue
		}
		v, st := m.src.Read(e.Sensor)
		if st != sensor.StatusOK {
			continue
		}
		next, ok := e.Classify(v)
		if !ok {
			continue
		}
		prev := e.LastStatus()
		if prev == next {
			continue
		}
		e.last.Store(uint32(next))

		ev := Event{
			Time:     now,
			Sensor:   e.Sensor,
			Name:     e.Name,
			Category: e.Category,
			Arg:      e.Arg,
			Previous: prev,
			Status:   next,
			Value:    v,
		}
		log.Printf("threshold: %s (%s) %s -> %s at %.2f", e.Name, e.Sensor, prev, next, v)
		m.mu.Lock()
		m.counts.add(next)
		m.mu.Unlock()

		if e.Category != CategoryNone && m.disp != nil {
			m.disp.Dispatch(ev)
		}
		events = append(events, ev)
	}

	if s, ok := m.disp.(Settler); ok {
		s.Settle()
	}
	return events
}

// Reset returns every entry to NORMAL.
func (m *Monitor) Reset() {
	for _, e := range m.entries {
		e.Reset()
	}
}
