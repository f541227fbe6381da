// Package status holds the unit's status registers, the sticky fault
// flags, and a thread-safe tracker of controller state for the HTTP
// handlers and MQTT system events.
package status

import (
	"sync"
	"time"
)

// Config contains daemon configuration for display.
type Config struct {
	FSCIntervalMs       int64
	ThresholdIntervalMs int64
	HeartbeatMs         int64
	Broker              string
	HTTPPort            string
}

// ZoneInfo is the observable state of one control zone.
type ZoneInfo struct {
	ID     uint8
	Target string
	State  string
	Duty   int
}

// ThresholdInfo is the observable state of one threshold entry.
type ThresholdInfo struct {
	Sensor   string
	Name     string
	Mode     string
	Category string
	Status   string
}

// Flags are the runtime switches of the controller.
type Flags struct {
	Control    bool
	Monitor    bool
	Polling    bool
	Redundancy string
}

// Snapshot is a point-in-time view of controller state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	InstanceID    string
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Flags         Flags
	Zones         []ZoneInfo
	Thresholds    []ThresholdInfo
	Registers     map[string]uint32
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable controller state behind an RWMutex. Register
// values are read live from regs when a snapshot is taken.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	regs *Registers
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(instanceID string, startTime time.Time, cfg Config, regs *Registers) *Tracker {
	return &Tracker{
		regs: regs,
		snap: Snapshot{
			InstanceID: instanceID,
			StartTime:  startTime,
			Config:     cfg,
		},
	}
}

// SetZones replaces the zone view. Called after every FSC tick.
func (t *Tracker) SetZones(zones []ZoneInfo) {
	t.mu.Lock()
	t.snap.Zones = zones
	t.mu.Unlock()
}

// SetThresholds replaces the threshold view.
func (t *Tracker) SetThresholds(entries []ThresholdInfo) {
	t.mu.Lock()
	t.snap.Thresholds = entries
	t.mu.Unlock()
}

// SetFlags records the controller switches.
func (t *Tracker) SetFlags(f Flags) {
	t.mu.Lock()
	t.snap.Flags = f
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the controller state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Zones = append([]ZoneInfo(nil), t.snap.Zones...)
	s.Thresholds = append([]ThresholdInfo(nil), t.snap.Thresholds...)
	t.mu.RUnlock()
	if t.regs != nil {
		s.Registers = t.regs.Snapshot()
	}
	s.Now = time.Now()
	return s
}
