package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string            `json:"event,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Instance      string            `json:"instance"`
	Control       bool              `json:"control"`
	Monitor       bool              `json:"monitor"`
	Polling       bool              `json:"polling"`
	Redundancy    string            `json:"redundancy"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	StartTime     string            `json:"start_time"`
	Timestamp     string            `json:"timestamp"`
	MQTT          MQTTStatus        `json:"mqtt"`
	Zones         []ZoneJSON        `json:"zones"`
	Thresholds    []ThresholdJSON   `json:"thresholds"`
	Registers     map[string]uint32 `json:"registers,omitempty"`
	Config        ConfigJSON        `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ZoneJSON is the JSON representation of a zone.
type ZoneJSON struct {
	ID     uint8  `json:"id"`
	Target string `json:"target"`
	State  string `json:"state"`
	Duty   int    `json:"duty"`
}

// ThresholdJSON is the JSON representation of a threshold entry.
type ThresholdJSON struct {
	Sensor   string `json:"sensor"`
	Name     string `json:"name"`
	Mode     string `json:"mode"`
	Category string `json:"category"`
	Status   string `json:"status"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	FSCIntervalMs       int64  `json:"fsc_interval_ms"`
	ThresholdIntervalMs int64  `json:"threshold_interval_ms"`
	HeartbeatMs         int64  `json:"heartbeat_ms"`
	Broker              string `json:"broker"`
	HTTPPort            string `json:"http_port"`
}

func buildInner(snap Snapshot) StatusInner {
	redundancy := snap.Flags.Redundancy
	if redundancy == "" {
		redundancy = "UNKNOWN"
	}

	inner := StatusInner{
		Instance:      snap.InstanceID,
		Control:       snap.Flags.Control,
		Monitor:       snap.Flags.Monitor,
		Polling:       snap.Flags.Polling,
		Redundancy:    redundancy,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Zones:         make([]ZoneJSON, 0, len(snap.Zones)),
		Thresholds:    make([]ThresholdJSON, 0, len(snap.Thresholds)),
		Config: ConfigJSON{
			FSCIntervalMs:       snap.Config.FSCIntervalMs,
			ThresholdIntervalMs: snap.Config.ThresholdIntervalMs,
			HeartbeatMs:         snap.Config.HeartbeatMs,
			Broker:              snap.Config.Broker,
			HTTPPort:            snap.Config.HTTPPort,
		},
	}
	for _, z := range snap.Zones {
		inner.Zones = append(inner.Zones, ZoneJSON(z))
	}
	for _, e := range snap.Thresholds {
		inner.Thresholds = append(inner.Thresholds, ThresholdJSON(e))
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint, including
// register values.
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	inner.Registers = snap.Registers

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
