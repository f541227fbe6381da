// Package mqtt publishes threshold transitions and controller lifecycle
// events, with a fake for tests.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/cdu-controller/internal/threshold"
)

// Topic is the MQTT topic for threshold transitions.
const Topic = "cdu/controller/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "cdu/controller/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a threshold transition to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event threshold.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Threshold ThresholdPayload `json:"threshold"`
}

// ThresholdPayload contains one transition.
type ThresholdPayload struct {
	Timestamp string  `json:"timestamp"`
	Sensor    string  `json:"sensor"`
	Name      string  `json:"name"`
	Category  string  `json:"category"`
	Previous  string  `json:"previous"`
	Status    string  `json:"status"`
	Value     float64 `json:"value"`
}

// FormatPayload creates the JSON payload for a threshold transition.
func FormatPayload(event threshold.Event) ([]byte, error) {
	payload := Payload{
		Threshold: ThresholdPayload{
			Timestamp: event.Time.UTC().Format(time.RFC3339),
			Sensor:    event.Sensor.String(),
			Name:      event.Name,
			Category:  event.Category.String(),
			Previous:  event.Previous.String(),
			Status:    event.Status.String(),
			Value:     event.Value,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
