package mqtt

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/cdu-controller/internal/threshold"
)

func pumpEvent() threshold.Event {
	return threshold.Event{
		Time:     time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Sensor:   0x2A,
		Name:     "pump1_tach",
		Category: threshold.CategoryPumpFailure,
		Previous: threshold.StatusNormal,
		Status:   threshold.StatusLCR,
		Value:    120,
	}
}

func TestFormatPayload(t *testing.T) {
	payload, err := FormatPayload(pumpEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	got := parsed.Threshold
	if got.Timestamp != "2026-02-02T22:18:12Z" {
		t.Errorf("unexpected timestamp: %s", got.Timestamp)
	}
	if got.Sensor != "0x2A" {
		t.Errorf("sensor: got %s, want 0x2A", got.Sensor)
	}
	if got.Category != "pump_failure" {
		t.Errorf("category: got %s, want pump_failure", got.Category)
	}
	if got.Previous != "NORMAL" || got.Status != "LCR" {
		t.Errorf("transition: got %s -> %s, want NORMAL -> LCR", got.Previous, got.Status)
	}
	if got.Value != 120 {
		t.Errorf("value: got %v, want 120", got.Value)
	}
}

func TestFormatPayloadAllStatuses(t *testing.T) {
	tests := []struct {
		status threshold.Status
		want   string
	}{
		{threshold.StatusNormal, "NORMAL"},
		{threshold.StatusLCR, "LCR"},
		{threshold.StatusUCR, "UCR"},
		{threshold.StatusNotPresent, "NOT_PRESENT"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			e := pumpEvent()
			e.Status = tt.status
			payload, err := FormatPayload(e)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(string(payload), `"status":"`+tt.want+`"`) {
				t.Errorf("payload %s missing status %s", payload, tt.want)
			}
		})
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()

	if err := f.Publish(pumpEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(f.Events))
	}
	if f.Events[0].Name != "pump1_tach" {
		t.Errorf("unexpected event: %s", f.Events[0].Name)
	}
	if len(f.Payloads) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(f.Payloads))
	}
}

func TestFakePublisherError(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("simulated error")

	if err := f.Publish(pumpEvent()); err == nil {
		t.Error("expected error")
	}
	if len(f.Events) != 0 {
		t.Errorf("expected no events recorded on error, got %d", len(f.Events))
	}
}

func TestFakePublisherReset(t *testing.T) {
	f := NewFakePublisher()
	f.Publish(pumpEvent())
	f.PublishSystem(SystemEvent{Event: "STARTUP"})
	f.Close()
	f.PublishError = errors.New("error")

	f.Reset()

	if len(f.Events) != 0 || len(f.SystemEvents) != 0 {
		t.Error("events should be cleared")
	}
	if f.Closed {
		t.Error("closed should be reset")
	}
	if f.PublishError != nil {
		t.Error("error should be cleared")
	}
}

func TestSystemEventNames(t *testing.T) {
	f := NewFakePublisher()
	f.PublishSystem(SystemEvent{Event: "STARTUP"})
	f.PublishSystem(SystemEvent{Event: "HEARTBEAT"})
	got := f.SystemEventNames()
	if len(got) != 2 || got[0] != "STARTUP" || got[1] != "HEARTBEAT" {
		t.Errorf("got %v, want [STARTUP HEARTBEAT]", got)
	}
}

func TestTopics(t *testing.T) {
	if Topic != "cdu/controller/events" {
		t.Errorf("unexpected topic: %s", Topic)
	}
	if TopicSystem != "cdu/controller/system" {
		t.Errorf("unexpected system topic: %s", TopicSystem)
	}
}

func TestClientID(t *testing.T) {
	a, b := ClientID(), ClientID()
	if !strings.HasPrefix(a, "cdu-controller-") || len(a) != len("cdu-controller-")+8 {
		t.Errorf("unexpected client id: %s", a)
	}
	if a == b {
		t.Error("client ids should differ")
	}
}

func TestFormatSystemPayloadExactJSON(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 3, 10, 30, 45, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-03T10:30:45Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatSystemPayloadOmitsReason(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	system := parsed["system"].(map[string]interface{})
	if _, exists := system["reason"]; exists {
		t.Error("reason field should be omitted when empty")
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"status":{"event":"HEARTBEAT"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "HEARTBEAT", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("got %s, want raw payload", payload)
	}
}
