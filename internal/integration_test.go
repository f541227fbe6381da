package internal

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweeney/cdu-controller/internal/actuator"
	"github.com/sweeney/cdu-controller/internal/config"
	"github.com/sweeney/cdu-controller/internal/controller"
	"github.com/sweeney/cdu-controller/internal/eeprom"
	"github.com/sweeney/cdu-controller/internal/gpio"
	"github.com/sweeney/cdu-controller/internal/mqtt"
	"github.com/sweeney/cdu-controller/internal/sensor"
	"github.com/sweeney/cdu-controller/internal/status"
)

// rig wires a controller to fake hardware through the real sensor
// poller and cache, the way the daemon does.
type rig struct {
	cfg    *config.Config
	hub    *sensor.Fake
	poller *sensor.Poller
	out    *actuator.FakeWriter
	io     *gpio.FakeWriter
	pub    *mqtt.FakePublisher
	store  eeprom.Store
	ctl    *controller.Controller
}

func newRig(t *testing.T, store eeprom.Store) *rig {
	t.Helper()
	cfg := config.Default()
	cfg.Threshold.StartDelayMs = 0

	hub := sensor.NewFake()
	for _, id := range cfg.SensorIDs() {
		n := uint16(id)
		switch {
		case n >= config.SensorHexFanTach && n < config.SensorInletPressure:
			hub.Set(id, 3000)
		case n == config.SensorCDULeak || n == config.SensorRackLeak:
			hub.Set(id, 0)
		case n == config.SensorRackLevel1 || n == config.SensorRackLevel2:
			hub.Set(id, 1)
		case n == config.SensorSupplyVolt:
			hub.Set(id, 12)
		default:
			hub.Set(id, 30)
		}
	}

	r := &rig{
		cfg:   cfg,
		hub:   hub,
		out:   actuator.NewFakeWriter(),
		io:    gpio.NewFakeWriter(),
		pub:   mqtt.NewFakePublisher(),
		store: store,
	}
	r.boot(t)
	return r
}

// boot starts a fresh controller on the rig's hardware and store.
func (r *rig) boot(t *testing.T) {
	t.Helper()
	cache := sensor.NewCache()
	r.poller = sensor.NewPoller(r.hub, cache, r.cfg.SensorIDs())
	r.poller.PollOnce()

	ctl, err := controller.New(r.cfg, controller.Deps{
		Sensors:    cache,
		Actuators:  r.out,
		PowerGood:  r.out,
		Store:      r.store,
		GPIO:       r.io,
		Publisher:  r.pub,
		Ticks:      func(time.Duration) (<-chan time.Time, func()) { return make(chan time.Time), func() {} },
		InstanceID: "cdu-integration",
		Start:      time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("controller.New: %v", err)
	}
	t.Cleanup(ctl.Close)
	r.ctl = ctl
}

// cycle polls the hub and runs one threshold pass.
func (r *rig) cycle() {
	r.poller.PollOnce()
	r.ctl.TickThreshold()
}

func (r *rig) pumpDuty(t *testing.T) int {
	t.Helper()
	gd, err := r.ctl.Duty(actuator.GroupPump)
	if err != nil {
		t.Fatalf("Duty: %v", err)
	}
	return gd.Applied
}

// TestIntegrationPumpFailureFlow drives a pump tach failure from the
// sensor hub through to MQTT, the error log and the status registers.
func TestIntegrationPumpFailureFlow(t *testing.T) {
	r := newRig(t, eeprom.NewMemory(eeprom.DefaultSize))
	r.cycle()
	if len(r.pub.Events) != 0 {
		t.Fatalf("expected no events at nominal readings, got %d", len(r.pub.Events))
	}

	r.hub.Set(sensor.ID(config.SensorPumpTach+2), 100)
	r.cycle()

	if len(r.pub.Payloads) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(r.pub.Payloads))
	}
	var p mqtt.Payload
	if err := json.Unmarshal(r.pub.Payloads[0], &p); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if p.Threshold.Name != "pump_3_tach" {
		t.Errorf("name: got %q, want %q", p.Threshold.Name, "pump_3_tach")
	}
	if p.Threshold.Category != "pump_failure" {
		t.Errorf("category: got %q, want %q", p.Threshold.Category, "pump_failure")
	}
	if p.Threshold.Previous != "NORMAL" || p.Threshold.Status != "LCR" {
		t.Errorf("transition: got %s -> %s, want NORMAL -> LCR", p.Threshold.Previous, p.Threshold.Status)
	}
	if p.Threshold.Value != 100 {
		t.Errorf("value: got %v, want 100", p.Threshold.Value)
	}

	if !r.ctl.Registers().Bit(status.RegPumpStatus, 2) {
		t.Error("pump 3 status bit should be set")
	}
	if !r.ctl.Registers().Bit(status.RegLEDFault, status.LEDFaultPump) {
		t.Error("pump LED fault bit should be set")
	}
	if recs := r.ctl.ErrorLog(); len(recs) != 1 {
		t.Fatalf("expected 1 error record, got %d", len(recs))
	}

	// Recovery clears the status bit and publishes a second transition.
	r.hub.Set(sensor.ID(config.SensorPumpTach+2), 3000)
	r.cycle()
	if len(r.pub.Events) != 2 {
		t.Fatalf("expected 2 events after recovery, got %d", len(r.pub.Events))
	}
	if r.ctl.Registers().Bit(status.RegPumpStatus, 2) {
		t.Error("pump 3 status bit should clear on recovery")
	}
}

// TestIntegrationAbsentAndFailedSensors checks the two ways a sensor
// can drop out: a hub read failure keeps the last status, and a zero
// tach reads as NOT_PRESENT without an error record.
func TestIntegrationAbsentAndFailedSensors(t *testing.T) {
	r := newRig(t, eeprom.NewMemory(eeprom.DefaultSize))
	r.cycle()

	statusOf := func(name string) string {
		t.Helper()
		for _, th := range r.ctl.Snapshot().Thresholds {
			if th.Name == name {
				return th.Status
			}
		}
		t.Fatalf("%s missing from snapshot", name)
		return ""
	}

	r.hub.SetStatus(sensor.ID(config.SensorHexFanTach), sensor.StatusFailed)
	r.cycle()
	if got := statusOf("hex_fan_1_tach"); got != "NORMAL" {
		t.Errorf("failed read: got %s, want NORMAL kept", got)
	}
	if len(r.pub.Events) != 0 {
		t.Errorf("failed read should not publish, got %d events", len(r.pub.Events))
	}

	r.hub.Set(sensor.ID(config.SensorHexFanTach+1), 0)
	r.cycle()
	if got := statusOf("hex_fan_2_tach"); got != "NOT_PRESENT" {
		t.Errorf("zero tach: got %s, want NOT_PRESENT", got)
	}
	if recs := r.ctl.ErrorLog(); len(recs) != 0 {
		t.Errorf("expected no error records for an absent fan, got %d", len(recs))
	}
}

// TestIntegrationLeakLatchPersists stops the pumps on a leak and checks
// the latch survives a restart on a file-backed store.
func TestIntegrationLeakLatchPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eeprom.bin")
	f, err := eeprom.OpenFile(path, eeprom.DefaultSize, 0)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	r := newRig(t, f)
	r.cycle()

	r.hub.Set(sensor.ID(config.SensorRackLeak), 0.9)
	r.cycle()
	if got := r.pumpDuty(t); got != 0 {
		t.Errorf("pump duty during leak: got %d, want 0", got)
	}
	if err := r.ctl.ForceGroupDuty(actuator.GroupPump, 80); !controller.IsStopped(err) {
		t.Errorf("force during leak: got %v, want stop condition", err)
	}

	r.hub.Set(sensor.ID(config.SensorRackLeak), 0)
	r.cycle()
	r.ctl.Close()
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err = eeprom.OpenFile(path, eeprom.DefaultSize, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f.Close()
	r.store = f
	r.boot(t)

	if !r.ctl.Registers().Bit(status.RegLeak, 1) {
		t.Error("rack leak latch should be restored from the store")
	}
	if !r.ctl.Registers().Bit(status.RegFailure, status.FailLeak) {
		t.Error("FAILURE leak bit should be restored from the store")
	}
}

// TestIntegrationControlTracksTemperature runs the control loop against
// a rising coolant temperature.
func TestIntegrationControlTracksTemperature(t *testing.T) {
	r := newRig(t, eeprom.NewMemory(eeprom.DefaultSize))
	r.cycle()
	r.ctl.SetControl(true)

	for i := 0; i < 12; i++ {
		r.ctl.TickFSC()
	}
	cool := r.pumpDuty(t)

	r.hub.Set(sensor.ID(config.SensorCoolantOutletTemp), 50)
	r.poller.PollOnce()
	for i := 0; i < 12; i++ {
		r.ctl.TickFSC()
	}
	hot := r.pumpDuty(t)

	if hot <= cool {
		t.Errorf("pump duty should rise with temperature: %d%% at 30C, %d%% at 50C", cool, hot)
	}
	if hot != actuator.MaxDuty {
		t.Errorf("pump duty at 50C: got %d, want %d", hot, actuator.MaxDuty)
	}
}

// TestIntegrationPublishFailureDoesNotCrash keeps handling faults when
// the broker rejects every message.
func TestIntegrationPublishFailureDoesNotCrash(t *testing.T) {
	r := newRig(t, eeprom.NewMemory(eeprom.DefaultSize))
	r.pub.PublishError = errors.New("broker unavailable")
	r.cycle()

	r.hub.Set(sensor.ID(config.SensorPumpTach), 100)
	r.cycle()

	if !r.ctl.Registers().Bit(status.RegPumpStatus, 0) {
		t.Error("pump 1 status bit should be set even when publishing fails")
	}
}

// TestIntegrationStatusJSON checks the HTTP/MQTT status document against
// live controller state.
func TestIntegrationStatusJSON(t *testing.T) {
	r := newRig(t, eeprom.NewMemory(eeprom.DefaultSize))
	r.cycle()
	r.hub.Set(sensor.ID(config.SensorPumpTach+1), 100)
	r.cycle()

	var doc status.StatusJSON
	if err := json.Unmarshal(status.FormatJSON(r.ctl.Snapshot()), &doc); err != nil {
		t.Fatalf("status JSON invalid: %v", err)
	}
	if doc.Status.Instance != "cdu-integration" {
		t.Errorf("instance: got %q, want %q", doc.Status.Instance, "cdu-integration")
	}
	if got := doc.Status.Registers["pump_status"]; got != 0x2 {
		t.Errorf("pump_status: got 0x%X, want 0x2", got)
	}
	if len(doc.Status.Zones) != len(r.cfg.FSC.Zones) {
		t.Errorf("zones: got %d, want %d", len(doc.Status.Zones), len(r.cfg.FSC.Zones))
	}

	var ev status.StatusJSON
	if err := json.Unmarshal(status.FormatStatusEvent(r.ctl.Snapshot(), "HEARTBEAT", ""), &ev); err != nil {
		t.Fatalf("status event invalid: %v", err)
	}
	if ev.Status.Event != "HEARTBEAT" {
		t.Errorf("event: got %q, want HEARTBEAT", ev.Status.Event)
	}
}
