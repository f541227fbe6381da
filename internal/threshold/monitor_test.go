package threshold

import (
	"testing"
	"time"

	"github.com/sweeney/cdu-controller/internal/sensor"
)

type readiness struct {
	init, polling bool
}

func (r *readiness) InitDone() bool { return r.init }
func (r *readiness) Polling() bool  { return r.polling }

type recorder struct {
	events  []Event
	settled int
}

func (r *recorder) Dispatch(e Event) { r.events = append(r.events, e) }
func (r *recorder) Settle()          { r.settled++ }

func newMonitor(entries ...*Entry) (*Monitor, *sensor.Fake, *readiness, *recorder) {
	src := sensor.NewFake()
	ready := &readiness{init: true, polling: true}
	rec := &recorder{}
	return New(entries, src, ready, rec), src, ready, rec
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		value float64
		want  Status
		ok    bool
	}{
		{"lcr below", Entry{Mode: ModeLCR, Lower: 500}, 499, StatusLCR, true},
		{"lcr at limit", Entry{Mode: ModeLCR, Lower: 500}, 500, StatusNormal, true},
		{"lcr ignores upper", Entry{Mode: ModeLCR, Lower: 500, Upper: 600}, 9000, StatusNormal, true},
		{"ucr above", Entry{Mode: ModeUCR, Upper: 65}, 65.1, StatusUCR, true},
		{"ucr at limit", Entry{Mode: ModeUCR, Upper: 65}, 65, StatusNormal, true},
		{"both low", Entry{Mode: ModeBoth, Lower: -20, Upper: 200}, -21, StatusLCR, true},
		{"both high", Entry{Mode: ModeBoth, Lower: -20, Upper: 200}, 201, StatusUCR, true},
		{"both inside", Entry{Mode: ModeBoth, Lower: -20, Upper: 200}, 0, StatusNormal, true},
		{"absent", Entry{Mode: ModeLCR, Lower: 500, DetectAbsent: true}, 0, StatusNotPresent, true},
		{"zero without absent detection", Entry{Mode: ModeLCR, Lower: 500}, 0, StatusLCR, true},
		{"disabled", Entry{Mode: ModeDisabled, DetectAbsent: true}, 0, StatusNormal, false},
	}
	for i := range tests {
		tt := &tests[i]
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.entry.Classify(tt.value)
			if got != tt.want || ok != tt.ok {
				t.Errorf("got %s %v, want %s %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestPollDebounces(t *testing.T) {
	e := &Entry{Sensor: 1, Name: "pump1_tach", Mode: ModeLCR, Lower: 500, Category: CategoryPumpFailure}
	m, src, _, rec := newMonitor(e)

	src.Set(1, 100)
	if got := len(m.Poll()); got != 1 {
		t.Fatalf("first poll: got %d events, want 1", got)
	}
	for i := 0; i < 3; i++ {
		if got := len(m.Poll()); got != 0 {
			t.Errorf("repeat %d: got %d events, want 0", i, got)
		}
	}
	src.Set(1, 1000)
	events := m.Poll()
	if len(events) != 1 {
		t.Fatalf("recover: got %d events, want 1", len(events))
	}
	if events[0].Previous != StatusLCR || events[0].Status != StatusNormal {
		t.Errorf("got %s -> %s, want LCR -> NORMAL", events[0].Previous, events[0].Status)
	}
	if len(rec.events) != 2 {
		t.Errorf("dispatched %d, want 2", len(rec.events))
	}
	if rec.settled != 5 {
		t.Errorf("settled %d, want 5", rec.settled)
	}
	if c := m.Counts(); c.LCR != 1 || c.Normal != 1 {
		t.Errorf("counts: got %+v", c)
	}
}

func TestPollSkipsFailedReads(t *testing.T) {
	e := &Entry{Sensor: 1, Mode: ModeUCR, Upper: 65, Category: CategoryCoolantTemp}
	m, src, _, rec := newMonitor(e)

	src.Set(1, 90)
	src.SetStatus(1, sensor.StatusFailed)
	m.Poll()
	if len(rec.events) != 0 || e.LastStatus() != StatusNormal {
		t.Errorf("failed read must be skipped, got %d events, status %s", len(rec.events), e.LastStatus())
	}
}

func TestPollGates(t *testing.T) {
	e := &Entry{Sensor: 1, Mode: ModeUCR, Upper: 65, Category: CategoryCoolantTemp}
	m, src, ready, rec := newMonitor(e)
	src.Set(1, 90)

	ready.init = false
	m.Poll()
	ready.init = true
	ready.polling = false
	m.Poll()
	ready.polling = true
	m.SetEnabled(false)
	m.Poll()
	if len(rec.events) != 0 {
		t.Fatalf("gated polls dispatched %d events", len(rec.events))
	}
	if rec.settled != 0 {
		t.Errorf("gated polls settled %d times", rec.settled)
	}

	m.SetEnabled(true)
	m.Poll()
	if len(rec.events) != 1 {
		t.Errorf("got %d events, want 1", len(rec.events))
	}
}

func TestNoneCategoryNotDispatched(t *testing.T) {
	e := &Entry{Sensor: 1, Mode: ModeUCR, Upper: 40}
	m, src, _, rec := newMonitor(e)
	src.Set(1, 41)
	if got := len(m.Poll()); got != 1 {
		t.Errorf("got %d events, want 1", got)
	}
	if len(rec.events) != 0 {
		t.Error("entry without a category must not dispatch")
	}
}

func TestAbsentDevice(t *testing.T) {
	e := &Entry{Sensor: 1, Mode: ModeLCR, Lower: 500, DetectAbsent: true, Category: CategoryHexFanFailure}
	m, src, _, rec := newMonitor(e)
	src.Set(1, 0)
	m.Poll()
	if len(rec.events) != 1 || rec.events[0].Status != StatusNotPresent {
		t.Fatalf("got %+v, want one NOT_PRESENT event", rec.events)
	}
}

func TestWarmup(t *testing.T) {
	e := &Entry{Sensor: 1, Mode: ModeUCR, Upper: 40, Category: CategoryAirTemp}
	m, src, _, rec := newMonitor(e)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	var applied []int
	m.SetWarmup(Warmup{Delay: 20 * time.Second, Duty: 60, Apply: func(d int) { applied = append(applied, d) }})
	src.Set(1, 50)

	now = now.Add(19 * time.Second)
	m.Poll()
	if len(applied) != 0 || len(rec.events) != 0 {
		t.Fatalf("before delay: applied %v, events %d", applied, len(rec.events))
	}

	now = now.Add(time.Second)
	m.Poll()
	m.Poll()
	if len(applied) != 1 || applied[0] != 60 {
		t.Errorf("applied: got %v, want [60]", applied)
	}
	if len(rec.events) != 1 {
		t.Errorf("events: got %d, want 1", len(rec.events))
	}
}

func TestParseCategory(t *testing.T) {
	for c, n := range categoryNames {
		got, err := ParseCategory(n)
		if err != nil || got != c {
			t.Errorf("ParseCategory(%q): got %s %v, want %s", n, got, err, c)
		}
	}
	if _, err := ParseCategory("bogus"); err == nil {
		t.Error("expected error for unknown category")
	}
}
