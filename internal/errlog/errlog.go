// Package errlog keeps a fixed ring of fault records in persistent
// storage. Records are ordered by a wrapping index; the newest record is
// the end of the first run of consecutive indices.
package errlog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/cdu-controller/internal/eeprom"
	"github.com/sweeney/cdu-controller/internal/sensor"
)

const (
	// Base is the persistence offset of the first record.
	Base = 0x4000
	// MaxRecords is the ring capacity.
	MaxRecords = 30
	// RecordSize is the encoded size of one record.
	RecordSize = 20
	// MaxIndex is the largest record index before it wraps to 1.
	MaxIndex = 0x0FFF

	emptyIndex = 0xFFFF
)

// ErrNoRecord is returned by Nth for a position with no record.
var ErrNoRecord = errors.New("errlog: no such record")

// Record is one persisted fault entry. Field order and widths match the
// on-disk layout.
type Record struct {
	Index       uint16
	Code        uint16
	Uptime      uint32
	PumpDuty    uint16
	FanDuty     uint16
	OutletTemp  int16
	OutletPress int16
	FlowRate    int16
	Volt        int16
}

// Empty reports whether the slot holds no record.
func (r Record) Empty() bool { return r.Index == emptyIndex }

// Context is the unit state captured alongside each record.
type Context struct {
	PumpDuty    uint16
	FanDuty     uint16
	OutletTemp  int16
	OutletPress int16
	FlowRate    int16
	Volt        int16
}

// Codes maps sensors to the record code logged when the sensor goes
// abnormal or recovers. Sensors absent from a map are not logged.
type Codes struct {
	Abnormal map[sensor.ID]uint16
	Recover  map[sensor.ID]uint16
}

// Lookup returns the code for a transition, or false when none is
// configured.
func (c Codes) Lookup(id sensor.ID, recovered bool) (uint16, bool) {
	m := c.Abnormal
	if recovered {
		m = c.Recover
	}
	code, ok := m[id]
	return code, ok && code != 0
}

// Log is the in-memory mirror of the persisted ring.
type Log struct {
	mu      sync.Mutex
	store   eeprom.Store
	codes   Codes
	records [MaxRecords]Record
	start   time.Time
	now     func() time.Time
}

// New creates a Log backed by store. Call Load to hydrate it.
func New(store eeprom.Store, codes Codes) *Log {
	l := &Log{store: store, codes: codes, now: time.Now}
	l.start = l.now()
	l.erase()
	return l
}

func (l *Log) erase() {
	for i := range l.records {
		l.records[i] = Record{
			Index: emptyIndex, Code: 0xFFFF, Uptime: 0xFFFFFFFF,
			PumpDuty: 0xFFFF, FanDuty: 0xFFFF,
			OutletTemp: -1, OutletPress: -1, FlowRate: -1, Volt: -1,
		}
	}
}

// Load reads every slot from the store. Slots that fail to read stay
// empty.
func (l *Log) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.erase()
	var firstErr error
	buf := make([]byte, RecordSize)
	for i := range l.records {
		if _, err := l.store.ReadAt(buf, slotOffset(i)); err != nil {
			log.Printf("errlog: read slot %d: %v", i, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("read slot %d: %w", i, err)
			}
			continue
		}
		var r Record
		if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &r); err != nil {
			return fmt.Errorf("decode slot %d: %w", i, err)
		}
		l.records[i] = r
	}
	return firstErr
}

// newest returns the slot holding the newest record. On an empty log it
// returns slot 0, which is itself empty.
func (l *Log) newest() int {
	i := 0
	for ; i < MaxRecords-1; i++ {
		cur := int(l.records[i].Index)
		next := int(l.records[i+1].Index)
		if next == cur+1 {
			continue
		}
		if cur == MaxIndex && next == 1 {
			continue
		}
		break
	}
	return i
}

// Count returns the number of stored records.
func (l *Log) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count()
}

func (l *Log) count() int {
	for i, r := range l.records {
		if r.Empty() {
			return i
		}
	}
	return MaxRecords
}

// RecordSensor logs a sensor transition using the configured codes. It
// reports whether a record was written; transitions with no code are
// skipped.
func (l *Log) RecordSensor(id sensor.ID, recovered bool, ctx Context) (bool, error) {
	code, ok := l.codes.Lookup(id, recovered)
	if !ok {
		return false, nil
	}
	return true, l.Record(code, ctx)
}

// Record appends a record with the given code. The slot is rewritten in
// memory even if persisting it fails.
func (l *Log) Record(code uint16, ctx Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.newest()
	newest := l.records[n]
	slot := (n + 1) % MaxRecords
	index := newest.Index + 1
	if newest.Empty() {
		slot = n
		index = 1
	} else if newest.Index == MaxIndex {
		index = 1
	}

	r := Record{
		Index:       index,
		Code:        code,
		Uptime:      uint32(l.now().Sub(l.start) / time.Second),
		PumpDuty:    ctx.PumpDuty,
		FanDuty:     ctx.FanDuty,
		OutletTemp:  ctx.OutletTemp,
		OutletPress: ctx.OutletPress,
		FlowRate:    ctx.FlowRate,
		Volt:        ctx.Volt,
	}
	l.records[slot] = r

	if err := l.write(slot, r); err != nil {
		log.Printf("errlog: write record code 0x%04X failed: %v", code, err)
		return err
	}
	return nil
}

func (l *Log) write(slot int, r Record) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, r); err != nil {
		return fmt.Errorf("encode slot %d: %w", slot, err)
	}
	if _, err := l.store.WriteAt(buf.Bytes(), slotOffset(slot)); err != nil {
		return fmt.Errorf("write slot %d: %w", slot, err)
	}
	return nil
}

// Nth returns the nth newest record; 0 is the newest.
func (l *Log) Nth(n int) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n < 0 || n >= l.count() {
		return Record{}, fmt.Errorf("%w: %d", ErrNoRecord, n)
	}
	slot := (l.newest() + MaxRecords - n) % MaxRecords
	return l.records[slot], nil
}

// Records returns all stored records, newest first.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.count()
	out := make([]Record, 0, c)
	head := l.newest()
	for n := 0; n < c; n++ {
		out = append(out, l.records[(head+MaxRecords-n)%MaxRecords])
	}
	return out
}

// Clear erases every slot in memory and in the store.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.erase()
	var firstErr error
	for i := range l.records {
		if err := l.write(i, l.records[i]); err != nil {
			log.Printf("errlog: clear slot %d: %v", i, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func slotOffset(i int) int64 {
	return int64(Base + i*RecordSize)
}
