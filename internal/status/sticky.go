package status

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/sweeney/cdu-controller/internal/eeprom"
)

const (
	// StickyBase is the persistence offset of the first sticky value.
	StickyBase = 0x6000
	// StickySize is the size of one sticky value in bytes.
	StickySize = 2
	// StickyMax is the number of sticky values.
	StickyMax = 8

	stickyErased = 0xFFFF
)

// ErrStickyIndex is returned for an index outside 0..StickyMax-1.
var ErrStickyIndex = errors.New("status: sticky index out of range")

// Sticky holds fault indicators that survive restart. Values are read
// from the store on first access and written only when they change.
type Sticky struct {
	mu     sync.Mutex
	store  eeprom.Store
	values [StickyMax]uint16
	loaded [StickyMax]bool
}

// NewSticky creates a Sticky backed by store.
func NewSticky(store eeprom.Store) *Sticky {
	return &Sticky{store: store}
}

// Get returns the decoded value at idx. The erase pattern decodes as 0.
func (s *Sticky) Get(idx int) (uint16, error) {
	if idx < 0 || idx >= StickyMax {
		return 0, fmt.Errorf("%w: %d", ErrStickyIndex, idx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(idx)
}

// IsSet reports whether the value at idx is non-zero.
func (s *Sticky) IsSet(idx int) bool {
	v, err := s.Get(idx)
	return err == nil && v != 0
}

// Set stores value at idx. Zero is persisted as the erase pattern. The
// store is written only when the value differs from the persisted one.
// On a write failure the in-memory value keeps the new value.
func (s *Sticky) Set(idx int, value uint16) error {
	if idx < 0 || idx >= StickyMax {
		return fmt.Errorf("%w: %d", ErrStickyIndex, idx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load(idx)
	if err != nil {
		log.Printf("status: sticky %d: %v", idx, err)
	}
	if err == nil && current == value {
		return nil
	}

	s.values[idx] = value
	s.loaded[idx] = true

	raw := uint16(stickyErased)
	if value != 0 {
		raw = value
	}
	var buf [StickySize]byte
	binary.LittleEndian.PutUint16(buf[:], raw)
	if _, err := s.store.WriteAt(buf[:], offset(idx)); err != nil {
		log.Printf("status: write sticky %d failed: %v", idx, err)
		return fmt.Errorf("write sticky %d: %w", idx, err)
	}
	return nil
}

// SetBool stores a boolean sticky flag.
func (s *Sticky) SetBool(idx int, on bool) error {
	var v uint16
	if on {
		v = 1
	}
	return s.Set(idx, v)
}

func (s *Sticky) load(idx int) (uint16, error) {
	if s.loaded[idx] {
		return s.values[idx], nil
	}
	var buf [StickySize]byte
	if _, err := s.store.ReadAt(buf[:], offset(idx)); err != nil {
		return 0, fmt.Errorf("read sticky %d: %w", idx, err)
	}
	v := binary.LittleEndian.Uint16(buf[:])
	if v == stickyErased {
		v = 0
	}
	s.values[idx] = v
	s.loaded[idx] = true
	return v, nil
}

func offset(idx int) int64 {
	return int64(StickyBase + idx*StickySize)
}
