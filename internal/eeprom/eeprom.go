// Package eeprom provides the byte-addressable persistence store used for
// sticky status flags and the error log.
package eeprom

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// EraseByte is the value of an erased cell.
const EraseByte = 0xFF

// DefaultSize is the image size used when none is given (32 KiB).
const DefaultSize = 32 * 1024

// ErrOutOfRange is returned for accesses past the end of the store.
var ErrOutOfRange = errors.New("eeprom: access out of range")

// Store is a fixed-size byte-addressable store. Writes may take several
// milliseconds.
type Store interface {
	io.ReaderAt
	io.WriterAt
}

// Memory is an in-memory store initialized to the erase pattern.
type Memory struct {
	mu   sync.Mutex
	data []byte

	// WriteDelay is slept on every write.
	WriteDelay time.Duration

	// FailWrites makes every write fail.
	FailWrites bool

	// WriteCount counts successful writes.
	WriteCount int
}

// NewMemory creates an erased in-memory store of the given size.
func NewMemory(size int) *Memory {
	data := make([]byte, size)
	for i := range data {
		data[i] = EraseByte
	}
	return &Memory{data: data}
}

// ReadAt implements io.ReaderAt.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, ErrOutOfRange
	}
	return copy(p, m.data[off:]), nil
}

// WriteAt implements io.WriterAt.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	if m.WriteDelay > 0 {
		time.Sleep(m.WriteDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return 0, errors.New("eeprom: simulated write failure")
	}
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, ErrOutOfRange
	}
	m.WriteCount++
	return copy(m.data[off:], p), nil
}

// File is a store backed by an image file on disk.
type File struct {
	mu         sync.Mutex
	f          *os.File
	size       int64
	writeDelay time.Duration
}

// OpenFile opens the image at path, creating it erased with the given size
// if it does not exist. writeDelay is slept after each write to respect
// device write cycle time.
func OpenFile(path string, size int64, writeDelay time.Duration) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open eeprom image: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat eeprom image: %w", err)
	}
	if info.Size() < size {
		fill := make([]byte, size-info.Size())
		for i := range fill {
			fill[i] = EraseByte
		}
		if _, err := f.WriteAt(fill, info.Size()); err != nil {
			f.Close()
			return nil, fmt.Errorf("erase eeprom image: %w", err)
		}
	}
	return &File{f: f, size: size, writeDelay: writeDelay}, nil
}

// ReadAt implements io.ReaderAt.
func (s *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > s.size {
		return 0, ErrOutOfRange
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.ReadAt(p, off)
}

// WriteAt implements io.WriterAt.
func (s *File) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > s.size {
		return 0, ErrOutOfRange
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.f.WriteAt(p, off)
	if err != nil {
		return n, err
	}
	if err := s.f.Sync(); err != nil {
		return n, fmt.Errorf("sync eeprom image: %w", err)
	}
	if s.writeDelay > 0 {
		time.Sleep(s.writeDelay)
	}
	return n, nil
}

// Close closes the image file.
func (s *File) Close() error {
	return s.f.Close()
}
