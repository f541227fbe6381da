// Package sensor provides the sensor source seen by the control loops.
// Loops read cached values only; a Poller refreshes the cache from hardware.
package sensor

import "fmt"

// ID identifies a sensor (the firmware sensor number).
type ID uint16

func (id ID) String() string {
	return fmt.Sprintf("0x%02X", uint16(id))
}

// Status describes the quality of the most recent read of a sensor.
type Status uint8

const (
	// StatusNotReady means the sensor has never been read.
	StatusNotReady Status = iota
	// StatusOK means the last read was an accurate success.
	StatusOK
	// StatusFailed means the last read attempt failed.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusFailed:
		return "FAILED"
	default:
		return "NOT_READY"
	}
}

// Source exposes the current value of sensors.
type Source interface {
	// Read returns the current value and its status. Callers must treat
	// any status other than StatusOK as "substitute a fallback".
	Read(id ID) (float64, Status)

	// LastStatus returns the status of the last cached read without
	// returning the value.
	LastStatus(id ID) Status
}

// Reader performs a single hardware read of a sensor.
type Reader interface {
	ReadSensor(id ID) (float64, error)
}
