package sensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// ErrUnknownSensor is returned when reading a sensor with no register mapping.
var ErrUnknownSensor = errors.New("sensor: no register mapping")

// Point maps a sensor to an input register on the sensor hub.
// The raw register is multiplied by Scale (0 means 1).
type Point struct {
	Address uint16
	Scale   float64
	Signed  bool
}

// ModbusReader reads sensors from a Modbus TCP sensor hub, one input
// register per sensor.
type ModbusReader struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
	points  map[ID]Point
}

// NewModbusReader connects to the sensor hub at endpoint (host:port).
func NewModbusReader(endpoint string, unitID byte, timeout time.Duration, points map[ID]Point) (*ModbusReader, error) {
	if endpoint == "" {
		return nil, errors.New("sensor: modbus endpoint required")
	}
	h := modbus.NewTCPClientHandler(endpoint)
	h.Timeout = timeout
	h.SlaveId = unitID
	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("connect sensor hub %s: %w", endpoint, err)
	}
	return &ModbusReader{
		handler: h,
		client:  modbus.NewClient(h),
		points:  points,
	}, nil
}

// ReadSensor implements Reader.
func (r *ModbusReader) ReadSensor(id ID) (float64, error) {
	p, ok := r.points[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSensor, id)
	}

	r.mu.Lock()
	raw, err := r.client.ReadInputRegisters(p.Address, 1)
	r.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("read input register %d: %w", p.Address, err)
	}
	if len(raw) < 2 {
		return 0, fmt.Errorf("short response for register %d", p.Address)
	}
	return decodePoint(p, raw), nil
}

// Close disconnects from the sensor hub.
func (r *ModbusReader) Close() error {
	return r.handler.Close()
}

func decodePoint(p Point, raw []byte) float64 {
	u := binary.BigEndian.Uint16(raw[:2])
	v := float64(u)
	if p.Signed {
		v = float64(int16(u))
	}
	if p.Scale != 0 {
		v *= p.Scale
	}
	return v
}
