package actuator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// Channel maps a device to its registers on the PWM controller.
type Channel struct {
	DutyRegister uint16 // holding register
	PowerGood    uint16 // discrete input
	HasPowerGood bool

	FaultPWM        uint16 // holding register of the board fault PWM
	HasFaultPWM     bool
	PowerGoodOut    uint16 // coil driving the board power-good output
	HasPowerGoodOut bool
}

// ModbusWriter writes device duty to holding registers of a Modbus TCP
// PWM controller.
type ModbusWriter struct {
	mu       sync.Mutex
	handler  *modbus.TCPClientHandler
	client   modbus.Client
	channels map[Device]Channel
}

// NewModbusWriter connects to the PWM controller at endpoint.
func NewModbusWriter(endpoint string, unitID byte, timeout time.Duration, channels map[Device]Channel) (*ModbusWriter, error) {
	if endpoint == "" {
		return nil, errors.New("actuator: modbus endpoint required")
	}
	h := modbus.NewTCPClientHandler(endpoint)
	h.Timeout = timeout
	h.SlaveId = unitID
	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("connect pwm controller %s: %w", endpoint, err)
	}
	return &ModbusWriter{
		handler:  h,
		client:   modbus.NewClient(h),
		channels: channels,
	}, nil
}

// WriteDuty implements DeviceWriter.
func (w *ModbusWriter) WriteDuty(d Device, duty int) error {
	ch, ok := w.channels[d]
	if !ok {
		return fmt.Errorf("no channel for device %d", d)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.client.WriteSingleRegister(ch.DutyRegister, uint16(duty)); err != nil {
		return fmt.Errorf("write register %d: %w", ch.DutyRegister, err)
	}
	return nil
}

// PowerGood implements PowerGood. Devices without a power-good input
// always report healthy.
func (w *ModbusWriter) PowerGood(d Device) (bool, error) {
	ch, ok := w.channels[d]
	if !ok || !ch.HasPowerGood {
		return true, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	raw, err := w.client.ReadDiscreteInputs(ch.PowerGood, 1)
	if err != nil {
		return false, fmt.Errorf("read discrete input %d: %w", ch.PowerGood, err)
	}
	if len(raw) == 0 {
		return false, fmt.Errorf("empty response for discrete input %d", ch.PowerGood)
	}
	return raw[0]&0x01 != 0, nil
}

// SignalBoardFault implements BoardFault. Channels without a fault PWM
// or power-good output skip that write.
func (w *ModbusWriter) SignalBoardFault(d Device) error {
	ch, ok := w.channels[d]
	if !ok {
		return fmt.Errorf("no channel for device %d", d)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if ch.HasFaultPWM {
		if _, err := w.client.WriteSingleRegister(ch.FaultPWM, MaxDuty); err != nil {
			return fmt.Errorf("write fault pwm %d: %w", ch.FaultPWM, err)
		}
	}
	if ch.HasPowerGoodOut {
		if _, err := w.client.WriteSingleCoil(ch.PowerGoodOut, 0x0000); err != nil {
			return fmt.Errorf("write power good coil %d: %w", ch.PowerGoodOut, err)
		}
	}
	return nil
}

// Close disconnects from the PWM controller.
func (w *ModbusWriter) Close() error {
	return w.handler.Close()
}
