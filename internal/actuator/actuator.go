// Package actuator drives pump and fan duty cycles.
package actuator

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// MaxDuty is the highest duty percentage accepted by a sink.
const MaxDuty = 100

var (
	// ErrDutyRange is returned for a duty outside 0..MaxDuty.
	ErrDutyRange = errors.New("actuator: duty out of range")
	// ErrUnknownGroup is returned for a group with no members.
	ErrUnknownGroup = errors.New("actuator: unknown group")
)

// Group is a set of devices driven together.
type Group uint8

const (
	// GroupNone marks a zone with no actuator bound.
	GroupNone Group = iota
	GroupPump
	GroupHexFan
	GroupRPUFan
)

var groupNames = map[Group]string{
	GroupNone:   "none",
	GroupPump:   "pump",
	GroupHexFan: "hex_fan",
	GroupRPUFan: "rpu_fan",
}

func (g Group) String() string {
	if n, ok := groupNames[g]; ok {
		return n
	}
	return fmt.Sprintf("group(%d)", uint8(g))
}

// ParseGroup converts a group name such as "pump" into a Group.
func ParseGroup(s string) (Group, error) {
	for g, n := range groupNames {
		if strings.EqualFold(s, n) {
			return g, nil
		}
	}
	return GroupNone, fmt.Errorf("%w: %q", ErrUnknownGroup, s)
}

// Groups returns the drivable groups in a stable order.
func Groups() []Group {
	return []Group{GroupPump, GroupHexFan, GroupRPUFan}
}

// Device identifies a single PWM output.
type Device uint8

// Topology maps a group to its ordered member devices.
type Topology map[Group][]Device

// Sink accepts duty requests for groups or single devices.
type Sink interface {
	SetGroupDuty(g Group, duty int) error
	SetDeviceDuty(d Device, duty int) error
}

// DeviceWriter writes a duty to one device.
type DeviceWriter interface {
	WriteDuty(d Device, duty int) error
}

// PowerGood reports whether a device's supply is healthy.
type PowerGood interface {
	PowerGood(d Device) (bool, error)
}

// BoardFault is implemented by power-good sources that can flag a bad
// board: fault PWM to full and the board's power-good output dropped.
type BoardFault interface {
	SignalBoardFault(d Device) error
}

// Bank fans group requests out to member devices and caches the last
// duty written per group and device.
type Bank struct {
	w    DeviceWriter
	topo Topology

	mu         sync.RWMutex
	groupDuty  map[Group]int
	deviceDuty map[Device]int
}

// NewBank creates a Bank writing through w.
func NewBank(w DeviceWriter, topo Topology) *Bank {
	return &Bank{
		w:          w,
		topo:       topo,
		groupDuty:  make(map[Group]int),
		deviceDuty: make(map[Device]int),
	}
}

// Members returns the devices of a group.
func (b *Bank) Members(g Group) []Device {
	return b.topo[g]
}

// SetGroupDuty writes duty to every member. All members are attempted;
// the first error is returned.
func (b *Bank) SetGroupDuty(g Group, duty int) error {
	if duty < 0 || duty > MaxDuty {
		return fmt.Errorf("%w: %d", ErrDutyRange, duty)
	}
	members, ok := b.topo[g]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, g)
	}

	b.mu.Lock()
	b.groupDuty[g] = duty
	b.mu.Unlock()

	var first error
	for _, d := range members {
		if err := b.SetDeviceDuty(d, duty); err != nil && first == nil {
			first = fmt.Errorf("group %s: %w", g, err)
		}
	}
	return first
}

// SetDeviceDuty writes duty to one device.
func (b *Bank) SetDeviceDuty(d Device, duty int) error {
	if duty < 0 || duty > MaxDuty {
		return fmt.Errorf("%w: %d", ErrDutyRange, duty)
	}
	b.mu.Lock()
	b.deviceDuty[d] = duty
	b.mu.Unlock()

	if err := b.w.WriteDuty(d, duty); err != nil {
		return fmt.Errorf("device %d: %w", d, err)
	}
	return nil
}

// GroupDuty returns the last duty requested for a group.
func (b *Bank) GroupDuty(g Group) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.groupDuty[g]
}

// DeviceDuty returns the last duty written to a device.
func (b *Bank) DeviceDuty(d Device) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.deviceDuty[d]
}
