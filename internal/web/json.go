package web

import (
	"fmt"

	"github.com/sweeney/cdu-controller/internal/controller"
	"github.com/sweeney/cdu-controller/internal/errlog"
)

// ErrorJSON is the body of every failed API request.
type ErrorJSON struct {
	Error string `json:"error"`
}

// RegisterJSON is one status register value.
type RegisterJSON struct {
	Register string `json:"register"`
	Value    uint32 `json:"value"`
}

// RegisterWrite sets one bit, or the whole register when Bit is omitted.
type RegisterWrite struct {
	Bit   *uint8 `json:"bit,omitempty"`
	Value uint32 `json:"value"`
}

// DutyJSON is the output state of one actuator group.
type DutyJSON struct {
	Group      string       `json:"group"`
	Applied    int          `json:"applied"`
	Manual     bool         `json:"manual"`
	ManualDuty int          `json:"manual_duty"`
	Stopped    bool         `json:"stopped"`
	Devices    []DeviceJSON `json:"devices"`
}

// DeviceJSON is the last duty written to one device.
type DeviceJSON struct {
	Device int `json:"device"`
	Duty   int `json:"duty"`
}

// DutyWrite forces a group or device duty.
type DutyWrite struct {
	Duty int `json:"duty"`
}

// Toggle is the body of the on/off switches.
type Toggle struct {
	Enabled bool `json:"enabled"`
}

// RedundancyJSON describes the pump rotation.
type RedundancyJSON struct {
	State    string `json:"state"`
	Running  bool   `json:"running"`
	Interval int    `json:"interval"`
	Unit     string `json:"unit"`
	Rested   *int   `json:"rested,omitempty"`
}

// RedundancyWrite changes the rotation. Omitted fields are left alone.
type RedundancyWrite struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Interval *int   `json:"interval,omitempty"`
	Unit     string `json:"unit,omitempty"`
}

// StickyJSON is one persistent sticky value.
type StickyJSON struct {
	Index int    `json:"index"`
	Value uint16 `json:"value"`
}

// StickyWrite sets a sticky value.
type StickyWrite struct {
	Value uint16 `json:"value"`
}

// RecordJSON is one error log record. Order 0 is the newest.
type RecordJSON struct {
	Order       int    `json:"order"`
	Index       uint16 `json:"index"`
	Code        string `json:"code"`
	Uptime      uint32 `json:"uptime_seconds"`
	PumpDuty    uint16 `json:"pump_duty"`
	FanDuty     uint16 `json:"fan_duty"`
	OutletTemp  int16  `json:"outlet_temp"`
	OutletPress int16  `json:"outlet_pressure"`
	FlowRate    int16  `json:"flow_rate"`
	Volt        int16  `json:"volt"`
}

func dutyJSON(gd controller.GroupDuty) DutyJSON {
	out := DutyJSON{
		Group:      gd.Group.String(),
		Applied:    gd.Applied,
		Manual:     gd.Manual,
		ManualDuty: gd.ManualDuty,
		Stopped:    gd.Stopped,
		Devices:    make([]DeviceJSON, 0, len(gd.Devices)),
	}
	for _, d := range gd.Devices {
		out.Devices = append(out.Devices, DeviceJSON{Device: int(d.Device), Duty: d.Duty})
	}
	return out
}

func redundancyJSON(info controller.RedundancyInfo) RedundancyJSON {
	out := RedundancyJSON{
		State:    info.State.String(),
		Running:  info.Running,
		Interval: info.Interval.Count,
		Unit:     info.Interval.Unit.String(),
	}
	if info.Rested >= 0 {
		rested := info.Rested
		out.Rested = &rested
	}
	return out
}

func recordJSON(order int, r errlog.Record) RecordJSON {
	return RecordJSON{
		Order:       order,
		Index:       r.Index,
		Code:        fmt.Sprintf("0x%04X", r.Code),
		Uptime:      r.Uptime,
		PumpDuty:    r.PumpDuty,
		FanDuty:     r.FanDuty,
		OutletTemp:  r.OutletTemp,
		OutletPress: r.OutletPress,
		FlowRate:    r.FlowRate,
		Volt:        r.Volt,
	}
}

