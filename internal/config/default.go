package config

import (
	"fmt"

	"github.com/sweeney/cdu-controller/internal/status"
)

// Sensor numbers of the built-in tables.
const (
	SensorCoolantInletTemp  uint16 = 0x01
	SensorCoolantOutletTemp uint16 = 0x02
	SensorAirInletTemp      uint16 = 0x03
	SensorHexWaterInletTemp uint16 = 0x04
	SensorHexAirInletTemp   uint16 = 0x05 // 4 sensors
	SensorHexOutletTemp     uint16 = 0x10 // 14 sensors
	SensorHexFanTach        uint16 = 0x20 // 14 sensors
	SensorPumpTach          uint16 = 0x30 // 3 sensors
	SensorPumpFanTach       uint16 = 0x38 // 2 per pump
	SensorInletPressure     uint16 = 0x40
	SensorOutletPressure    uint16 = 0x41
	SensorFlowRate          uint16 = 0x42
	SensorRackLevel1        uint16 = 0x48
	SensorRackLevel2        uint16 = 0x49
	SensorCDULeak           uint16 = 0x50
	SensorRackLeak          uint16 = 0x51
	SensorSupplyVolt        uint16 = 0x58
)

const (
	hexAirInlets = 4
	hexFans      = 14
	pumps        = 3
	pumpFans     = 2 * pumps
)

// SENSOR_ALARM bits used by the built-in table. Bit 15 is the level
// sensor alarm.
const (
	alarmHexWaterInlet uint8 = 0
	alarmHexAirInlet   uint8 = 1 // 4 bits
	alarmCoolantInlet  uint8 = 5
	alarmCoolantOutlet uint8 = 6
	alarmAirInlet      uint8 = 7
	alarmInletPress    uint8 = 8
	alarmOutletPress   uint8 = 9
	alarmFlow          uint8 = 10
	alarmHexOutlet     uint8 = 16 // 14 bits
)

// SETPOINT_ENABLE bit gating the coolant PID loop.
const FeatureCoolantSetpoint uint8 = 0

// Default returns the built-in tables for a three-pump unit with
// fourteen heat exchanger fans.
func Default() *Config {
	return &Config{
		FSC: FSCConfig{
			TickMs: 1000,
			Zones:  defaultZones(),
		},
		Threshold: ThresholdConfig{
			IntervalMs:   1000,
			StartDelayMs: 20000,
			StartupDuty:  60,
			Entries:      defaultEntries(),
		},
		Safety: SafetyConfig{
			GraceMs: 10000,
			StopBits: []uint8{
				status.FailEmergencyButton,
				status.FailClosePump,
				status.FailLeak,
				status.FailLowLevel,
				status.FailHighPressure,
				status.FailRPUFan,
			},
			StopGroups: []string{"pump"},
			Rules: []RuleConfig{
				{Bit: status.FailTwoPump, Action: "max", Groups: []string{"pump"}},
				{Bit: status.FailHighCoolantTemp, Action: "max", Groups: []string{"hex_fan", "rpu_fan"}},
				{Bit: status.FailLowFlow, Action: "max", Groups: []string{"pump"}},
				{Bit: status.FailHexFan, Action: "max", Groups: []string{"hex_fan"}},
				{Bit: status.FailHighAirTemp, Action: "max", Groups: []string{"rpu_fan"}},
			},
			ManualDefault: 70,
			SemiAutoPair:  []string{"pump", "hex_fan"},
			Redundancy: RedundancyConfig{
				Group:      "pump",
				Interval:   1,
				Unit:       "day",
				Switchover: SwitchoverConfig{Blend: 5, Ramp: 5, Drain: 5},
			},
		},
		Topology: defaultTopology(),
		ErrLog: ErrLogConfig{
			Codes: defaultCodes(),
			Context: ContextConfig{
				OutletTemp:  SensorCoolantOutletTemp,
				OutletPress: SensorOutletPressure,
				FlowRate:    SensorFlowRate,
				Volt:        SensorSupplyVolt,
			},
		},
		Modbus: ModbusConfig{
			Sensors: SensorHubConfig{
				UnitID:    1,
				TimeoutMs: 500,
				PollMs:    200,
				Points:    defaultPoints(),
			},
			Actuators: PWMConfig{
				UnitID:    2,
				TimeoutMs: 500,
				Channels:  defaultChannels(),
			},
		},
		GPIO: GPIOConfig{
			Chip: "gpiochip0",
			LEDs: map[string]int{
				"power":   20,
				"fault":   21,
				"leak":    22,
				"coolant": 23,
			},
			Ready: []int{24, 25},
		},
	}
}

func defaultZones() []ZoneConfig {
	feature := FeatureCoolantSetpoint
	return []ZoneConfig{
		{
			ID: 1, Target: "pump", Interval: 1,
			OutMin: 20, OutMax: 100, SlewPos: 10, SlewNeg: 5,
			Stepwise: []StepwiseConfig{{
				Sensor:  SensorCoolantOutletTemp,
				HystPos: 1, HystNeg: 1,
				Steps: []StepConfig{
					{Temp: 25, Duty: 30}, {Temp: 30, Duty: 40}, {Temp: 35, Duty: 60},
					{Temp: 40, Duty: 80}, {Temp: 45, Duty: 100},
				},
			}},
			PID: []PIDConfig{{
				Sensor: SensorCoolantOutletTemp, Setpoint: 40,
				Kp: -2, Ki: -0.2, IMin: 0, IMax: 30,
				Truncate: true, Feature: &feature,
			}},
		},
		{
			ID: 2, Target: "hex_fan", Interval: 2,
			OutMin: 20, OutMax: 100, SlewPos: 10, SlewNeg: 5,
			Stepwise: []StepwiseConfig{
				{
					Sensor:  SensorHexWaterInletTemp,
					HystPos: 1, HystNeg: 2,
					Steps: []StepConfig{
						{Temp: 30, Duty: 30}, {Temp: 35, Duty: 50}, {Temp: 40, Duty: 70},
						{Temp: 45, Duty: 90}, {Temp: 50, Duty: 100},
					},
				},
				{
					Sensor: SensorAirInletTemp, Ambient: true,
					HystPos: 1, HystNeg: 1,
					Steps: []StepConfig{{Temp: 25, Duty: 0}, {Temp: 30, Duty: 5}, {Temp: 35, Duty: 10}},
				},
			},
		},
		{
			ID: 3, Target: "rpu_fan", Interval: 2,
			OutMin: 30, OutMax: 100, SlewPos: 10, SlewNeg: 10,
			Stepwise: []StepwiseConfig{{
				Sensor:  SensorAirInletTemp,
				HystPos: 1, HystNeg: 1,
				Steps:   []StepConfig{{Temp: 25, Duty: 40}, {Temp: 32, Duty: 60}, {Temp: 38, Duty: 100}},
			}},
		},
	}
}

func defaultEntries() []EntryConfig {
	e := []EntryConfig{
		{Sensor: SensorCoolantInletTemp, Name: "coolant_inlet_temp", Mode: "ucr", Upper: 65,
			Category: "coolant_temp", Register: "sensor_alarm", Bit: alarmCoolantInlet},
		{Sensor: SensorCoolantOutletTemp, Name: "coolant_outlet_temp", Mode: "ucr", Upper: 65,
			Category: "coolant_temp", Register: "sensor_alarm", Bit: alarmCoolantOutlet},
		{Sensor: SensorAirInletTemp, Name: "air_inlet_temp", Mode: "ucr", Upper: 40,
			Category: "air_temp", Register: "sensor_alarm", Bit: alarmAirInlet},
		{Sensor: SensorHexWaterInletTemp, Name: "hex_water_inlet_temp", Mode: "ucr", Upper: 65,
			Category: "status_bit", Register: "sensor_alarm", Bit: alarmHexWaterInlet},
	}
	for i := 0; i < hexAirInlets; i++ {
		e = append(e, EntryConfig{
			Sensor: SensorHexAirInletTemp + uint16(i), Name: fmt.Sprintf("hex_air_inlet_%d_temp", i+1),
			Mode: "ucr", Upper: 60,
			Category: "hex_air_inlet", Register: "sensor_alarm", Bit: alarmHexAirInlet + uint8(i),
		})
	}
	for i := 0; i < hexFans; i++ {
		e = append(e, EntryConfig{
			Sensor: SensorHexOutletTemp + uint16(i), Name: fmt.Sprintf("hex_fan_%d_outlet_temp", i+1),
			Mode: "ucr", Upper: 40,
			Category: "status_bit", Register: "sensor_alarm", Bit: alarmHexOutlet + uint8(i),
		})
	}
	for i := 0; i < hexFans; i++ {
		reg, bit := "hex_fan_alarm_1", uint8(i)
		if i >= 8 {
			reg, bit = "hex_fan_alarm_2", uint8(i-8)
		}
		e = append(e, EntryConfig{
			Sensor: SensorHexFanTach + uint16(i), Name: fmt.Sprintf("hex_fan_%d_tach", i+1),
			Mode: "lcr", Lower: 500, DetectAbsent: true,
			Category: "hex_fan_failure", Register: reg, Bit: bit,
		})
	}
	for i := 0; i < pumps; i++ {
		e = append(e, EntryConfig{
			Sensor: SensorPumpTach + uint16(i), Name: fmt.Sprintf("pump_%d_tach", i+1),
			Mode: "lcr", Lower: 500, DetectAbsent: true,
			Category: "pump_failure", Register: "pump_status", Bit: uint8(i), Member: i,
		})
	}
	for i := 0; i < pumpFans; i++ {
		e = append(e, EntryConfig{
			Sensor: SensorPumpFanTach + uint16(i), Name: fmt.Sprintf("pump_%d_fan_%d_tach", i/2+1, i%2+1),
			Mode: "lcr", Lower: 500, DetectAbsent: true,
			Category: "rpu_fan_failure", Register: "pump_fan_status", Bit: uint8(i),
		})
	}
	return append(e,
		EntryConfig{Sensor: SensorInletPressure, Name: "coolant_inlet_pressure", Mode: "lcr", Lower: -20,
			Category: "pressure", Register: "sensor_alarm", Bit: alarmInletPress},
		EntryConfig{Sensor: SensorOutletPressure, Name: "coolant_outlet_pressure", Mode: "ucr", Upper: 200,
			Category: "pressure", Register: "sensor_alarm", Bit: alarmOutletPress},
		EntryConfig{Sensor: SensorFlowRate, Name: "coolant_flow_rate", Mode: "lcr", Lower: 10,
			Category: "flow", Register: "sensor_alarm", Bit: alarmFlow},
		EntryConfig{Sensor: SensorRackLevel1, Name: "rack_level_1", Mode: "lcr", Lower: 0.1,
			Category: "high_level"},
		EntryConfig{Sensor: SensorRackLevel2, Name: "rack_level_2", Mode: "lcr", Lower: 0.1,
			Category: "low_level"},
		EntryConfig{Sensor: SensorCDULeak, Name: "cdu_coolant_leak", Mode: "ucr", Upper: 0.5,
			Category: "leak", Register: "leak", Bit: 0},
		EntryConfig{Sensor: SensorRackLeak, Name: "rack_coolant_leak", Mode: "ucr", Upper: 0.5,
			Category: "leak", Register: "leak", Bit: 1},
	)
}

// Devices 0..2 are pumps, 3..16 heat exchanger fans, 17..22 pump fans.
func defaultTopology() map[string][]int {
	seq := func(from, n int) []int {
		out := make([]int, n)
		for i := range out {
			out[i] = from + i
		}
		return out
	}
	return map[string][]int{
		"pump":    seq(0, pumps),
		"hex_fan": seq(pumps, hexFans),
		"rpu_fan": seq(pumps+hexFans, pumpFans),
	}
}

func defaultCodes() []CodeConfig {
	sensors := []uint16{
		SensorCDULeak, SensorRackLeak, SensorRackLevel2,
		SensorPumpTach, SensorPumpTach + 1, SensorPumpTach + 2,
		SensorOutletPressure, SensorFlowRate, SensorInletPressure,
		SensorCoolantInletTemp, SensorCoolantOutletTemp, SensorHexWaterInletTemp,
	}
	for i := 0; i < hexAirInlets; i++ {
		sensors = append(sensors, SensorHexAirInletTemp+uint16(i))
	}
	for i := 0; i < hexFans; i++ {
		sensors = append(sensors, SensorHexFanTach+uint16(i))
	}
	codes := make([]CodeConfig, len(sensors))
	for i, s := range sensors {
		codes[i] = CodeConfig{Sensor: s, Abnormal: 0x0101 + uint16(i), Recover: 0x0201 + uint16(i)}
	}
	return codes
}

// defaultPoints maps every sensor to the hub input register of the same
// number.
func defaultPoints() []PointConfig {
	var p []PointConfig
	add := func(first uint16, n int, scale float64, signed bool) {
		for i := 0; i < n; i++ {
			id := first + uint16(i)
			p = append(p, PointConfig{Sensor: id, Address: id, Scale: scale, Signed: signed})
		}
	}
	add(SensorCoolantInletTemp, 4, 0.1, true)
	add(SensorHexAirInletTemp, hexAirInlets, 0.1, true)
	add(SensorHexOutletTemp, hexFans, 0.1, true)
	add(SensorHexFanTach, hexFans, 1, false)
	add(SensorPumpTach, pumps, 1, false)
	add(SensorPumpFanTach, pumpFans, 1, false)
	add(SensorInletPressure, 2, 0.1, true)
	add(SensorFlowRate, 1, 0.1, false)
	add(SensorRackLevel1, 2, 1, false)
	add(SensorCDULeak, 2, 0.01, false)
	add(SensorSupplyVolt, 1, 0.01, false)
	return p
}

// defaultChannels puts each device's duty at the holding register and
// its power-good at the discrete input and coil of the same number. The
// board fault PWM sits at faultPWMBase plus the device number.
func defaultChannels() []ChannelConfig {
	const faultPWMBase = 0x100
	n := pumps + hexFans + pumpFans
	ch := make([]ChannelConfig, n)
	for i := range ch {
		pg, fault := uint16(i), uint16(faultPWMBase+i)
		ch[i] = ChannelConfig{Device: uint8(i), Duty: uint16(i), PowerGood: &pg, PowerGoodOut: &pg, FaultPWM: &fault}
	}
	return ch
}
