// Package config loads the controller's static tables: control zones,
// threshold entries, safety rules, actuator topology and the hardware
// endpoints. Tables are read once at startup and never change.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	FSC       FSCConfig          `yaml:"fsc"`
	Threshold ThresholdConfig    `yaml:"threshold"`
	Safety    SafetyConfig       `yaml:"safety"`
	Topology  map[string][]int   `yaml:"topology"`
	ErrLog    ErrLogConfig       `yaml:"errlog"`
	Modbus    ModbusConfig       `yaml:"modbus"`
	GPIO      GPIOConfig         `yaml:"gpio"`
}

// ---- FSC ----

type FSCConfig struct {
	TickMs int          `yaml:"tick_ms"`
	Zones  []ZoneConfig `yaml:"zones"`
}

type ZoneConfig struct {
	ID       uint8            `yaml:"id"`
	Target   string           `yaml:"target"` // actuator group, "none" when unbound
	Interval int              `yaml:"interval"`
	OutMin   int              `yaml:"out_min"`
	OutMax   int              `yaml:"out_max"`
	SlewPos  int              `yaml:"slew_pos"`
	SlewNeg  int              `yaml:"slew_neg"`
	Stepwise []StepwiseConfig `yaml:"stepwise"`
	PID      []PIDConfig      `yaml:"pid"`
}

type StepwiseConfig struct {
	Sensor  uint16       `yaml:"sensor"`
	Ambient bool         `yaml:"ambient"`
	HystPos float64      `yaml:"hyst_pos"`
	HystNeg float64      `yaml:"hyst_neg"`
	Steps   []StepConfig `yaml:"steps"`
}

type StepConfig struct {
	Temp float64 `yaml:"temp"`
	Duty int     `yaml:"duty"`
}

type PIDConfig struct {
	Sensor   uint16  `yaml:"sensor"`
	Setpoint float64 `yaml:"setpoint"`
	Kp       float64 `yaml:"kp"`
	Ki       float64 `yaml:"ki"`
	Kd       float64 `yaml:"kd"`
	IMin     float64 `yaml:"i_min"`
	IMax     float64 `yaml:"i_max"`
	HystPos  float64 `yaml:"hyst_pos"`
	HystNeg  float64 `yaml:"hyst_neg"`
	Truncate bool    `yaml:"truncate"`
	Feature  *uint8  `yaml:"feature"` // SETPOINT_ENABLE bit
}

// ---- THRESHOLD ----

type ThresholdConfig struct {
	IntervalMs   int           `yaml:"interval_ms"`
	StartDelayMs int           `yaml:"start_delay_ms"`
	StartupDuty  int           `yaml:"startup_duty"`
	Entries      []EntryConfig `yaml:"entries"`
}

type EntryConfig struct {
	Sensor       uint16  `yaml:"sensor"`
	Name         string  `yaml:"name"`
	Mode         string  `yaml:"mode"`
	Lower        float64 `yaml:"lower"`
	Upper        float64 `yaml:"upper"`
	DetectAbsent bool    `yaml:"detect_absent"`
	Category     string  `yaml:"category"`
	Register     string  `yaml:"register"`
	Bit          uint8   `yaml:"bit"`
	Member       int     `yaml:"member"`
}

// ---- SAFETY ----

type SafetyConfig struct {
	GraceMs       int              `yaml:"grace_ms"`
	StopBits      []uint8          `yaml:"stop_bits"`
	StopGroups    []string         `yaml:"stop_groups"`
	Rules         []RuleConfig     `yaml:"rules"`
	ManualDefault int              `yaml:"manual_default"`
	SemiAutoPair  []string         `yaml:"semi_auto_pair"`
	Redundancy    RedundancyConfig `yaml:"redundancy"`
}

type RuleConfig struct {
	Bit    uint8    `yaml:"bit"`
	Action string   `yaml:"action"` // "stop" or "max"
	Groups []string `yaml:"groups"`
}

type RedundancyConfig struct {
	Group      string           `yaml:"group"`
	Interval   int              `yaml:"interval"`
	Unit       string           `yaml:"unit"`
	Switchover SwitchoverConfig `yaml:"switchover"`
}

// SwitchoverConfig is the length of each rest-change stage in control
// ticks.
type SwitchoverConfig struct {
	Blend int `yaml:"blend"`
	Ramp  int `yaml:"ramp"`
	Drain int `yaml:"drain"`
}

// ---- ERROR LOG ----

type ErrLogConfig struct {
	Codes   []CodeConfig  `yaml:"codes"`
	Context ContextConfig `yaml:"context"`
}

type CodeConfig struct {
	Sensor   uint16 `yaml:"sensor"`
	Abnormal uint16 `yaml:"abnormal"`
	Recover  uint16 `yaml:"recover"`
}

// ContextConfig names the sensors sampled into every error record.
type ContextConfig struct {
	OutletTemp  uint16 `yaml:"outlet_temp"`
	OutletPress uint16 `yaml:"outlet_press"`
	FlowRate    uint16 `yaml:"flow_rate"`
	Volt        uint16 `yaml:"volt"`
}

// ---- MODBUS ----

type ModbusConfig struct {
	Sensors   SensorHubConfig `yaml:"sensors"`
	Actuators PWMConfig       `yaml:"actuators"`
}

type SensorHubConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	UnitID    uint8         `yaml:"unit_id"`
	TimeoutMs int           `yaml:"timeout_ms"`
	PollMs    int           `yaml:"poll_ms"`
	Points    []PointConfig `yaml:"points"`
}

type PointConfig struct {
	Sensor  uint16  `yaml:"sensor"`
	Address uint16  `yaml:"address"`
	Scale   float64 `yaml:"scale"`
	Signed  bool    `yaml:"signed"`
}

type PWMConfig struct {
	Endpoint  string          `yaml:"endpoint"`
	UnitID    uint8           `yaml:"unit_id"`
	TimeoutMs int             `yaml:"timeout_ms"`
	Channels  []ChannelConfig `yaml:"channels"`
}

type ChannelConfig struct {
	Device    uint8   `yaml:"device"`
	Duty      uint16  `yaml:"duty"`       // holding register
	PowerGood *uint16 `yaml:"power_good"` // discrete input, optional

	FaultPWM     *uint16 `yaml:"fault_pwm"`      // holding register, optional
	PowerGoodOut *uint16 `yaml:"power_good_out"` // coil, optional
}

// ---- GPIO ----

type GPIOConfig struct {
	Chip  string         `yaml:"chip"`
	LEDs  map[string]int `yaml:"leds"`
	Ready []int          `yaml:"ready"`
}

// Load reads the YAML file at path on top of Default. Sections absent
// from the file keep their defaults; unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Encode renders cfg as YAML.
func Encode(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}
