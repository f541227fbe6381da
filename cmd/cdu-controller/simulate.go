package main

import (
	"sync"

	"github.com/sweeney/cdu-controller/internal/actuator"
	"github.com/sweeney/cdu-controller/internal/config"
	"github.com/sweeney/cdu-controller/internal/sensor"
)

// plant is a crude thermal model of the unit used with -simulate. It is
// both the PWM controller and the sensor hub: temperatures fall as pump
// and fan duty rise, and tachs follow duty.
type plant struct {
	topo actuator.Topology

	mu       sync.Mutex
	duties   map[actuator.Device]int
	override map[sensor.ID]float64
}

func newPlant(topo actuator.Topology) *plant {
	return &plant{
		topo:     topo,
		duties:   make(map[actuator.Device]int),
		override: make(map[sensor.ID]float64),
	}
}

func (p *plant) WriteDuty(d actuator.Device, duty int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.duties[d] = duty
	return nil
}

func (p *plant) PowerGood(actuator.Device) (bool, error) { return true, nil }

// Set pins a sensor to v regardless of the model.
func (p *plant) Set(id sensor.ID, v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.override[id] = v
}

// duty returns the written duty of member i of g, 0 if never written.
func (p *plant) duty(g actuator.Group, i int) float64 {
	members := p.topo[g]
	if i >= len(members) {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return float64(p.duties[members[i]])
}

// mean returns the average written duty of g as a fraction.
func (p *plant) mean(g actuator.Group) float64 {
	n := len(p.topo[g])
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += p.duty(g, i)
	}
	return sum / float64(n) / 100
}

func (p *plant) ReadSensor(id sensor.ID) (float64, error) {
	p.mu.Lock()
	v, ok := p.override[id]
	p.mu.Unlock()
	if ok {
		return v, nil
	}

	pump := p.mean(actuator.GroupPump)
	fan := p.mean(actuator.GroupHexFan)
	outlet := 25 + 20*(1-pump)

	n := uint16(id)
	switch {
	case n == config.SensorCoolantInletTemp:
		return outlet - 8*fan, nil
	case n == config.SensorCoolantOutletTemp:
		return outlet, nil
	case n == config.SensorAirInletTemp:
		return 26, nil
	case n == config.SensorHexWaterInletTemp:
		return outlet - 1, nil
	case n >= config.SensorHexAirInletTemp && n < config.SensorHexOutletTemp:
		return 27, nil
	case n >= config.SensorHexOutletTemp && n < config.SensorHexFanTach:
		return 28 + 10*(1-fan), nil
	case n >= config.SensorHexFanTach && n < config.SensorPumpTach:
		return tach(p.duty(actuator.GroupHexFan, int(n-config.SensorHexFanTach))), nil
	case n >= config.SensorPumpTach && n < config.SensorPumpFanTach:
		return tach(p.duty(actuator.GroupPump, int(n-config.SensorPumpTach))), nil
	case n >= config.SensorPumpFanTach && n < config.SensorInletPressure:
		return tach(p.duty(actuator.GroupRPUFan, int(n-config.SensorPumpFanTach))), nil
	case n == config.SensorInletPressure:
		return 20, nil
	case n == config.SensorOutletPressure:
		return 40 + 40*pump, nil
	case n == config.SensorFlowRate:
		return 12 + 20*pump, nil
	case n == config.SensorRackLevel1, n == config.SensorRackLevel2:
		return 1, nil
	case n == config.SensorSupplyVolt:
		return 12, nil
	}
	return 0, nil
}

func tach(duty float64) float64 { return 1000 + 30*duty }
