package safety

import "github.com/sweeney/cdu-controller/internal/actuator"

// Duties held by the redundant group while the rested member changes.
const (
	SwitchoverBlendDuty = 55
	SwitchoverRampDuty  = 20
)

// DefaultSwitchoverCycles is the length of each switchover stage in
// writes to the redundant group.
const DefaultSwitchoverCycles = 5

// Switchover sets how many writes each stage of a rest change holds.
// Zero fields take DefaultSwitchoverCycles.
type Switchover struct {
	Blend int // every member at SwitchoverBlendDuty
	Ramp  int // incoming rest at SwitchoverRampDuty, others at max
	Drain int // incoming rest at 0, others at max
}

func (s Switchover) withDefaults() Switchover {
	for _, n := range []*int{&s.Blend, &s.Ramp, &s.Drain} {
		if *n <= 0 {
			*n = DefaultSwitchoverCycles
		}
	}
	return s
}

// Stage is a step of the switchover sequence.
type Stage uint8

const (
	StageIdle Stage = iota
	StageBlend
	StageRamp
	StageDrain
)

func (s Stage) String() string {
	switch s {
	case StageBlend:
		return "blend"
	case StageRamp:
		return "ramp"
	case StageDrain:
		return "drain"
	default:
		return "idle"
	}
}

// switchover tracks a change of rested member. The incoming rest is
// frozen until the sequence completes.
type switchover struct {
	cfg Switchover

	prev, next       actuator.Device
	hasPrev, hasNext bool
	stage            Stage
	left             int
}

func (s *switchover) reset() {
	cfg := s.cfg
	*s = switchover{cfg: cfg}
}

// step advances the sequence by one write and returns the stage to
// apply with the member being rested. StageIdle means the normal rest
// applies.
func (s *switchover) step(rest actuator.Device, resting bool) (Stage, actuator.Device) {
	if s.stage == StageIdle {
		s.next, s.hasNext = rest, resting
	}
	if !s.hasNext {
		s.hasPrev = false
		return StageIdle, 0
	}
	if !s.hasPrev {
		// First rest after enable: nothing to hand over from.
		s.prev, s.hasPrev = s.next, true
		return StageIdle, 0
	}
	if s.prev == s.next {
		return StageIdle, 0
	}

	if s.stage == StageIdle {
		s.stage, s.left = StageBlend, s.cfg.Blend
	}
	st := s.stage
	s.left--
	if s.left <= 0 {
		switch s.stage {
		case StageBlend:
			s.stage, s.left = StageRamp, s.cfg.Ramp
		case StageRamp:
			s.stage, s.left = StageDrain, s.cfg.Drain
		case StageDrain:
			s.stage = StageIdle
			s.prev = s.next
		}
	}
	return st, s.next
}

// duty returns what a member gets during stage st with rest going
// offline.
func (st Stage) duty(d, rest actuator.Device) int {
	switch st {
	case StageBlend:
		return SwitchoverBlendDuty
	case StageRamp:
		if d == rest {
			return SwitchoverRampDuty
		}
	case StageDrain:
		if d == rest {
			return 0
		}
	}
	return actuator.MaxDuty
}
