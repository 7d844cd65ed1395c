package metronome

import (
	"fmt"
	"strings"
	"time"
)

// Schedule is the set of chain parameters a producer and its verifiers
// agree on. Production and development differ only in cycle length.
type Schedule struct {
	Name           string
	HashesPerRev   uint64
	RevsPerPhase   uint64
	PhasesPerCycle uint64
	USPerRev       uint64
}

const (
	ProductionName  = "production"
	DevelopmentName = "development"
)

func Production() Schedule {
	return Schedule{
		Name:           ProductionName,
		HashesPerRev:   HashesPerRev,
		RevsPerPhase:   RevsPerPhase,
		PhasesPerCycle: PhasesPerCycle,
		USPerRev:       USPerRev,
	}
}

func Development() Schedule {
	s := Production()
	s.Name = DevelopmentName
	s.PhasesPerCycle = DevPhasesPerCycle
	return s
}

// ScheduleByName resolves "production" / "development" (case-insensitive,
// "prod" and "dev" accepted). An empty name is production.
func ScheduleByName(name string) (Schedule, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ProductionName, "prod":
		return Production(), nil
	case DevelopmentName, "dev":
		return Development(), nil
	default:
		return Schedule{}, fmt.Errorf("unknown schedule %q", name)
	}
}

// Validate rejects schedules that would divide by zero or never advance.
func (s Schedule) Validate() error {
	if s.RevsPerPhase == 0 {
		return fmt.Errorf("schedule %s: revs per phase must be positive", s.Name)
	}
	if s.PhasesPerCycle == 0 {
		return fmt.Errorf("schedule %s: phases per cycle must be positive", s.Name)
	}
	if s.USPerRev == 0 {
		return fmt.Errorf("schedule %s: rev duration must be positive", s.Name)
	}
	return nil
}

func (s Schedule) PhaseIndex(rev uint64) uint64 {
	return rev / s.RevsPerPhase
}

func (s Schedule) CycleIndex(rev uint64) uint64 {
	return s.PhaseIndex(rev) / s.PhasesPerCycle
}

// LeaderSlot maps a phase to the leader rotation slot it belongs to.
func (s Schedule) LeaderSlot(phase uint64) uint64 {
	return phase / ConsecutiveLeaderPhases
}

func (s Schedule) RevDuration() time.Duration {
	return time.Duration(s.USPerRev) * time.Microsecond
}

func (s Schedule) PhaseDuration() time.Duration {
	return s.RevDuration() * time.Duration(s.RevsPerPhase)
}

func (s Schedule) CycleDuration() time.Duration {
	return s.PhaseDuration() * time.Duration(s.PhasesPerCycle)
}
