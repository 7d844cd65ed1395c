// Package metronome holds the timing constants shared by every node producing
// or checking a PoH chain. Chains only interoperate when these match exactly.
package metronome

import "time"

const (
	SecondsPerDay = 24 * 60 * 60

	RevsPerSecond = 160
	RevsPerDay    = RevsPerSecond * SecondsPerDay

	// 1000 / 160 = 6.25ms, truncated to 6ms; the tolerance below restores the quarter.
	MsPerRev          = 1_000 / RevsPerSecond
	USTolerancePerRev = 250
	USPerRev          = MsPerRev*1_000 + USTolerancePerRev

	RevsPerPhase = 64

	// Roughly what a GCP n1-standard or a Xeon E5-2520 v4 core sustains.
	HashesPerSecond = 2_000_000
	HashesPerRev    = HashesPerSecond / RevsPerSecond

	MsPerPhase = 1_000 * RevsPerPhase / RevsPerSecond

	// 432000 phases of 400ms is two days.
	PhasesPerCycle = 2 * RevsPerDay / RevsPerPhase
	// 8192 phases of 400ms is about 55 minutes.
	DevPhasesPerCycle = 8_192

	ConsecutiveLeaderPhases = 4

	ChannelCapacity = 1_000
	BatchSize       = 64

	SpinThresholdUS = 250
)

// SecondsPerPhase is the expected wall time of one phase.
const SecondsPerPhase = float64(RevsPerPhase) / float64(RevsPerSecond)

// RevDuration is USPerRev as a time.Duration.
const RevDuration = USPerRev * time.Microsecond

// SpinThreshold is SpinThresholdUS as a time.Duration.
const SpinThreshold = SpinThresholdUS * time.Microsecond
