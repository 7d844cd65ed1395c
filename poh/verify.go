package poh

import (
	"go.uber.org/zap"

	"github.com/LICODX/rnr-poh/pkg/hash"
	"github.com/LICODX/rnr-poh/pkg/metronome"
)

// TimestampDriftMs is the symmetric window, in milliseconds, a record's
// timestamp may deviate from the cadence implied by the first record.
const TimestampDriftMs = 8

// Verifier checks recorded sequences against one algorithm and schedule.
// It holds no mutable state.
type Verifier struct {
	hasher   hash.Hasher
	schedule metronome.Schedule
}

func NewVerifier(algorithm hash.Algorithm, schedule metronome.Schedule) Verifier {
	if schedule == (metronome.Schedule{}) {
		schedule = metronome.Production()
	}
	return Verifier{hasher: hash.NewHasher(algorithm), schedule: schedule}
}

// VerifierFor returns a Verifier matching a sequencer configuration.
func VerifierFor(cfg Config) Verifier {
	cfg = cfg.withDefaults()
	return NewVerifier(cfg.Algorithm, cfg.Schedule)
}

// VerifySequence checks SHA-256 records on the production schedule.
func VerifySequence(records []Record) bool {
	return NewVerifier(hash.DefaultAlgorithm, metronome.Production()).VerifySequence(records)
}

// VerifyTimestamps checks production-cadence timestamps. logger may be nil.
func VerifyTimestamps(records []Record, logger *zap.Logger) bool {
	return NewVerifier(hash.DefaultAlgorithm, metronome.Production()).VerifyTimestamps(records, logger)
}

// VerifySequence recomputes every transition in records and checks the
// rev, phase and cycle indices. An empty sequence proves nothing and is
// rejected. The first violation fails the whole sequence.
func (v Verifier) VerifySequence(records []Record) bool {
	if len(records) == 0 {
		return false
	}
	if v.schedule.Validate() != nil {
		return false
	}

	revsPerCycle := v.schedule.RevsPerPhase * v.schedule.PhasesPerCycle
	for i := 1; i < len(records); i++ {
		prev, curr := &records[i-1], &records[i]

		if !v.hasher.VerifyChain(prev.Hash, curr.Hash, v.schedule.HashesPerRev, curr.Event) {
			return false
		}
		if curr.RevIndex != saturatingAdd(prev.RevIndex, 1) {
			return false
		}
		if curr.PhaseIndex != curr.RevIndex/v.schedule.RevsPerPhase {
			return false
		}
		if curr.CycleIndex != curr.RevIndex/revsPerCycle {
			return false
		}
	}
	return true
}

// IndicesMatch reports whether rec's phase and cycle indices are the ones
// its rev index derives on v's schedule. It checks a lone record, such as
// the first one seen from a peer, which VerifySequence cannot.
func (v Verifier) IndicesMatch(rec Record) bool {
	if v.schedule.Validate() != nil {
		return false
	}
	return rec.PhaseIndex == v.schedule.PhaseIndex(rec.RevIndex) &&
		rec.CycleIndex == v.schedule.CycleIndex(rec.RevIndex)
}

// VerifyTimestamps checks that each record's timestamp lies within
// TimestampDriftMs of first + i*rev duration. It is a plausibility check
// only and says nothing about chain integrity. The first mismatch is logged
// when logger is non-nil.
func (v Verifier) VerifyTimestamps(records []Record, logger *zap.Logger) bool {
	if len(records) == 0 {
		return false
	}

	first := records[0].TimestampMs
	for i := range records {
		actual := records[i].TimestampMs
		expected := saturatingAdd(first, checkedMul(uint64(i), v.schedule.USPerRev)/1_000)
		lower := saturatingSub(expected, TimestampDriftMs)
		upper := saturatingAdd(expected, TimestampDriftMs)

		tooEarly := actual < lower
		tooLate := actual > upper
		if !tooEarly && !tooLate {
			continue
		}
		if logger != nil {
			drift := saturatingSub(actual, upper)
			if tooEarly {
				drift = saturatingSub(lower, actual)
			}
			logger.Warn("timestamp mismatch",
				zap.Int("record", i),
				zap.Uint64("actual_ms", actual),
				zap.Uint64("expected_ms", expected),
				zap.Uint64("drift_ms", drift),
				zap.Uint64("allowed_ms", TimestampDriftMs),
			)
		}
		return false
	}
	return true
}

// checkedMul returns 0 on overflow.
func checkedMul(a, b uint64) uint64 {
	if a != 0 && b > ^uint64(0)/a {
		return 0
	}
	return a * b
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
