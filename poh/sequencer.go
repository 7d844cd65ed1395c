// Package poh implements the Proof of History sequencer: a hash chain that
// advances a fixed number of iterations per rev at a fixed real-time cadence,
// optionally binding event data to the rev it arrived on.
package poh

import (
	"fmt"
	"math"
	"time"

	"github.com/LICODX/rnr-poh/pkg/hash"
	"github.com/LICODX/rnr-poh/pkg/metronome"
)

// Observer is notified after every rev. Lateness is how far past its
// deadline the rev started; zero when the deadline was met.
type Observer interface {
	ObserveRev(rec Record, lateness time.Duration)
}

// Config selects the digest and schedule of a chain. The zero value is
// SHA-256 on the production schedule.
type Config struct {
	Algorithm     hash.Algorithm
	Schedule      metronome.Schedule
	SpinThreshold time.Duration
	Observer      Observer
}

// DefaultConfig returns SHA-256, production schedule, 250µs spin threshold.
func DefaultConfig() Config {
	return Config{
		Algorithm:     hash.DefaultAlgorithm,
		Schedule:      metronome.Production(),
		SpinThreshold: metronome.SpinThreshold,
	}
}

func (c Config) withDefaults() Config {
	if c.Schedule == (metronome.Schedule{}) {
		c.Schedule = metronome.Production()
	}
	if c.SpinThreshold <= 0 {
		c.SpinThreshold = metronome.SpinThreshold
	}
	return c
}

// Sequencer owns the running chain tip and the rev/phase/cycle counters.
// It is not safe for concurrent use: one goroutine drives Tick.
type Sequencer struct {
	hasher   hash.Hasher
	schedule metronome.Schedule
	spin     time.Duration
	observer Observer

	currentHash     [hash.Size]byte
	revCount        uint64
	phaseCount      uint64
	cycleCount      uint64
	startTime       time.Time
	nextRevTargetUS uint64
}

// NewSequencer hashes seed into the initial chain tip and starts the clock.
func NewSequencer(seed []byte, cfg Config) (*Sequencer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Schedule.Validate(); err != nil {
		return nil, fmt.Errorf("new sequencer: %w", err)
	}

	hasher := hash.NewHasher(cfg.Algorithm)
	return &Sequencer{
		hasher:          hasher,
		schedule:        cfg.Schedule,
		spin:            cfg.SpinThreshold,
		observer:        cfg.Observer,
		currentHash:     hasher.Hash(seed),
		startTime:       time.Now(),
		nextRevTargetUS: cfg.Schedule.USPerRev,
	}, nil
}

// Tick produces the next plain rev.
func (s *Sequencer) Tick() Record {
	return s.core(nil)
}

// TickWithEvent embeds data into the chain and produces the rev that
// carries it. The record keeps its own copy of data.
func (s *Sequencer) TickWithEvent(data []byte) Record {
	event := make([]byte, len(data))
	copy(event, data)
	return s.core(event)
}

func (s *Sequencer) core(event []byte) Record {
	lateness := s.enforceTiming()

	if event != nil {
		s.currentHash = s.hasher.EmbedData(s.currentHash, event)
	}
	s.currentHash = s.hasher.ExtendChain(s.currentHash, s.schedule.HashesPerRev)

	revIndex := s.revCount
	phaseIndex := revIndex / s.schedule.RevsPerPhase
	cycleIndex := phaseIndex / s.schedule.PhasesPerCycle
	rec := Record{
		Hash:        s.currentHash,
		RevIndex:    revIndex,
		PhaseIndex:  phaseIndex,
		CycleIndex:  cycleIndex,
		TimestampMs: uint64(time.Since(s.startTime).Milliseconds()),
		Event:       event,
	}

	if s.revCount == math.MaxUint64 {
		panic("poh: rev count overflow")
	}
	s.revCount++

	phaseDone := s.revCount%s.schedule.RevsPerPhase == 0
	if phaseDone {
		if s.phaseCount == math.MaxUint64 {
			panic("poh: phase count overflow")
		}
		s.phaseCount++
	}
	if phaseDone && phaseIndex%s.schedule.PhasesPerCycle == 0 {
		s.cycleCount = cycleIndex
		s.phaseCount = 0
	}

	s.nextRevTargetUS = saturatingAdd(s.nextRevTargetUS, s.schedule.USPerRev)

	if s.observer != nil {
		s.observer.ObserveRev(rec, lateness)
	}
	return rec
}

func (s *Sequencer) CurrentHash() [hash.Size]byte {
	return s.currentHash
}

func (s *Sequencer) RevCount() uint64 {
	return s.revCount
}

func (s *Sequencer) PhaseCount() uint64 {
	return s.phaseCount
}

func (s *Sequencer) CycleCount() uint64 {
	return s.cycleCount
}

func (s *Sequencer) Algorithm() hash.Algorithm {
	return s.hasher.Algorithm()
}

func (s *Sequencer) Schedule() metronome.Schedule {
	return s.schedule
}

// Elapsed is the monotonic time since the sequencer was created.
func (s *Sequencer) Elapsed() time.Duration {
	return time.Since(s.startTime)
}

// Lag is how far the wall clock is ahead of the next rev deadline. A
// sequencer keeping up reports zero or a value under one rev.
func (s *Sequencer) Lag() time.Duration {
	target := time.Duration(s.nextRevTargetUS) * time.Microsecond
	if lag := s.Elapsed() - target; lag > 0 {
		return lag
	}
	return 0
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
