package metronome

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimingConstants(t *testing.T) {
	assert.EqualValues(t, 12500, HashesPerRev)
	assert.EqualValues(t, 6250, USPerRev)
	assert.EqualValues(t, 400, MsPerPhase)
	assert.EqualValues(t, 432000, PhasesPerCycle)
	assert.EqualValues(t, 8192, DevPhasesPerCycle)
	assert.Equal(t, 6250*time.Microsecond, RevDuration)
	assert.InDelta(t, 0.4, SecondsPerPhase, 1e-9)
}

func TestPhaseDurationIs400ms(t *testing.T) {
	assert.Equal(t, 400*time.Millisecond, Production().PhaseDuration())
	assert.EqualValues(t, 400, USPerRev*RevsPerPhase/1_000)
}

func TestCycleIsTwoDays(t *testing.T) {
	msPerCycle := uint64(USPerRev*RevsPerPhase/1_000) * PhasesPerCycle
	days := float64(msPerCycle) / (24 * 60 * 60 * 1_000)
	assert.True(t, math.Abs(days-2.0) < 0.001, "cycle is %.4f days", days)
	assert.Equal(t, 48*time.Hour, Production().CycleDuration())
}

func TestScheduleByName(t *testing.T) {
	for _, name := range []string{"", "production", "PROD"} {
		s, err := ScheduleByName(name)
		require.NoError(t, err)
		assert.Equal(t, Production(), s)
	}
	for _, name := range []string{"development", "Dev"} {
		s, err := ScheduleByName(name)
		require.NoError(t, err)
		assert.EqualValues(t, DevPhasesPerCycle, s.PhasesPerCycle)
		assert.Equal(t, DevelopmentName, s.Name)
	}
	_, err := ScheduleByName("staging")
	assert.Error(t, err)
}

func TestScheduleIndices(t *testing.T) {
	prod := Production()
	dev := Development()

	assert.EqualValues(t, 0, prod.PhaseIndex(63))
	assert.EqualValues(t, 1, prod.PhaseIndex(64))

	boundary := uint64(RevsPerPhase * DevPhasesPerCycle)
	assert.EqualValues(t, 0, dev.CycleIndex(boundary-1))
	assert.EqualValues(t, 1, dev.CycleIndex(boundary))
	assert.EqualValues(t, 0, prod.CycleIndex(boundary))

	assert.EqualValues(t, 0, prod.LeaderSlot(3))
	assert.EqualValues(t, 1, prod.LeaderSlot(4))
}

func TestScheduleValidate(t *testing.T) {
	require.NoError(t, Production().Validate())
	require.NoError(t, Development().Validate())

	s := Production()
	s.RevsPerPhase = 0
	assert.Error(t, s.Validate())

	s = Production()
	s.PhasesPerCycle = 0
	assert.Error(t, s.Validate())

	s = Production()
	s.USPerRev = 0
	assert.Error(t, s.Validate())
}
