package worker

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LICODX/rnr-poh/pkg/utils"
)

func TestNativeBasic(t *testing.T) {
	w, err := DefaultNative("test-worker", nil)
	require.NoError(t, err)
	assert.Equal(t, "test-worker", w.Name())
	assert.Zero(t, w.RunningCount())
	assert.False(t, w.IsFull())

	var counter atomic.Int32
	release := make(chan struct{})
	h, err := w.Spawn(func() error {
		counter.Add(1)
		<-release
		counter.Add(1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "test-worker-0", h.Name())
	assert.Equal(t, 1, w.RunningCount())
	assert.False(t, h.IsFinished())

	close(release)
	require.NoError(t, h.Join())
	assert.True(t, h.IsFinished())
	assert.EqualValues(t, 2, counter.Load())
	assert.Zero(t, w.RunningCount())
}

func TestNativeSpawnNamedReturnsError(t *testing.T) {
	w, err := DefaultNative("w", nil)
	require.NoError(t, err)
	sentinel := errors.New("job failed")
	h, err := w.SpawnNamed("custom-worker", func() error { return sentinel })
	require.NoError(t, err)
	assert.Equal(t, "custom-worker", h.Name())
	assert.ErrorIs(t, h.Join(), sentinel)
}

func TestNativeMaxThreads(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxThreads = 2
	w, err := NewNative("limited-worker", cfg, nil)
	require.NoError(t, err)

	release := make(chan struct{})
	block := func() error { <-release; return nil }
	h1, err := w.Spawn(block)
	require.NoError(t, err)
	h2, err := w.Spawn(block)
	require.NoError(t, err)

	assert.Equal(t, 2, w.RunningCount())
	assert.True(t, w.IsFull())
	_, err = w.Spawn(block)
	assert.ErrorIs(t, err, ErrTooManyThreads)

	close(release)
	require.NoError(t, h1.Join())
	require.NoError(t, h2.Join())
	assert.Zero(t, w.RunningCount())
	assert.False(t, w.IsFull())
}

func TestNativePanicBecomesError(t *testing.T) {
	w, err := DefaultNative("panic-test", nil)
	require.NoError(t, err)
	h, err := w.Spawn(func() error { panic("boom") })
	require.NoError(t, err)

	err = h.Join()
	var pe *utils.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "boom", pe.Value)
	assert.Zero(t, w.RunningCount())
}

func TestNativePinnedCore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CoreAllocation = CoreAllocation{Kind: PinnedCores, Min: 0, Max: 0}
	w, err := NewNative("pinned", cfg, nil)
	require.NoError(t, err)
	h, err := w.Spawn(func() error { return nil })
	require.NoError(t, err)
	assert.NoError(t, h.Join())
}

func TestCoreMask(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2, 3}, CoreAllocation{Kind: PinnedCores, Min: 0, Max: 3}.CoreMask())
	assert.Empty(t, CoreAllocation{Kind: PinnedCores, Min: 5, Max: 3}.CoreMask())
	assert.Empty(t, CoreAllocation{Kind: OsDefault, Min: 0, Max: 3}.CoreMask())

	assert.NoError(t, CoreAllocation{Kind: DedicatedCoreSet, Min: 0, Max: 0}.Validate())
	assert.Error(t, CoreAllocation{Kind: PinnedCores, Min: 5, Max: 3}.Validate())
	assert.Error(t, CoreAllocation{Kind: DedicatedCoreSet, Min: 0, Max: runtime.NumCPU()}.Validate())
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.MaxThreads = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.StackSizeBytes = 1024
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.CoreAllocation = CoreAllocation{Kind: PinnedCores, Min: 5, Max: 3}
	assert.Error(t, cfg.Validate())

	_, err := NewNative("bad", cfg, nil)
	assert.Error(t, err)
}

func TestParseAllocationKind(t *testing.T) {
	for _, k := range []AllocationKind{OsDefault, PinnedCores, DedicatedCoreSet} {
		got, err := ParseAllocationKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseAllocationKind("numa")
	assert.Error(t, err)
}

func TestThreadPoolBasic(t *testing.T) {
	pool, err := DefaultPool("test-pool", 2, nil)
	require.NoError(t, err)

	var counter atomic.Int32
	require.NoError(t, pool.Execute(func() error { counter.Add(1); return nil }))
	pool.Wait()

	assert.EqualValues(t, 1, counter.Load())
	stats := pool.Stats()
	assert.Equal(t, 1, stats.CompletedJobs)
	assert.Zero(t, stats.FailedJobs)
	require.NoError(t, pool.Shutdown())
}

func TestThreadPoolExecuteWait(t *testing.T) {
	pool, err := DefaultPool("wait-pool", 1, nil)
	require.NoError(t, err)
	defer pool.Shutdown()

	v, err := ExecuteWait(pool, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = ExecuteWait(pool, func() (struct{}, error) { return struct{}{}, errors.New("test error") })
	assert.ErrorContains(t, err, "test error")

	_, err = ExecuteWait(pool, func() (int, error) { panic("pool panic") })
	var pe *utils.PanicError
	assert.ErrorAs(t, err, &pe)
}

func TestThreadPoolBatchAndStats(t *testing.T) {
	pool, err := DefaultPool("batch-pool", 3, nil)
	require.NoError(t, err)

	var counter atomic.Int32
	jobs := make([]Job, 0, 11)
	for i := 0; i < 10; i++ {
		jobs = append(jobs, func() error {
			time.Sleep(time.Millisecond)
			counter.Add(1)
			return nil
		})
	}
	jobs = append(jobs, func() error { return errors.New("test failure") })

	n, err := pool.ExecuteBatch(jobs)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	pool.Wait()

	stats := pool.Stats()
	assert.EqualValues(t, 10, counter.Load())
	assert.Equal(t, 11, stats.CompletedJobs)
	assert.Equal(t, 1, stats.FailedJobs)
	assert.Positive(t, stats.AvgProcessingTime)
	assert.LessOrEqual(t, stats.PeakActiveWorkers, 3)
	assert.GreaterOrEqual(t, stats.PeakQueueSize, 1)
	assert.Zero(t, pool.QueuedJobCount())
	assert.False(t, pool.IsShuttingDown())
	require.NoError(t, pool.Shutdown())
}

func TestThreadPoolFIFO(t *testing.T) {
	pool, err := DefaultPool("fifo", 1, nil)
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 20; i++ {
		i := i
		require.NoError(t, pool.Execute(func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	require.NoError(t, pool.Shutdown())
	require.Len(t, order, 20)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestThreadPoolShutdownNow(t *testing.T) {
	pool, err := DefaultPool("shutdown-pool", 1, nil)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, pool.Execute(func() error {
		close(started)
		<-release
		return nil
	}))
	<-started
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Execute(func() error { return nil }))
	}

	done := make(chan error, 1)
	go func() { done <- pool.ShutdownNow() }()
	require.Eventually(t, pool.IsShuttingDown, time.Second, time.Millisecond)
	close(release)
	require.NoError(t, <-done)

	assert.ErrorIs(t, pool.Execute(func() error { return nil }), ErrPoolClosed)
	assert.Equal(t, 1, pool.Stats().CompletedJobs)
}

func TestThreadPoolRejectsBadSize(t *testing.T) {
	_, err := DefaultPool("empty", 0, nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.MaxThreads = 1
	w, err := NewNative("small", cfg, nil)
	require.NoError(t, err)
	_, err = NewThreadPool(w, 2)
	assert.ErrorIs(t, err, ErrTooManyThreads)
}
