package utils

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond
	assert.Equal(t, time.Duration(0), BackoffDelay(base, 0))
	assert.Equal(t, base, BackoffDelay(base, 1))
	assert.Equal(t, 2*base, BackoffDelay(base, 2))
	assert.Equal(t, 8*base, BackoffDelay(base, 4))
	assert.Equal(t, maxRetryDelay, BackoffDelay(base, 20))
	assert.Equal(t, maxRetryDelay, BackoffDelay(base, 200))
}

func TestRetryWithBackoffSucceeds(t *testing.T) {
	er := NewErrorRecovery(3, time.Millisecond, nil)
	var calls int32
	err := er.RetryWithBackoff(context.Background(), "dial", func(context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls)
}

func TestRetryWithBackoffGivesUp(t *testing.T) {
	er := NewErrorRecovery(2, time.Millisecond, nil)
	sentinel := errors.New("refused")
	var calls int
	err := er.RetryWithBackoff(context.Background(), "dial", func(context.Context) error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoffHonoursContext(t *testing.T) {
	er := NewErrorRecovery(5, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	err := er.RetryWithBackoff(ctx, "dial", func(context.Context) error {
		cancel()
		return errors.New("refused")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecoverToError(t *testing.T) {
	run := func() (err error) {
		defer RecoverToError("worker", &err)
		panic("boom")
	}
	err := run()
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "boom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
	assert.Equal(t, "panic in worker: boom", err.Error())
}

func TestSafeGoroutineLogsPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	done := make(chan struct{})
	SafeGoroutine(zap.New(core), "gossip", func() {
		defer close(done)
		panic("bad frame")
	})
	<-done
	require.Eventually(t, func() bool { return logs.Len() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "gossip", logs.All()[0].ContextMap()["component"])
}

func TestHealthMonitor(t *testing.T) {
	hm := NewHealthMonitor(time.Hour, nil)
	status := StatusHealthy
	hm.RegisterComponent("poh", func() (HealthStatus, string) { return status, "msg" })
	hm.RegisterComponent("network", func() (HealthStatus, string) { return StatusHealthy, "" })

	hm.CheckAllHealth()
	assert.Equal(t, StatusHealthy, hm.GetOverallHealth())

	status = StatusDegraded
	hm.CheckHealth("poh")
	assert.Equal(t, StatusDegraded, hm.GetOverallHealth())
	assert.Equal(t, "msg", hm.GetHealth("poh").Message)
	assert.Nil(t, hm.GetHealth("missing"))

	status = StatusUnhealthy
	hm.CheckHealth("poh")
	rec := httptest.NewRecorder()
	hm.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusUnhealthy, report.Status)
	require.Len(t, report.Components, 2)
	assert.Equal(t, "network", report.Components[0].Name)
}

func TestLagCheck(t *testing.T) {
	var lag time.Duration
	check := LagCheck(func() time.Duration { return lag }, 400*time.Millisecond, 2*time.Second)

	s, _ := check()
	assert.Equal(t, StatusHealthy, s)

	lag = time.Second
	s, msg := check()
	assert.Equal(t, StatusDegraded, s)
	assert.Contains(t, msg, "1s")

	lag = 3 * time.Second
	s, _ = check()
	assert.Equal(t, StatusUnhealthy, s)
}

func TestShutdownManager(t *testing.T) {
	sm := NewShutdownManager(context.Background(), time.Second, nil)

	var order []string
	sm.RegisterShutdownHook("first", func() error { order = append(order, "first"); return nil })
	sm.RegisterShutdownHook("second", func() error { order = append(order, "second"); return errors.New("flush") })

	var stopped atomic.Bool
	sm.Go("task", func(ctx context.Context) {
		<-ctx.Done()
		stopped.Store(true)
	})

	err := sm.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second: flush")
	assert.True(t, stopped.Load())
	assert.Equal(t, []string{"second", "first"}, order)

	// Idempotent.
	assert.Equal(t, err, sm.Shutdown())
	assert.Len(t, order, 2)
}

func TestShutdownManagerFollowsParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	sm := NewShutdownManager(parent, time.Second, nil)
	cancel()
	assert.NoError(t, sm.Wait())
	assert.Error(t, sm.Context().Err())
}
