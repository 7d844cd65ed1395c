package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type shutdownHook struct {
	name string
	fn   func() error
}

// ShutdownManager cancels a shared context on SIGINT/SIGTERM or on request,
// waits for tracked tasks up to a grace period, then runs hooks in reverse
// registration order.
type ShutdownManager struct {
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	hooksMu     sync.Mutex
	hooks       []shutdownHook
	gracePeriod time.Duration
	logger      *zap.Logger
	once        sync.Once
	err         error
	stopSignals func()
}

func NewShutdownManager(parent context.Context, gracePeriod time.Duration, logger *zap.Logger) *ShutdownManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(ctx)

	return &ShutdownManager{
		ctx:         ctx,
		cancel:      cancel,
		gracePeriod: gracePeriod,
		logger:      logger,
		stopSignals: stop,
	}
}

func (sm *ShutdownManager) Context() context.Context {
	return sm.ctx
}

func (sm *ShutdownManager) RegisterShutdownHook(name string, hook func() error) {
	sm.hooksMu.Lock()
	defer sm.hooksMu.Unlock()
	sm.hooks = append(sm.hooks, shutdownHook{name: name, fn: hook})
}

// Go runs fn as a tracked task with the manager's context.
func (sm *ShutdownManager) Go(name string, fn func(ctx context.Context)) {
	sm.wg.Add(1)
	go func() {
		defer sm.wg.Done()
		defer RecoverFromPanic(sm.logger, name)
		fn(sm.ctx)
	}()
}

// Wait blocks until the context is cancelled, then shuts down.
func (sm *ShutdownManager) Wait() error {
	<-sm.ctx.Done()
	return sm.Shutdown()
}

// Shutdown cancels the context and performs the shutdown sequence once.
// Later calls return the first result.
func (sm *ShutdownManager) Shutdown() error {
	sm.once.Do(func() {
		sm.logger.Info("initiating graceful shutdown", zap.Duration("grace_period", sm.gracePeriod))
		sm.cancel()
		sm.stopSignals()

		done := make(chan struct{})
		go func() {
			sm.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			sm.logger.Debug("all tasks completed")
		case <-time.After(sm.gracePeriod):
			sm.logger.Warn("grace period expired, continuing shutdown")
		}

		sm.err = sm.runHooks()
		sm.logger.Info("shutdown complete")
	})
	return sm.err
}

func (sm *ShutdownManager) runHooks() error {
	sm.hooksMu.Lock()
	hooks := make([]shutdownHook, len(sm.hooks))
	copy(hooks, sm.hooks)
	sm.hooksMu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if err := h.fn(); err != nil {
			sm.logger.Warn("shutdown hook failed", zap.String("hook", h.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}
