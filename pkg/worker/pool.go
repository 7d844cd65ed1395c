package worker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LICODX/rnr-poh/pkg/utils"
)

// Job is a unit of work for a ThreadPool.
type Job func() error

// PoolStats is a snapshot of pool activity.
type PoolStats struct {
	CompletedJobs       int
	FailedJobs          int
	PeakQueueSize       int
	PeakActiveWorkers   int
	TotalProcessingTime time.Duration
	// AvgProcessingTime is zero until a job completes.
	AvgProcessingTime time.Duration
}

// ThreadPool runs jobs in FIFO order on a fixed set of Native threads.
type ThreadPool struct {
	native  *Native
	logger  *zap.Logger
	handles []*JoinHandle

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Job
	active   int
	shutdown bool
	stats    PoolStats
}

// NewThreadPool starts size workers on native.
func NewThreadPool(native *Native, size int) (*ThreadPool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", size)
	}
	p := &ThreadPool{native: native, logger: native.logger}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < size; i++ {
		h, err := native.Spawn(p.workerLoop)
		if err != nil {
			p.ShutdownNow()
			return nil, fmt.Errorf("start pool worker %d: %w", i, err)
		}
		p.handles = append(p.handles, h)
	}
	return p, nil
}

// DefaultPool starts one worker per allowed thread of a default Native.
func DefaultPool(name string, size int, logger *zap.Logger) (*ThreadPool, error) {
	native, err := DefaultNative(name, logger)
	if err != nil {
		return nil, err
	}
	return NewThreadPool(native, size)
}

func (p *ThreadPool) workerLoop() error {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.shutdown {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return nil
		}
		job := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.active++
		if p.active > p.stats.PeakActiveWorkers {
			p.stats.PeakActiveWorkers = p.active
		}
		p.mu.Unlock()

		start := time.Now()
		err := runJob(job)
		elapsed := time.Since(start)

		p.mu.Lock()
		p.active--
		p.stats.CompletedJobs++
		p.stats.TotalProcessingTime += elapsed
		p.stats.AvgProcessingTime = p.stats.TotalProcessingTime / time.Duration(p.stats.CompletedJobs)
		if err != nil {
			p.stats.FailedJobs++
		}
		p.cond.Broadcast()
		p.mu.Unlock()

		if err != nil {
			p.logger.Debug("pool job failed", zap.Error(err))
		}
	}
}

func runJob(job Job) (err error) {
	defer utils.RecoverToError("pool job", &err)
	return job()
}

// Execute queues job. It fails with ErrPoolClosed after shutdown.
func (p *ThreadPool) Execute(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shutdown {
		return ErrPoolClosed
	}
	p.queue = append(p.queue, job)
	if len(p.queue) > p.stats.PeakQueueSize {
		p.stats.PeakQueueSize = len(p.queue)
	}
	p.cond.Signal()
	return nil
}

// ExecuteBatch queues jobs in order and returns how many were accepted.
func (p *ThreadPool) ExecuteBatch(jobs []Job) (int, error) {
	for i, job := range jobs {
		if err := p.Execute(job); err != nil {
			return i, err
		}
	}
	return len(jobs), nil
}

// ExecuteWait runs fn on the pool and waits for its result.
func ExecuteWait[T any](p *ThreadPool, fn func() (T, error)) (T, error) {
	var (
		result T
		done   = make(chan error, 1)
	)
	err := p.Execute(func() (err error) {
		defer func() { done <- err }()
		defer utils.RecoverToError("pool job", &err)
		result, err = fn()
		return err
	})
	if err != nil {
		return result, err
	}
	err = <-done
	return result, err
}

// Wait blocks until the queue is empty and no job is running.
func (p *ThreadPool) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) > 0 || p.active > 0 {
		p.cond.Wait()
	}
}

// Shutdown stops accepting jobs, lets queued jobs finish and joins the
// workers.
func (p *ThreadPool) Shutdown() error {
	p.mu.Lock()
	p.shutdown = true
	p.cond.Broadcast()
	p.mu.Unlock()
	return p.join()
}

// ShutdownNow is Shutdown without draining: queued jobs are discarded.
func (p *ThreadPool) ShutdownNow() error {
	p.mu.Lock()
	p.shutdown = true
	p.queue = nil
	p.cond.Broadcast()
	p.mu.Unlock()
	return p.join()
}

func (p *ThreadPool) join() error {
	var errs []error
	for _, h := range p.handles {
		if err := h.Join(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (p *ThreadPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *ThreadPool) QueuedJobCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *ThreadPool) IsShuttingDown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdown
}

func (p *ThreadPool) Size() int { return len(p.handles) }
