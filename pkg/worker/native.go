package worker

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/LICODX/rnr-poh/pkg/utils"
)

// Native spawns named jobs, each on its own locked OS thread.
type Native struct {
	name    string
	config  Config
	logger  *zap.Logger
	mask    []int
	idCount atomic.Uint64
	running atomic.Int64
}

func NewNative(name string, cfg Config, logger *zap.Logger) (*Native, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("worker %s: %w", name, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Native{
		name:   name,
		config: cfg,
		logger: logger.With(zap.String("worker", name)),
		mask:   cfg.CoreAllocation.CoreMask(),
	}, nil
}

func DefaultNative(name string, logger *zap.Logger) (*Native, error) {
	return NewNative(name, DefaultConfig(), logger)
}

func (n *Native) Name() string { return n.name }

func (n *Native) Config() Config { return n.config }

func (n *Native) RunningCount() int { return int(n.running.Load()) }

func (n *Native) IsFull() bool { return n.RunningCount() >= n.config.MaxThreads }

// Spawn runs fn on a new thread named after the worker and a sequence
// number.
func (n *Native) Spawn(fn func() error) (*JoinHandle, error) {
	seq := n.idCount.Add(1) - 1
	return n.spawn(fmt.Sprintf("%s-%d", n.name, seq), seq, fn)
}

// SpawnNamed runs fn on a new thread. It fails with ErrTooManyThreads when
// MaxThreads jobs are already running.
func (n *Native) SpawnNamed(name string, fn func() error) (*JoinHandle, error) {
	return n.spawn(name, n.idCount.Add(1)-1, fn)
}

func (n *Native) spawn(name string, seq uint64, fn func() error) (*JoinHandle, error) {
	for {
		cur := n.running.Load()
		if cur >= int64(n.config.MaxThreads) {
			return nil, fmt.Errorf("%w: %s has %d running", ErrTooManyThreads, n.name, cur)
		}
		if n.running.CompareAndSwap(cur, cur+1) {
			break
		}
	}

	h := &JoinHandle{name: name, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer n.running.Add(-1)
		defer utils.RecoverToError(name, &h.err)

		// The thread stays locked until the goroutine exits, so a thread
		// with modified affinity is discarded rather than reused.
		runtime.LockOSThread()
		n.configureThread(name, seq)

		h.err = fn()
	}()
	return h, nil
}

func (n *Native) configureThread(name string, seq uint64) {
	if len(n.mask) > 0 {
		cores := n.mask
		if n.config.CoreAllocation.Kind == PinnedCores {
			cores = []int{n.mask[int(seq%uint64(len(n.mask)))]}
		}
		if err := setAffinity(cores); err != nil {
			n.logger.Warn("failed to set core affinity", zap.String("thread", name), zap.Ints("cores", cores), zap.Error(err))
		}
	}
	if n.config.Priority > 0 {
		if err := setPriority(n.config.Priority); err != nil {
			n.logger.Debug("failed to set thread priority", zap.String("thread", name), zap.Error(err))
		}
	}
}

// JoinHandle tracks one spawned job.
type JoinHandle struct {
	name string
	done chan struct{}
	err  error
}

func (h *JoinHandle) Name() string { return h.name }

// Join waits for the job and returns its error. A panic inside the job is
// returned as a *utils.PanicError.
func (h *JoinHandle) Join() error {
	<-h.done
	return h.err
}

func (h *JoinHandle) IsFinished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Done is closed when the job returns.
func (h *JoinHandle) Done() <-chan struct{} { return h.done }
