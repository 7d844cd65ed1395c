// Package node runs a PoH sequencer on a dedicated thread and connects it
// to the rest of the process: metrics, signed gossip of produced records and
// validation of records received from peers.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/LICODX/rnr-poh/pkg/identity"
	"github.com/LICODX/rnr-poh/pkg/metrics"
	"github.com/LICODX/rnr-poh/pkg/metronome"
	"github.com/LICODX/rnr-poh/pkg/network"
	"github.com/LICODX/rnr-poh/pkg/utils"
	"github.com/LICODX/rnr-poh/pkg/worker"
	"github.com/LICODX/rnr-poh/poh"
)

var ErrEventQueueFull = errors.New("node: event queue full")

// Broadcaster publishes a signed record to peers.
type Broadcaster interface {
	PublishRecord(ctx context.Context, rec poh.Record, sig, pub []byte) error
}

type Config struct {
	PoH  poh.Config
	Seed []byte

	ChannelCapacity int
	BatchSize       int
	TailSize        int
	ValidatorPool   int
	Worker          worker.Config

	// MaxRevs stops the engine after that many revs; zero runs until the
	// context is cancelled.
	MaxRevs uint64
	// Events, when set, is asked for an event before every rev and takes
	// precedence over SubmitEvent.
	Events func(rev uint64) ([]byte, bool)
	// OnBatch sees every batch of produced records, in order.
	OnBatch func([]poh.Record)

	Identity    *identity.Identity
	Broadcaster Broadcaster
	Metrics     *metrics.NodeMetrics
	Logger      *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		PoH:             poh.DefaultConfig(),
		Seed:            make([]byte, 64),
		ChannelCapacity: metronome.ChannelCapacity,
		BatchSize:       metronome.BatchSize,
		TailSize:        4 * metronome.RevsPerPhase,
		ValidatorPool:   2,
		Worker:          worker.DefaultConfig(),
	}
}

type Node struct {
	cfg      Config
	logger   *zap.Logger
	native   *worker.Native
	verifier poh.Verifier
	events   chan []byte
	records  chan poh.Record

	valMu      sync.RWMutex
	validators []*worker.ThreadPool
	peers      *peerBook

	lateness atomic.Int64
	produced atomic.Uint64

	tailMu sync.RWMutex
	tail   []poh.Record

	running atomic.Bool
}

func New(cfg Config) (*Node, error) {
	if cfg.ChannelCapacity <= 0 || cfg.BatchSize <= 0 || cfg.TailSize <= 0 || cfg.ValidatorPool <= 0 {
		return nil, fmt.Errorf("node: capacities must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	native, err := worker.NewNative("poh", cfg.Worker, logger)
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:      cfg,
		logger:   logger,
		native:   native,
		verifier: poh.VerifierFor(cfg.PoH),
		events:   make(chan []byte, cfg.ChannelCapacity),
		records:  make(chan poh.Record, cfg.ChannelCapacity),
		peers:    newPeerBook(),
		tail:     make([]poh.Record, 0, cfg.TailSize),
	}
	return n, nil
}

// SubmitEvent queues data to be embedded in an upcoming rev.
func (n *Node) SubmitEvent(data []byte) error {
	event := make([]byte, len(data))
	copy(event, data)
	select {
	case n.events <- event:
		return nil
	default:
		return ErrEventQueueFull
	}
}

// Run produces revs until ctx is cancelled or MaxRevs is reached. The rev
// in flight when ctx is cancelled still completes and is delivered.
// A node runs once; Run may be retried only if it failed before the engine
// started.
func (n *Node) Run(ctx context.Context) error {
	if !n.running.CompareAndSwap(false, true) {
		return fmt.Errorf("node: already running")
	}

	pohCfg := n.cfg.PoH
	pohCfg.Observer = &engineObserver{node: n, next: pohCfg.Observer}
	seq, err := poh.NewSequencer(n.cfg.Seed, pohCfg)
	if err != nil {
		n.running.Store(false)
		return err
	}

	if err := n.startValidators(); err != nil {
		n.running.Store(false)
		return err
	}

	engine, err := n.native.SpawnNamed("poh-engine", func() error {
		return n.engineLoop(ctx, seq)
	})
	if err != nil {
		n.stopValidators()
		n.running.Store(false)
		return fmt.Errorf("start engine: %w", err)
	}
	defer n.stopValidators()

	n.logger.Info("poh engine started",
		zap.String("algorithm", seq.Algorithm().String()),
		zap.String("schedule", seq.Schedule().Name),
		zap.Uint64("max_revs", n.cfg.MaxRevs))

	n.consume(ctx)

	if err := engine.Join(); err != nil {
		return fmt.Errorf("poh engine: %w", err)
	}
	n.logger.Info("poh engine stopped", zap.Uint64("revs", n.produced.Load()))
	return nil
}

func (n *Node) engineLoop(ctx context.Context, seq *poh.Sequencer) error {
	defer close(n.records)

	for n.cfg.MaxRevs == 0 || seq.RevCount() < n.cfg.MaxRevs {
		if ctx.Err() != nil {
			return nil
		}

		var rec poh.Record
		if event, ok := n.nextEvent(seq.RevCount()); ok {
			rec = seq.TickWithEvent(event)
		} else {
			rec = seq.Tick()
		}

		select {
		case n.records <- rec:
			continue
		default:
		}
		if n.cfg.Metrics != nil {
			n.cfg.Metrics.ChannelStalls.Inc()
		}
		// The consumer drains until the channel closes, so this cannot
		// block forever.
		n.records <- rec
	}
	return nil
}

func (n *Node) nextEvent(rev uint64) ([]byte, bool) {
	if n.cfg.Events != nil {
		if event, ok := n.cfg.Events(rev); ok {
			return event, true
		}
	}
	select {
	case event := <-n.events:
		return event, true
	default:
		return nil, false
	}
}

// consume drains the record channel in batches until the engine closes it.
func (n *Node) consume(ctx context.Context) {
	batch := make([]poh.Record, 0, n.cfg.BatchSize)
	for {
		rec, ok := <-n.records
		if !ok {
			return
		}
		batch = append(batch[:0], rec)

	fill:
		for len(batch) < n.cfg.BatchSize {
			select {
			case rec, ok := <-n.records:
				if !ok {
					n.processBatch(ctx, batch)
					return
				}
				batch = append(batch, rec)
			default:
				break fill
			}
		}
		n.processBatch(ctx, batch)
	}
}

func (n *Node) processBatch(ctx context.Context, batch []poh.Record) {
	n.produced.Add(uint64(len(batch)))
	n.appendTail(batch)

	if n.cfg.OnBatch != nil {
		out := make([]poh.Record, len(batch))
		copy(out, batch)
		n.cfg.OnBatch(out)
	}

	if n.cfg.Broadcaster == nil || n.cfg.Identity == nil {
		return
	}
	pub := n.cfg.Identity.PublicKey()
	for _, rec := range batch {
		sig, err := n.cfg.Identity.SignRecord(rec)
		if err != nil {
			n.logger.Error("failed to sign record", zap.Uint64("rev", rec.RevIndex), zap.Error(err))
			continue
		}
		// Publishing outlives ctx so the final revs still reach peers.
		err = n.cfg.Broadcaster.PublishRecord(context.WithoutCancel(ctx), rec, sig, pub)
		switch {
		case errors.Is(err, network.ErrNotJoined):
			return
		case err != nil:
			n.logger.Warn("failed to publish record", zap.Uint64("rev", rec.RevIndex), zap.Error(err))
		}
	}
}

func (n *Node) appendTail(batch []poh.Record) {
	n.tailMu.Lock()
	defer n.tailMu.Unlock()

	n.tail = append(n.tail, batch...)
	if extra := len(n.tail) - n.cfg.TailSize; extra > 0 {
		n.tail = append(n.tail[:0], n.tail[extra:]...)
	}
}

// Tail returns a copy of the most recent records, oldest first.
func (n *Node) Tail() []poh.Record {
	n.tailMu.RLock()
	defer n.tailMu.RUnlock()
	out := make([]poh.Record, len(n.tail))
	copy(out, n.tail)
	return out
}

// VerifyTail checks the retained records with the node's own verifier.
func (n *Node) VerifyTail() bool {
	return n.verifier.VerifySequence(n.Tail())
}

func (n *Node) Produced() uint64 { return n.produced.Load() }

// Lateness is how far behind its deadline the latest rev started.
func (n *Node) Lateness() time.Duration {
	return time.Duration(n.lateness.Load())
}

// HealthCheck is degraded once the engine runs a phase behind and
// unhealthy at ten phases.
func (n *Node) HealthCheck() utils.HealthCheck {
	phase := time.Duration(metronome.MsPerPhase) * time.Millisecond
	return utils.LagCheck(n.Lateness, phase, 10*phase)
}

type engineObserver struct {
	node *Node
	next poh.Observer
}

func (o *engineObserver) ObserveRev(rec poh.Record, lateness time.Duration) {
	o.node.lateness.Store(int64(lateness))
	if o.node.cfg.Metrics != nil {
		o.node.cfg.Metrics.ObserveRev(rec, lateness)
	}
	if o.next != nil {
		o.next.ObserveRev(rec, lateness)
	}
}
