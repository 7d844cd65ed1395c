package node

import (
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/LICODX/rnr-poh/pkg/identity"
	"github.com/LICODX/rnr-poh/pkg/network"
	"github.com/LICODX/rnr-poh/pkg/worker"
	"github.com/LICODX/rnr-poh/poh"
)

// Reject reasons, also used as metric labels.
const (
	RejectSignature = "signature"
	RejectChain     = "chain"
	RejectStale     = "stale"
	RejectIndex     = "index"
)

// peerTip is the last accepted record of one signer.
type peerTip struct {
	rec      poh.Record
	accepted uint64
}

type peerBook struct {
	mu   sync.Mutex
	tips map[string]*peerTip
}

func newPeerBook() *peerBook {
	return &peerBook{tips: make(map[string]*peerTip)}
}

func (b *peerBook) get(key string) (peerTip, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tips[key]
	if !ok {
		return peerTip{}, false
	}
	return *t, true
}

func (b *peerBook) advance(key string, rec poh.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tips[key]
	if !ok {
		t = &peerTip{}
		b.tips[key] = t
	}
	t.rec = rec
	t.accepted++
}

// PeerTip returns the latest accepted record from the signer pub and how
// many of its records were accepted.
func (n *Node) PeerTip(pub []byte) (poh.Record, uint64, bool) {
	t, ok := n.peers.get(string(pub))
	return t.rec, t.accepted, ok
}

// One single-worker pool per shard keeps each signer's records in arrival
// order while different signers verify in parallel.
func (n *Node) startValidators() error {
	native, err := worker.NewNative("validator", n.cfg.Worker, n.logger)
	if err != nil {
		return err
	}
	pools := make([]*worker.ThreadPool, 0, n.cfg.ValidatorPool)
	for i := 0; i < n.cfg.ValidatorPool; i++ {
		pool, err := worker.NewThreadPool(native, 1)
		if err != nil {
			shutdownPools(pools, n.logger)
			return err
		}
		pools = append(pools, pool)
	}

	n.valMu.Lock()
	n.validators = pools
	n.valMu.Unlock()
	return nil
}

func (n *Node) stopValidators() {
	n.valMu.Lock()
	pools := n.validators
	n.validators = nil
	n.valMu.Unlock()
	shutdownPools(pools, n.logger)
}

func shutdownPools(pools []*worker.ThreadPool, logger *zap.Logger) {
	for _, pool := range pools {
		if err := pool.Shutdown(); err != nil {
			logger.Warn("validator shutdown failed", zap.Error(err))
		}
	}
}

// shard returns the pool for pub, or nil when the node is not running.
func (n *Node) shard(pub []byte) *worker.ThreadPool {
	n.valMu.RLock()
	defer n.valMu.RUnlock()
	if len(n.validators) == 0 {
		return nil
	}
	h := fnv.New32a()
	_, _ = h.Write(pub)
	return n.validators[int(h.Sum32()%uint32(len(n.validators)))]
}

// HandleMessage is a network.MessageHandler. Record messages are queued for
// validation; everything else is logged.
func (n *Node) HandleMessage(msg network.Message) error {
	switch msg.Kind {
	case network.KindRecord:
	case network.KindText:
		n.logger.Info("message", zap.String("from", msg.From.String()), zap.String("text", msg.Text))
		return nil
	default:
		return nil
	}

	if n.cfg.Identity != nil && string(msg.PublicKey) == string(n.cfg.Identity.PublicKey()) {
		return nil
	}
	rec, sig, pub := msg.Record.Clone(), msg.Signature, msg.PublicKey
	pool := n.shard(pub)
	if pool == nil {
		// Not running; validate inline.
		n.validatePeerRecord(pub, rec, sig)
		return nil
	}
	return pool.Execute(func() error {
		n.validatePeerRecord(pub, rec, sig)
		return nil
	})
}

// validatePeerRecord checks the signature and the derived indices, then
// chain continuity against the signer's previous record. A record that
// skips ahead becomes the new anchor since the revs in between were never
// seen.
func (n *Node) validatePeerRecord(pub []byte, rec poh.Record, sig []byte) bool {
	if !identity.VerifyRecord(pub, rec, sig) {
		n.reject(RejectSignature, rec, pub)
		return false
	}
	if !n.verifier.IndicesMatch(rec) {
		n.reject(RejectIndex, rec, pub)
		return false
	}

	key := string(pub)
	tip, ok := n.peers.get(key)
	switch {
	case !ok:
		// First record from this signer.
	case rec.RevIndex <= tip.rec.RevIndex:
		n.reject(RejectStale, rec, pub)
		return false
	case rec.RevIndex == tip.rec.RevIndex+1:
		if !n.verifier.VerifySequence([]poh.Record{tip.rec, rec}) {
			n.reject(RejectChain, rec, pub)
			return false
		}
	}
	n.peers.advance(key, rec)
	return true
}

func (n *Node) reject(reason string, rec poh.Record, pub []byte) {
	if n.cfg.Metrics != nil {
		n.cfg.Metrics.ObserveRejected(reason)
	}
	addr, _ := identity.AddressOf(pub)
	n.logger.Debug("rejected peer record",
		zap.String("reason", reason),
		zap.String("signer", addr),
		zap.Uint64("rev", rec.RevIndex))
}
