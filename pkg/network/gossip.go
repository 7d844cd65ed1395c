package network

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

const (
	defaultFanout   = 6
	defaultMaxTTL   = 4
	maxMessageAge   = time.Minute
	maxClockSkew    = 5 * time.Second
	seenRetention   = 10 * time.Minute
	cleanupInterval = 5 * time.Minute
)

// gossipState deduplicates messages and picks forwarding targets.
type gossipState struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	fanout int
	maxTTL int
	now    func() time.Time
}

func newGossipState(fanout, maxTTL int) *gossipState {
	if fanout <= 0 {
		fanout = defaultFanout
	}
	if maxTTL <= 0 {
		maxTTL = defaultMaxTTL
	}
	return &gossipState{
		seen:   make(map[string]time.Time),
		fanout: fanout,
		maxTTL: maxTTL,
		now:    time.Now,
	}
}

// shouldProcess reports whether msg is new, live and fresh, and marks it
// seen. A TTL above maxTTL is lowered to it.
func (g *gossipState) shouldProcess(msg *Message) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[msg.ID]; ok {
		return false
	}
	if msg.TTL <= 0 {
		return false
	}
	age := g.now().Sub(msg.Timestamp)
	if age > maxMessageAge || age < -maxClockSkew {
		return false
	}
	if msg.TTL > g.maxTTL {
		msg.TTL = g.maxTTL
	}
	g.seen[msg.ID] = g.now()
	return true
}

func (g *gossipState) markSeen(id string) {
	g.mu.Lock()
	g.seen[id] = g.now()
	g.mu.Unlock()
}

func (g *gossipState) seenCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// selectPeers returns up to fanout peers from all, skipping exclude.
func (g *gossipState) selectPeers(all []peer.ID, exclude ...peer.ID) []peer.ID {
	available := make([]peer.ID, 0, len(all))
outer:
	for _, p := range all {
		for _, e := range exclude {
			if p == e {
				continue outer
			}
		}
		available = append(available, p)
	}
	if len(available) <= g.fanout {
		return available
	}

	// Partial Fisher-Yates over the first fanout slots.
	for i := 0; i < g.fanout; i++ {
		j := i + randomInt(len(available)-i)
		available[i], available[j] = available[j], available[i]
	}
	return available[:g.fanout]
}

func (g *gossipState) cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := g.now().Add(-seenRetention)
	for id, at := range g.seen {
		if at.Before(cutoff) {
			delete(g.seen, id)
		}
	}
}

func (g *gossipState) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.cleanup()
		}
	}
}

func randomInt(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0
	}
	return int(n.Int64())
}
