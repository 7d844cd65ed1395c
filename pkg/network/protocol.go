// Package network gossips PoH records and chat-style messages between nodes
// over libp2p streams. Nodes meet through a Ticket naming a topic and the
// peers already in it.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/LICODX/rnr-poh/pkg/utils"
	"github.com/LICODX/rnr-poh/poh"
)

const (
	GossipProtocol = protocol.ID("/rnr/poh/gossip/1.0.0")

	maxMessageSize = 1 << 20
	sendTimeout    = 5 * time.Second
	defaultName    = "Unknown"
)

var ErrNotJoined = errors.New("network: not joined to a topic")

// MessageHandler receives every new message after built-in handling.
type MessageHandler func(Message) error

// Observer is told about traffic and peer churn.
type Observer interface {
	ObserveMessage(direction, kind string)
	SetPeers(n int)
}

type Config struct {
	// ListenAddrs defaults to all interfaces on a random TCP port.
	ListenAddrs []string
	// PrivKey fixes the peer ID; a fresh Ed25519 key is used when nil.
	PrivKey  p2pcrypto.PrivKey
	Name     string
	Fanout   int
	MaxTTL   int
	Handler  MessageHandler
	Observer Observer
	Logger   *zap.Logger
}

type Protocol struct {
	host     host.Host
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
	gossip   *gossipState
	observer Observer
	retry    *utils.ErrorRecovery

	mu      sync.RWMutex
	name    string
	names   map[peer.ID]string
	topic   TopicID
	joined  bool
	handler MessageHandler
}

func New(cfg Config) (*Protocol, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	listen := cfg.ListenAddrs
	if len(listen) == 0 {
		listen = []string{"/ip4/0.0.0.0/tcp/0"}
	}
	addrs := make([]multiaddr.Multiaddr, 0, len(listen))
	for _, s := range listen {
		ma, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("failed to parse listen address %q: %w", s, err)
		}
		addrs = append(addrs, ma)
	}

	priv := cfg.PrivKey
	if priv == nil {
		var err error
		priv, _, err = p2pcrypto.GenerateEd25519Key(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to generate key pair: %w", err)
		}
	}

	h, err := libp2p.New(
		libp2p.ListenAddrs(addrs...),
		libp2p.Identity(priv),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	name := cfg.Name
	if name == "" {
		name = defaultName
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Protocol{
		host:     h,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With(zap.String("peer", h.ID().String())),
		gossip:   newGossipState(cfg.Fanout, cfg.MaxTTL),
		observer: cfg.Observer,
		retry:    utils.NewErrorRecovery(3, 200*time.Millisecond, logger),
		name:     name,
		names:    map[peer.ID]string{h.ID(): name},
		handler:  cfg.Handler,
	}

	h.SetStreamHandler(GossipProtocol, p.handleStream)
	h.Network().Notify(&network.NotifyBundle{
		ConnectedF:    func(network.Network, network.Conn) { p.reportPeers() },
		DisconnectedF: func(network.Network, network.Conn) { p.reportPeers() },
	})
	go p.gossip.cleanupLoop(ctx)

	p.logger.Info("p2p host started", zap.Any("addrs", h.Addrs()))
	return p, nil
}

func (p *Protocol) ID() peer.ID { return p.host.ID() }

func (p *Protocol) Host() host.Host { return p.host }

// AddrInfo is this node's dialable address set.
func (p *Protocol) AddrInfo() peer.AddrInfo {
	return peer.AddrInfo{ID: p.host.ID(), Addrs: p.host.Addrs()}
}

func (p *Protocol) Peers() []peer.ID {
	return p.host.Network().Peers()
}

// Topic returns the joined topic.
func (p *Protocol) Topic() (TopicID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.topic, p.joined
}

func (p *Protocol) SetHandler(h MessageHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// Listen opens a fresh topic and returns the ticket others use to join it.
func (p *Protocol) Listen(ctx context.Context) (Ticket, error) {
	topic, err := NewTopicID()
	if err != nil {
		return Ticket{}, err
	}
	p.join(topic)
	if err := p.announce(ctx); err != nil {
		return Ticket{}, err
	}
	return Ticket{Topic: topic, Peers: []peer.AddrInfo{p.AddrInfo()}}, nil
}

// Dial connects to the ticket's peers and joins its topic. It fails only
// when no peer could be reached.
func (p *Protocol) Dial(ctx context.Context, ticket string) error {
	t, err := ParseTicket(ticket)
	if err != nil {
		return err
	}

	var connected int
	var lastErr error
	for _, info := range t.Peers {
		if info.ID == p.host.ID() {
			continue
		}
		info := info
		err := p.retry.RetryWithBackoff(ctx, "dial "+info.ID.String(), func(ctx context.Context) error {
			return p.host.Connect(ctx, info)
		})
		if err != nil {
			lastErr = err
			p.logger.Warn("failed to connect to ticket peer", zap.Stringer("target", info.ID), zap.Error(err))
			continue
		}
		connected++
	}
	if connected == 0 && lastErr != nil {
		return fmt.Errorf("dial ticket: %w", lastErr)
	}

	p.join(t.Topic)
	return p.announce(ctx)
}

func (p *Protocol) join(topic TopicID) {
	p.mu.Lock()
	p.topic = topic
	p.joined = true
	p.names[p.host.ID()] = p.name
	p.mu.Unlock()
	p.logger.Info("joined topic", zap.Stringer("topic", topic))
}

func (p *Protocol) announce(ctx context.Context) error {
	p.mu.RLock()
	name := p.name
	p.mu.RUnlock()
	return p.Broadcast(ctx, NewPing(p.host.ID(), name))
}

// SetName changes this node's display name and announces it when joined.
func (p *Protocol) SetName(ctx context.Context, name string) error {
	p.mu.Lock()
	p.name = name
	p.names[p.host.ID()] = name
	joined := p.joined
	p.mu.Unlock()

	if !joined {
		return nil
	}
	return p.announce(ctx)
}

func (p *Protocol) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

// NodeName returns the last announced name of id, or its short form.
func (p *Protocol) NodeName(id peer.ID) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if name, ok := p.names[id]; ok {
		return name
	}
	return id.ShortString()
}

func (p *Protocol) SendText(ctx context.Context, text string) error {
	return p.Broadcast(ctx, NewText(p.host.ID(), text))
}

func (p *Protocol) SendCustom(ctx context.Context, payload []byte) error {
	return p.Broadcast(ctx, NewCustom(p.host.ID(), payload))
}

func (p *Protocol) PublishRecord(ctx context.Context, rec poh.Record, sig, pub []byte) error {
	return p.Broadcast(ctx, NewRecordMessage(p.host.ID(), rec, sig, pub))
}

// Broadcast stamps msg with the joined topic and sends it to a fanout of
// connected peers. Delivery failures to individual peers are logged.
func (p *Protocol) Broadcast(ctx context.Context, msg Message) error {
	p.mu.RLock()
	topic, joined := p.topic, p.joined
	p.mu.RUnlock()
	if !joined {
		return ErrNotJoined
	}

	msg.Topic = topic
	if msg.TTL == 0 {
		msg.TTL = p.gossip.maxTTL
	}
	p.gossip.markSeen(msg.ID)

	data, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	p.sendAll(ctx, data, msg.Kind, p.gossip.selectPeers(p.Peers()))
	return nil
}

func (p *Protocol) sendAll(ctx context.Context, data []byte, kind Kind, targets []peer.ID) {
	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(target peer.ID) {
			defer wg.Done()
			if err := p.send(ctx, target, data); err != nil {
				p.logger.Debug("failed to send message", zap.Stringer("target", target), zap.Error(err))
				return
			}
			p.observe(directionOut, kind)
		}(target)
	}
	wg.Wait()
}

func (p *Protocol) send(ctx context.Context, target peer.ID, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	s, err := p.host.NewStream(ctx, target, GossipProtocol)
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	defer s.Close()

	_ = s.SetWriteDeadline(time.Now().Add(sendTimeout))
	if _, err := s.Write(data); err != nil {
		_ = s.Reset()
		return fmt.Errorf("failed to write message: %w", err)
	}
	return s.CloseWrite()
}

func (p *Protocol) handleStream(s network.Stream) {
	defer s.Close()
	defer utils.RecoverFromPanic(p.logger, "gossip stream")

	_ = s.SetReadDeadline(time.Now().Add(sendTimeout))
	data, err := io.ReadAll(io.LimitReader(s, maxMessageSize+1))
	if err != nil {
		p.logger.Debug("failed to read stream", zap.Error(err))
		_ = s.Reset()
		return
	}
	if len(data) > maxMessageSize {
		p.logger.Warn("dropping oversized message", zap.Stringer("from", s.Conn().RemotePeer()))
		_ = s.Reset()
		return
	}

	msg, err := UnmarshalMessage(data)
	if err != nil {
		p.logger.Debug("dropping malformed message", zap.Stringer("from", s.Conn().RemotePeer()), zap.Error(err))
		return
	}
	p.receive(s.Conn().RemotePeer(), msg)
}

func (p *Protocol) receive(via peer.ID, msg Message) {
	p.mu.RLock()
	topic, joined, handler := p.topic, p.joined, p.handler
	p.mu.RUnlock()

	if !joined || msg.Topic != topic {
		return
	}
	if !p.gossip.shouldProcess(&msg) {
		return
	}
	p.observe(directionIn, msg.Kind)

	if msg.Kind == KindPing {
		p.mu.Lock()
		p.names[msg.From] = msg.Name
		p.mu.Unlock()
	}
	if handler != nil {
		if err := handler(msg); err != nil {
			p.logger.Debug("message handler failed", zap.String("kind", string(msg.Kind)), zap.Error(err))
		}
	}

	if msg.TTL > 1 {
		fwd := msg
		fwd.TTL--
		data, err := fwd.Marshal()
		if err != nil {
			return
		}
		targets := p.gossip.selectPeers(p.Peers(), via, msg.From)
		go p.sendAll(p.ctx, data, msg.Kind, targets)
	}
}

const (
	directionIn  = "in"
	directionOut = "out"
)

func (p *Protocol) observe(direction string, kind Kind) {
	if p.observer != nil {
		p.observer.ObserveMessage(direction, string(kind))
	}
}

func (p *Protocol) reportPeers() {
	if p.observer != nil {
		p.observer.SetPeers(len(p.host.Network().Peers()))
	}
}

// Close stops background work and shuts the host down.
func (p *Protocol) Close() error {
	p.cancel()
	return p.host.Close()
}
