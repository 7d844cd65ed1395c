package network

import (
	"strings"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LICODX/rnr-poh/poh"
)

const testPeer = peer.ID("\x00\x24\x08\x01\x12\x20abcdefghijklmnopqrstuvwxyz012345")

func TestMessageRoundTrip(t *testing.T) {
	topic, err := NewTopicID()
	require.NoError(t, err)

	rec := poh.Record{RevIndex: 3, TimestampMs: 18, Event: []byte{}}
	msgs := []Message{
		NewPing(testPeer, "alice"),
		NewText(testPeer, "hello"),
		NewCustom(testPeer, []byte{1, 2, 3}),
		NewRecordMessage(testPeer, rec, []byte("sig"), []byte("pub")),
	}
	for _, m := range msgs {
		m.Topic = topic
		m.TTL = 2
		data, err := m.Marshal()
		require.NoError(t, err)

		back, err := UnmarshalMessage(data)
		require.NoError(t, err, string(data))
		assert.Equal(t, m.ID, back.ID)
		assert.Equal(t, m.Kind, back.Kind)
		assert.Equal(t, m.From, back.From)
		assert.Equal(t, topic, back.Topic)
		assert.Equal(t, m.Name, back.Name)
		assert.Equal(t, m.Text, back.Text)
		assert.Equal(t, m.Payload, back.Payload)
	}

	back, err := UnmarshalMessage(mustMarshal(t, msgs[3]))
	require.NoError(t, err)
	require.NotNil(t, back.Record)
	assert.True(t, back.Record.HasEvent(), "empty event survives the wire")
}

func mustMarshal(t *testing.T, m Message) []byte {
	t.Helper()
	data, err := m.Marshal()
	require.NoError(t, err)
	return data
}

func TestRecordMessageCopiesRecord(t *testing.T) {
	rec := poh.Record{Event: []byte("abc")}
	m := NewRecordMessage(testPeer, rec, []byte("s"), []byte("p"))
	rec.Event[0] = 'x'
	assert.Equal(t, []byte("abc"), m.Record.Event)
}

func TestMessageIDsAreUnique(t *testing.T) {
	a, b := NewText(testPeer, "x"), NewText(testPeer, "x")
	assert.NotEqual(t, a.ID, b.ID)
}

func TestUnmarshalRejectsInvalid(t *testing.T) {
	_, err := UnmarshalMessage([]byte("not json"))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	m := NewText(testPeer, "x")
	m.Kind = "shout"
	_, err = UnmarshalMessage(mustMarshal(t, m))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	m = NewText(testPeer, "x")
	m.ID = "nope"
	_, err = UnmarshalMessage(mustMarshal(t, m))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	m = NewRecordMessage(testPeer, poh.Record{}, nil, nil)
	_, err = UnmarshalMessage(mustMarshal(t, m))
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestTicketRoundTrip(t *testing.T) {
	topic, err := NewTopicID()
	require.NoError(t, err)
	addr, err := multiaddr.NewMultiaddr("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)

	ticket := Ticket{Topic: topic, Peers: []peer.AddrInfo{{ID: testPeer, Addrs: []multiaddr.Multiaddr{addr}}}}
	s := ticket.String()
	require.NotEmpty(t, s)
	assert.True(t, strings.HasPrefix(s, "b"), "base32 multibase prefix")
	assert.Equal(t, strings.ToLower(s), s)

	back, err := ParseTicket(s)
	require.NoError(t, err)
	assert.Equal(t, topic, back.Topic)
	require.Len(t, back.Peers, 1)
	assert.Equal(t, testPeer, back.Peers[0].ID)
	assert.True(t, addr.Equal(back.Peers[0].Addrs[0]))
}

func TestParseTicketErrors(t *testing.T) {
	_, err := ParseTicket("!!!")
	assert.ErrorIs(t, err, ErrInvalidTicket)

	topic, err := NewTopicID()
	require.NoError(t, err)
	_, err = ParseTicket(Ticket{Topic: topic}.String())
	assert.ErrorIs(t, err, ErrInvalidTicket)
}

func TestGossipStateDedupes(t *testing.T) {
	g := newGossipState(2, 3)
	m := NewText(testPeer, "x")
	m.TTL = 1

	assert.True(t, g.shouldProcess(&m))
	assert.False(t, g.shouldProcess(&m))

	dead := NewText(testPeer, "x")
	assert.False(t, g.shouldProcess(&dead), "ttl 0")

	stale := NewText(testPeer, "x")
	stale.TTL = 1
	stale.Timestamp = time.Now().Add(-2 * maxMessageAge)
	assert.False(t, g.shouldProcess(&stale))
}

func TestGossipStateBoundsTTLAndClock(t *testing.T) {
	g := newGossipState(2, 3)

	loud := NewText(testPeer, "x")
	loud.TTL = 1_000_000
	require.True(t, g.shouldProcess(&loud))
	assert.Equal(t, 3, loud.TTL)

	future := NewText(testPeer, "x")
	future.TTL = 1
	future.Timestamp = time.Now().Add(time.Hour)
	assert.False(t, g.shouldProcess(&future))

	skewed := NewText(testPeer, "x")
	skewed.TTL = 1
	skewed.Timestamp = time.Now().Add(maxClockSkew / 2)
	assert.True(t, g.shouldProcess(&skewed))
}

func TestGossipCleanup(t *testing.T) {
	g := newGossipState(0, 0)
	assert.Equal(t, defaultFanout, g.fanout)
	assert.Equal(t, defaultMaxTTL, g.maxTTL)

	now := time.Now()
	g.now = func() time.Time { return now }
	g.markSeen("old")
	now = now.Add(seenRetention + time.Second)
	g.markSeen("new")
	g.cleanup()
	assert.Equal(t, 1, g.seenCount())
}

func TestSelectPeers(t *testing.T) {
	g := newGossipState(2, 1)
	all := []peer.ID{"a", "b", "c", "d"}

	picked := g.selectPeers(all, "a")
	assert.Len(t, picked, 2)
	assert.NotContains(t, picked, peer.ID("a"))

	few := g.selectPeers([]peer.ID{"a", "b"}, "b")
	assert.Equal(t, []peer.ID{"a"}, few)
	assert.Len(t, all, 4)
	assert.ElementsMatch(t, []peer.ID{"a", "b", "c", "d"}, all, "input is not modified")
}
