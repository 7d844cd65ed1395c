package network

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multibase"
)

var ErrInvalidTicket = errors.New("network: invalid ticket")

// TopicID names one gossip swarm.
type TopicID [32]byte

func NewTopicID() (TopicID, error) {
	var t TopicID
	if _, err := rand.Read(t[:]); err != nil {
		return t, fmt.Errorf("generate topic: %w", err)
	}
	return t, nil
}

func (t TopicID) String() string {
	return hex.EncodeToString(t[:])
}

func (t TopicID) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TopicID) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil || len(b) != len(t) {
		return fmt.Errorf("topic %q must be %d hex bytes", text, len(t))
	}
	copy(t[:], b)
	return nil
}

// Ticket invites a node into a topic through the listed peers.
type Ticket struct {
	Topic TopicID         `json:"topic"`
	Peers []peer.AddrInfo `json:"peers"`
}

// String encodes the ticket as lowercase base32 multibase text.
func (t Ticket) String() string {
	data, err := json.Marshal(t)
	if err != nil {
		return ""
	}
	s, err := multibase.Encode(multibase.Base32, data)
	if err != nil {
		return ""
	}
	return s
}

func ParseTicket(s string) (Ticket, error) {
	_, data, err := multibase.Decode(s)
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	var t Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	if len(t.Peers) == 0 {
		return Ticket{}, fmt.Errorf("%w: no peers", ErrInvalidTicket)
	}
	return t, nil
}
