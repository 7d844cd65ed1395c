package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/LICODX/rnr-poh/poh"
)

type Kind string

const (
	KindPing   Kind = "ping"
	KindText   Kind = "text"
	KindCustom Kind = "custom"
	KindRecord Kind = "record"
)

var ErrInvalidMessage = errors.New("network: invalid message")

// Message is the gossip envelope. Which body fields are set depends on
// Kind: Name for ping, Text for text, Payload for custom, and Record with
// Signature and PublicKey for record.
type Message struct {
	ID        string    `json:"id"`
	Topic     TopicID   `json:"topic"`
	Kind      Kind      `json:"kind"`
	From      peer.ID   `json:"from"`
	TTL       int       `json:"ttl"`
	Timestamp time.Time `json:"timestamp"`

	Name      string      `json:"name,omitempty"`
	Text      string      `json:"text,omitempty"`
	Payload   []byte      `json:"payload,omitempty"`
	Record    *poh.Record `json:"record,omitempty"`
	Signature []byte      `json:"signature,omitempty"`
	PublicKey []byte      `json:"public_key,omitempty"`
}

func newMessage(kind Kind, from peer.ID) Message {
	return Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		From:      from,
		Timestamp: time.Now().UTC(),
	}
}

func NewPing(from peer.ID, name string) Message {
	m := newMessage(KindPing, from)
	m.Name = name
	return m
}

func NewText(from peer.ID, text string) Message {
	m := newMessage(KindText, from)
	m.Text = text
	return m
}

func NewCustom(from peer.ID, payload []byte) Message {
	m := newMessage(KindCustom, from)
	m.Payload = payload
	return m
}

// NewRecordMessage carries a signed record. pub is the signer's compressed
// secp256k1 key.
func NewRecordMessage(from peer.ID, rec poh.Record, sig, pub []byte) Message {
	m := newMessage(KindRecord, from)
	r := rec.Clone()
	m.Record = &r
	m.Signature = sig
	m.PublicKey = pub
	return m
}

func (m Message) Validate() error {
	if _, err := uuid.Parse(m.ID); err != nil {
		return fmt.Errorf("%w: id %q", ErrInvalidMessage, m.ID)
	}
	if m.From == "" {
		return fmt.Errorf("%w: missing sender", ErrInvalidMessage)
	}
	switch m.Kind {
	case KindPing, KindText, KindCustom:
	case KindRecord:
		if m.Record == nil || len(m.Signature) == 0 || len(m.PublicKey) == 0 {
			return fmt.Errorf("%w: incomplete record message", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
	return nil
}

func (m Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

func UnmarshalMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
