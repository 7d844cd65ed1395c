// Package identity holds the node's secp256k1 key: its address, its libp2p
// peer key and the signatures it puts on published records.
package identity

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/crypto"
	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"

	"github.com/LICODX/rnr-poh/poh"
)

// SignatureLength is the size of a recoverable [R || S || V] signature.
const SignatureLength = crypto.SignatureLength

var (
	ErrBadSignature = errors.New("identity: bad signature")
	ErrBadPublicKey = errors.New("identity: bad public key")
)

var recordDomain = []byte("rnr-poh/record/v1")

type Identity struct {
	key *ecdsa.PrivateKey
}

func Generate() (*Identity, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Identity{key: key}, nil
}

// FromPrivateKey loads a raw 32-byte secp256k1 scalar.
func FromPrivateKey(raw []byte) (*Identity, error) {
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("load key: %w", err)
	}
	return &Identity{key: key}, nil
}

func (id *Identity) PrivateKeyBytes() []byte {
	return crypto.FromECDSA(id.key)
}

// PublicKey returns the 33-byte compressed public key.
func (id *Identity) PublicKey() []byte {
	return crypto.CompressPubkey(&id.key.PublicKey)
}

// Address is the 0x-prefixed, checksummed Ethereum-style address.
func (id *Identity) Address() string {
	return crypto.PubkeyToAddress(id.key.PublicKey).Hex()
}

// Libp2pKey returns the same key in libp2p form, so the node's peer ID is
// derived from its signing key.
func (id *Identity) Libp2pKey() p2pcrypto.PrivKey {
	priv, _ := btcec.PrivKeyFromBytes(id.PrivateKeyBytes())
	return (*p2pcrypto.Secp256k1PrivateKey)(priv)
}

// AddressOf derives the address of a compressed public key.
func AddressOf(pub []byte) (string, error) {
	key, err := btcec.ParsePubKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadPublicKey, err)
	}
	return crypto.PubkeyToAddress(*key.ToECDSA()).Hex(), nil
}

// RecordDigest is the Keccak-256 of a domain tag and the record's fields in
// fixed order. An absent event and an empty event hash differently.
func RecordDigest(rec poh.Record) [32]byte {
	buf := make([]byte, 0, len(recordDomain)+32+4*8+1+8+len(rec.Event))
	buf = append(buf, recordDomain...)
	buf = append(buf, rec.Hash[:]...)
	buf = binary.BigEndian.AppendUint64(buf, rec.RevIndex)
	buf = binary.BigEndian.AppendUint64(buf, rec.PhaseIndex)
	buf = binary.BigEndian.AppendUint64(buf, rec.CycleIndex)
	buf = binary.BigEndian.AppendUint64(buf, rec.TimestampMs)
	if rec.HasEvent() {
		buf = append(buf, 1)
		buf = binary.BigEndian.AppendUint64(buf, uint64(len(rec.Event)))
		buf = append(buf, rec.Event...)
	} else {
		buf = append(buf, 0)
	}

	var digest [32]byte
	copy(digest[:], crypto.Keccak256(buf))
	return digest
}

func (id *Identity) SignRecord(rec poh.Record) ([]byte, error) {
	digest := RecordDigest(rec)
	sig, err := crypto.Sign(digest[:], id.key)
	if err != nil {
		return nil, fmt.Errorf("sign record %d: %w", rec.RevIndex, err)
	}
	return sig, nil
}

// VerifyRecord checks sig against the compressed public key pub.
func VerifyRecord(pub []byte, rec poh.Record, sig []byte) bool {
	if len(sig) != SignatureLength && len(sig) != SignatureLength-1 {
		return false
	}
	digest := RecordDigest(rec)
	return crypto.VerifySignature(pub, digest[:], sig[:SignatureLength-1])
}

// RecoverSigner returns the compressed public key that produced sig.
func RecoverSigner(rec poh.Record, sig []byte) ([]byte, error) {
	if len(sig) != SignatureLength {
		return nil, ErrBadSignature
	}
	digest := RecordDigest(rec)
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return crypto.CompressPubkey(pub), nil
}
