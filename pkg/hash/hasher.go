package hash

import (
	"crypto/subtle"

	"github.com/minio/sha256-simd"
	"lukechampine.com/blake3"
)

// Size is the length of every digest produced by a Hasher.
const Size = 32

// unroll is the batch width used by ExtendChain.
const unroll = 8

// Hasher computes chain digests under one Algorithm. The zero value uses
// SHA-256. A Hasher holds no other state and may be shared by goroutines
// as long as SetAlgorithm is not called concurrently.
type Hasher struct {
	algorithm Algorithm
}

func NewHasher(algorithm Algorithm) Hasher {
	return Hasher{algorithm: algorithm.normalize()}
}

func (h Hasher) Algorithm() Algorithm {
	return h.algorithm.normalize()
}

// SetAlgorithm switches the digest. Hashes computed earlier stay valid
// only under the algorithm that produced them.
func (h *Hasher) SetAlgorithm(algorithm Algorithm) {
	h.algorithm = algorithm.normalize()
}

// Name returns the human readable algorithm name.
func (h Hasher) Name() string {
	return h.algorithm.String()
}

// Hash digests arbitrary input.
func (h Hasher) Hash(data []byte) [Size]byte {
	if h.algorithm.normalize() == BLAKE3 {
		return blake3.Sum256(data)
	}
	return sha256.Sum256(data)
}

// EmbedData digests prev followed by data. It binds an event to the chain.
func (h Hasher) EmbedData(prev [Size]byte, data []byte) [Size]byte {
	buf := make([]byte, 0, Size+len(data))
	buf = append(buf, prev[:]...)
	buf = append(buf, data...)
	return h.Hash(buf)
}

// Advance is one chain step: the digest of prev alone.
func (h Hasher) Advance(prev [Size]byte) [Size]byte {
	if h.algorithm.normalize() == BLAKE3 {
		return blake3.Sum256(prev[:])
	}
	return sha256.Sum256(prev[:])
}

// ExtendChain applies Advance n times. n == 0 returns prev unchanged.
func (h Hasher) ExtendChain(prev [Size]byte, n uint64) [Size]byte {
	cur := prev
	if n < unroll {
		for i := uint64(0); i < n; i++ {
			cur = h.Advance(cur)
		}
		return cur
	}

	blocks := n / unroll
	for i := uint64(0); i < blocks; i++ {
		cur = h.Advance(cur)
		cur = h.Advance(cur)
		cur = h.Advance(cur)
		cur = h.Advance(cur)
		cur = h.Advance(cur)
		cur = h.Advance(cur)
		cur = h.Advance(cur)
		cur = h.Advance(cur)
	}
	for i := blocks * unroll; i < n; i++ {
		cur = h.Advance(cur)
	}
	return cur
}

// VerifyChain recomputes the transition from prev over n steps, embedding
// event first when it is non-nil, and compares the result with claimed in
// constant time.
func (h Hasher) VerifyChain(prev, claimed [Size]byte, n uint64, event []byte) bool {
	expected := prev
	if event != nil {
		expected = h.EmbedData(expected, event)
	}
	expected = h.ExtendChain(expected, n)
	return ConstantTimeEqual(expected, claimed)
}

// ComputeHashes burns n chain steps from the zero hash. Used to measure
// hash throughput.
func (h Hasher) ComputeHashes(n uint64) [Size]byte {
	var zero [Size]byte
	return h.ExtendChain(zero, n)
}

// ConstantTimeEqual reports whether a and b are equal without branching on
// the position of the first difference.
func ConstantTimeEqual(a, b [Size]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
