package hash

import (
	"bytes"
	stdsha256 "crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func naiveChain(h Hasher, prev [Size]byte, n uint64) [Size]byte {
	cur := prev
	for i := uint64(0); i < n; i++ {
		cur = h.Advance(cur)
	}
	return cur
}

func TestAlgorithmFallback(t *testing.T) {
	assert.Equal(t, SHA256, AlgorithmFromByte(0))
	assert.Equal(t, BLAKE3, AlgorithmFromByte(1))
	for _, b := range []uint8{2, 7, 128, 255} {
		h := NewHasher(AlgorithmFromByte(b))
		assert.Equal(t, "SHA-256", h.Name(), "selector %d", b)
		assert.Equal(t, uint8(0), h.Algorithm().Byte())
	}

	// An out-of-range value smuggled in directly still behaves like SHA-256.
	h := NewHasher(Algorithm(42))
	assert.Equal(t, SHA256, h.Algorithm())
	assert.Equal(t, "SHA-256", Algorithm(42).String())
}

func TestZeroValueIsSHA256(t *testing.T) {
	var h Hasher
	data := []byte("rnr")
	assert.Equal(t, stdsha256.Sum256(data), h.Hash(data))
	assert.Equal(t, "SHA-256", h.Name())
}

func TestSetAlgorithm(t *testing.T) {
	h := NewHasher(SHA256)
	data := []byte("switch")
	sha := h.Hash(data)

	h.SetAlgorithm(BLAKE3)
	assert.Equal(t, "BLAKE3", h.Name())
	b3 := h.Hash(data)
	assert.NotEqual(t, sha, b3)

	h.SetAlgorithm(Algorithm(9))
	assert.Equal(t, sha, h.Hash(data))
}

func TestKnownVectors(t *testing.T) {
	sha := NewHasher(SHA256).Hash([]byte("abc"))
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", hex.EncodeToString(sha[:]))

	b3 := NewHasher(BLAKE3).Hash(nil)
	assert.Equal(t, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262", hex.EncodeToString(b3[:]))
}

func TestEmbedDataIsConcatenation(t *testing.T) {
	for _, alg := range []Algorithm{SHA256, BLAKE3} {
		h := NewHasher(alg)
		prev := h.Hash([]byte("prev"))
		event := []byte("event payload")

		joined := append(append([]byte{}, prev[:]...), event...)
		assert.Equal(t, h.Hash(joined), h.EmbedData(prev, event), alg.String())
		assert.Equal(t, h.Advance(prev), h.EmbedData(prev, nil), alg.String())
	}
}

func TestExtendChainZeroIdentity(t *testing.T) {
	for _, alg := range []Algorithm{SHA256, BLAKE3} {
		h := NewHasher(alg)
		prev := h.Hash([]byte("identity"))
		assert.Equal(t, prev, h.ExtendChain(prev, 0))
	}
}

func TestExtendChainMatchesNaiveLoop(t *testing.T) {
	counts := []uint64{1, 2, 7, 8, 9, 15, 16, 17, 63, 64, 65, 1000, 12500}
	for _, alg := range []Algorithm{SHA256, BLAKE3} {
		h := NewHasher(alg)
		seed := h.Hash(bytes.Repeat([]byte{1}, 32))
		for _, n := range counts {
			require.Equal(t, naiveChain(h, seed, n), h.ExtendChain(seed, n), "%s n=%d", alg, n)
		}
	}
}

func TestExtendChainDeterministic(t *testing.T) {
	h := NewHasher(SHA256)
	seed := h.Hash(make([]byte, 64))
	first := h.ExtendChain(seed, 12500)
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, h.ExtendChain(seed, 12500))
	}
}

func TestExtendChainComposes(t *testing.T) {
	h := NewHasher(BLAKE3)
	seed := h.Hash([]byte("compose"))
	assert.Equal(t, h.ExtendChain(seed, 100), h.ExtendChain(h.ExtendChain(seed, 37), 63))
}

func TestVerifyChain(t *testing.T) {
	for _, alg := range []Algorithm{SHA256, BLAKE3} {
		h := NewHasher(alg)
		var seed [Size]byte
		for i := range seed {
			seed[i] = 1
		}
		event := []byte("Test event")

		next := h.ExtendChain(h.EmbedData(seed, event), 12500)
		assert.True(t, h.VerifyChain(seed, next, 12500, event))
		assert.False(t, h.VerifyChain(seed, next, 12500, nil), "missing event must not verify")
		assert.False(t, h.VerifyChain(seed, next, 12499, event), "wrong iteration count must not verify")

		bad := next
		bad[0] ^= 0xFF
		assert.False(t, h.VerifyChain(seed, bad, 12500, event))
	}
}

func TestVerifyChainEmptyEventDiffersFromNone(t *testing.T) {
	h := NewHasher(SHA256)
	seed := h.Hash([]byte("empty"))
	withEmpty := h.ExtendChain(h.EmbedData(seed, []byte{}), 4)
	assert.True(t, h.VerifyChain(seed, withEmpty, 4, []byte{}))
	assert.False(t, h.VerifyChain(seed, withEmpty, 4, nil))
}

func TestConstantTimeEqual(t *testing.T) {
	var a, b, c [Size]byte
	c[31] = 1
	assert.True(t, ConstantTimeEqual(a, b))
	assert.False(t, ConstantTimeEqual(a, c))

	var h Hasher
	assert.True(t, h.VerifyChain(a, b, 0, nil))
	assert.False(t, h.VerifyChain(a, c, 0, nil))
}

func TestComputeHashes(t *testing.T) {
	h := NewHasher(SHA256)
	var zero [Size]byte
	assert.Equal(t, h.ExtendChain(zero, 10), h.ComputeHashes(10))
}

func BenchmarkExtendChain(b *testing.B) {
	for _, alg := range []Algorithm{SHA256, BLAKE3} {
		h := NewHasher(alg)
		prev := h.Hash([]byte("bench"))
		b.Run(alg.String(), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				prev = h.ExtendChain(prev, 12500)
			}
		})
	}
}
