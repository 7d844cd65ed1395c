// Package hash provides the digest primitive behind the PoH chain.
package hash

// Algorithm selects the 32-byte digest used for a chain.
type Algorithm uint8

const (
	SHA256 Algorithm = 0
	BLAKE3 Algorithm = 1
)

// DefaultAlgorithm is used for any unknown selector byte.
const DefaultAlgorithm = SHA256

// AlgorithmFromByte decodes a selector byte. Unknown values fall back to
// SHA256, never an error.
func AlgorithmFromByte(b uint8) Algorithm {
	switch Algorithm(b) {
	case BLAKE3:
		return BLAKE3
	default:
		return SHA256
	}
}

// Byte returns the wire encoding of the selector.
func (a Algorithm) Byte() uint8 {
	return uint8(a.normalize())
}

func (a Algorithm) String() string {
	switch a.normalize() {
	case BLAKE3:
		return "BLAKE3"
	default:
		return "SHA-256"
	}
}

func (a Algorithm) normalize() Algorithm {
	return AlgorithmFromByte(uint8(a))
}
