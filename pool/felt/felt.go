// Package felt defines the 256-bit prime-field scalar used for every
// commitment, nullifier, delta and Merkle-tree value in the pool. It is a
// thin alias over gnark-crypto's BN254 scalar field, the field Groth16
// circuits compiled with ecc.BN254 operate over.
package felt

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// F is a scalar in the BN254 scalar field.
type F = fr.Element

// Zero returns the additive identity.
func Zero() F {
	var z F
	z.SetZero()
	return z
}

// FromUint64 builds a field element from a small integer, used for leaf
// indices and path bits in tests and proof construction.
func FromUint64(v uint64) F {
	var f F
	f.SetUint64(v)
	return f
}

// FromBytes32 decodes a big-endian 32-byte buffer into a field element,
// reducing modulo the field order if the value is out of range.
func FromBytes32(b [32]byte) F {
	var f F
	f.SetBytes(b[:])
	return f
}

// FromBigInt converts a big.Int, reducing modulo the field order.
func FromBigInt(v *big.Int) F {
	var f F
	f.SetBigInt(v)
	return f
}

// Bytes32 returns the canonical big-endian, Montgomery-free encoding of f.
// fr.Element.Bytes already returns values out of Montgomery form, so no
// further conversion is required here -- this is the one spot a careless
// port would double-convert.
func Bytes32(f F) [32]byte {
	return f.Bytes()
}

// MustFromDecimal parses a base-10 string into a field element, panicking
// on malformed input. Used for the literal seed-scenario constants.
func MustFromDecimal(s string) F {
	var f F
	if _, err := f.SetString(s); err != nil {
		panic(err)
	}
	return f
}

// Equal reports whether a and b represent the same field element.
func Equal(a, b F) bool {
	return a.Equal(&b)
}

// IsZero reports whether f is the additive identity.
func IsZero(f F) bool {
	return f.IsZero()
}

// Add returns a+b.
func Add(a, b F) F {
	var r F
	r.Add(&a, &b)
	return r
}

// ToBigInt returns f's canonical representative in [0, field order).
func ToBigInt(f F) *big.Int {
	var v big.Int
	f.BigInt(&v)
	return &v
}
