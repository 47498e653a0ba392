package felt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBytes32RoundTrip(t *testing.T) {
	f := FromUint64(42)
	b := Bytes32(f)
	got := FromBytes32(b)
	require.True(t, Equal(f, got))
}

func TestZeroIsZero(t *testing.T) {
	require.True(t, IsZero(Zero()))
	require.False(t, IsZero(FromUint64(1)))
}

func TestMustFromDecimalSeed(t *testing.T) {
	// Seed scenario 1: empty tree root.
	f := MustFromDecimal("11469701942666298368112882412133877458305516134926649826543144744382391691533")
	require.False(t, IsZero(f))
}

func TestAddCommutes(t *testing.T) {
	a := FromUint64(7)
	b := FromUint64(13)
	require.True(t, Equal(Add(a, b), Add(b, a)))
}
