package transferproof

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeropool/relayer/pool/backend"
	"github.com/zeropool/relayer/pool/felt"
)

func TestMockVerifierAlwaysPasses(t *testing.T) {
	v, err := Load("", true)
	require.NoError(t, err)
	require.True(t, v.Verify(backend.GrothProof{}, nil))
}

func TestLoadMissingKeyFails(t *testing.T) {
	_, err := Load("/nonexistent/path/transfer_verification_key.json", false)
	require.Error(t, err)
}

func TestUnmarshalProofRejectsPointNotOnCurve(t *testing.T) {
	var bogus backend.GrothProof
	var allOnes [32]byte
	for i := range allOnes {
		allOnes[i] = 0xff
	}
	bogus.A[0] = felt.FromBytes32(allOnes)
	bogus.A[1] = felt.FromBytes32(allOnes)

	// felt.FromBytes32 reduces the all-0xFF input into the scalar field,
	// so A's coordinates are in range but (x, y) is not on the curve;
	// decoding A as a curve point must fail rather than panic.
	_, err := unmarshalProof(bogus)
	require.Error(t, err)
}
