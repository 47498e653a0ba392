package zktree

import (
	"fmt"

	curve "github.com/consensys/gnark-crypto/ecc/bn254"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/backend/groth16"

	"github.com/zeropool/relayer/pool/backend"
	"github.com/zeropool/relayer/pool/felt"
)

// marshalProof converts a gnark BN254 Groth16 proof into the fixed
// 256-byte wire layout (spec.md §4.5: A(2·32) ‖ B(4·32) ‖ C(2·32)),
// reusing felt.F purely as a 32-byte container for curve coordinates --
// the same convention pool/backend's GrothProof already establishes.
func marshalProof(proof groth16.Proof) (backend.GrothProof, error) {
	p, ok := proof.(*groth16bn254.Proof)
	if !ok {
		return backend.GrothProof{}, fmt.Errorf("zktree: unexpected proof type %T", proof)
	}

	arBytes := p.Ar.RawBytes()
	bsBytes := p.Bs.RawBytes()
	krsBytes := p.Krs.RawBytes()

	var out backend.GrothProof
	out.A[0] = felt.FromBytes32(chunk32(arBytes[:], 0))
	out.A[1] = felt.FromBytes32(chunk32(arBytes[:], 32))
	out.B[0] = felt.FromBytes32(chunk32(bsBytes[:], 0))
	out.B[1] = felt.FromBytes32(chunk32(bsBytes[:], 32))
	out.B[2] = felt.FromBytes32(chunk32(bsBytes[:], 64))
	out.B[3] = felt.FromBytes32(chunk32(bsBytes[:], 96))
	out.C[0] = felt.FromBytes32(chunk32(krsBytes[:], 0))
	out.C[1] = felt.FromBytes32(chunk32(krsBytes[:], 32))
	return out, nil
}

// unmarshalProof is marshalProof's inverse, used by Verify.
func unmarshalProof(p backend.GrothProof) (groth16.Proof, error) {
	var ar, krs curve.G1Affine
	var bs curve.G2Affine

	arBuf := concat32(felt.Bytes32(p.A[0]), felt.Bytes32(p.A[1]))
	if _, err := ar.SetBytes(arBuf); err != nil {
		return nil, fmt.Errorf("zktree: decode A: %w", err)
	}
	bsBuf := concat32(felt.Bytes32(p.B[0]), felt.Bytes32(p.B[1]), felt.Bytes32(p.B[2]), felt.Bytes32(p.B[3]))
	if _, err := bs.SetBytes(bsBuf); err != nil {
		return nil, fmt.Errorf("zktree: decode B: %w", err)
	}
	krsBuf := concat32(felt.Bytes32(p.C[0]), felt.Bytes32(p.C[1]))
	if _, err := krs.SetBytes(krsBuf); err != nil {
		return nil, fmt.Errorf("zktree: decode C: %w", err)
	}

	return &groth16bn254.Proof{Ar: ar, Bs: bs, Krs: krs}, nil
}

func chunk32(b []byte, off int) [32]byte {
	var out [32]byte
	copy(out[:], b[off:off+32])
	return out
}

func concat32(chunks ...[32]byte) []byte {
	out := make([]byte, 0, 32*len(chunks))
	for _, c := range chunks {
		out = append(out, c[:]...)
	}
	return out
}
