// Package backend defines the chain-agnostic backend contract (spec.md
// §4.5) and its adapters: mock (tests/local dev), evm (go-ethereum), and
// thin net/http clients for near and waves. The interface is the system's
// one polymorphism point (spec.md §9, "dynamic dispatch"), grounded on
// core/rawdb/database.go's small-interface composition and rpc's own
// Backend abstraction.
package backend

import (
	"context"
	"errors"

	"github.com/zeropool/relayer/pool/felt"
)

var errInvalidProofLength = errors.New("backend: groth proof must be 256 bytes")

// TxType is the kind of shielded transfer.
type TxType uint16

const (
	TxDeposit  TxType = 0
	TxTransfer TxType = 1
	TxWithdraw TxType = 2
)

// GrothProof is a Groth16 proof in the fixed 256-byte wire layout spec.md
// §4.5 specifies: A is 2 field elements, B is 4, C is 2.
type GrothProof struct {
	A [2]felt.F
	B [4]felt.F
	C [2]felt.F
}

// Bytes encodes the proof as 256 big-endian bytes: A || B || C.
func (p GrothProof) Bytes() []byte {
	out := make([]byte, 0, 256)
	for _, e := range p.A {
		b := felt.Bytes32(e)
		out = append(out, b[:]...)
	}
	for _, e := range p.B {
		b := felt.Bytes32(e)
		out = append(out, b[:]...)
	}
	for _, e := range p.C {
		b := felt.Bytes32(e)
		out = append(out, b[:]...)
	}
	return out
}

// GrothProofFromBytes decodes the 256-byte wire layout back into a proof.
func GrothProofFromBytes(b []byte) (GrothProof, error) {
	var p GrothProof
	if len(b) != 256 {
		return p, errInvalidProofLength
	}
	read := func(off int) felt.F {
		var buf [32]byte
		copy(buf[:], b[off:off+32])
		return felt.FromBytes32(buf)
	}
	for i := 0; i < 2; i++ {
		p.A[i] = read(i * 32)
	}
	for i := 0; i < 4; i++ {
		p.B[i] = read(64 + i*32)
	}
	for i := 0; i < 2; i++ {
		p.C[i] = read(192 + i*32)
	}
	return p, nil
}

// ParsedTx is the validated, decoded request body (spec.md §3).
type ParsedTx struct {
	TxType        TxType
	TransferProof GrothProof
	Delta         felt.F
	OutCommit     felt.F
	Nullifier     felt.F
	Memo          []byte
	ExtraData     []byte
}

// TxData is the fully assembled outbound payload for SendTx: the parsed
// transfer plus the tree-update proof binding root_before/root_after.
type TxData struct {
	ParsedTx
	RootAfter felt.F
	TreeProof GrothProof
}

// FetchedTx is one confirmed on-chain `transact` call.
type FetchedTx struct {
	Hash     string
	Calldata []byte
}

// ValidationError is one backend-specific semantic rejection
// (Backend.ValidateTx), e.g. insufficient deposit balance.
type ValidationError struct {
	Error string
	Code  string
}

// Backend is the chain-agnostic adapter contract (spec.md §4.5): Name,
// eight chain methods and ValidateTx.
type Backend interface {
	Name() string
	FetchLatestTransactions(ctx context.Context) ([]FetchedTx, error)
	SendTx(ctx context.Context, tx TxData) (string, error)
	GetPoolIndex(ctx context.Context) (uint64, error)
	GetMerkleRoot(ctx context.Context, index uint64) (felt.F, bool, error)
	ParseCalldata(data []byte) (TxData, error)
	ParseHash(s string) ([]byte, error)
	FormatHash(b []byte) string
	ExtractCiphertextFromMemo(memo []byte, txType TxType) ([]byte, error)
	ValidateTx(ctx context.Context, tx *ParsedTx) []ValidationError
}
