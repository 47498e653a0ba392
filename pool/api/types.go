package api

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"

	"github.com/zeropool/relayer/pool/backend"
	"github.com/zeropool/relayer/pool/felt"
)

// apiVersion is reported verbatim in /info, matching the original
// service's InfoResponse.api_version.
const apiVersion = "2"

// proofWithInputs mirrors the original service's ProofWithInputs: a
// Groth16 proof plus the public input vector it was generated against.
// The inner proof is hex-encoded 256-byte wire format (pool/backend.
// GrothProof.Bytes); public inputs are decimal strings, since neither
// format is pinned by spec.md and the retrieval pack's external proving
// crate (the one that would define the canonical wire shape) isn't part
// of this repo -- both choices are documented here rather than guessed
// silently.
type proofWithInputs struct {
	Proof  string   `json:"proof"`
	Inputs []string `json:"inputs"`
}

// txDataRequest is the wire shape of POST /transactions and
// POST /sendTransactions, per spec.md §6: `{txType, proof: {proof,
// inputs}, memo, extraData}`.
type txDataRequest struct {
	TxType    string          `json:"txType"`
	Proof     proofWithInputs `json:"proof"`
	Memo      string          `json:"memo"`
	ExtraData string          `json:"extraData"`
}

// decode turns the wire request into a ParsedTx and the raw public-input
// vector the verifier needs, following the original service's field
// mapping: inputs[1]=nullifier, inputs[2]=out_commit, inputs[3]=delta.
func (r txDataRequest) decode() (backend.ParsedTx, []felt.F, error) {
	var tx backend.ParsedTx

	txTypeVal, err := strconv.ParseUint(r.TxType, 16, 16)
	if err != nil {
		return tx, nil, fmt.Errorf("invalid txType %q: %w", r.TxType, err)
	}
	tx.TxType = backend.TxType(txTypeVal)

	proofBytes, err := hex.DecodeString(r.Proof.Proof)
	if err != nil {
		return tx, nil, fmt.Errorf("invalid proof hex: %w", err)
	}
	groth, err := backend.GrothProofFromBytes(proofBytes)
	if err != nil {
		return tx, nil, err
	}
	tx.TransferProof = groth

	inputs := make([]felt.F, len(r.Proof.Inputs))
	for i, s := range r.Proof.Inputs {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return tx, nil, fmt.Errorf("invalid public input %q at index %d", s, i)
		}
		inputs[i] = felt.FromBigInt(v)
	}
	if len(inputs) > 3 {
		tx.Delta = inputs[3]
	}
	if len(inputs) > 2 {
		tx.OutCommit = inputs[2]
	}
	if len(inputs) > 1 {
		tx.Nullifier = inputs[1]
	}

	memo, err := hex.DecodeString(r.Memo)
	if err != nil {
		return tx, nil, fmt.Errorf("invalid memo hex: %w", err)
	}
	tx.Memo = memo

	extra, err := hex.DecodeString(r.ExtraData)
	if err != nil {
		return tx, nil, fmt.Errorf("invalid extraData hex: %w", err)
	}
	tx.ExtraData = extra

	return tx, inputs, nil
}

type createTransactionResponse struct {
	JobID uint64 `json:"jobId"`
}

type jobStatusResponse struct {
	State string `json:"state"`
}

type infoResponse struct {
	APIVersion           string `json:"apiVersion"`
	Root                 string `json:"root"`
	OptimisticRoot       string `json:"optimisticRoot"`
	DeltaIndex           string `json:"deltaIndex"`
	OptimisticDeltaIndex string `json:"optimisticDeltaIndex"`
}

type validationErrorItem struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type validationErrorResponse struct {
	Error  string                `json:"error"`
	Errors []validationErrorItem `json:"errors"`
}

type simpleErrorResponse struct {
	Error string `json:"error"`
}
