// Package validator implements the stateless checks a transfer request
// must pass before a job is created (spec.md §4.6). Every check runs and
// every failure is accumulated, never short-circuited, so the HTTP
// response can report the full set of problems in one round trip -- the
// same "collect, don't bail" pattern the teacher's rpc package uses for
// batched JSON-RPC error reporting.
package validator

import (
	"math/big"

	"github.com/zeropool/relayer/pool/backend"
	"github.com/zeropool/relayer/pool/felt"
)

// TransferVerifier checks a transfer proof against its public inputs.
// pool/transferproof implements it against a real Groth16 verifying key;
// validator only needs the boolean answer, keeping the five stateless
// checks free of any curve-arithmetic dependency.
type TransferVerifier interface {
	Verify(proof backend.GrothProof, publicInputs []felt.F) bool
}

// Bit widths of the packed delta field element: tokenAmount and
// energyAmount are signed, two's-complement-in-slot integers; transferIndex
// and poolID are unsigned. This layout isn't specified bit-for-bit upstream
// (the packing lives in a native circuit crate outside the retrieval pack)
// so it's a self-consistent scheme sized to the field's ~254-bit budget,
// not a vendored constant table.
const (
	tokenBits  = 64
	energyBits = 64
	indexBits  = 48
	poolIDBits = 16

	energyShift = tokenBits
	indexShift  = tokenBits + energyBits
	poolIDShift = tokenBits + energyBits + indexBits
)

// Delta is the decoded form of a packed delta field element.
type Delta struct {
	TokenAmount    *big.Int // signed
	EnergyAmount   *big.Int // signed
	TransferIndex  uint64
	PoolID         uint64
}

var (
	tokenMask  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), tokenBits), big.NewInt(1))
	energyMask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), energyBits), big.NewInt(1))
	indexMask  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), indexBits), big.NewInt(1))
	poolIDMask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), poolIDBits), big.NewInt(1))

	tokenSignBit  = new(big.Int).Lsh(big.NewInt(1), tokenBits-1)
	energySignBit = new(big.Int).Lsh(big.NewInt(1), energyBits-1)
	tokenFull     = new(big.Int).Lsh(big.NewInt(1), tokenBits)
	energyFull    = new(big.Int).Lsh(big.NewInt(1), energyBits)
)

// ParseDelta unpacks a delta field element into its four components,
// interpreting tokenAmount/energyAmount as signed two's-complement
// integers within their slot width.
func ParseDelta(delta felt.F) Delta {
	v := felt.ToBigInt(delta)

	token := new(big.Int).And(v, tokenMask)
	if token.Cmp(tokenSignBit) >= 0 {
		token.Sub(token, tokenFull)
	}

	energy := new(big.Int).And(new(big.Int).Rsh(v, energyShift), energyMask)
	if energy.Cmp(energySignBit) >= 0 {
		energy.Sub(energy, energyFull)
	}

	index := new(big.Int).And(new(big.Int).Rsh(v, indexShift), indexMask).Uint64()
	poolID := new(big.Int).And(new(big.Int).Rsh(v, poolIDShift), poolIDMask).Uint64()

	return Delta{TokenAmount: token, EnergyAmount: energy, TransferIndex: index, PoolID: poolID}
}

// PackDelta re-encodes a Delta into a field element, the inverse of
// ParseDelta. Used by tests and by callers constructing request fixtures.
func PackDelta(d Delta) felt.F {
	token := new(big.Int).And(d.TokenAmount, tokenMask)
	energy := new(big.Int).And(d.EnergyAmount, energyMask)

	v := new(big.Int).Set(token)
	v.Or(v, new(big.Int).Lsh(energy, energyShift))
	v.Or(v, new(big.Int).Lsh(new(big.Int).SetUint64(d.TransferIndex), indexShift))
	v.Or(v, new(big.Int).Lsh(new(big.Int).SetUint64(d.PoolID), poolIDShift))
	return felt.FromBigInt(v)
}

// Error codes, matching spec.md §4.6's named variants.
const (
	CodeInvalidTransferProof = "InvalidTransferProof"
	CodeEmptyMemo            = "EmptyMemo"
	CodeFeeTooLow            = "FeeTooLow"
	CodeInvalidTxIndex       = "InvalidTxIndex"
	CodeInvalidValues        = "InvalidValues"
)

// Config carries the values a check needs from the running pool that
// aren't part of the request itself.
type Config struct {
	Fee       uint64
	PoolIndex uint64
}

// Validate runs every check in spec.md §4.6 against tx and accumulates
// every failure rather than stopping at the first. publicInputs are the
// field elements the transfer proof was generated against (delta is
// expected at publicInputs[3], per spec.md's `parse_delta(inputs[3])`).
func Validate(tx *backend.ParsedTx, verifier TransferVerifier, publicInputs []felt.F, cfg Config) []backend.ValidationError {
	var errs []backend.ValidationError

	if verifier == nil || !verifier.Verify(tx.TransferProof, publicInputs) {
		errs = append(errs, backend.ValidationError{Error: "transfer proof failed verification", Code: CodeInvalidTransferProof})
	}

	if len(tx.Memo) < 8 {
		errs = append(errs, backend.ValidationError{Error: "memo shorter than 8-byte fee prefix", Code: CodeEmptyMemo})
	} else {
		feeInMemo := new(big.Int).SetBytes(tx.Memo[:8]).Uint64()
		if feeInMemo < cfg.Fee {
			errs = append(errs, backend.ValidationError{Error: "memo fee below configured minimum", Code: CodeFeeTooLow})
		}
	}

	if len(publicInputs) <= 3 {
		errs = append(errs, backend.ValidationError{Error: "delta missing from public inputs", Code: CodeInvalidValues})
		return errs
	}
	delta := ParseDelta(publicInputs[3])

	if delta.TransferIndex > cfg.PoolIndex {
		errs = append(errs, backend.ValidationError{Error: "transfer index exceeds current pool index", Code: CodeInvalidTxIndex})
	}

	zero := big.NewInt(0)
	switch tx.TxType {
	case backend.TxDeposit:
		if delta.TokenAmount.Sign() < 0 || delta.EnergyAmount.Cmp(zero) != 0 {
			errs = append(errs, backend.ValidationError{Error: "deposit requires non-negative token amount and zero energy", Code: CodeInvalidValues})
		}
	case backend.TxTransfer:
		if delta.TokenAmount.Cmp(zero) != 0 || delta.EnergyAmount.Cmp(zero) != 0 {
			errs = append(errs, backend.ValidationError{Error: "transfer requires zero token amount and zero energy", Code: CodeInvalidValues})
		}
	case backend.TxWithdraw:
		if delta.TokenAmount.Sign() > 0 || delta.EnergyAmount.Sign() > 0 {
			errs = append(errs, backend.ValidationError{Error: "withdraw requires non-positive token amount and energy", Code: CodeInvalidValues})
		}
	}

	return errs
}
