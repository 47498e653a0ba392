package backend

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/zeropool/relayer/pool/felt"
)

// Mock is an in-memory Backend for tests and BACKEND=mock local
// development. It keeps its own pool index/root and a log of submitted
// transactions, standing in for an actual chain.
type Mock struct {
	mu      sync.Mutex
	index   uint64
	roots   map[uint64]felt.F
	history []FetchedTx
	fail    bool
}

// NewMock creates an empty mock backend at pool index 0.
func NewMock() *Mock {
	return &Mock{roots: map[uint64]felt.F{0: felt.Zero()}}
}

// SetFailNext makes the next SendTx call return an error, for exercising
// the worker's process_failure path in tests.
func (m *Mock) SetFailNext(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) FetchLatestTransactions(ctx context.Context) ([]FetchedTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FetchedTx, len(m.history))
	copy(out, m.history)
	return out, nil
}

func (m *Mock) SendTx(ctx context.Context, tx TxData) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		m.fail = false
		return "", errors.New("mock: simulated send_tx failure")
	}
	m.index += 128
	m.roots[m.index] = tx.RootAfter

	var hashBuf [8]byte
	binary.BigEndian.PutUint64(hashBuf[:], m.index)
	hash := hex.EncodeToString(hashBuf[:])
	m.history = append(m.history, FetchedTx{Hash: hash, Calldata: m.encode(tx)})
	return hash, nil
}

func (m *Mock) GetPoolIndex(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index, nil
}

func (m *Mock) GetMerkleRoot(ctx context.Context, index uint64) (felt.F, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roots[index]
	return r, ok, nil
}

func (m *Mock) encode(tx TxData) []byte {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, uint16(tx.TxType))
	outCommit := felt.Bytes32(tx.OutCommit)
	out = append(out, outCommit[:]...)
	out = append(out, tx.TransferProof.Bytes()...)
	out = append(out, tx.TreeProof.Bytes()...)
	out = append(out, tx.Memo...)
	return out
}

func (m *Mock) ParseCalldata(data []byte) (TxData, error) {
	if len(data) < 2+32+256+256 {
		return TxData{}, errors.New("mock: truncated calldata")
	}
	var tx TxData
	tx.TxType = TxType(binary.BigEndian.Uint16(data[:2]))
	var outCommit [32]byte
	copy(outCommit[:], data[2:34])
	tx.OutCommit = felt.FromBytes32(outCommit)
	transferProof, err := GrothProofFromBytes(data[34:290])
	if err != nil {
		return TxData{}, err
	}
	tx.TransferProof = transferProof
	treeProof, err := GrothProofFromBytes(data[290:546])
	if err != nil {
		return TxData{}, err
	}
	tx.TreeProof = treeProof
	tx.Memo = append([]byte(nil), data[546:]...)
	return tx, nil
}

func (m *Mock) ParseHash(s string) ([]byte, error) { return hex.DecodeString(s) }
func (m *Mock) FormatHash(b []byte) string          { return hex.EncodeToString(b) }

func (m *Mock) ExtractCiphertextFromMemo(memo []byte, txType TxType) ([]byte, error) {
	return extractCiphertextDefault(memo, txType)
}

func (m *Mock) ValidateTx(ctx context.Context, tx *ParsedTx) []ValidationError {
	return nil
}

// extractCiphertextDefault slices the fee/address prefix off memo per
// tx-type, shared by every adapter. Deposit/Withdraw carry an address
// after the 8-byte fee prefix; Transfer carries only the fee prefix.
func extractCiphertextDefault(memo []byte, txType TxType) ([]byte, error) {
	const feeLen = 8
	if len(memo) < feeLen {
		return nil, errors.New("backend: memo shorter than fee prefix")
	}
	prefixLen := feeLen
	if txType == TxDeposit || txType == TxWithdraw {
		const addrLen = 20
		prefixLen += addrLen
	}
	if len(memo) < prefixLen {
		return nil, errors.New("backend: memo shorter than tx-type prefix")
	}
	return memo[prefixLen:], nil
}
