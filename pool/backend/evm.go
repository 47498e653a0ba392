package backend

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/zeropool/relayer/pool/felt"
)

// transactSelector is the 4-byte function selector for the pool
// contract's `transact(bytes)` entry point.
var transactSelector = [4]byte{0xa2, 0x9d, 0x2e, 0xd6}

// EVM is the Backend adapter for an EVM-compatible chain, built on
// go-ethereum's ethclient -- already a direct dependency of the teacher.
type EVM struct {
	client       *ethclient.Client
	poolAddress  gethcommon.Address
	tokenAddress gethcommon.Address
	signer       *ecdsa.PrivateKey
	chainID      *big.Int
}

// EVMConfig configures the EVM adapter (env vars EVM_RPC_URL,
// EVM_POOL_ADDRESS, EVM_TOKEN_ADDRESS, EVM_SK per spec.md §6).
type EVMConfig struct {
	RPCURL       string
	PoolAddress  string
	TokenAddress string
	SigningKey   string
}

// NewEVM dials the configured RPC endpoint and parses the signing key.
func NewEVM(ctx context.Context, cfg EVMConfig) (*EVM, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, err
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	sk, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.SigningKey, "0x"))
	if err != nil {
		return nil, err
	}
	return &EVM{
		client:       client,
		poolAddress:  gethcommon.HexToAddress(cfg.PoolAddress),
		tokenAddress: gethcommon.HexToAddress(cfg.TokenAddress),
		signer:       sk,
		chainID:      chainID,
	}, nil
}

func (e *EVM) Name() string { return "evm" }

// FetchLatestTransactions returns every confirmed `transact` call to the
// pool contract since genesis by filtering its event logs.
func (e *EVM) FetchLatestTransactions(ctx context.Context) ([]FetchedTx, error) {
	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(0),
		Addresses: []gethcommon.Address{e.poolAddress},
	}
	logs, err := e.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]FetchedTx, 0, len(logs))
	for _, lg := range logs {
		tx, _, err := e.client.TransactionByHash(ctx, lg.TxHash)
		if err != nil {
			continue
		}
		out = append(out, FetchedTx{Hash: lg.TxHash.Hex(), Calldata: tx.Data()})
	}
	return out, nil
}

// SendTx serializes tx into the pool contract's fixed calldata layout
// (spec.md §4.5), signs and broadcasts it, and waits for the receipt
// before returning the transaction hash.
func (e *EVM) SendTx(ctx context.Context, tx TxData) (string, error) {
	calldata := e.encodeCalldata(tx)

	from := crypto.PubkeyToAddress(e.signer.PublicKey)
	nonce, err := e.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", err
	}
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", err
	}
	gasLimit, err := e.client.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &e.poolAddress,
		Data: calldata,
	})
	if err != nil {
		gasLimit = 3_000_000
	}

	unsigned := types.NewTransaction(nonce, e.poolAddress, big.NewInt(0), gasLimit, gasPrice, calldata)
	signed, err := types.SignTx(unsigned, types.NewEIP155Signer(e.chainID), e.signer)
	if err != nil {
		return "", err
	}
	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return "", err
	}

	receipt, err := waitForReceipt(ctx, e.client, signed.Hash())
	if err != nil {
		return "", err
	}
	if receipt.Status == 0 {
		return "", errors.New("evm: transaction reverted")
	}
	return signed.Hash().Hex(), nil
}

func waitForReceipt(ctx context.Context, client *ethclient.Client, hash gethcommon.Hash) (*types.Receipt, error) {
	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
}

// encodeCalldata lays out the bit-exact wire format spec.md §4.5 requires:
// selector(4) || nullifier(32) || out_commit(32) || delta(32) ||
// transfer_proof(256) || root_after(32) || tree_proof(256) ||
// tx_type(2 BE) || memo_len(2 BE) || memo || extra_data.
func (e *EVM) encodeCalldata(tx TxData) []byte {
	buf := make([]byte, 0, 4+32+32+32+256+32+256+2+2+len(tx.Memo)+len(tx.ExtraData))
	buf = append(buf, transactSelector[:]...)

	nullifier := felt.Bytes32(tx.Nullifier)
	buf = append(buf, nullifier[:]...)
	outCommit := felt.Bytes32(tx.OutCommit)
	buf = append(buf, outCommit[:]...)
	delta := felt.Bytes32(tx.Delta)
	buf = append(buf, delta[:]...)
	buf = append(buf, tx.TransferProof.Bytes()...)
	rootAfter := felt.Bytes32(tx.RootAfter)
	buf = append(buf, rootAfter[:]...)
	buf = append(buf, tx.TreeProof.Bytes()...)

	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], uint16(tx.TxType))
	buf = append(buf, u16[:]...)
	binary.BigEndian.PutUint16(u16[:], uint16(len(tx.Memo)))
	buf = append(buf, u16[:]...)
	buf = append(buf, tx.Memo...)
	buf = append(buf, tx.ExtraData...)
	return buf
}

func (e *EVM) GetPoolIndex(ctx context.Context) (uint64, error) {
	data, err := e.client.CallContract(ctx, ethereum.CallMsg{
		To:   &e.poolAddress,
		Data: gethcommon.Hex2Bytes("2f3a3d5a"), // pool_index() selector
	}, nil)
	if err != nil {
		return 0, err
	}
	if len(data) < 32 {
		return 0, errors.New("evm: short pool_index response")
	}
	return new(big.Int).SetBytes(data[len(data)-8:]).Uint64(), nil
}

func (e *EVM) GetMerkleRoot(ctx context.Context, index uint64) (felt.F, bool, error) {
	var idxBuf [32]byte
	binary.BigEndian.PutUint64(idxBuf[24:], index)
	call := append(gethcommon.Hex2Bytes("a9d6b814"), idxBuf[:]...) // roots(uint256) selector
	data, err := e.client.CallContract(ctx, ethereum.CallMsg{
		To:   &e.poolAddress,
		Data: call,
	}, nil)
	if err != nil {
		return felt.F{}, false, err
	}
	if len(data) != 32 {
		return felt.F{}, false, nil
	}
	var buf [32]byte
	copy(buf[:], data)
	root := felt.FromBytes32(buf)
	return root, !felt.IsZero(root), nil
}

func (e *EVM) ParseCalldata(data []byte) (TxData, error) {
	const headerLen = 4 + 32 + 32 + 32 + 256 + 32 + 256 + 2 + 2
	if len(data) < headerLen {
		return TxData{}, errors.New("evm: truncated calldata")
	}
	off := 4
	read32 := func() [32]byte {
		var b [32]byte
		copy(b[:], data[off:off+32])
		off += 32
		return b
	}
	var tx TxData
	tx.Nullifier = felt.FromBytes32(read32())
	tx.OutCommit = felt.FromBytes32(read32())
	tx.Delta = felt.FromBytes32(read32())
	transferProof, err := GrothProofFromBytes(data[off : off+256])
	if err != nil {
		return TxData{}, err
	}
	tx.TransferProof = transferProof
	off += 256
	tx.RootAfter = felt.FromBytes32(read32())
	treeProof, err := GrothProofFromBytes(data[off : off+256])
	if err != nil {
		return TxData{}, err
	}
	tx.TreeProof = treeProof
	off += 256
	tx.TxType = TxType(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2
	memoLen := int(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2
	if off+memoLen > len(data) {
		return TxData{}, errors.New("evm: truncated memo")
	}
	tx.Memo = append([]byte(nil), data[off:off+memoLen]...)
	off += memoLen
	tx.ExtraData = append([]byte(nil), data[off:]...)
	return tx, nil
}

func (e *EVM) ParseHash(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

func (e *EVM) FormatHash(b []byte) string {
	return gethcommon.BytesToHash(b).Hex()
}

func (e *EVM) ExtractCiphertextFromMemo(memo []byte, txType TxType) ([]byte, error) {
	return extractCiphertextDefault(memo, txType)
}

// ValidateTx performs no backend-specific checks and always returns an
// empty result: no token allowance or balance is queried for deposits.
func (e *EVM) ValidateTx(ctx context.Context, tx *ParsedTx) []ValidationError {
	return nil
}
