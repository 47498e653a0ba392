package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/zeropool/relayer/log"
	"github.com/zeropool/relayer/pool/felt"
)

// NEAR is the Backend adapter for the NEAR protocol. No Go NEAR SDK exists
// anywhere in the retrieval pack (see DESIGN.md), so it speaks the public
// JSON-RPC surface directly over net/http, the same way the teacher's own
// rpc/server.go talks raw JSON-RPC rather than pulling in a framework.
type NEAR struct {
	httpClient     *http.Client
	rpcURL         string
	archiveRPCURL  string
	poolAddress    string
	relayerAccount string
	signingKey     string
	log            *log.Logger
}

// NEARConfig configures the adapter (NEAR_RPC_URL, NEAR_ARCHIVE_RPC_URL,
// NEAR_SK, NEAR_POOL_ADDRESS, NEAR_RELAYER_ACCOUNT_ID). It has no
// network or token-id setting; NEAR_NETWORK and NEAR_TOKEN_ID are not read.
type NEARConfig struct {
	RPCURL         string
	ArchiveRPCURL  string
	PoolAddress    string
	RelayerAccount string
	SigningKey     string
}

// NewNEAR constructs a NEAR adapter; it performs no network I/O itself.
func NewNEAR(cfg NEARConfig) *NEAR {
	return &NEAR{
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		rpcURL:         cfg.RPCURL,
		archiveRPCURL:  cfg.ArchiveRPCURL,
		poolAddress:    cfg.PoolAddress,
		relayerAccount: cfg.RelayerAccount,
		signingKey:     cfg.SigningKey,
		log:            log.Default().Module("backend.near"),
	}
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (n *NEAR) call(ctx context.Context, url, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: "relayer", Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("near rpc: %s", parsed.Error.Message)
	}
	return parsed.Result, nil
}

func (n *NEAR) Name() string { return "near" }

// nearIndexerTx is one entry of the transaction-hash list that
// FetchLatestTransactions decodes from the RPC node's reply.
type nearIndexerTx struct {
	Hash string `json:"transaction_hash"`
}

// FetchLatestTransactions asks the NEAR RPC node (rpcURL) for transaction
// hashes with an EXPERIMENTAL_tx_status call keyed by the relayer account,
// then pulls the full calldata for each hash from the archive RPC. No
// separate indexer service is queried; a reply that does not decode as a
// list of hashes yields an empty result and no error.
func (n *NEAR) FetchLatestTransactions(ctx context.Context) ([]FetchedTx, error) {
	result, err := n.call(ctx, n.rpcURL, "EXPERIMENTAL_tx_status", map[string]any{
		"sender_account_id": n.relayerAccount,
	})
	if err != nil {
		return nil, err
	}
	var hashes []nearIndexerTx
	if err := json.Unmarshal(result, &hashes); err != nil {
		// Indexers vary in response shape; an empty/unsupported result is
		// not fatal for a best-effort reconciliation sweep.
		return nil, nil
	}

	out := make([]FetchedTx, 0, len(hashes))
	for _, h := range hashes {
		calldata, err := n.fetchCalldata(ctx, h.Hash)
		if err != nil {
			n.log.Warn("failed to fetch near tx calldata", "hash", h.Hash, "err", err)
			continue
		}
		out = append(out, FetchedTx{Hash: h.Hash, Calldata: calldata})
	}
	return out, nil
}

func (n *NEAR) fetchCalldata(ctx context.Context, hash string) ([]byte, error) {
	result, err := n.call(ctx, n.archiveRPCURL, "tx", map[string]any{
		"tx_hash":      hash,
		"sender_account_id": n.relayerAccount,
	})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Transaction struct {
			Actions []struct {
				FunctionCall struct {
					Args string `json:"args"`
				} `json:"FunctionCall"`
			} `json:"actions"`
		} `json:"transaction"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Transaction.Actions) == 0 {
		return nil, errors.New("near: no function-call action in transaction")
	}
	return base64.StdEncoding.DecodeString(parsed.Transaction.Actions[0].FunctionCall.Args)
}

// SendTx submits the zeropool_tx::near encoding as a FunctionCall's args
// and polls tx status until it leaves the pending state (spec.md §4.5/§7).
func (n *NEAR) SendTx(ctx context.Context, tx TxData) (string, error) {
	args := base64.StdEncoding.EncodeToString(n.encodeCalldata(tx))
	result, err := n.call(ctx, n.rpcURL, "broadcast_tx_commit", []string{args})
	if err != nil {
		return "", err
	}

	var broadcastResult struct {
		Transaction struct {
			Hash string `json:"hash"`
		} `json:"transaction"`
		Status struct {
			Failure json.RawMessage `json:"Failure"`
		} `json:"status"`
	}
	if err := json.Unmarshal(result, &broadcastResult); err != nil {
		return "", err
	}

	return n.pollUntilFinal(ctx, broadcastResult.Transaction.Hash)
}

// pollUntilFinal polls tx status with a 1-second sleep on transient
// errors, with no retry cap (spec.md §7: "no retry count cap here").
func (n *NEAR) pollUntilFinal(ctx context.Context, hash string) (string, error) {
	for {
		result, err := n.call(ctx, n.rpcURL, "tx", map[string]any{
			"tx_hash":            hash,
			"sender_account_id": n.relayerAccount,
		})
		if err != nil {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Second):
				continue
			}
		}
		var parsed struct {
			Status struct {
				SuccessValue *string         `json:"SuccessValue"`
				Failure      json.RawMessage `json:"Failure"`
			} `json:"status"`
		}
		if err := json.Unmarshal(result, &parsed); err != nil {
			return "", err
		}
		if parsed.Status.Failure != nil {
			return "", fmt.Errorf("near: transaction failed: %s", parsed.Status.Failure)
		}
		if parsed.Status.SuccessValue != nil {
			return hash, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (n *NEAR) GetPoolIndex(ctx context.Context) (uint64, error) {
	result, err := n.callViewFunction(ctx, "get_pool_index", nil)
	if err != nil {
		return 0, err
	}
	var v string
	if err := json.Unmarshal(result, &v); err != nil {
		return 0, err
	}
	var idx uint64
	if _, err := fmt.Sscanf(v, "%d", &idx); err != nil {
		return 0, err
	}
	return idx, nil
}

func (n *NEAR) GetMerkleRoot(ctx context.Context, index uint64) (felt.F, bool, error) {
	result, err := n.callViewFunction(ctx, "get_merkle_root", map[string]any{"index": index})
	if err != nil {
		return felt.F{}, false, err
	}
	var v *string
	if err := json.Unmarshal(result, &v); err != nil {
		return felt.F{}, false, err
	}
	if v == nil {
		return felt.F{}, false, nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(*v, "0x"))
	if err != nil {
		return felt.F{}, false, err
	}
	var buf [32]byte
	copy(buf[:], b)
	return felt.FromBytes32(buf), true, nil
}

func (n *NEAR) callViewFunction(ctx context.Context, method string, args map[string]any) (json.RawMessage, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	result, err := n.call(ctx, n.rpcURL, "query", map[string]any{
		"request_type": "call_function",
		"finality":     "final",
		"account_id":   n.poolAddress,
		"method_name":  method,
		"args_base64":  base64.StdEncoding.EncodeToString(argsJSON),
	})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Result []byte `json:"result"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, err
	}
	return json.RawMessage(parsed.Result), nil
}

// encodeCalldata lays out the zeropool_tx::near fields (same logical
// layout as the EVM wire format, without the function selector since NEAR
// addresses the method by name in the FunctionCall action itself).
func (n *NEAR) encodeCalldata(tx TxData) []byte {
	buf := make([]byte, 0, 32*3+256*2+4)
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

func (n *NEAR) ParseCalldata(data []byte) (TxData, error) {
	return parseNearWaveCalldata(data)
}

func (n *NEAR) ParseHash(s string) ([]byte, error) { return []byte(s), nil }
func (n *NEAR) FormatHash(b []byte) string          { return string(b) }

func (n *NEAR) ExtractCiphertextFromMemo(memo []byte, txType TxType) ([]byte, error) {
	return extractCiphertextDefault(memo, txType)
}

func (n *NEAR) ValidateTx(ctx context.Context, tx *ParsedTx) []ValidationError {
	return nil
}

// parseNearWaveCalldata decodes the shared zeropool_tx::near / ::waves
// layout (no function selector, otherwise identical to EVM's).
func parseNearWaveCalldata(data []byte) (TxData, error) {
	const headerLen = 32 + 32 + 32 + 256 + 32 + 256 + 2 + 2
	if len(data) < headerLen {
		return TxData{}, errors.New("backend: truncated calldata")
	}
	off := 0
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
		return TxData{}, errors.New("backend: truncated memo")
	}
	tx.Memo = append([]byte(nil), data[off:off+memoLen]...)
	off += memoLen
	tx.ExtraData = append([]byte(nil), data[off:]...)
	return tx, nil
}
