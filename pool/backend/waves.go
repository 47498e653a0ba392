package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/zeropool/relayer/log"
	"github.com/zeropool/relayer/pool/felt"
)

// Waves is the Backend adapter for the Waves blockchain. Like NEAR, no Go
// SDK for Waves exists anywhere in the retrieval pack, so it speaks the
// node's public REST API directly over net/http (see DESIGN.md).
type Waves struct {
	httpClient  *http.Client
	nodeURL     string
	poolAddress string
	signingKey  string
	chainID     byte
	log         *log.Logger
}

// WavesConfig configures the adapter (WAVES_NODE_URL, WAVES_POOL_ADDRESS,
// WAVES_SEED as SigningKey, and ChainID derived from WAVES_PROFILE).
type WavesConfig struct {
	NodeURL     string
	PoolAddress string
	SigningKey  string
	ChainID     byte
}

// NewWaves constructs a Waves adapter; it performs no network I/O itself.
func NewWaves(cfg WavesConfig) *Waves {
	return &Waves{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		nodeURL:     cfg.NodeURL,
		poolAddress: cfg.PoolAddress,
		signingKey:  cfg.SigningKey,
		chainID:     cfg.ChainID,
		log:         log.Default().Module("backend.waves"),
	}
}

func (w *Waves) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.nodeURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("waves: node returned status %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (w *Waves) post(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.nodeURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("waves: node returned status %d for %s", resp.StatusCode, path)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (w *Waves) Name() string { return "waves" }

type wavesInvokeTx struct {
	ID      string `json:"id"`
	Call    struct {
		Args []struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		} `json:"args"`
	} `json:"call"`
}

// FetchLatestTransactions pulls confirmed invokeScript transactions
// addressed to the pool contract from the node's transactions-by-address
// endpoint (spec.md §4.5's backend-specific confirmation scan).
func (w *Waves) FetchLatestTransactions(ctx context.Context) ([]FetchedTx, error) {
	var pages [][]wavesInvokeTx
	if err := w.get(ctx, "/transactions/address/"+w.poolAddress+"/limit/100", &pages); err != nil {
		return nil, err
	}
	out := make([]FetchedTx, 0)
	for _, page := range pages {
		for _, tx := range page {
			if len(tx.Call.Args) == 0 {
				continue
			}
			calldata, err := base64.StdEncoding.DecodeString(tx.Call.Args[0].Value)
			if err != nil {
				w.log.Warn("failed to decode waves invoke arg", "id", tx.ID, "err", err)
				continue
			}
			out = append(out, FetchedTx{Hash: tx.ID, Calldata: calldata})
		}
	}
	return out, nil
}

// SendTx submits an invokeScript transaction calling the pool contract's
// `transact` callable with the zeropool_tx::waves binary arg, then polls
// the node until the transaction is included in a block.
func (w *Waves) SendTx(ctx context.Context, tx TxData) (string, error) {
	calldata := w.encodeCalldata(tx)
	invokeTx := map[string]any{
		"type":      16,
		"version":   2,
		"chainId":   w.chainID,
		"senderPublicKey": w.signingKey,
		"dApp":      w.poolAddress,
		"call": map[string]any{
			"function": "transact",
			"args": []map[string]any{
				{"type": "binary", "value": "base64:" + base64.StdEncoding.EncodeToString(calldata)},
			},
		},
		"fee":       500000,
		"feeAssetId": nil,
	}

	var signResult struct {
		ID string `json:"id"`
	}
	if err := w.post(ctx, "/transactions/sign", invokeTx, &signResult); err != nil {
		return "", err
	}

	var broadcastResult struct {
		ID string `json:"id"`
	}
	if err := w.post(ctx, "/transactions/broadcast", invokeTx, &broadcastResult); err != nil {
		return "", err
	}

	return w.pollUntilConfirmed(ctx, broadcastResult.ID)
}

func (w *Waves) pollUntilConfirmed(ctx context.Context, id string) (string, error) {
	for {
		var info struct {
			Height int `json:"height"`
		}
		err := w.get(ctx, "/transactions/info/"+id, &info)
		if err == nil && info.Height > 0 {
			return id, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (w *Waves) GetPoolIndex(ctx context.Context) (uint64, error) {
	var entry struct {
		Value int64 `json:"value"`
	}
	if err := w.get(ctx, "/addresses/data/"+w.poolAddress+"/pool_index", &entry); err != nil {
		return 0, err
	}
	return uint64(entry.Value), nil
}

func (w *Waves) GetMerkleRoot(ctx context.Context, index uint64) (felt.F, bool, error) {
	var entry struct {
		Value string `json:"value"`
	}
	key := "root_" + strconv.FormatUint(index, 10)
	if err := w.get(ctx, "/addresses/data/"+w.poolAddress+"/"+key, &entry); err != nil {
		return felt.F{}, false, nil
	}
	b, err := hex.DecodeString(entry.Value)
	if err != nil {
		return felt.F{}, false, err
	}
	var buf [32]byte
	copy(buf[:], b)
	return felt.FromBytes32(buf), true, nil
}

// encodeCalldata matches near.go's shared layout exactly: the Waves
// contract receives the same zeropool_tx encoding as a single binary arg.
func (w *Waves) encodeCalldata(tx TxData) []byte {
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

func (w *Waves) ParseCalldata(data []byte) (TxData, error) {
	return parseNearWaveCalldata(data)
}

func (w *Waves) ParseHash(s string) ([]byte, error) { return []byte(s), nil }
func (w *Waves) FormatHash(b []byte) string          { return string(b) }

func (w *Waves) ExtractCiphertextFromMemo(memo []byte, txType TxType) ([]byte, error) {
	return extractCiphertextDefault(memo, txType)
}

func (w *Waves) ValidateTx(ctx context.Context, tx *ParsedTx) []ValidationError {
	return nil
}
