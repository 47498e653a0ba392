// Package state holds the pool's long-lived, process-wide mutable state
// (spec.md §3 "AppState", §4.8 boot reconciliation, §9 "global mutable
// state") and the one startup routine that reconciles it against the
// configured chain.
package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/zeropool/relayer/log"
	"github.com/zeropool/relayer/pool/backend"
	"github.com/zeropool/relayer/pool/felt"
	"github.com/zeropool/relayer/pool/merkle"
	"github.com/zeropool/relayer/pool/queue"
	"github.com/zeropool/relayer/pool/transferproof"
	"github.com/zeropool/relayer/pool/txlog"
	"github.com/zeropool/relayer/pool/zktree"
)

// poolSnapshot is the reader/writer-separated view of the pool's on-chain
// cursor (spec.md §9: "Encapsulate them behind a reader/writer-separated
// lock so HTTP handlers see a consistent snapshot").
type poolSnapshot struct {
	mu    sync.RWMutex
	index uint64
	root  felt.F
}

func (s *poolSnapshot) Get() (uint64, felt.F) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index, s.root
}

func (s *poolSnapshot) Set(index uint64, root felt.F) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = index
	s.root = root
}

// AppState is the process's single long-lived instance of everything the
// worker and HTTP surface operate on.
type AppState struct {
	Backend  backend.Backend
	Tree     *merkle.Tree
	TreeMu   sync.Mutex // spec.md §5: held only across prepare_job/rollback
	Log      *txlog.Log
	Queue    *queue.Queue
	Prover   *zktree.Prover
	Verifier *transferproof.Verifier

	pool *poolSnapshot
	log  *log.Logger
}

// Config is the minimal set of values Boot needs; cmd/relayer assembles
// it from environment configuration (see cmd/relayer's buildAppState).
type Config struct {
	Backend  backend.Backend
	Tree     *merkle.Tree
	Log      *txlog.Log
	Queue    *queue.Queue
	Prover   *zktree.Prover
	Verifier *transferproof.Verifier
}

// New assembles an AppState from already-constructed components without
// performing reconciliation; call Boot afterward.
func New(cfg Config) *AppState {
	return &AppState{
		Backend:  cfg.Backend,
		Tree:     cfg.Tree,
		Log:      cfg.Log,
		Queue:    cfg.Queue,
		Prover:   cfg.Prover,
		Verifier: cfg.Verifier,
		pool:     &poolSnapshot{},
		log:      log.Default().Module("state"),
	}
}

// PoolIndex returns the last-known on-chain pool index.
func (s *AppState) PoolIndex() uint64 {
	idx, _ := s.pool.Get()
	return idx
}

// PoolRoot returns the last-known on-chain pool root.
func (s *AppState) PoolRoot() felt.F {
	_, root := s.pool.Get()
	return root
}

// SetPoolState updates the cached on-chain cursor; only the worker calls
// this, after a successful send_tx (spec.md §9: "the worker is the only
// writer").
func (s *AppState) SetPoolState(index uint64, root felt.F) {
	s.pool.Set(index, root)
}

// Boot implements spec.md §4.8 exactly: read the chain's pool index/root,
// compare against the local tree's num_leaves*STRIDE, and either wipe
// (corruption), replay (gap), or do nothing.
func (s *AppState) Boot(ctx context.Context) error {
	chainIndex, err := s.Backend.GetPoolIndex(ctx)
	if err != nil {
		return fmt.Errorf("state: get_pool_index: %w", err)
	}
	chainRoot, ok, err := s.Backend.GetMerkleRoot(ctx, chainIndex)
	if err != nil {
		return fmt.Errorf("state: get_merkle_root: %w", err)
	}
	if !ok {
		chainRoot = felt.Zero()
	}

	localIndex := s.Tree.NumLeaves() * merkle.Stride

	switch {
	case localIndex > chainIndex:
		s.log.Warn("local index ahead of chain, wiping local state", "local", localIndex, "chain", chainIndex)
		if err := s.wipe(); err != nil {
			return fmt.Errorf("state: wipe: %w", err)
		}
		localIndex = 0
		fallthrough
	case localIndex < chainIndex:
		s.log.Info("replaying transactions to catch up local state", "local", localIndex, "chain", chainIndex)
		if err := s.replay(ctx, localIndex); err != nil {
			return fmt.Errorf("state: replay: %w", err)
		}
	}

	s.SetPoolState(chainIndex, chainRoot)
	return nil
}

func (s *AppState) wipe() error {
	if err := s.Tree.Rollback(0); err != nil {
		return err
	}
	return s.Log.Rollback(0)
}

// replay fetches every confirmed transaction from the backend, skips
// those already reflected locally, and appends the rest to the tree and
// log in order (spec.md §4.8).
func (s *AppState) replay(ctx context.Context, fromIndex uint64) error {
	txs, err := s.Backend.FetchLatestTransactions(ctx)
	if err != nil {
		return err
	}

	index := uint64(0)
	for _, ft := range txs {
		if index < fromIndex {
			index += merkle.Stride
			continue
		}
		tx, err := s.Backend.ParseCalldata(ft.Calldata)
		if err != nil {
			s.log.Error("failed to parse calldata during replay", "hash", ft.Hash, "err", err)
			index += merkle.Stride
			continue
		}

		s.TreeMu.Lock()
		err = s.Tree.AddLeaf(tx.OutCommit)
		s.TreeMu.Unlock()
		if err != nil {
			return fmt.Errorf("state: replay append at index %d: %w", index, err)
		}

		ciphertext, err := s.Backend.ExtractCiphertextFromMemo(tx.Memo, tx.TxType)
		if err != nil {
			s.log.Error("failed to extract ciphertext during replay", "hash", ft.Hash, "err", err)
			ciphertext = nil
		}
		hashBytes, err := s.Backend.ParseHash(ft.Hash)
		if err != nil {
			hashBytes = []byte(ft.Hash)
		}
		if err := s.Log.Push(index, felt.Bytes32(tx.OutCommit), hashBytes, ciphertext); err != nil {
			return fmt.Errorf("state: replay log push at index %d: %w", index, err)
		}

		index += merkle.Stride
	}
	return nil
}
