// Package worker implements the single job-processing state machine that
// turns an accepted transfer into an on-chain submission (spec.md §4.7,
// §5): Proving -> AwaitingTurn -> Submitting -> Finalizing on success, or
// a rollback-and-cancel cascade on failure. It is the sole writer of both
// pool/merkle.Tree and pool/txlog.Log outside of boot reconciliation
// (spec.md §9), grounded on the teacher's txpool/txpool.go promotion loop:
// one job moves through its states at a time, in FIFO order, with no
// concurrent mutation of shared state.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/zeropool/relayer/log"
	"github.com/zeropool/relayer/pool/backend"
	"github.com/zeropool/relayer/pool/felt"
	"github.com/zeropool/relayer/pool/merkle"
	"github.com/zeropool/relayer/pool/state"
	"github.com/zeropool/relayer/pool/zktree"
)

// turnPollInterval is how often AwaitingTurn re-checks whether this job's
// turn to submit has arrived and whether it has been cancelled
// (spec.md §4.7's "busy-wait").
const turnPollInterval = 100 * time.Millisecond

// Worker owns the one queue consumer that advances jobs through the
// pipeline. All of its state is reached through *state.AppState; Worker
// itself holds nothing mutable.
type Worker struct {
	state *state.AppState
	log   *log.Logger
}

// New builds a Worker bound to st.
func New(st *state.AppState) *Worker {
	return &Worker{state: st, log: log.Default().Module("worker")}
}

// Run registers the worker's callbacks with the queue's single consumer
// loop and returns immediately; processing happens on the queue's
// goroutine, one job at a time, in id order.
func (w *Worker) Run(ctx context.Context) {
	w.state.Queue.Start(ctx, w.processJob, w.processFailure)
}

// PrepareJob appends the transfer's out_commit to the tree under TreeMu,
// writes a placeholder log row at the index it will finally occupy, and
// enqueues the resulting payload -- spec.md §4.7's prepare_job. The tree
// lock is held only across the tree mutation and log placeholder write,
// and released before the (I/O-bound) enqueue.
func (w *Worker) PrepareJob(ctx context.Context, tx backend.ParsedTx) (uint64, error) {
	w.state.TreeMu.Lock()

	rootBefore := w.state.Tree.Root()
	next := w.state.Tree.NumLeaves()
	nextCommitIndex := next * merkle.Stride
	var prevCommitIndex uint64
	if next > 0 {
		prevCommitIndex = (next - 1) * merkle.Stride
	}

	if err := w.state.Tree.AddLeaf(tx.OutCommit); err != nil {
		w.state.TreeMu.Unlock()
		return 0, fmt.Errorf("worker: prepare_job append: %w", err)
	}
	rootAfter := w.state.Tree.Root()
	siblings, pathBits := w.state.Tree.ZPMerkleProof(next)

	pushErr := w.state.Log.Push(nextCommitIndex, felt.Bytes32(tx.OutCommit), nil, nil)
	w.state.TreeMu.Unlock()
	if pushErr != nil {
		return 0, fmt.Errorf("worker: prepare_job placeholder log row: %w", pushErr)
	}

	payload := Payload{
		Tx:              tx,
		RootBefore:      rootBefore,
		RootAfter:       rootAfter,
		Leaf:            tx.OutCommit,
		Siblings:        siblings,
		PathBits:        pathBits,
		NextCommitIndex: nextCommitIndex,
		PrevCommitIndex: prevCommitIndex,
	}

	id, err := w.state.Queue.Push(ctx, payload.Encode(), nextCommitIndex)
	if err != nil {
		return 0, fmt.Errorf("worker: enqueue: %w", err)
	}
	return id, nil
}

// processJob is the queue's OnJob callback: Proving -> AwaitingTurn ->
// Submitting -> Finalizing.
func (w *Worker) processJob(ctx context.Context, id uint64, raw []byte) error {
	payload, err := DecodePayload(raw)
	if err != nil {
		return fmt.Errorf("worker: decode job %d: %w", id, err)
	}
	jobLog := w.log.With("job_id", id, "next_commit_index", payload.NextCommitIndex)

	jobLog.Info("proving")
	proof, err := w.state.Prover.Prove(zktree.Witness{
		RootBefore: payload.RootBefore,
		RootAfter:  payload.RootAfter,
		Leaf:       payload.Leaf,
		Siblings:   payload.Siblings,
		PathBits:   payload.PathBits,
	})
	if err != nil {
		return fmt.Errorf("worker: job %d: prove: %w", id, err)
	}

	jobLog.Info("awaiting turn")
	if err := w.awaitTurn(ctx, id, payload.NextCommitIndex); err != nil {
		return fmt.Errorf("worker: job %d: %w", id, err)
	}

	jobLog.Info("submitting")
	txHashStr, err := w.state.Backend.SendTx(ctx, backend.TxData{
		ParsedTx:  payload.Tx,
		RootAfter: payload.RootAfter,
		TreeProof: proof,
	})
	if err != nil {
		return fmt.Errorf("worker: job %d: send_tx: %w", id, err)
	}

	jobLog.Info("finalizing", "tx_hash", txHashStr)
	hashBytes, err := w.state.Backend.ParseHash(txHashStr)
	if err != nil {
		hashBytes = []byte(txHashStr)
	}
	ciphertext, err := w.state.Backend.ExtractCiphertextFromMemo(payload.Tx.Memo, payload.Tx.TxType)
	if err != nil {
		jobLog.Error("failed to extract ciphertext, storing empty", "err", err)
		ciphertext = nil
	}
	if err := w.state.Log.Push(payload.NextCommitIndex, felt.Bytes32(payload.Leaf), hashBytes, ciphertext); err != nil {
		return fmt.Errorf("worker: job %d: finalize log row: %w", id, err)
	}

	w.state.SetPoolState(payload.NextCommitIndex+merkle.Stride, payload.RootAfter)
	return nil
}

// awaitTurn busy-waits until the chain's pool index has caught up to this
// job's own next_commit_index (i.e. every job queued before this one,
// including its immediate predecessor, has already landed on-chain and
// advanced the pool up to the slot this job is about to claim), checking
// cancellation each tick so a job whose predecessor failed stops promptly
// instead of racing to submit a witness built against a root a rollback
// has since invalidated.
func (w *Worker) awaitTurn(ctx context.Context, id uint64, nextCommitIndex uint64) error {
	ticker := time.NewTicker(turnPollInterval)
	defer ticker.Stop()
	for {
		cancelled, err := w.state.Queue.IsJobCancelled(ctx, id)
		if err != nil {
			return fmt.Errorf("check cancellation: %w", err)
		}
		if cancelled {
			return fmt.Errorf("job cancelled while awaiting turn")
		}
		if w.state.PoolIndex() >= nextCommitIndex {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// processFailure is the queue's OnFailure callback: roll the tree and log
// back to PrevCommitIndex, then cancel every job queued after it, since
// each of their witnesses was built against a root this job's rollback
// just invalidated. PrevCommitIndex is the preceding leaf's slot, so
// unless this job held the first leaf the rollback removes that preceding
// leaf and its log row as well as this job's own.
func (w *Worker) processFailure(ctx context.Context, id uint64, raw []byte) {
	payload, err := DecodePayload(raw)
	if err != nil {
		w.log.Error("cannot decode failed job for rollback", "job_id", id, "err", err)
		return
	}

	w.log.Error("rolling back failed job",
		"job_id", id,
		"next_commit_index", payload.NextCommitIndex,
		"prev_commit_index", payload.PrevCommitIndex)

	w.state.TreeMu.Lock()
	treeErr := w.state.Tree.Rollback(payload.PrevCommitIndex / merkle.Stride)
	w.state.TreeMu.Unlock()
	if treeErr != nil {
		w.log.Error("tree rollback failed", "job_id", id, "err", treeErr)
	}

	if err := w.state.Log.Rollback(payload.PrevCommitIndex); err != nil {
		w.log.Error("log rollback failed", "job_id", id, "err", err)
	}

	if err := w.state.Queue.CancelJobsAfter(ctx, id); err != nil {
		w.log.Error("failed to cancel dependent jobs", "job_id", id, "err", err)
	}
}
