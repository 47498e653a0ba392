// Package queue implements the Redis-backed FIFO job queue (spec.md §4.4):
// monotonically increasing job ids, per-job status with a bounded TTL, a
// job-id -> next_commit_index mapping for cancellation diagnostics, and
// cancel-after-id. No pack repo uses Redis directly; the client library
// (github.com/redis/go-redis/v9) is the only modern Redis client anywhere
// in the retrieval pack (see DESIGN.md). The single-consumer loop mirrors
// the teacher's own single-threaded pending-transaction promotion
// described in txpool/txpool.go, generalized from transactions to jobs.
package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zeropool/relayer/log"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// StatusTTL bounds how long a terminal job status is retained (spec.md §5/§7).
const StatusTTL = 7 * 24 * time.Hour

// Queue is a Redis-backed FIFO job queue.
type Queue struct {
	rdb *redis.Client
	log *log.Logger

	listKey       string
	nextIDKey     string
	payloadPrefix string
	statusPrefix  string
	nextCommitKey string
	mappingPrefix string
}

// New opens a Queue against an already-configured redis client.
func New(rdb *redis.Client) *Queue {
	return &Queue{
		rdb:           rdb,
		log:           log.Default().Module("queue"),
		listKey:       "relayer:jobs",
		nextIDKey:     "relayer:jobs:next_id",
		payloadPrefix: "relayer:job:payload:",
		statusPrefix:  "relayer:job:status:",
		nextCommitKey: "relayer:job:next_commit_index",
		mappingPrefix: "relayer:job:mapping:",
	}
}

// Push stores payload, assigns it a monotonically increasing id, sets its
// status to Pending and enqueues it at the tail of the FIFO list.
func (q *Queue) Push(ctx context.Context, payload []byte, nextCommitIndex uint64) (uint64, error) {
	id, err := q.rdb.Incr(ctx, q.nextIDKey).Result()
	if err != nil {
		return 0, err
	}
	jobID := uint64(id)
	idStr := strconv.FormatUint(jobID, 10)

	if err := q.rdb.Set(ctx, q.payloadPrefix+idStr, payload, 0).Err(); err != nil {
		return 0, err
	}
	if err := q.rdb.Set(ctx, q.statusPrefix+idStr, string(StatusPending), StatusTTL).Err(); err != nil {
		return 0, err
	}
	if err := q.rdb.HSet(ctx, q.nextCommitKey, idStr, nextCommitIndex).Err(); err != nil {
		return 0, err
	}
	if err := q.rdb.RPush(ctx, q.listKey, idStr).Err(); err != nil {
		return 0, err
	}
	return jobID, nil
}

// Status returns the current status of id, or ok=false if unknown/expired.
func (q *Queue) Status(ctx context.Context, id uint64) (Status, bool, error) {
	v, err := q.rdb.Get(ctx, q.statusPrefix+strconv.FormatUint(id, 10)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return Status(v), true, nil
}

func (q *Queue) setStatus(ctx context.Context, id uint64, s Status) error {
	return q.rdb.Set(ctx, q.statusPrefix+strconv.FormatUint(id, 10), string(s), StatusTTL).Err()
}

// AddJobMapping records an auxiliary key -> job id mapping, used by callers
// that need to look a job up by an external identifier.
func (q *Queue) AddJobMapping(ctx context.Context, id uint64, key string) error {
	return q.rdb.Set(ctx, q.mappingPrefix+key, id, StatusTTL).Err()
}

// GetJobMapping resolves a previously recorded key back to its job id.
func (q *Queue) GetJobMapping(ctx context.Context, key string) (uint64, bool, error) {
	v, err := q.rdb.Get(ctx, q.mappingPrefix+key).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseUint(v, 10, 64)
	return id, err == nil, err
}

// IsJobCancelled reports whether id has already been marked Failed, the
// cooperative check AwaitingTurn polls each iteration (spec.md §4.7/§5).
func (q *Queue) IsJobCancelled(ctx context.Context, id uint64) (bool, error) {
	s, ok, err := q.Status(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	return s == StatusFailed, nil
}

// CancelJobsAfter marks every job with id' > id that is still Pending as
// Failed, per spec.md's rollback-cancellation property: those jobs detect
// cancellation before proving or at AwaitingTurn and never call send_tx.
func (q *Queue) CancelJobsAfter(ctx context.Context, id uint64) error {
	mapping, err := q.rdb.HGetAll(ctx, q.nextCommitKey).Result()
	if err != nil {
		return err
	}
	for idStr := range mapping {
		jobID, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil || jobID <= id {
			continue
		}
		status, ok, err := q.Status(ctx, jobID)
		if err != nil {
			return err
		}
		if ok && status != StatusPending {
			continue
		}
		if err := q.setStatus(ctx, jobID, StatusFailed); err != nil {
			return err
		}
		q.log.Warn("cancelled dependent job", "job_id", jobID, "failed_after", id)
	}
	return nil
}

// OnJob processes a dequeued payload; a non-nil error marks the job Failed
// and triggers OnFailure with the same payload.
type OnJob func(ctx context.Context, id uint64, payload []byte) error

// OnFailure runs after a job fails, performing rollback and cascading
// cancellation (pool/worker.processFailure).
type OnFailure func(ctx context.Context, id uint64, payload []byte)

// Start spawns the single consumer goroutine required by spec.md §4.4: it
// BLPOPs the list in order, so jobs are always handled in id order, and
// never runs two jobs concurrently. It returns immediately; the consumer
// stops when ctx is cancelled.
func (q *Queue) Start(ctx context.Context, onJob OnJob, onFailure OnFailure) {
	go q.run(ctx, onJob, onFailure)
}

func (q *Queue) run(ctx context.Context, onJob OnJob, onFailure OnFailure) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := q.rdb.BLPop(ctx, 2*time.Second, q.listKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.log.Error("blpop failed", "err", err)
			time.Sleep(time.Second)
			continue
		}

		idStr := res[1]
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			q.log.Error("malformed job id in queue", "raw", idStr)
			continue
		}

		payload, err := q.rdb.Get(ctx, q.payloadPrefix+idStr).Bytes()
		if err != nil {
			q.log.Error("missing payload for job", "job_id", id, "err", err)
			continue
		}

		if cancelled, err := q.IsJobCancelled(ctx, id); err == nil && cancelled {
			q.log.Warn("skipping job cancelled before start", "job_id", id)
			onFailure(ctx, id, payload)
			continue
		}

		if err := q.setStatus(ctx, id, StatusInProgress); err != nil {
			q.log.Error("failed to mark job in_progress", "job_id", id, "err", err)
		}

		if err := onJob(ctx, id, payload); err != nil {
			if err := q.setStatus(ctx, id, StatusFailed); err != nil {
				q.log.Error("failed to mark job failed", "job_id", id, "err", err)
			}
			onFailure(ctx, id, payload)
			continue
		}
		if err := q.setStatus(ctx, id, StatusCompleted); err != nil {
			q.log.Error("failed to mark job completed", "job_id", id, "err", err)
		}
	}
}
