package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// newTestQueue connects to REDIS_URL (or localhost:6379) and skips the test
// entirely if no Redis is reachable -- this package's only state is Redis
// itself, so its tests are integration tests, not unit tests, exactly like
// the rest of the pool/* packages that sit directly on an external store.
func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://127.0.0.1:6379/1"
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("no reachable redis at %s: %v", url, err)
	}
	rdb.FlushDB(context.Background())
	return New(rdb)
}

func TestPushAssignsMonotonicIDs(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id1, err := q.Push(ctx, []byte("a"), 0)
	require.NoError(t, err)
	id2, err := q.Push(ctx, []byte("b"), 128)
	require.NoError(t, err)
	require.Less(t, id1, id2)

	status, ok, err := q.Status(ctx, id1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusPending, status)
}

func TestCancelJobsAfterMarksOnlyLaterPending(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id1, err := q.Push(ctx, []byte("a"), 0)
	require.NoError(t, err)
	id2, err := q.Push(ctx, []byte("b"), 128)
	require.NoError(t, err)
	id3, err := q.Push(ctx, []byte("c"), 256)
	require.NoError(t, err)

	require.NoError(t, q.CancelJobsAfter(ctx, id1))

	cancelled2, err := q.IsJobCancelled(ctx, id2)
	require.NoError(t, err)
	require.True(t, cancelled2)
	cancelled3, err := q.IsJobCancelled(ctx, id3)
	require.NoError(t, err)
	require.True(t, cancelled3)

	s1, _, err := q.Status(ctx, id1)
	require.NoError(t, err)
	require.Equal(t, StatusPending, s1)
}

func TestJobMappingRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Push(ctx, []byte("a"), 0)
	require.NoError(t, err)
	require.NoError(t, q.AddJobMapping(ctx, id, "tx-hash-abc"))

	got, ok, err := q.GetJobMapping(ctx, "tx-hash-abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, got)
}

func TestStartProcessesInOrder(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id1, err := q.Push(ctx, []byte("a"), 0)
	require.NoError(t, err)
	id2, err := q.Push(ctx, []byte("b"), 128)
	require.NoError(t, err)

	var order []uint64
	done := make(chan struct{})
	q.Start(ctx, func(_ context.Context, id uint64, _ []byte) error {
		order = append(order, id)
		if len(order) == 2 {
			close(done)
		}
		return nil
	}, func(context.Context, uint64, []byte) {})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for jobs to process")
	}
	require.Equal(t, []uint64{id1, id2}, order)
}
