package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeropool/relayer/pool/backend"
	"github.com/zeropool/relayer/pool/felt"
	"github.com/zeropool/relayer/pool/merkle"
	"github.com/zeropool/relayer/pool/storage"
	"github.com/zeropool/relayer/pool/txlog"
)

func newTestAppState() (*AppState, *backend.Mock) {
	mock := backend.NewMock()
	st := New(Config{
		Backend: mock,
		Tree:    merkle.New(storage.NewMemStore()),
		Log:     txlog.New(storage.NewMemStore()),
	})
	return st, mock
}

func TestBootNoopWhenLocalMatchesChain(t *testing.T) {
	st, _ := newTestAppState()
	require.NoError(t, st.Boot(context.Background()))
	require.Equal(t, uint64(0), st.PoolIndex())
	require.True(t, felt.Equal(felt.Zero(), st.PoolRoot()))
	require.Equal(t, uint64(0), st.Tree.NumLeaves())
}

func TestBootReplaysGapFromChain(t *testing.T) {
	st, mock := newTestAppState()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := mock.SendTx(ctx, backend.TxData{
			ParsedTx: backend.ParsedTx{OutCommit: felt.FromUint64(uint64(i + 1))},
		})
		require.NoError(t, err)
	}

	require.NoError(t, st.Boot(ctx))
	require.Equal(t, uint64(3), st.Tree.NumLeaves())
	require.Equal(t, uint64(3*merkle.Stride), st.PoolIndex())

	rec, err := st.Log.Get(0)
	require.NoError(t, err)
	require.Equal(t, felt.Bytes32(felt.FromUint64(1)), rec.OutCommit)
}

func TestBootWipesWhenLocalAheadOfChain(t *testing.T) {
	st, _ := newTestAppState()
	ctx := context.Background()

	// Local tree has a leaf the chain never saw (e.g. a crash after
	// AddLeaf but before the transaction confirmed) -- chain pool index
	// stays 0, so local (128) is strictly ahead and must be wiped rather
	// than replayed forward.
	require.NoError(t, st.Tree.AddLeaf(felt.FromUint64(99)))
	require.NoError(t, st.Log.Push(0, felt.Bytes32(felt.FromUint64(99)), nil, nil))
	require.Equal(t, uint64(1), st.Tree.NumLeaves())

	require.NoError(t, st.Boot(ctx))
	require.Equal(t, uint64(0), st.Tree.NumLeaves())
	require.Equal(t, uint64(0), st.PoolIndex())
}

func TestBootSkipsAlreadyLocalEntriesDuringReplay(t *testing.T) {
	st, mock := newTestAppState()
	ctx := context.Background()

	_, err := mock.SendTx(ctx, backend.TxData{ParsedTx: backend.ParsedTx{OutCommit: felt.FromUint64(1)}})
	require.NoError(t, err)

	require.NoError(t, st.Tree.AddLeaf(felt.FromUint64(1)))
	require.NoError(t, st.Log.Push(0, felt.Bytes32(felt.FromUint64(1)), nil, nil))

	_, err = mock.SendTx(ctx, backend.TxData{ParsedTx: backend.ParsedTx{OutCommit: felt.FromUint64(2)}})
	require.NoError(t, err)

	require.NoError(t, st.Boot(ctx))
	require.Equal(t, uint64(2), st.Tree.NumLeaves())
	require.Equal(t, uint64(2*merkle.Stride), st.PoolIndex())
}

func TestSetPoolStateUpdatesSnapshot(t *testing.T) {
	st, _ := newTestAppState()
	st.SetPoolState(256, felt.FromUint64(7))
	require.Equal(t, uint64(256), st.PoolIndex())
	require.True(t, felt.Equal(felt.FromUint64(7), st.PoolRoot()))
}
