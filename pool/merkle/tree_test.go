package merkle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeropool/relayer/pool/felt"
	"github.com/zeropool/relayer/pool/storage"
)

func newTestTree() *Tree {
	return New(storage.NewMemStore())
}

func TestEmptyTreeRootIsDefault(t *testing.T) {
	tr := newTestTree()
	require.True(t, felt.Equal(tr.Root(), tr.defs[0]))
	require.Equal(t, uint64(0), tr.NumLeaves())
}

func TestAppendIncrementsNumLeaves(t *testing.T) {
	tr := newTestTree()
	require.NoError(t, tr.AddLeaf(felt.FromUint64(1)))
	require.Equal(t, uint64(1), tr.NumLeaves())
	require.NoError(t, tr.AddLeaf(felt.FromUint64(2)))
	require.Equal(t, uint64(2), tr.NumLeaves())
}

func TestAppendChangesRoot(t *testing.T) {
	tr := newTestTree()
	r0 := tr.Root()
	require.NoError(t, tr.AddLeaf(felt.FromUint64(7)))
	r1 := tr.Root()
	require.False(t, felt.Equal(r0, r1))
}

func TestProofRoundTrip(t *testing.T) {
	tr := newTestTree()
	leaves := []felt.F{felt.FromUint64(1), felt.FromUint64(2), felt.FromUint64(3), felt.FromUint64(4)}
	for _, l := range leaves {
		require.NoError(t, tr.AddLeaf(l))
	}
	for i := range leaves {
		siblings, path := tr.ZPMerkleProof(uint64(i))
		got := FoldProof(tr.Leaf(uint64(i)), siblings, path)
		require.True(t, felt.Equal(got, tr.Root()), "leaf %d proof did not fold to root", i)
	}
}

func TestHistoricRoots(t *testing.T) {
	tr := newTestTree()
	r0, ok := tr.HistoricRoot(0)
	require.True(t, ok)
	require.True(t, felt.Equal(r0, tr.defs[0]))

	require.NoError(t, tr.AddLeaf(felt.FromUint64(10)))
	rootAfter1 := tr.Root()
	h1, ok := tr.HistoricRoot(1)
	require.True(t, ok)
	require.True(t, felt.Equal(h1, rootAfter1))

	require.NoError(t, tr.AddLeaf(felt.FromUint64(20)))
	h2, ok := tr.HistoricRoot(2)
	require.True(t, ok)
	require.True(t, felt.Equal(h2, tr.Root()))
	require.False(t, felt.Equal(h1, h2))
}

func TestRollbackInvertsAppend(t *testing.T) {
	tr := newTestTree()
	seq := []felt.F{felt.FromUint64(1), felt.FromUint64(2), felt.FromUint64(3)}
	for _, l := range seq {
		require.NoError(t, tr.AddLeaf(l))
	}
	rootAfter2, ok := tr.HistoricRoot(2)
	require.True(t, ok)

	require.NoError(t, tr.Rollback(2))
	require.Equal(t, uint64(2), tr.NumLeaves())
	require.True(t, felt.Equal(tr.Root(), rootAfter2))

	// Re-appending the third leaf and rolling back to 2 again restores the
	// two-leaf root.
	expectedRoot := tr.Root()
	require.NoError(t, tr.AddLeaf(seq[2]))
	full := tr.Root()
	require.NoError(t, tr.Rollback(2))
	require.True(t, felt.Equal(tr.Root(), expectedRoot))
	_ = full
}

func TestRollbackToZeroClearsTree(t *testing.T) {
	tr := newTestTree()
	for _, v := range []uint64{1, 2, 3, 4, 5} {
		require.NoError(t, tr.AddLeaf(felt.FromUint64(v)))
	}
	require.NoError(t, tr.Rollback(0))
	require.Equal(t, uint64(0), tr.NumLeaves())
	require.True(t, felt.Equal(tr.Root(), tr.defs[0]))
}

func TestRollbackPastNumLeavesFails(t *testing.T) {
	tr := newTestTree()
	require.NoError(t, tr.AddLeaf(felt.FromUint64(1)))
	require.ErrorIs(t, tr.Rollback(5), ErrRollbackPast)
}

func TestRollbackDeterminism(t *testing.T) {
	seq := []felt.F{felt.FromUint64(11), felt.FromUint64(22), felt.FromUint64(33), felt.FromUint64(44)}

	trA := newTestTree()
	for _, l := range seq {
		require.NoError(t, trA.AddLeaf(l))
	}
	require.NoError(t, trA.Rollback(2))

	trB := newTestTree()
	require.NoError(t, trB.AddLeaf(seq[0]))
	require.NoError(t, trB.AddLeaf(seq[1]))

	require.True(t, felt.Equal(trA.Root(), trB.Root()))
	require.Equal(t, trA.NumLeaves(), trB.NumLeaves())
}
