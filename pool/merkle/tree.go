// Package merkle implements the sparse Poseidon commitment tree: a binary
// tree of fixed height addressed by (depth, index) keys in a KV store,
// never held as in-memory node pointers (spec.md §9, "cyclic graphs"),
// with append, historic roots, inclusion proofs and precise rollback.
//
// Grounded on trie/bintrie's path-addressed binary node model and
// trie/trie's New/Get/Put/Hash package shape; the height here is fixed
// rather than dynamically grown, since the pool's tree has a fixed
// FULL_HEIGHT unlike the teacher's variable-depth trie.
package merkle

import (
	"encoding/binary"
	"errors"

	"github.com/zeropool/relayer/pool/felt"
	"github.com/zeropool/relayer/pool/poseidon"
	"github.com/zeropool/relayer/pool/storage"
)

const (
	// Stride is OUT+1, the number of output slots per transfer.
	Stride = 128
	// FullHeight is the depth of the full commitment tree before
	// stride-folding. Not specified by spec.md (an explicit Open
	// Question); fixed at 48 here, giving H=41 after folding STRIDE -
	// comfortably larger than any realistic pool while keeping
	// ZPMerkleProof arrays small. See DESIGN.md.
	FullHeight = 48
	// H is the tree height actually walked by this package.
	H = FullHeight - 7 // log2(Stride) == 7
)

var ErrRollbackPast = errors.New("merkle: rollback target exceeds num_leaves")

// Tree is a sparse Poseidon Merkle tree of height H.
type Tree struct {
	store   storage.Store
	nodes   *storage.Index
	meta    *storage.Index
	roots   *storage.Index
	defs    [H + 1]felt.F
}

const metaNumLeavesKey = "num_leaves"

// New opens a tree over store, computing the default-node table once.
func New(store storage.Store) *Tree {
	t := &Tree{
		store: store,
		nodes: storage.NewIndex(store, "data_index"),
		meta:  storage.NewIndex(store, "meta_index"),
		roots: storage.NewIndex(store, "roots"),
	}
	t.defs[H] = felt.Zero()
	for d := H - 1; d >= 0; d-- {
		t.defs[d] = poseidon.Compress(t.defs[d+1], t.defs[d+1])
	}
	return t
}

func nodeKey(depth int, index uint64) []byte {
	k := make([]byte, 9)
	k[0] = byte(depth)
	binary.BigEndian.PutUint64(k[1:], index)
	return k
}

func u64Key(v uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, v)
	return k
}

// NumLeaves returns the number of committed leaves.
func (t *Tree) NumLeaves() uint64 {
	v, err := t.meta.Get([]byte(metaNumLeavesKey))
	if err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func (t *Tree) getNode(depth int, index uint64) felt.F {
	v, err := t.nodes.Get(nodeKey(depth, index))
	if err != nil {
		return t.defs[depth]
	}
	var b [32]byte
	copy(b[:], v)
	return felt.FromBytes32(b)
}

// Root returns the current tree root (depth 0).
func (t *Tree) Root() felt.F {
	return t.getNode(0, 0)
}

// HistoricRoot returns the root recorded after exactly k leaves, or false
// if no such entry exists. k==0 is always defined: it is the empty tree's
// default root, never written to the roots index by AddLeaf (whose first
// entry lands at key 1), so it is special-cased here.
func (t *Tree) HistoricRoot(k uint64) (felt.F, bool) {
	if k == 0 {
		return t.defs[0], true
	}
	v, err := t.roots.Get(u64Key(k))
	if err != nil {
		return felt.F{}, false
	}
	var b [32]byte
	copy(b[:], v)
	return felt.FromBytes32(b), true
}

// Leaf returns the stored leaf at index i, or the default leaf value.
func (t *Tree) Leaf(i uint64) felt.F {
	return t.getNode(H, i)
}

func putOrDelete(txn *storage.Txn, idx *storage.Index, key []byte, val, def felt.F) error {
	if felt.Equal(val, def) {
		return txn.Delete(idx, key)
	}
	b := felt.Bytes32(val)
	return txn.Put(idx, key, b[:])
}

// AddLeaf appends one commitment at index NumLeaves(), recomputes the path
// to the root and records the new root in the historic-roots index at key
// NumLeaves()+1, all within a single KV transaction (spec.md §4.2/§9).
func (t *Tree) AddLeaf(h felt.F) error {
	index := t.NumLeaves()
	txn := storage.NewTxn(t.store)

	leafBytes := felt.Bytes32(h)
	if err := txn.Put(t.nodes, nodeKey(H, index), leafBytes[:]); err != nil {
		return err
	}

	cur := index
	curHash := h
	for d := H; d >= 1; d-- {
		sibIdx := cur ^ 1
		sibling := t.getNode(d, sibIdx)
		var left, right felt.F
		if cur&1 == 0 {
			left, right = curHash, sibling
		} else {
			left, right = sibling, curHash
		}
		parent := poseidon.Compress(left, right)
		parentIdx := cur / 2
		if err := putOrDelete(txn, t.nodes, nodeKey(d-1, parentIdx), parent, t.defs[d-1]); err != nil {
			return err
		}
		curHash = parent
		cur = parentIdx
	}

	newNumLeaves := index + 1
	if err := txn.Put(t.meta, []byte(metaNumLeavesKey), u64Key(newNumLeaves)); err != nil {
		return err
	}
	rootBytes := felt.Bytes32(curHash)
	if err := txn.Put(t.roots, u64Key(newNumLeaves), rootBytes[:]); err != nil {
		return err
	}
	return txn.Commit()
}

// MerkleProof returns the H sibling hashes on the path from leaf i to the
// root, without path-direction bits.
func (t *Tree) MerkleProof(i uint64) [H]felt.F {
	var proof [H]felt.F
	cur := i
	for d := H; d >= 1; d-- {
		proof[H-d] = t.getNode(d, cur^1)
		cur /= 2
	}
	return proof
}

// ZPMerkleProof returns the sibling path and the direction bits for leaf i:
// path[k] is true when the node at that step is the odd (right) child, so
// the sibling occupies the left slot of the pair. path[0] corresponds to
// depth H (the leaf's own level); path[H-1] corresponds to the step into
// the root.
func (t *Tree) ZPMerkleProof(i uint64) (siblings [H]felt.F, path [H]bool) {
	cur := i
	for d := H; d >= 1; d-- {
		siblings[H-d] = t.getNode(d, cur^1)
		path[H-d] = cur&1 == 1
		cur /= 2
	}
	return siblings, path
}

// FoldProof reproduces the root implied by leaf folded against siblings
// under path, used both by tests (append<->proof roundtrip) and by the
// worker when building the tree-update witness.
func FoldProof(leaf felt.F, siblings [H]felt.F, path [H]bool) felt.F {
	cur := leaf
	for k := 0; k < H; k++ {
		if path[k] {
			cur = poseidon.Compress(siblings[k], cur)
		} else {
			cur = poseidon.Compress(cur, siblings[k])
		}
	}
	return cur
}

// Rollback deletes every leaf with index >= to, removes historic-root
// entries for (to, old_num_leaves], recomputes all ancestors on the new
// frontier and resets num_leaves = to. Fails if to > NumLeaves().
//
// Historic-root entries at key <= to are left untouched: the entry at key
// `to` was written by the AddLeaf call that produced leaf `to-1`'s root,
// which is exactly the tree state being rolled back to, so it already
// equals the post-rollback root without being rewritten.
func (t *Tree) Rollback(to uint64) error {
	old := t.NumLeaves()
	if to > old {
		return ErrRollbackPast
	}
	if to == old {
		return nil
	}

	txn := storage.NewTxn(t.store)

	// scratch shadows every node this transaction stages, keyed by the same
	// bytes nodeKey produces. storage.Txn's underlying batch is write-only
	// (see storage.Batch) -- it cannot answer reads of its own staged
	// writes -- so each level's left/right computation below must consult
	// scratch first and only fall back to the last-committed store when a
	// key hasn't been touched yet this transaction.
	scratch := make(map[string]felt.F)

	stage := func(depth int, index uint64, val felt.F) error {
		key := nodeKey(depth, index)
		scratch[string(key)] = val
		return putOrDelete(txn, t.nodes, key, val, t.defs[depth])
	}
	read := func(depth int, index uint64) felt.F {
		if v, ok := scratch[string(nodeKey(depth, index))]; ok {
			return v
		}
		return t.getNode(depth, index)
	}

	for k := to + 1; k <= old; k++ {
		if err := txn.Delete(t.roots, u64Key(k)); err != nil {
			return err
		}
	}

	cur := to
	for d := H; d >= 1; d-- {
		if d == H {
			if err := stage(d, cur, t.defs[d]); err != nil {
				return err
			}
		}
		oldMaxCol := (old - 1) >> uint(H-d)
		for col := cur + 1; col <= oldMaxCol; col++ {
			if err := stage(d, col, t.defs[d]); err != nil {
				return err
			}
		}

		left := read(d, cur&^uint64(1))
		right := read(d, cur|1)
		parent := poseidon.Compress(left, right)
		parentIdx := cur / 2
		if err := stage(d-1, parentIdx, parent); err != nil {
			return err
		}
		cur = parentIdx
	}

	if err := txn.Put(t.meta, []byte(metaNumLeavesKey), u64Key(to)); err != nil {
		return err
	}
	return txn.Commit()
}
