// Package zktree implements the tree-update proof: a Groth16 circuit
// binding (root_before, root_after, leaf) to a single valid Merkle append
// (spec.md §1, §4.7, §9's "tree proof"), and the gnark Setup/Prove/Verify
// wiring the worker uses to produce one per job.
package zktree

import (
	"github.com/consensys/gnark/frontend"

	"github.com/zeropool/relayer/pool/merkle"
	"github.com/zeropool/relayer/pool/poseidon"
)

// Circuit folds Leaf up through Siblings, selecting left/right at each
// level by the corresponding bit of PathBits, and asserts the resulting
// root equals RootAfter. RootBefore is exposed as a public input purely
// so the outer chain call binds both roots in one proof, matching
// spec.md's "binding the old and new roots" -- it is not otherwise
// constrained here; the worker is responsible for supplying the
// historic root that was actually current before this leaf's append.
type Circuit struct {
	RootBefore frontend.Variable `gnark:",public"`
	RootAfter  frontend.Variable `gnark:",public"`
	Leaf       frontend.Variable `gnark:",public"`

	Siblings [merkle.H]frontend.Variable
	PathBits [merkle.H]frontend.Variable
}

// Define implements frontend.Circuit.
func (c *Circuit) Define(api frontend.API) error {
	for _, bit := range c.PathBits {
		api.AssertIsBoolean(bit)
	}

	cur := c.Leaf
	for i := 0; i < merkle.H; i++ {
		sibling := c.Siblings[i]
		bit := c.PathBits[i]

		// bit == 0: cur is the left child, sibling is the right child.
		// bit == 1: sibling is the left child, cur is the right child.
		left := api.Select(bit, sibling, cur)
		right := api.Select(bit, cur, sibling)
		cur = poseidon.CompressGadget(api, left, right)
	}

	api.AssertIsEqual(cur, c.RootAfter)
	return nil
}
