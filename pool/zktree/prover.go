package zktree

import (
	"fmt"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/zeropool/relayer/log"
	"github.com/zeropool/relayer/pool/backend"
	"github.com/zeropool/relayer/pool/felt"
	"github.com/zeropool/relayer/pool/merkle"
)

// Prover owns the compiled constraint system and proving/verifying keys
// for the tree-update circuit, loading them from params/ if present and
// otherwise compiling and running a dev-mode Setup once at boot --
// exactly the two-path load-or-setup shape of the teacher's own
// provers/relayer.go (setupCircuit) and setup_circuit.go (SetupCircuit).
type Prover struct {
	ccs         constraint.ConstraintSystem
	pk          groth16.ProvingKey
	vk          groth16.VerifyingKey
	mockProving bool
	log         *log.Logger
}

// Witness is the assignment the worker builds per job from the tree
// state captured by prepare_job.
type Witness struct {
	RootBefore felt.F
	RootAfter  felt.F
	Leaf       felt.F
	Siblings   [merkle.H]felt.F
	PathBits   [merkle.H]bool
}

// NewProver loads ccsPath/pkPath/vkPath if all three exist; otherwise it
// compiles the circuit and runs groth16.Setup in-process, which is only
// appropriate for development (the resulting keys aren't toxic-waste-free
// and are never persisted). mockProving, when true, skips proof
// generation/verification entirely and returns an all-zero proof,
// matching spec.md §6's MOCK_PROVER env var for fast local iteration.
func NewProver(ccsPath, pkPath, vkPath string, mockProving bool) (*Prover, error) {
	p := &Prover{mockProving: mockProving, log: log.Default().Module("zktree")}
	if mockProving {
		return p, nil
	}

	if fileExists(ccsPath) && fileExists(pkPath) && fileExists(vkPath) {
		if err := p.load(ccsPath, pkPath, vkPath); err != nil {
			return nil, err
		}
		return p, nil
	}

	p.log.Warn("tree circuit params not found on disk, compiling and running dev setup", "ccs", ccsPath)
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &Circuit{})
	if err != nil {
		return nil, fmt.Errorf("zktree: compile circuit: %w", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("zktree: dev setup: %w", err)
	}
	p.ccs, p.pk, p.vk = ccs, pk, vk
	return p, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (p *Prover) load(ccsPath, pkPath, vkPath string) error {
	ccsFile, err := os.Open(ccsPath)
	if err != nil {
		return fmt.Errorf("zktree: open ccs: %w", err)
	}
	defer ccsFile.Close()
	p.ccs = groth16.NewCS(ecc.BN254)
	if _, err := p.ccs.ReadFrom(ccsFile); err != nil {
		return fmt.Errorf("zktree: read ccs: %w", err)
	}

	pkFile, err := os.Open(pkPath)
	if err != nil {
		return fmt.Errorf("zktree: open pk: %w", err)
	}
	defer pkFile.Close()
	p.pk = groth16.NewProvingKey(ecc.BN254)
	if _, err := p.pk.ReadFrom(pkFile); err != nil {
		return fmt.Errorf("zktree: read pk: %w", err)
	}

	vkFile, err := os.Open(vkPath)
	if err != nil {
		return fmt.Errorf("zktree: open vk: %w", err)
	}
	defer vkFile.Close()
	p.vk = groth16.NewVerifyingKey(ecc.BN254)
	if _, err := p.vk.ReadFrom(vkFile); err != nil {
		return fmt.Errorf("zktree: read vk: %w", err)
	}
	return nil
}

// Prove builds a full witness from w and runs groth16.Prove, returning
// the wire-format GrothProof the backend adapter serializes into
// calldata. In mock-proving mode it returns a zero proof immediately.
func (p *Prover) Prove(w Witness) (backend.GrothProof, error) {
	if p.mockProving {
		return backend.GrothProof{}, nil
	}

	assignment := &Circuit{
		RootBefore: felt.Bytes32(w.RootBefore),
		RootAfter:  felt.Bytes32(w.RootAfter),
		Leaf:       felt.Bytes32(w.Leaf),
	}
	for i := 0; i < merkle.H; i++ {
		assignment.Siblings[i] = felt.Bytes32(w.Siblings[i])
		if w.PathBits[i] {
			assignment.PathBits[i] = 1
		} else {
			assignment.PathBits[i] = 0
		}
	}

	fullWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return backend.GrothProof{}, fmt.Errorf("zktree: build witness: %w", err)
	}

	proof, err := groth16.Prove(p.ccs, p.pk, fullWitness)
	if err != nil {
		return backend.GrothProof{}, fmt.Errorf("zktree: prove: %w", err)
	}

	return marshalProof(proof)
}

// Verify checks a tree-update proof against the claimed public roots and
// leaf -- used by tests, since the on-chain
// contract is the real verifier in production.
func (p *Prover) Verify(proof backend.GrothProof, rootBefore, rootAfter, leaf felt.F) (bool, error) {
	if p.mockProving {
		return true, nil
	}
	g16Proof, err := unmarshalProof(proof)
	if err != nil {
		return false, err
	}
	publicWitness, err := frontend.NewWitness(&Circuit{
		RootBefore: felt.Bytes32(rootBefore),
		RootAfter:  felt.Bytes32(rootAfter),
		Leaf:       felt.Bytes32(leaf),
	}, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, err
	}
	return groth16.Verify(g16Proof, p.vk, publicWitness) == nil, nil
}
