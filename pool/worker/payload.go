package worker

import (
	"encoding/binary"
	"errors"

	"github.com/zeropool/relayer/pool/backend"
	"github.com/zeropool/relayer/pool/felt"
	"github.com/zeropool/relayer/pool/merkle"
)

// Payload is the queued unit of work a job carries: the parsed transfer,
// the tree-update witness captured at prepare time, and the two commit
// indices process_failure needs to roll back to (spec.md §3 "Job" /
// §4.7). It is hand-encoded into the queue's opaque []byte payload the
// same way pool/txlog and pool/backend lay out their own wire records,
// rather than reaching for encoding/gob -- nothing else in this module
// uses gob, and a fixed explicit layout is easier to reason about across
// a job's lifetime than a reflection-based encoder.
type Payload struct {
	Tx   backend.ParsedTx
	RootBefore, RootAfter, Leaf felt.F
	Siblings [merkle.H]felt.F
	PathBits [merkle.H]bool

	// NextCommitIndex/PrevCommitIndex are pool_index units (multiples of
	// merkle.Stride): NextCommitIndex is where this transfer lands once
	// submitted; PrevCommitIndex is one Stride below it (the slot of the
	// preceding leaf), or zero for the first leaf.
	NextCommitIndex uint64
	PrevCommitIndex uint64
}

var errTruncatedPayload = errors.New("worker: truncated job payload")

func putU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func putU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func putFelt(buf []byte, f felt.F) []byte {
	b := felt.Bytes32(f)
	return append(buf, b[:]...)
}

// Encode serializes p for the job queue.
func (p Payload) Encode() []byte {
	buf := make([]byte, 0, 512+len(p.Tx.Memo)+len(p.Tx.ExtraData))

	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], uint16(p.Tx.TxType))
	buf = append(buf, u16[:]...)
	buf = append(buf, p.Tx.TransferProof.Bytes()...)
	buf = putFelt(buf, p.Tx.Delta)
	buf = putFelt(buf, p.Tx.OutCommit)
	buf = putFelt(buf, p.Tx.Nullifier)
	buf = putU32(buf, uint32(len(p.Tx.Memo)))
	buf = append(buf, p.Tx.Memo...)
	buf = putU32(buf, uint32(len(p.Tx.ExtraData)))
	buf = append(buf, p.Tx.ExtraData...)

	buf = putFelt(buf, p.RootBefore)
	buf = putFelt(buf, p.RootAfter)
	buf = putFelt(buf, p.Leaf)
	for i := 0; i < merkle.H; i++ {
		buf = putFelt(buf, p.Siblings[i])
	}
	for i := 0; i < merkle.H; i++ {
		if p.PathBits[i] {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}

	buf = putU64(buf, p.NextCommitIndex)
	buf = putU64(buf, p.PrevCommitIndex)
	return buf
}

// DecodePayload is Encode's inverse.
func DecodePayload(b []byte) (Payload, error) {
	var p Payload
	off := 0
	need := func(n int) bool { return off+n <= len(b) }

	if !need(2 + 256) {
		return p, errTruncatedPayload
	}
	p.Tx.TxType = backend.TxType(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	proof, err := backend.GrothProofFromBytes(b[off : off+256])
	if err != nil {
		return p, err
	}
	p.Tx.TransferProof = proof
	off += 256

	readFelt := func() (felt.F, error) {
		if !need(32) {
			return felt.F{}, errTruncatedPayload
		}
		var buf32 [32]byte
		copy(buf32[:], b[off:off+32])
		off += 32
		return felt.FromBytes32(buf32), nil
	}
	readU32 := func() (uint32, error) {
		if !need(4) {
			return 0, errTruncatedPayload
		}
		v := binary.BigEndian.Uint32(b[off : off+4])
		off += 4
		return v, nil
	}
	readU64 := func() (uint64, error) {
		if !need(8) {
			return 0, errTruncatedPayload
		}
		v := binary.BigEndian.Uint64(b[off : off+8])
		off += 8
		return v, nil
	}

	if p.Tx.Delta, err = readFelt(); err != nil {
		return p, err
	}
	if p.Tx.OutCommit, err = readFelt(); err != nil {
		return p, err
	}
	if p.Tx.Nullifier, err = readFelt(); err != nil {
		return p, err
	}

	memoLen, err := readU32()
	if err != nil {
		return p, err
	}
	if !need(int(memoLen)) {
		return p, errTruncatedPayload
	}
	p.Tx.Memo = append([]byte(nil), b[off:off+int(memoLen)]...)
	off += int(memoLen)

	extraLen, err := readU32()
	if err != nil {
		return p, err
	}
	if !need(int(extraLen)) {
		return p, errTruncatedPayload
	}
	p.Tx.ExtraData = append([]byte(nil), b[off:off+int(extraLen)]...)
	off += int(extraLen)

	if p.RootBefore, err = readFelt(); err != nil {
		return p, err
	}
	if p.RootAfter, err = readFelt(); err != nil {
		return p, err
	}
	if p.Leaf, err = readFelt(); err != nil {
		return p, err
	}
	for i := 0; i < merkle.H; i++ {
		if p.Siblings[i], err = readFelt(); err != nil {
			return p, err
		}
	}
	for i := 0; i < merkle.H; i++ {
		if !need(1) {
			return p, errTruncatedPayload
		}
		p.PathBits[i] = b[off] != 0
		off++
	}

	if p.NextCommitIndex, err = readU64(); err != nil {
		return p, err
	}
	if p.PrevCommitIndex, err = readU64(); err != nil {
		return p, err
	}
	return p, nil
}
