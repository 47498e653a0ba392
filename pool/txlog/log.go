// Package txlog implements the dense, pool-stride-indexed transaction log
// (spec.md §4.3): a mapping pool_index -> (out_commit || tx_hash ||
// ciphertext) with rollback, grounded on core/rawdb's WriteBatch/iterator
// pattern via pool/storage.
package txlog

import (
	"encoding/binary"
	"errors"

	"github.com/zeropool/relayer/pool/storage"
)

var (
	// ErrIndexTooFar is the programmer-invariant violation of spec.md §7:
	// push with index > next_index (the non-overwrite violation).
	ErrIndexTooFar = errors.New("txlog: index exceeds next_index")
)

const metaNextIndexKey = "next_index"

// Log is the transaction log.
type Log struct {
	backing storage.Store
	store   *storage.Index // keys -> raw record bytes
	meta    *storage.Index // next_index counter
}

// New opens a log over store.
func New(store storage.Store) *Log {
	return &Log{
		backing: store,
		store:   storage.NewIndex(store, "data"),
		meta:    storage.NewIndex(store, "meta"),
	}
}

func indexKey(index uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, index)
	return k
}

// NextIndex returns the next index a Push may append at.
func (l *Log) NextIndex() uint64 {
	v, err := l.meta.Get([]byte(metaNextIndexKey))
	if err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

// encodeRecord lays out outCommit(32) || len(txHash) u32 BE || txHash ||
// len(ciphertext) u32 BE || ciphertext, so Get/IterRange can split the two
// variable-length trailing fields back out.
func encodeRecord(outCommit [32]byte, txHash, ciphertext []byte) []byte {
	buf := make([]byte, 0, 32+4+len(txHash)+4+len(ciphertext))
	buf = append(buf, outCommit[:]...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(txHash)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, txHash...)
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(ciphertext)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, ciphertext...)
	return buf
}

// Record is a decoded transaction log row.
type Record struct {
	OutCommit  [32]byte
	TxHash     []byte
	Ciphertext []byte
}

func decodeRecord(b []byte) (Record, error) {
	if len(b) < 36 {
		return Record{}, errors.New("txlog: truncated record")
	}
	var rec Record
	copy(rec.OutCommit[:], b[:32])
	off := 32
	hashLen := binary.BigEndian.Uint32(b[off : off+4])
	off += 4
	if off+int(hashLen) > len(b) {
		return Record{}, errors.New("txlog: truncated tx_hash")
	}
	rec.TxHash = append([]byte(nil), b[off:off+int(hashLen)]...)
	off += int(hashLen)
	if off+4 > len(b) {
		return Record{}, errors.New("txlog: truncated ciphertext length")
	}
	cipherLen := binary.BigEndian.Uint32(b[off : off+4])
	off += 4
	if off+int(cipherLen) > len(b) {
		return Record{}, errors.New("txlog: truncated ciphertext")
	}
	rec.Ciphertext = append([]byte(nil), b[off:off+int(cipherLen)]...)
	return rec, nil
}

// Push inserts a row at index. Append-or-overwrite semantics (spec.md's
// resolution of the push Open Question): index == next_index appends and
// sets next_index = index + Stride; index < next_index overwrites the
// placeholder the worker wrote in PrepareJob and leaves next_index
// unchanged; index > next_index is the programmer-invariant violation.
func (l *Log) Push(index uint64, outCommit [32]byte, txHash, ciphertext []byte) error {
	next := l.NextIndex()
	if index > next {
		return ErrIndexTooFar
	}
	txn := storage.NewTxn(l.storeBacking())
	rec := encodeRecord(outCommit, txHash, ciphertext)
	if err := txn.Put(l.store, indexKey(index), rec); err != nil {
		return err
	}
	if index == next {
		if err := txn.Put(l.meta, []byte(metaNextIndexKey), indexKey(next+stride)); err != nil {
			return err
		}
	}
	return txn.Commit()
}

// stride must match pool/merkle.Stride; duplicated as a constant instead of
// importing pool/merkle to keep txlog a leaf package with no dependency on
// the tree.
const stride = 128

// Get returns the decoded record at index, or an error if absent.
func (l *Log) Get(index uint64) (Record, error) {
	b, err := l.store.Get(indexKey(index))
	if err != nil {
		return Record{}, err
	}
	return decodeRecord(b)
}

// Rollback deletes every row with index >= from and resets next_index =
// from.
func (l *Log) Rollback(from uint64) error {
	next := l.NextIndex()
	txn := storage.NewTxn(l.storeBacking())
	for idx := from; idx < next; idx += stride {
		if err := txn.Delete(l.store, indexKey(idx)); err != nil {
			return err
		}
	}
	if err := txn.Put(l.meta, []byte(metaNextIndexKey), indexKey(from)); err != nil {
		return err
	}
	return txn.Commit()
}

// IterRange returns every (index, record) pair with index in [from, to)
// in index order.
func (l *Log) IterRange(from, to uint64) ([]uint64, []Record, error) {
	var indices []uint64
	var records []Record
	it := l.store.NewIterator(indexKey(from))
	defer it.Release()
	for it.Next() {
		idx := binary.BigEndian.Uint64(it.Key())
		if idx >= to {
			break
		}
		rec, err := decodeRecord(it.Value())
		if err != nil {
			return nil, nil, err
		}
		indices = append(indices, idx)
		records = append(records, rec)
	}
	return indices, records, nil
}

// storeBacking exposes the underlying storage.Store so Push/Rollback can
// open a single transaction spanning both the data and meta indices.
func (l *Log) storeBacking() storage.Store {
	return l.backing
}
