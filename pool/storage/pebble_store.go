package storage

import (
	"github.com/cockroachdb/pebble"
)

// PebbleStore is the production Store implementation, backed by an embedded
// cockroachdb/pebble LSM database. It is the Go analog of the original
// system's persy-backed store: an ordered, batch-atomic, durable engine
// opened once per named file (tree.persy, transactions.persy by
// convention -- see cmd/relayer's buildAppState).
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebbleStore opens (creating if absent) a pebble database at dir.
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (p *PebbleStore) Get(key []byte) ([]byte, error) {
	v, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	closer.Close()
	return cp, nil
}

func (p *PebbleStore) Has(key []byte) (bool, error) {
	_, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (p *PebbleStore) Put(key, value []byte) error {
	return p.db.Set(key, value, pebble.Sync)
}

func (p *PebbleStore) Delete(key []byte) error {
	return p.db.Delete(key, pebble.Sync)
}

func (p *PebbleStore) Close() error {
	return p.db.Close()
}

func (p *PebbleStore) NewBatch() Batch {
	return &pebbleBatch{db: p.db, batch: p.db.NewBatch()}
}

type pebbleBatch struct {
	db    *pebble.DB
	batch *pebble.Batch
}

func (b *pebbleBatch) Put(key, value []byte) error {
	return b.batch.Set(key, value, nil)
}

func (b *pebbleBatch) Delete(key []byte) error {
	return b.batch.Delete(key, nil)
}

func (b *pebbleBatch) Commit() error {
	return b.batch.Commit(pebble.Sync)
}

func (b *pebbleBatch) Reset() {
	b.batch.Reset()
}

// NewIterator returns an iterator over keys sharing prefix, positioned at
// start (or the beginning of the prefix range if start is empty).
func (p *PebbleStore) NewIterator(prefix, start []byte) Iterator {
	lower := start
	if len(lower) == 0 {
		lower = prefix
	}
	upper := upperBound(prefix)
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return &errIterator{err: err}
	}
	return &pebbleIterator{iter: iter, started: false}
}

// upperBound returns the smallest key greater than every key sharing
// prefix, by incrementing the last byte that isn't already 0xff.
func upperBound(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	ub := make([]byte, len(prefix))
	copy(ub, prefix)
	for i := len(ub) - 1; i >= 0; i-- {
		if ub[i] < 0xff {
			ub[i]++
			return ub[:i+1]
		}
	}
	return nil
}

type pebbleIterator struct {
	iter    *pebble.Iterator
	started bool
}

func (it *pebbleIterator) Next() bool {
	if !it.started {
		it.started = true
		return it.iter.First()
	}
	return it.iter.Next()
}

func (it *pebbleIterator) Key() []byte {
	return append([]byte(nil), it.iter.Key()...)
}

func (it *pebbleIterator) Value() []byte {
	return append([]byte(nil), it.iter.Value()...)
}

func (it *pebbleIterator) Release() {
	it.iter.Close()
}

// errIterator is returned when iterator construction fails; Next always
// reports exhaustion so callers can range over it safely.
type errIterator struct{ err error }

func (it *errIterator) Next() bool    { return false }
func (it *errIterator) Key() []byte   { return nil }
func (it *errIterator) Value() []byte { return nil }
func (it *errIterator) Release()      {}
