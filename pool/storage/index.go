package storage

// Index namespaces a Store under a fixed string prefix, matching
// core/rawdb.PrefixedStore. spec.md §6 names the indices used by the tree
// (data_index, meta_index, roots) and the log (keys, data, meta); each is
// a distinct Index over the same underlying Store.
type Index struct {
	store  Store
	prefix []byte
}

// NewIndex creates an Index over store namespaced by name.
func NewIndex(store Store, name string) *Index {
	return &Index{store: store, prefix: append([]byte(name), ':')}
}

func (ix *Index) key(k []byte) []byte {
	out := make([]byte, len(ix.prefix)+len(k))
	copy(out, ix.prefix)
	copy(out[len(ix.prefix):], k)
	return out
}

func (ix *Index) Get(k []byte) ([]byte, error) { return ix.store.Get(ix.key(k)) }
func (ix *Index) Has(k []byte) (bool, error)    { return ix.store.Has(ix.key(k)) }
func (ix *Index) Put(k, v []byte) error         { return ix.store.Put(ix.key(k), v) }
func (ix *Index) Delete(k []byte) error         { return ix.store.Delete(ix.key(k)) }

// NewIterator returns an iterator over this index's namespace, starting at
// start (relative to the index, not the underlying store).
func (ix *Index) NewIterator(start []byte) Iterator {
	inner := ix.store.NewIterator(ix.prefix, ix.key(start))
	return &indexIterator{inner: inner, prefixLen: len(ix.prefix)}
}

type indexIterator struct {
	inner     Iterator
	prefixLen int
}

func (it *indexIterator) Next() bool { return it.inner.Next() }
func (it *indexIterator) Release()   { it.inner.Release() }
func (it *indexIterator) Value() []byte {
	return it.inner.Value()
}
func (it *indexIterator) Key() []byte {
	k := it.inner.Key()
	if len(k) < it.prefixLen {
		return k
	}
	return k[it.prefixLen:]
}

// Txn is a single atomic transaction scope spanning one or more indices
// over the same Store. Every mutating operation in pool/merkle and
// pool/txlog groups its writes into one Txn so partial visibility is never
// observable, per spec.md §4.1.
type Txn struct {
	batch Batch
}

// NewTxn opens a transaction scope against store.
func NewTxn(store Store) *Txn {
	return &Txn{batch: store.NewBatch()}
}

// Put stages a write against idx within this transaction.
func (t *Txn) Put(idx *Index, k, v []byte) error {
	return t.batch.Put(idx.key(k), v)
}

// Delete stages a delete against idx within this transaction.
func (t *Txn) Delete(idx *Index, k []byte) error {
	return t.batch.Delete(idx.key(k))
}

// Commit applies every staged operation atomically.
func (t *Txn) Commit() error {
	return t.batch.Commit()
}
