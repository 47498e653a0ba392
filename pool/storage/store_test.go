package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemStorePutGet(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	v, err := s.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
}

func TestMemStoreGetMissing(t *testing.T) {
	s := NewMemStore()
	_, err := s.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreBatchAtomic(t *testing.T) {
	s := NewMemStore()
	b := s.NewBatch()
	require.NoError(t, b.Put([]byte("x"), []byte("1")))
	require.NoError(t, b.Put([]byte("y"), []byte("2")))
	ok, _ := s.Has([]byte("x"))
	require.False(t, ok)
	require.NoError(t, b.Commit())
	ok, _ = s.Has([]byte("x"))
	require.True(t, ok)
}

func TestIndexNamespacing(t *testing.T) {
	s := NewMemStore()
	a := NewIndex(s, "a")
	b := NewIndex(s, "b")
	require.NoError(t, a.Put([]byte("k"), []byte("from-a")))
	require.NoError(t, b.Put([]byte("k"), []byte("from-b")))
	va, err := a.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("from-a"), va)
	vb, err := b.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("from-b"), vb)
}

func TestTxnCommitsAtomically(t *testing.T) {
	s := NewMemStore()
	idx := NewIndex(s, "roots")
	txn := NewTxn(s)
	require.NoError(t, txn.Put(idx, []byte("0"), []byte("root0")))
	require.NoError(t, txn.Put(idx, []byte("1"), []byte("root1")))
	_, err := idx.Get([]byte("0"))
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, txn.Commit())
	v, err := idx.Get([]byte("0"))
	require.NoError(t, err)
	require.Equal(t, []byte("root0"), v)
}

func TestIndexIteratorOrder(t *testing.T) {
	s := NewMemStore()
	idx := NewIndex(s, "data")
	require.NoError(t, idx.Put([]byte{0, 0, 0, 2}, []byte("two")))
	require.NoError(t, idx.Put([]byte{0, 0, 0, 1}, []byte("one")))
	it := idx.NewIterator(nil)
	defer it.Release()
	var got []string
	for it.Next() {
		got = append(got, string(it.Value()))
	}
	require.Equal(t, []string{"one", "two"}, got)
}
