package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/wsv/keyvaluedb/memorydb"
)

func newTestStore(t *testing.T) (*KVStore, *memorydb.MemoryDB) {
	t.Helper()
	db := memorydb.New()
	return NewKVStore(db), db
}

func begin(t *testing.T, s Store) Session {
	t.Helper()
	ses, err := s.Begin(context.Background())
	require.NoError(t, err)
	return ses
}

func get(t *testing.T, r Reader, key string) (string, bool) {
	t.Helper()
	v, found, err := r.Get([]byte(key))
	require.NoError(t, err)
	return string(v), found
}

func keys(t *testing.T, r Reader, prefix string) []string {
	t.Helper()
	var res []string
	require.NoError(t, r.Scan([]byte(prefix), func(key, _ []byte) error {
		res = append(res, string(key))
		return nil
	}))
	return res
}

func TestKVSession_CommitMakesChangesVisible(t *testing.T) {
	store, _ := newTestStore(t)
	ses := begin(t, store)
	require.NoError(t, ses.Put([]byte("a/1"), []byte("one")))
	require.NoError(t, ses.Put([]byte("a/2"), []byte("two")))

	v, found := get(t, ses, "a/1")
	require.True(t, found)
	require.Equal(t, "one", v)
	// not committed yet
	_, found = get(t, store.Reader(), "a/1")
	require.False(t, found)

	require.NoError(t, ses.Commit())
	v, found = get(t, store.Reader(), "a/2")
	require.True(t, found)
	require.Equal(t, "two", v)
	require.Equal(t, []string{"a/1", "a/2"}, keys(t, store.Reader(), "a/"))

	require.ErrorIs(t, ses.Put([]byte("x"), []byte("y")), ErrTxDone)
	require.ErrorIs(t, ses.Commit(), ErrTxDone)
	require.ErrorIs(t, ses.Rollback(), ErrTxDone)
}

func TestKVSession_Rollback(t *testing.T) {
	store, _ := newTestStore(t)
	ses := begin(t, store)
	require.NoError(t, ses.Put([]byte("k"), []byte("v")))
	require.NoError(t, ses.Rollback())
	_, found := get(t, store.Reader(), "k")
	require.False(t, found)
}

func TestKVSession_Savepoints(t *testing.T) {
	store, _ := newTestStore(t)
	ses := begin(t, store)
	require.NoError(t, ses.Put([]byte("base"), []byte("0")))

	require.NoError(t, ses.Savepoint("block"))
	require.NoError(t, ses.Put([]byte("b/1"), []byte("1")))
	require.NoError(t, ses.Delete([]byte("base")))

	require.NoError(t, ses.Savepoint("tx"))
	require.NoError(t, ses.Put([]byte("b/2"), []byte("2")))
	require.Equal(t, []string{"b/1", "b/2"}, keys(t, ses, "b/"))

	// rolling back inner savepoint keeps outer changes
	require.NoError(t, ses.RollbackTo("tx"))
	require.Equal(t, []string{"b/1"}, keys(t, ses, "b/"))
	_, found := get(t, ses, "base")
	require.False(t, found)
	// savepoint survives rollback
	require.NoError(t, ses.Put([]byte("b/3"), []byte("3")))
	require.NoError(t, ses.Release("tx"))
	require.Equal(t, []string{"b/1", "b/3"}, keys(t, ses, "b/"))

	// rolling back the outer one undoes everything after it
	require.NoError(t, ses.RollbackTo("block"))
	require.Empty(t, keys(t, ses, "b/"))
	v, found := get(t, ses, "base")
	require.True(t, found)
	require.Equal(t, "0", v)
	require.NoError(t, ses.Release("block"))

	require.ErrorIs(t, ses.Release("block"), ErrUnknownSavepoint)
	require.ErrorIs(t, ses.RollbackTo("nope"), ErrUnknownSavepoint)
	require.ErrorIs(t, ses.Savepoint("bad name"), ErrInvalidName)

	require.NoError(t, ses.Commit())
	require.Equal(t, []string{"base"}, keys(t, store.Reader(), ""))
}

func TestKVSession_ReleaseMergesNestedSavepoints(t *testing.T) {
	store, _ := newTestStore(t)
	ses := begin(t, store)
	require.NoError(t, ses.Savepoint("a"))
	require.NoError(t, ses.Put([]byte("k1"), []byte("1")))
	require.NoError(t, ses.Savepoint("b"))
	require.NoError(t, ses.Put([]byte("k2"), []byte("2")))
	// releasing "a" releases "b" too
	require.NoError(t, ses.Release("a"))
	require.ErrorIs(t, ses.Release("b"), ErrUnknownSavepoint)
	require.NoError(t, ses.Commit())
	require.Equal(t, []string{"k1", "k2"}, keys(t, store.Reader(), "k"))
}

func TestKVSession_ScanMergesCommittedAndPending(t *testing.T) {
	store, db := newTestStore(t)
	require.NoError(t, db.Write([]byte("p/a"), []byte("a")))
	require.NoError(t, db.Write([]byte("p/c"), []byte("c")))
	require.NoError(t, db.Write([]byte("q/a"), []byte("x")))

	ses := begin(t, store)
	require.NoError(t, ses.Put([]byte("p/b"), []byte("b")))
	require.NoError(t, ses.Delete([]byte("p/c")))
	var values []string
	require.NoError(t, ses.Scan([]byte("p/"), func(_, value []byte) error {
		values = append(values, string(value))
		return nil
	}))
	require.Equal(t, []string{"a", "b"}, values)

	require.NoError(t, ses.DeletePrefix([]byte("p/")))
	require.Empty(t, keys(t, ses, "p/"))
	require.Equal(t, []string{"q/a"}, keys(t, ses, ""))
	require.NoError(t, ses.Commit())
	require.Equal(t, []string{"q/a"}, keys(t, store.Reader(), ""))
}

func TestKVSession_Prepare(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	ses := begin(t, store)
	require.NoError(t, ses.Put([]byte("k"), []byte("v")))
	require.NoError(t, ses.Prepare("block_1"))
	require.ErrorIs(t, ses.Put([]byte("k"), []byte("v")), ErrTxDone)
	_, found := get(t, store.Reader(), "k")
	require.False(t, found)

	ses = begin(t, store)
	require.ErrorContains(t, ses.Prepare("block_1"), "already prepared")
	require.ErrorIs(t, ses.Rollback(), ErrTxDone)

	require.NoError(t, store.CommitPrepared(ctx, "block_1"))
	_, found = get(t, store.Reader(), "k")
	require.True(t, found)
	require.ErrorIs(t, store.CommitPrepared(ctx, "block_1"), ErrNotPrepared)

	ses = begin(t, store)
	require.NoError(t, ses.Delete([]byte("k")))
	require.NoError(t, ses.Prepare("block_2"))
	require.NoError(t, store.RollbackPrepared(ctx, "block_2"))
	require.ErrorIs(t, store.RollbackPrepared(ctx, "block_2"), ErrNotPrepared)
	_, found = get(t, store.Reader(), "k")
	require.True(t, found)
}

func TestKVStore_Unavailable(t *testing.T) {
	store, db := newTestStore(t)
	ses := begin(t, store)
	require.NoError(t, ses.Put([]byte("k"), []byte("v")))

	require.NoError(t, db.Close())
	require.ErrorIs(t, store.Ping(context.Background()), ErrUnavailable)
	_, err := store.Begin(context.Background())
	require.True(t, Unavailable(err))
	_, _, err = store.Reader().Get([]byte("k"))
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, store.Reader().Scan(nil, func(_, _ []byte) error { return nil }), ErrUnavailable)
	// pending changes are still readable, committed are not
	v, found := get(t, ses, "k")
	require.True(t, found)
	require.Equal(t, "v", v)
	_, _, err = ses.Get([]byte("other"))
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, ses.Commit(), ErrUnavailable)
	require.ErrorIs(t, ses.Rollback(), ErrTxDone)

	db.Reopen()
	require.NoError(t, store.Ping(context.Background()))
	_, found = get(t, store.Reader(), "k")
	require.False(t, found)
}

func TestKVStore_CanceledContext(t *testing.T) {
	store, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.Begin(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestValidName(t *testing.T) {
	require.True(t, ValidName("savepoint_1"))
	require.True(t, ValidName("tx_ABC"))
	require.False(t, ValidName(""))
	require.False(t, ValidName("a;b"))
	require.False(t, ValidName("with space"))
	require.False(t, ValidName(string(make([]byte, 64))))
}
