package boltkv

import (
	"context"
	"testing"

	"github.com/cuemby/nexus/pkg/kvs"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetGetCommit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tx, err := s.Transaction(ctx, kvs.ReadWrite, kvs.Optimistic)
	require.NoError(t, err)
	require.NoError(t, tx.Set(ctx, []byte("a"), []byte("1")))
	require.NoError(t, tx.Commit(ctx))

	tx2, err := s.Transaction(ctx, kvs.ReadOnly, kvs.Optimistic)
	require.NoError(t, err)
	v, err := tx2.Get(ctx, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
	require.NoError(t, tx2.Cancel(ctx))
}

func TestCancelDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tx, err := s.Transaction(ctx, kvs.ReadWrite, kvs.Optimistic)
	require.NoError(t, err)
	require.NoError(t, tx.Set(ctx, []byte("a"), []byte("1")))
	require.NoError(t, tx.Cancel(ctx))

	tx2, _ := s.Transaction(ctx, kvs.ReadOnly, kvs.Optimistic)
	_, err = tx2.Get(ctx, []byte("a"))
	require.ErrorIs(t, err, kvs.ErrNotFound)
	tx2.Cancel(ctx)
}

func TestStreamOrderedForwardAndBackward(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tx, _ := s.Transaction(ctx, kvs.ReadWrite, kvs.Optimistic)
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, tx.Set(ctx, []byte(k), []byte(k)))
	}
	require.NoError(t, tx.Commit(ctx))

	tx2, _ := s.Transaction(ctx, kvs.ReadOnly, kvs.Optimistic)
	it, err := tx2.Stream(ctx, []byte("a"), []byte("d"), 0, kvs.Forward)
	require.NoError(t, err)
	var got []string
	for {
		kv, ok, err := it.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, string(kv.Key))
	}
	require.Equal(t, []string{"a", "b", "c"}, got)

	// Backward: begin is the descent's exclusive start point, end the
	// inclusive stop threshold.
	back, err := tx2.Stream(ctx, []byte("d"), []byte("a"), 0, kvs.Backward)
	require.NoError(t, err)
	var gotBack []string
	for {
		kv, ok, err := back.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		gotBack = append(gotBack, string(kv.Key))
	}
	require.Equal(t, []string{"c", "b", "a"}, gotBack)
	tx2.Cancel(ctx)
}

func TestSetNXRejectsExisting(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	tx, _ := s.Transaction(ctx, kvs.ReadWrite, kvs.Optimistic)
	require.NoError(t, tx.SetNX(ctx, []byte("k"), []byte("1")))
	require.ErrorIs(t, tx.SetNX(ctx, []byte("k"), []byte("2")), kvs.ErrKeyExists)
	tx.Commit(ctx)
}
