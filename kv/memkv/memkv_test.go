package memkv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealdb-sub027/errs"
	"github.com/surrealdb/surrealdb-sub027/kv"
)

// Invariant 3: after commit every written key is visible; after cancel
// none are.
func TestCommitVisibilityAndCancelNoEffect(t *testing.T) {
	ctx := context.Background()
	s := New()

	wtx, err := s.Begin(ctx, true, kv.Optimistic)
	require.NoError(t, err)
	rw := wtx.(kv.RwTx)
	require.NoError(t, rw.Set(ctx, []byte("a"), []byte("1")))
	require.NoError(t, rw.Commit(ctx))

	rtx, err := s.Begin(ctx, false, kv.Optimistic)
	require.NoError(t, err)
	v, err := rtx.Get(ctx, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
	require.NoError(t, rtx.Cancel(ctx))

	wtx2, err := s.Begin(ctx, true, kv.Optimistic)
	require.NoError(t, err)
	rw2 := wtx2.(kv.RwTx)
	require.NoError(t, rw2.Set(ctx, []byte("b"), []byte("2")))
	require.NoError(t, rw2.Cancel(ctx))

	rtx2, err := s.Begin(ctx, false, kv.Optimistic)
	require.NoError(t, err)
	v2, err := rtx2.Get(ctx, []byte("b"))
	require.NoError(t, err)
	require.Nil(t, v2, "canceled txn must have no observable effect")
	require.NoError(t, rtx2.Cancel(ctx))
}

func TestPutFailsIfExists(t *testing.T) {
	ctx := context.Background()
	s := New()

	wtx, err := s.Begin(ctx, true, kv.Optimistic)
	require.NoError(t, err)
	rw := wtx.(kv.RwTx)
	require.NoError(t, rw.Put(ctx, []byte("k"), []byte("v1")))
	err = rw.Put(ctx, []byte("k"), []byte("v2"))
	require.Error(t, err)
	require.Equal(t, errs.KeyAlreadyExists, errs.KindOf(err))
	require.NoError(t, rw.Commit(ctx))
}

func TestPutCAndDelC(t *testing.T) {
	ctx := context.Background()
	s := New()

	wtx, err := s.Begin(ctx, true, kv.Optimistic)
	require.NoError(t, err)
	rw := wtx.(kv.RwTx)
	require.NoError(t, rw.Set(ctx, []byte("k"), []byte("v1")))
	require.NoError(t, rw.Commit(ctx))

	wtx2, err := s.Begin(ctx, true, kv.Optimistic)
	require.NoError(t, err)
	rw2 := wtx2.(kv.RwTx)
	err = rw2.PutC(ctx, []byte("k"), []byte("v2"), []byte("wrong"))
	require.Error(t, err)
	require.Equal(t, errs.PreconditionFailed, errs.KindOf(err))

	require.NoError(t, rw2.PutC(ctx, []byte("k"), []byte("v2"), []byte("v1")))
	require.NoError(t, rw2.Commit(ctx))

	wtx3, err := s.Begin(ctx, true, kv.Optimistic)
	require.NoError(t, err)
	rw3 := wtx3.(kv.RwTx)
	err = rw3.DelC(ctx, []byte("k"), []byte("wrong"))
	require.Error(t, err)
	require.Equal(t, errs.PreconditionFailed, errs.KindOf(err))
	require.NoError(t, rw3.DelC(ctx, []byte("k"), []byte("v2")))
	require.NoError(t, rw3.Commit(ctx))

	rtx, err := s.Begin(ctx, false, kv.Optimistic)
	require.NoError(t, err)
	v, err := rtx.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.Nil(t, v)
	require.NoError(t, rtx.Cancel(ctx))
}

// An optimistic writer whose touched key was mutated by another commit
// since its snapshot was taken must fail at Commit with Conflict.
func TestOptimisticConflict(t *testing.T) {
	ctx := context.Background()
	s := New()

	wtx, err := s.Begin(ctx, true, kv.Optimistic)
	require.NoError(t, err)
	rw := wtx.(kv.RwTx)
	require.NoError(t, rw.Set(ctx, []byte("k"), []byte("v0")))
	require.NoError(t, rw.Commit(ctx))

	txA, err := s.Begin(ctx, true, kv.Optimistic)
	require.NoError(t, err)
	rwA := txA.(kv.RwTx)
	txB, err := s.Begin(ctx, true, kv.Optimistic)
	require.NoError(t, err)
	rwB := txB.(kv.RwTx)

	require.NoError(t, rwA.Set(ctx, []byte("k"), []byte("vA")))
	require.NoError(t, rwA.Commit(ctx))

	require.NoError(t, rwB.Set(ctx, []byte("k"), []byte("vB")))
	err = rwB.Commit(ctx)
	require.Error(t, err)
	require.Equal(t, errs.Conflict, errs.KindOf(err))

	rtx, err := s.Begin(ctx, false, kv.Optimistic)
	require.NoError(t, err)
	v, err := rtx.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("vA"), v, "the losing commit must not have applied")
	require.NoError(t, rtx.Cancel(ctx))
}

func TestDelRangeAndDelPrefix(t *testing.T) {
	ctx := context.Background()
	s := New()

	wtx, err := s.Begin(ctx, true, kv.Optimistic)
	require.NoError(t, err)
	rw := wtx.(kv.RwTx)
	for _, k := range []string{"a/1", "a/2", "a/3", "b/1"} {
		require.NoError(t, rw.Set(ctx, []byte(k), []byte("v")))
	}
	require.NoError(t, rw.Commit(ctx))

	wtx2, err := s.Begin(ctx, true, kv.Optimistic)
	require.NoError(t, err)
	rw2 := wtx2.(kv.RwTx)
	require.NoError(t, rw2.DelPrefix(ctx, []byte("a/")))
	require.NoError(t, rw2.Commit(ctx))

	rtx, err := s.Begin(ctx, false, kv.Optimistic)
	require.NoError(t, err)
	it, err := rtx.Scan(ctx, kv.Range{}, 0, false)
	require.NoError(t, err)
	var remaining []string
	for it.Next() {
		remaining = append(remaining, string(it.Key()))
	}
	it.Close()
	require.Equal(t, []string{"b/1"}, remaining)
	require.NoError(t, rtx.Cancel(ctx))
}
