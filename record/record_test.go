package record

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealdb-sub027/key"
	"github.com/surrealdb/surrealdb-sub027/kv"
	"github.com/surrealdb/surrealdb-sub027/kv/memkv"
	"github.com/surrealdb/surrealdb-sub027/txn"
)

func TestSetGetDeleteRecord(t *testing.T) {
	ctx := context.Background()
	backend := memkv.New()
	s := New(1, 1)

	tx, err := txn.Open(ctx, backend, true, kv.Optimistic, 1, 1, 64)
	require.NoError(t, err)
	id := key.NewInt(1)
	require.NoError(t, s.Set(ctx, tx, "person", id, []byte("alice")))
	got, err := s.Get(ctx, tx, "person", id)
	require.NoError(t, err)
	require.Equal(t, []byte("alice"), got)
	require.NoError(t, tx.Commit(ctx))

	tx2, err := txn.Open(ctx, backend, false, kv.Optimistic, 1, 1, 64)
	require.NoError(t, err)
	got2, err := s.Get(ctx, tx2, "person", id)
	require.NoError(t, err)
	require.Equal(t, []byte("alice"), got2)
	require.NoError(t, tx2.Cancel(ctx))

	tx3, err := txn.Open(ctx, backend, true, kv.Optimistic, 1, 1, 64)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, tx3, "person", id))
	require.NoError(t, tx3.Commit(ctx))

	tx4, err := txn.Open(ctx, backend, false, kv.Optimistic, 1, 1, 64)
	require.NoError(t, err)
	got3, err := s.Get(ctx, tx4, "person", id)
	require.NoError(t, err)
	require.Nil(t, got3)
	require.NoError(t, tx4.Cancel(ctx))
}

// S6: `mytb:[1..=5]` range scan over a record-id range.
func TestScanRecordRange(t *testing.T) {
	ctx := context.Background()
	backend := memkv.New()
	s := New(1, 1)

	tx, err := txn.Open(ctx, backend, true, kv.Optimistic, 1, 1, 64)
	require.NoError(t, err)
	for i := int64(1); i <= 10; i++ {
		require.NoError(t, s.Set(ctx, tx, "mytb", key.NewInt(i), []byte("v")))
	}
	require.NoError(t, tx.Commit(ctx))

	tx2, err := txn.Open(ctx, backend, false, kv.Optimistic, 1, 1, 64)
	require.NoError(t, err)
	it, err := s.Scan(ctx, tx2, "mytb", key.NewInt(1), key.NewInt(5), true, 0)
	require.NoError(t, err)
	count := 0
	for it.Next() {
		count++
	}
	it.Close()
	require.Equal(t, 5, count)
	require.NoError(t, tx2.Cancel(ctx))
}

func TestEdges(t *testing.T) {
	ctx := context.Background()
	backend := memkv.New()
	s := New(1, 1)

	tx, err := txn.Open(ctx, backend, true, kv.Optimistic, 1, 1, 64)
	require.NoError(t, err)
	from := key.NewInt(1)
	to := Ref{Table: "person", ID: key.NewInt(2)}
	require.NoError(t, s.AddEdge(ctx, tx, "person", from, "knows", to))
	require.NoError(t, tx.Commit(ctx))

	tx2, err := txn.Open(ctx, backend, false, kv.Optimistic, 1, 1, 64)
	require.NoError(t, err)
	it, err := s.Edges(ctx, tx2, "person", from, key.DirectionOut, 0)
	require.NoError(t, err)
	count := 0
	for it.Next() {
		count++
	}
	it.Close()
	require.Equal(t, 1, count)
	require.NoError(t, tx2.Cancel(ctx))
}
