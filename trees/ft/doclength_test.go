package ft

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealdb-sub027/kv"
	"github.com/surrealdb/surrealdb-sub027/kv/memkv"
	"github.com/surrealdb/surrealdb-sub027/trees"
)

// mirrors original_source/core/src/idx/ft/doclength.rs's test_doc_lengths.
func TestDocLengths(t *testing.T) {
	const order = 7
	ctx := context.Background()
	backend := memkv.New()
	caches := trees.NewCaches()
	store := trees.NewStore(caches, trees.FlavorLRU, 100, 1, 1, "tb", 1)
	dl := NewDocLengths(store, order)

	{
		tx, err := backend.Begin(ctx, false, kv.Optimistic)
		require.NoError(t, err)
		stats, err := dl.Statistics(ctx, tx)
		require.NoError(t, err)
		require.Equal(t, uint64(0), stats.KeyCount)
		_, found, err := dl.Get(ctx, tx, 99)
		require.NoError(t, err)
		require.False(t, found)
		require.NoError(t, tx.Cancel(ctx))
	}

	{
		rtx, err := backend.Begin(ctx, true, kv.Optimistic)
		require.NoError(t, err)
		rw := rtx.(kv.RwTx)
		require.NoError(t, dl.Set(ctx, rw, 99, 199))
		require.NoError(t, rw.Commit(ctx))
	}

	{
		tx, err := backend.Begin(ctx, false, kv.Optimistic)
		require.NoError(t, err)
		stats, err := dl.Statistics(ctx, tx)
		require.NoError(t, err)
		require.Equal(t, uint64(1), stats.KeyCount)
		got, found, err := dl.Get(ctx, tx, 99)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, DocLength(199), got)
		require.NoError(t, tx.Cancel(ctx))
	}

	{
		rtx, err := backend.Begin(ctx, true, kv.Optimistic)
		require.NoError(t, err)
		rw := rtx.(kv.RwTx)
		require.NoError(t, dl.Set(ctx, rw, 99, 299))
		require.NoError(t, rw.Commit(ctx))
	}

	{
		tx, err := backend.Begin(ctx, false, kv.Optimistic)
		require.NoError(t, err)
		got, found, err := dl.Get(ctx, tx, 99)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, DocLength(299), got)
		require.NoError(t, tx.Cancel(ctx))
	}

	{
		rtx, err := backend.Begin(ctx, true, kv.Optimistic)
		require.NoError(t, err)
		rw := rtx.(kv.RwTx)
		removed, found, err := dl.Remove(ctx, rw, 99)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, DocLength(299), removed)
		_, found, err = dl.Remove(ctx, rw, 99)
		require.NoError(t, err)
		require.False(t, found)
		require.NoError(t, rw.Commit(ctx))
	}

	{
		tx, err := backend.Begin(ctx, false, kv.Optimistic)
		require.NoError(t, err)
		_, found, err := dl.Get(ctx, tx, 99)
		require.NoError(t, err)
		require.False(t, found)
		require.NoError(t, tx.Cancel(ctx))
	}
}
