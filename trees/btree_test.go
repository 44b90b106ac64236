package trees

import (
	"context"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealdb-sub027/kv"
	"github.com/surrealdb/surrealdb-sub027/kv/memkv"
)

func intKey(n int) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	return b[:]
}

// Many inserts at a small order force repeated splits (including the root
// splitting and the tree growing a level); every inserted key must remain
// findable afterward.
func TestIndexInsertSplitsAndFindsEveryKey(t *testing.T) {
	ctx := context.Background()
	backend := memkv.New()
	caches := NewCaches()
	store := NewStore(caches, FlavorLRU, 100, 1, 1, "tb", 1)
	ix := NewIndex(store, 4)

	const n = 200
	order := rand.New(rand.NewSource(1)).Perm(n)

	rtx, err := backend.Begin(ctx, true, kv.Optimistic)
	require.NoError(t, err)
	rw := rtx.(kv.RwTx)
	for _, v := range order {
		require.NoError(t, ix.Insert(ctx, rw, intKey(v), Payload(v*10)))
	}
	require.NoError(t, rw.Commit(ctx))

	readTx, err := backend.Begin(ctx, false, kv.Optimistic)
	require.NoError(t, err)
	for v := 0; v < n; v++ {
		got, found, err := ix.Search(ctx, readTx, intKey(v))
		require.NoError(t, err)
		require.True(t, found, "key %d must be found", v)
		require.Equal(t, Payload(v*10), got)
	}
	stats, err := ix.Statistics(ctx, readTx)
	require.NoError(t, err)
	require.Equal(t, uint64(n), stats.KeyCount)
	require.NoError(t, readTx.Cancel(ctx))
}

// Overwriting an existing key updates its payload without changing the key
// count.
func TestIndexInsertOverwrite(t *testing.T) {
	ctx := context.Background()
	backend := memkv.New()
	caches := NewCaches()
	store := NewStore(caches, FlavorLRU, 100, 1, 1, "tb", 1)
	ix := NewIndex(store, 4)

	rtx, err := backend.Begin(ctx, true, kv.Optimistic)
	require.NoError(t, err)
	rw := rtx.(kv.RwTx)
	require.NoError(t, ix.Insert(ctx, rw, intKey(1), Payload(100)))
	require.NoError(t, ix.Insert(ctx, rw, intKey(1), Payload(200)))
	require.NoError(t, rw.Commit(ctx))

	readTx, err := backend.Begin(ctx, false, kv.Optimistic)
	require.NoError(t, err)
	got, found, err := ix.Search(ctx, readTx, intKey(1))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, Payload(200), got)
	stats, err := ix.Statistics(ctx, readTx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.KeyCount)
	require.NoError(t, readTx.Cancel(ctx))
}

// Deleting most keys out of a many-level tree forces repeated
// borrow/merge rebalancing, including the root shrinking by a level; every
// remaining key must still be findable and every removed key absent.
func TestIndexDeleteRebalancesAndShrinksRoot(t *testing.T) {
	ctx := context.Background()
	backend := memkv.New()
	caches := NewCaches()
	store := NewStore(caches, FlavorLRU, 100, 1, 1, "tb", 1)
	ix := NewIndex(store, 4)

	const n = 200
	rtx, err := backend.Begin(ctx, true, kv.Optimistic)
	require.NoError(t, err)
	rw := rtx.(kv.RwTx)
	for v := 0; v < n; v++ {
		require.NoError(t, ix.Insert(ctx, rw, intKey(v), Payload(v)))
	}
	require.NoError(t, rw.Commit(ctx))

	toDelete := rand.New(rand.NewSource(2)).Perm(n)[:n-3]
	rtx2, err := backend.Begin(ctx, true, kv.Optimistic)
	require.NoError(t, err)
	rw2 := rtx2.(kv.RwTx)
	for _, v := range toDelete {
		removed, err := ix.Delete(ctx, rw2, intKey(v))
		require.NoError(t, err)
		require.True(t, removed, "key %d must report removed", v)
	}
	require.NoError(t, rw2.Commit(ctx))

	deleted := make(map[int]bool, len(toDelete))
	for _, v := range toDelete {
		deleted[v] = true
	}

	readTx, err := backend.Begin(ctx, false, kv.Optimistic)
	require.NoError(t, err)
	for v := 0; v < n; v++ {
		_, found, err := ix.Search(ctx, readTx, intKey(v))
		require.NoError(t, err)
		require.Equal(t, !deleted[v], found, "key %d presence mismatch after deletes", v)
	}
	stats, err := ix.Statistics(ctx, readTx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), stats.KeyCount)
	require.NoError(t, readTx.Cancel(ctx))
}

// Deleting a key that was never inserted reports not-found and leaves the
// index untouched.
func TestIndexDeleteMissingKey(t *testing.T) {
	ctx := context.Background()
	backend := memkv.New()
	caches := NewCaches()
	store := NewStore(caches, FlavorLRU, 100, 1, 1, "tb", 1)
	ix := NewIndex(store, 4)

	rtx, err := backend.Begin(ctx, true, kv.Optimistic)
	require.NoError(t, err)
	rw := rtx.(kv.RwTx)
	require.NoError(t, ix.Insert(ctx, rw, intKey(1), Payload(1)))
	removed, err := ix.Delete(ctx, rw, intKey(999))
	require.NoError(t, err)
	require.False(t, removed)
	require.NoError(t, rw.Commit(ctx))
}
