package hnsw

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealdb-sub027/kv"
	"github.com/surrealdb/surrealdb-sub027/kv/memkv"
)

func TestIndexInsertAndKnnSearch(t *testing.T) {
	ctx := context.Background()
	backend := memkv.New()
	params := DefaultParams(2, MetricEuclidean)

	points := map[string][]float32{
		"r1": {0, 0},
		"r2": {1, 0},
		"r3": {10, 10},
	}

	rtx, err := backend.Begin(ctx, true, kv.Optimistic)
	require.NoError(t, err)
	rw := rtx.(kv.RwTx)
	ix, err := Open(ctx, rw, 1, 1, "tb", 1, params)
	require.NoError(t, err)
	for rk, v := range points {
		require.NoError(t, ix.IndexDocument(ctx, rw, []byte(rk), [][]float32{v}))
	}
	require.NoError(t, rw.Commit(ctx))

	tx, err := backend.Begin(ctx, false, kv.Optimistic)
	require.NoError(t, err)
	defer tx.Cancel(ctx)
	ix2, err := Open(ctx, tx, 1, 1, "tb", 1, params)
	require.NoError(t, err)

	results, err := ix2.KnnSearch(ctx, tx, []float32{0, 0}, 2, 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.True(t, len(results) <= 2)
	require.Equal(t, "r1", string(results[0].RecordKeyBytes))
}

// S4: two records sharing the same vector collapse onto one graph element
// and one bucket; removing one leaves the other, removing the last empties
// the bucket and drops the element, per invariant 7.
func TestIndexSharedVectorBucketParity(t *testing.T) {
	ctx := context.Background()
	backend := memkv.New()
	params := DefaultParams(3, MetricEuclidean)
	vec := []float32{1, 0, 0}

	rtx, err := backend.Begin(ctx, true, kv.Optimistic)
	require.NoError(t, err)
	rw := rtx.(kv.RwTx)
	ix, err := Open(ctx, rw, 1, 1, "tb", 1, params)
	require.NoError(t, err)
	require.NoError(t, ix.IndexDocument(ctx, rw, []byte("r:1"), [][]float32{vec}))
	require.NoError(t, ix.IndexDocument(ctx, rw, []byte("r:2"), [][]float32{vec}))
	require.NoError(t, rw.Commit(ctx))

	vecDocs := NewVecDocs(1, 1, "tb", 1)

	checkBucket := func(wantDocIDs []DocID) {
		tx, err := backend.Begin(ctx, false, kv.Optimistic)
		require.NoError(t, err)
		defer tx.Cancel(ctx)
		bm, err := vecDocs.GetDocs(ctx, tx, vec)
		require.NoError(t, err)
		if len(wantDocIDs) == 0 {
			require.Nil(t, bm)
			return
		}
		require.NotNil(t, bm)
		require.Equal(t, uint64(len(wantDocIDs)), bm.GetCardinality())
		for _, id := range wantDocIDs {
			require.True(t, bm.Contains(uint64(id)))
		}
	}

	readDocs := func(key string) DocID {
		tx, err := backend.Begin(ctx, false, kv.Optimistic)
		require.NoError(t, err)
		defer tx.Cancel(ctx)
		d, err := NewHnswDocs(ctx, tx, 1, 1, "tb", 1)
		require.NoError(t, err)
		raw, err := tx.Get(ctx, d.hiKey([]byte(key)))
		require.NoError(t, err)
		require.NotNil(t, raw)
		return DocID(binary.BigEndian.Uint64(raw))
	}
	docID1 := readDocs("r:1")
	docID2 := readDocs("r:2")
	require.NotEqual(t, docID1, docID2)

	checkBucket([]DocID{docID1, docID2})

	wtx, err := backend.Begin(ctx, true, kv.Optimistic)
	require.NoError(t, err)
	rw2 := wtx.(kv.RwTx)
	ix2, err := Open(ctx, rw2, 1, 1, "tb", 1, params)
	require.NoError(t, err)
	require.NoError(t, ix2.RemoveDocument(ctx, rw2, []byte("r:1"), [][]float32{vec}))
	require.NoError(t, rw2.Commit(ctx))

	checkBucket([]DocID{docID2})

	wtx2, err := backend.Begin(ctx, true, kv.Optimistic)
	require.NoError(t, err)
	rw3 := wtx2.(kv.RwTx)
	ix3, err := Open(ctx, rw3, 1, 1, "tb", 1, params)
	require.NoError(t, err)
	require.NoError(t, ix3.RemoveDocument(ctx, rw3, []byte("r:2"), [][]float32{vec}))
	require.NoError(t, rw3.Commit(ctx))

	checkBucket(nil)

	tx, err := backend.Begin(ctx, false, kv.Optimistic)
	require.NoError(t, err)
	defer tx.Cancel(ctx)
	ix4, err := Open(ctx, tx, 1, 1, "tb", 1, params)
	require.NoError(t, err)
	results, err := ix4.KnnSearch(ctx, tx, vec, 1, 10)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestIndexRemoveDocument(t *testing.T) {
	ctx := context.Background()
	backend := memkv.New()
	params := DefaultParams(2, MetricEuclidean)

	rtx, err := backend.Begin(ctx, true, kv.Optimistic)
	require.NoError(t, err)
	rw := rtx.(kv.RwTx)
	ix, err := Open(ctx, rw, 1, 1, "tb", 1, params)
	require.NoError(t, err)
	require.NoError(t, ix.IndexDocument(ctx, rw, []byte("r1"), [][]float32{{0, 0}}))
	require.NoError(t, ix.RemoveDocument(ctx, rw, []byte("r1"), [][]float32{{0, 0}}))
	require.NoError(t, rw.Commit(ctx))

	tx, err := backend.Begin(ctx, false, kv.Optimistic)
	require.NoError(t, err)
	defer tx.Cancel(ctx)
	ix2, err := Open(ctx, tx, 1, 1, "tb", 1, params)
	require.NoError(t, err)
	results, err := ix2.KnnSearch(ctx, tx, []float32{0, 0}, 2, 10)
	require.NoError(t, err)
	require.Empty(t, results)
}
