package vs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealdb-sub027/kv"
	"github.com/surrealdb/surrealdb-sub027/kv/memkv"
)

// S1: tick(ts) then read_vs must be strictly increasing across ticks at
// distinct timestamps.
func TestTickOrdering(t *testing.T) {
	ctx := context.Background()
	backend := memkv.New()
	o := NewOracle(1, 1)

	tick := func(ts int64) VS {
		rtx, err := backend.Begin(ctx, true, kv.Optimistic)
		require.NoError(t, err)
		rw := rtx.(kv.RwTx)
		_, err = o.AdvanceVS(ctx, rw)
		require.NoError(t, err)
		require.NoError(t, o.MapTsToVS(ctx, rw, time.Unix(0, ts)))
		require.NoError(t, rw.Commit(ctx))

		readTx, err := backend.Begin(ctx, false, kv.Optimistic)
		require.NoError(t, err)
		got, err := o.ReadVS(ctx, readTx)
		require.NoError(t, err)
		require.NoError(t, readTx.Cancel(ctx))
		return got
	}

	vs1 := tick(0)
	vs2 := tick(1)
	vs3 := tick(2)

	require.True(t, vs1.Less(vs2))
	require.True(t, vs2.Less(vs3))
}

// Repeated ticks at the same timestamp reuse the existing ts->vs entry, but
// a tick with a new timestamp always writes a fresh one, per §4.5.
func TestMapTsToVSReuseAndFresh(t *testing.T) {
	ctx := context.Background()
	backend := memkv.New()
	o := NewOracle(1, 1)

	rtx, err := backend.Begin(ctx, true, kv.Optimistic)
	require.NoError(t, err)
	rw := rtx.(kv.RwTx)
	_, err = o.AdvanceVS(ctx, rw)
	require.NoError(t, err)
	require.NoError(t, o.MapTsToVS(ctx, rw, time.Unix(0, 100)))
	require.NoError(t, o.MapTsToVS(ctx, rw, time.Unix(0, 100))) // same ts, reused
	require.NoError(t, rw.Commit(ctx))

	rtx2, err := backend.Begin(ctx, true, kv.Optimistic)
	require.NoError(t, err)
	rw2 := rtx2.(kv.RwTx)
	_, err = o.AdvanceVS(ctx, rw2)
	require.NoError(t, err)
	require.NoError(t, o.MapTsToVS(ctx, rw2, time.Unix(0, 200))) // new ts, fresh entry
	require.NoError(t, rw2.Commit(ctx))

	readTx, err := backend.Begin(ctx, false, kv.Optimistic)
	require.NoError(t, err)
	current, err := o.ReadVS(ctx, readTx)
	require.NoError(t, err)
	resolved, found, err := o.MapVSToTS(ctx, readTx, current)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(200), resolved.UnixNano())
	require.NoError(t, readTx.Cancel(ctx))
}
