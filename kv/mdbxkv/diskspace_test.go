package mdbxkv

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealdb-sub027/errs"
)

// S5: usage crossing 80% of the configured limit flips Normal -> RAD; a
// write-bearing transaction is then refused at Admit, while deletes and
// reads still pass. Usage dropping back below the threshold flips RAD ->
// Normal and admits writes again.
func TestDiskSpaceManagerRADTransition(t *testing.T) {
	const limit = 1000
	usage := uint64(0)
	m := NewDiskSpaceManager(limit, func() (uint64, error) { return usage, nil })

	state, err := m.LatestState()
	require.NoError(t, err)
	require.Equal(t, StateNormal, state)
	require.NoError(t, m.Admit(TxHasWrites))
	require.NoError(t, m.Admit(TxHasDeletes))

	usage = 850 // 85% >= 80% threshold
	state, err = m.LatestState()
	require.NoError(t, err)
	require.Equal(t, StateReadAndDeletionOnly, state)

	err = m.Admit(TxHasWrites)
	require.Error(t, err)
	require.Equal(t, errs.ReadAndDeletionOnly, errs.KindOf(err))

	require.NoError(t, m.Admit(TxHasDeletes))
	require.NoError(t, m.Admit(TxReadsOnly))

	usage = 200 // back under threshold after deletes+compaction
	state, err = m.LatestState()
	require.NoError(t, err)
	require.Equal(t, StateNormal, state)
	require.NoError(t, m.Admit(TxHasWrites))
}

// A zero-configured limit disables disk-space safety entirely (spec.md §6:
// "zero-defaulted to off").
func TestDiskSpaceManagerDisabledByDefault(t *testing.T) {
	m := NewDiskSpaceManager(0, func() (uint64, error) { return 1 << 40, nil })
	state, err := m.LatestState()
	require.NoError(t, err)
	require.Equal(t, StateNormal, state)
	require.NoError(t, m.Admit(TxHasWrites))
}

func TestTransactionStateObserveMonotonic(t *testing.T) {
	var ts TransactionState
	ts.Observe(TxHasDeletes)
	require.Equal(t, TxHasDeletes, ts)
	ts.Observe(TxReadsOnly) // must not downgrade
	require.Equal(t, TxHasDeletes, ts)
	ts.Observe(TxHasWrites)
	require.Equal(t, TxHasWrites, ts)
}
