package key

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordKeyRoundTrip(t *testing.T) {
	k := EncodeRecord(1, 1, "person", NewInt(42))
	c, err := DecodeRecord(k, 1, 1, "person")
	require.NoError(t, err)
	require.Equal(t, int64(42), c.Int)
}

func TestRecordOrderingMatchesComponentOrdering(t *testing.T) {
	// Numeric ordering: signed ints must sort the same way encoded as they
	// do unencoded, including across the negative/positive boundary.
	lo := EncodeRecord(1, 1, "t", NewInt(-5))
	hi := EncodeRecord(1, 1, "t", NewInt(5))
	require.True(t, bytes.Compare(lo, hi) < 0)

	// Cross-type ordering: numeric < string < uuid < array < object.
	ints := EncodeRecord(1, 1, "t", NewInt(0))
	strs := EncodeRecord(1, 1, "t", NewString("a"))
	require.True(t, bytes.Compare(ints, strs) < 0)

	id, err := NewUUID("550e8400-e29b-41d4-a716-446655440000")
	require.NoError(t, err)
	uuids := EncodeRecord(1, 1, "t", id)
	require.True(t, bytes.Compare(strs, uuids) < 0)

	arrs := EncodeRecord(1, 1, "t", NewArray(NewInt(1)))
	require.True(t, bytes.Compare(uuids, arrs) < 0)

	objs := EncodeRecord(1, 1, "t", NewObject(map[string]Component{"a": NewInt(1)}))
	require.True(t, bytes.Compare(arrs, objs) < 0)
}

func TestNewUUIDCanonicalizesEquivalentForms(t *testing.T) {
	a, err := NewUUID("550e8400-e29b-41d4-a716-446655440000")
	require.NoError(t, err)
	b, err := NewUUID("550E8400-E29B-41D4-A716-446655440000")
	require.NoError(t, err)
	require.Equal(t, a.Str, b.Str)

	ka := EncodeRecord(1, 1, "t", a)
	kb := EncodeRecord(1, 1, "t", b)
	require.True(t, bytes.Equal(ka, kb))
}

func TestNewUUIDRejectsGarbage(t *testing.T) {
	_, err := NewUUID("not-a-uuid")
	require.Error(t, err)
}

func TestNewRandomUUIDProducesDistinctComponents(t *testing.T) {
	a := NewRandomUUID()
	b := NewRandomUUID()
	require.NotEqual(t, a.Str, b.Str)
	require.Equal(t, compUUID, a.Kind)
}

// S6: `mytb:[1..=5]` inclusive record-id range scan.
func TestRecordRangeInclusiveEnd(t *testing.T) {
	low, high := RecordRange(1, 1, "mytb", NewInt(1), NewInt(5), true)
	k3 := EncodeRecord(1, 1, "mytb", NewInt(3))
	k5 := EncodeRecord(1, 1, "mytb", NewInt(5))
	k6 := EncodeRecord(1, 1, "mytb", NewInt(6))

	require.True(t, bytes.Compare(low, k3) <= 0 && bytes.Compare(k3, high) < 0)
	require.True(t, bytes.Compare(low, k5) <= 0 && bytes.Compare(k5, high) < 0)
	require.False(t, bytes.Compare(low, k6) <= 0 && bytes.Compare(k6, high) < 0)
}

func TestRecordPrefixBoundsAllRecordsInTable(t *testing.T) {
	low, high := RecordPrefix(1, 1, "mytb")
	other := EncodeRecord(1, 1, "othertb", NewInt(1))
	require.False(t, bytes.Compare(low, other) <= 0 && bytes.Compare(other, high) < 0)

	k := EncodeRecord(1, 1, "mytb", NewString("x"))
	require.True(t, bytes.Compare(low, k) <= 0 && bytes.Compare(k, high) < 0)
}

func TestEdgeKeyDirectionsAreDistinguishable(t *testing.T) {
	from := NewInt(1)
	to := RecordKey{Table: "person", Component: NewInt(2)}
	out := EncodeEdge(1, 1, "person", from, DirectionOut, "knows", to)
	in := EncodeEdge(1, 1, "person", from, DirectionIn, "knows", to)
	require.False(t, bytes.Equal(out, in))

	lowOut, highOut := EdgePrefix(1, 1, "person", from, DirectionOut, true)
	require.True(t, bytes.Compare(lowOut, out) <= 0 && bytes.Compare(out, highOut) < 0)
	require.False(t, bytes.Compare(lowOut, in) <= 0 && bytes.Compare(in, highOut) < 0)
}

func TestSubPrefixIsolatesSubKinds(t *testing.T) {
	nodeKey := EncodeSub(1, 1, "t", 7, SubBTreeNode, NodeIDBytes(3))
	stateKey := EncodeSub(1, 1, "t", 7, SubBTreeState, nil)

	low, high := SubPrefix(1, 1, "t", 7, SubBTreeNode)
	require.True(t, bytes.Compare(low, nodeKey) <= 0 && bytes.Compare(nodeKey, high) < 0)
	require.False(t, bytes.Compare(low, stateKey) <= 0 && bytes.Compare(stateKey, high) < 0)
}

func TestChangeFeedRangeOrdersByVersionstamp(t *testing.T) {
	var vsLow, vsMid, vsHigh [10]byte
	vsMid[7] = 5
	vsHigh[7] = 10

	low, high := ChangeFeedRange(1, 1, vsLow, vsHigh)
	midKey := EncodeChangeFeed(1, 1, vsMid, "t")
	require.True(t, bytes.Compare(low, midKey) <= 0 && bytes.Compare(midKey, high) < 0)
}
