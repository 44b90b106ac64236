package val

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealdb-sub027/errs"
)

type widgetV2 struct {
	Name  string
	Count int
}

type widgetV1 struct {
	Name string
}

func widgetSchema() *Registry {
	reg := NewRegistry()
	reg.Register(&Schema{
		Name:    "widget",
		Current: 2,
		Migrations: map[uint8]Migration{
			1: func(old any) (any, error) {
				m := old.(map[string]any)
				name, _ := m["Name"].(string)
				return widgetV2{Name: name, Count: 0}, nil
			},
		},
	})
	return reg
}

func TestEncodeDecodeRoundTripCurrentRevision(t *testing.T) {
	reg := widgetSchema()
	in := widgetV2{Name: "bolt", Count: 3}

	data, err := Encode(reg, "widget", in)
	require.NoError(t, err)
	require.Equal(t, byte(2), data[0], "envelope must stamp the schema's current revision")

	var out widgetV2
	require.NoError(t, Decode(reg, "widget", data, &out))
	require.Equal(t, in, out)
}

func TestEncodeCompressesAboveThreshold(t *testing.T) {
	reg := widgetSchema()
	small := widgetV2{Name: "x", Count: 1}
	big := widgetV2{Name: strings.Repeat("a", CompressionThreshold*2), Count: 1}

	smallData, err := Encode(reg, "widget", small)
	require.NoError(t, err)
	require.Equal(t, flagPlain, smallData[1])

	bigData, err := Encode(reg, "widget", big)
	require.NoError(t, err)
	require.Equal(t, flagCompressed, bigData[1])

	var out widgetV2
	require.NoError(t, Decode(reg, "widget", bigData, &out))
	require.Equal(t, big, out)
}

// A payload stamped at a prior revision must run through the registered
// migration to reach the current in-memory shape.
func TestDecodeMigratesOlderRevision(t *testing.T) {
	reg := widgetSchema()

	oldReg := NewRegistry()
	oldReg.Register(&Schema{Name: "widget", Current: 1})
	oldData, err := Encode(oldReg, "widget", widgetV1{Name: "legacy"})
	require.NoError(t, err)
	require.Equal(t, byte(1), oldData[0])

	var out widgetV2
	require.NoError(t, Decode(reg, "widget", oldData, &out))
	require.Equal(t, widgetV2{Name: "legacy", Count: 0}, out)
}

func TestDecodeUnknownRevisionIsIncompatible(t *testing.T) {
	reg := widgetSchema()
	data := []byte{99, flagPlain, 0x80}

	err := Decode(reg, "widget", data, &widgetV2{})
	require.Error(t, err)
	require.Equal(t, errs.IncompatibleRevision, errs.KindOf(err))
}

func TestDecodeTruncatedEnvelope(t *testing.T) {
	reg := widgetSchema()
	err := Decode(reg, "widget", []byte{1}, &widgetV2{})
	require.Error(t, err)
	require.Equal(t, errs.IncompatibleRevision, errs.KindOf(err))
}

func TestEncodeUnknownSchema(t *testing.T) {
	reg := NewRegistry()
	_, err := Encode(reg, "missing", widgetV2{})
	require.Error(t, err)
	require.Equal(t, errs.Internal, errs.KindOf(err))
}
