// Package vs implements the versionstamp oracle (C5): a monotonic 10-byte
// logical clock bound to wall-clock timestamps, scoped per (namespace,
// database) and serialized through the underlying store's transactional
// primitives (no auxiliary lock, per spec.md §5). Grounded on
// original_source/crates/core/src/vs/conv.rs and
// original_source/core/src/kvs/tests/timestamp_to_versionstamp.rs; overflow
// detection reuses erigon-lib/common/math.SafeAdd directly rather than
// reimplementing an overflow check.
package vs

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/surrealdb/surrealdb-sub027/errs"
	"github.com/surrealdb/surrealdb-sub027/key"
	"github.com/surrealdb/surrealdb-sub027/kv"
	erigonmath "github.com/surrealdb/surrealdb-sub027/erigon-lib/common/math"
)

// VS is the 10-byte versionstamp: 8-byte big-endian counter + 2-byte
// big-endian intra-batch sequence, per spec.md §3.
type VS [10]byte

func New(counter uint64, seq uint16) VS {
	var v VS
	binary.BigEndian.PutUint64(v[:8], counter)
	binary.BigEndian.PutUint16(v[8:], seq)
	return v
}

func (v VS) Counter() uint64 { return binary.BigEndian.Uint64(v[:8]) }
func (v VS) Seq() uint16     { return binary.BigEndian.Uint16(v[8:]) }

// Less reports whether v sorts strictly before o, which for this
// big-endian fixed-width encoding is simple byte-wise comparison.
func (v VS) Less(o VS) bool {
	for i := range v {
		if v[i] != o[i] {
			return v[i] < o[i]
		}
	}
	return false
}

// Zero and Max bound every possible versionstamp, usable as scan bounds for
// "from genesis" / "to infinity" change-feed windows.
var (
	Zero = VS{}
	Max  = VS{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
)

const (
	counterStateKind  key.SubKind = 200
	timestampMapKind  key.SubKind = 201
)

// Oracle tracks the current versionstamp counter and the ts->vs mapping
// table for one (namespace, database) pair, persisted through a kv.RwTx so
// state survives process restarts and stays consistent with the rest of
// the transaction's writes.
type Oracle struct {
	nsID, dbID uint32
}

func NewOracle(nsID, dbID uint32) *Oracle {
	return &Oracle{nsID: nsID, dbID: dbID}
}

func (o *Oracle) stateKey() []byte {
	return key.EncodeSub(o.nsID, o.dbID, "", 0, counterStateKind, nil)
}

func (o *Oracle) tsKey(ts int64) []byte {
	var suffix [8]byte
	binary.BigEndian.PutUint64(suffix[:], uint64(ts))
	return key.EncodeSub(o.nsID, o.dbID, "", 0, timestampMapKind, suffix[:])
}

// ReadVS returns the current versionstamp for (ns, db) without advancing
// it, i.e. `read_vs`.
func (o *Oracle) ReadVS(ctx context.Context, tx kv.Tx) (VS, error) {
	raw, err := tx.Get(ctx, o.stateKey())
	if err != nil {
		return VS{}, errs.Wrap(errs.Internal, "vs: read counter state", err)
	}
	if raw == nil {
		return VS{}, nil
	}
	if len(raw) != 8 {
		return VS{}, errs.New(errs.Internal, "vs: corrupt counter state")
	}
	return New(binary.BigEndian.Uint64(raw), 0), nil
}

// AdvanceVS strictly increases the (ns, db) counter and returns the fresh
// versionstamp, i.e. `advance_vs`. Must be called within an RwTx so the
// bump is atomic with whatever commit it belongs to.
func (o *Oracle) AdvanceVS(ctx context.Context, tx kv.RwTx) (VS, error) {
	cur, err := o.ReadVS(ctx, tx)
	if err != nil {
		return VS{}, err
	}
	next, overflowed := erigonmath.SafeAdd(cur.Counter(), 1)
	if overflowed {
		return VS{}, errs.New(errs.VsOverflow, "vs: 64-bit counter exhausted")
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := tx.Set(ctx, o.stateKey(), buf); err != nil {
		return VS{}, err
	}
	return New(next, 0), nil
}

// MapTsToVS persists ts -> the current versionstamp, i.e. `map_ts_to_vs`.
// Per §4.5, repeated ticks for the same timestamp reuse the existing
// entry (PutC-style no-clobber), while a tick at a new timestamp always
// writes a fresh entry so reverse lookup stays non-decreasing.
func (o *Oracle) MapTsToVS(ctx context.Context, tx kv.RwTx, ts time.Time) error {
	cur, err := o.ReadVS(ctx, tx)
	if err != nil {
		return err
	}
	k := o.tsKey(ts.UnixNano())
	existing, err := tx.Get(ctx, k)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil // same timestamp already recorded; reuse it
	}
	return tx.Set(ctx, k, cur[:])
}

// MapVSToTS resolves the largest ts whose recorded versionstamp is <=
// target, i.e. `map_vs_to_ts`.
func (o *Oracle) MapVSToTS(ctx context.Context, tx kv.Tx, target VS) (time.Time, bool, error) {
	low, high := key.SubPrefix(o.nsID, o.dbID, "", 0, timestampMapKind)
	it, err := tx.Scan(ctx, kv.Range{Low: low, High: high}, 0, true)
	if err != nil {
		return time.Time{}, false, err
	}
	defer it.Close()

	for it.Next() {
		v := it.Value()
		if len(v) != 10 {
			continue
		}
		var cand VS
		copy(cand[:], v)
		if !target.Less(cand) {
			suffix := it.Key()[len(it.Key())-8:]
			ns := binary.BigEndian.Uint64(suffix)
			return time.Unix(0, int64(ns)), true, nil
		}
	}
	return time.Time{}, false, nil
}
