package hnsw

import (
	"context"
	"encoding/binary"

	roaring "github.com/RoaringBitmap/roaring/v2"

	"github.com/surrealdb/surrealdb-sub027/key"
	"github.com/surrealdb/surrealdb-sub027/kv"
	"github.com/surrealdb/surrealdb-sub027/val"
)

// DocID is a dense index-local identifier standing in for a record, so the
// graph and vector maps never have to carry a whole record key around.
type DocID uint64

const (
	docDiscState byte = 0x00
	docDiscHI    byte = 0x01 // record-key-bytes -> DocID
	docDiscHD    byte = 0x02 // DocID -> record-key-bytes
)

func docIDBytes(id DocID) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

const docsStateSchema = "hnsw.DocsState"
const elementDocsSchema = "hnsw.ElementDocs"

func init() {
	registry.Register(&val.Schema{Name: docsStateSchema, Current: 1, Migrations: map[uint8]val.Migration{}})
	registry.Register(&val.Schema{Name: elementDocsSchema, Current: 1, Migrations: map[uint8]val.Migration{}})
}

var registry = val.NewRegistry()

// docsState is the persisted doc-id allocator: a roaring-bitmap free list
// of reusable ids plus the next never-used id, grounded verbatim on
// docs.rs's HnswDocsState.
type docsState struct {
	Available []byte // serialized roaring.Bitmap
	NextDocID uint64
}

// HnswDocs maps between a table's record keys and the dense DocIDs the
// graph and vector map actually index, reusing ids freed by Remove via a
// roaring-bitmap free list (docs.rs's HnswDocs).
type HnswDocs struct {
	nsID, dbID uint32
	table      string
	ixID       uint32

	updated bool
	avail   *roaring.Bitmap
	nextID  uint64
}

func NewHnswDocs(ctx context.Context, tx kv.Tx, nsID, dbID uint32, table string, ixID uint32) (*HnswDocs, error) {
	d := &HnswDocs{nsID: nsID, dbID: dbID, table: table, ixID: ixID, avail: roaring.New()}
	raw, err := tx.Get(ctx, d.stateKey())
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return d, nil
	}
	var st docsState
	if err := val.Decode(registry, docsStateSchema, raw, &st); err != nil {
		return nil, err
	}
	if _, err := d.avail.FromBuffer(st.Available); err != nil {
		return nil, err
	}
	d.nextID = st.NextDocID
	return d, nil
}

func (d *HnswDocs) stateKey() []byte {
	return key.EncodeSub(d.nsID, d.dbID, d.table, d.ixID, key.SubHnswDoc, []byte{docDiscState})
}

func (d *HnswDocs) hiKey(recordKeyBytes []byte) []byte {
	return key.EncodeSub(d.nsID, d.dbID, d.table, d.ixID, key.SubHnswDoc, append([]byte{docDiscHI}, recordKeyBytes...))
}

func (d *HnswDocs) hdKey(id DocID) []byte {
	return key.EncodeSub(d.nsID, d.dbID, d.table, d.ixID, key.SubHnswDoc, append([]byte{docDiscHD}, docIDBytes(id)...))
}

func (d *HnswDocs) nextFreeID() DocID {
	d.updated = true
	if !d.avail.IsEmpty() {
		id := d.avail.Minimum()
		d.avail.Remove(id)
		return DocID(id)
	}
	id := d.nextID
	d.nextID++
	return DocID(id)
}

// Resolve returns the existing DocID for recordKeyBytes, allocating and
// persisting a fresh one on first use, matching docs.rs's `resolve`.
func (d *HnswDocs) Resolve(ctx context.Context, tx kv.RwTx, recordKeyBytes []byte) (DocID, error) {
	raw, err := tx.Get(ctx, d.hiKey(recordKeyBytes))
	if err != nil {
		return 0, err
	}
	if raw != nil {
		return DocID(binary.BigEndian.Uint64(raw)), nil
	}
	id := d.nextFreeID()
	if err := tx.Set(ctx, d.hiKey(recordKeyBytes), docIDBytes(id)); err != nil {
		return 0, err
	}
	if err := tx.Set(ctx, d.hdKey(id), recordKeyBytes); err != nil {
		return 0, err
	}
	return id, nil
}

// GetRecordKey reverses a DocID back to its record key bytes.
func (d *HnswDocs) GetRecordKey(ctx context.Context, tx kv.Tx, id DocID) ([]byte, error) {
	return tx.Get(ctx, d.hdKey(id))
}

// Remove deletes the record<->DocID mapping and returns the freed DocID to
// the allocator's free list, matching docs.rs's `remove`.
func (d *HnswDocs) Remove(ctx context.Context, tx kv.RwTx, recordKeyBytes []byte) (DocID, bool, error) {
	raw, err := tx.Get(ctx, d.hiKey(recordKeyBytes))
	if err != nil {
		return 0, false, err
	}
	if raw == nil {
		return 0, false, nil
	}
	id := DocID(binary.BigEndian.Uint64(raw))
	if err := tx.Del(ctx, d.hdKey(id)); err != nil {
		return 0, false, err
	}
	if err := tx.Del(ctx, d.hiKey(recordKeyBytes)); err != nil {
		return 0, false, err
	}
	d.avail.Add(uint64(id))
	d.updated = true
	return id, true, nil
}

// Finish persists the allocator state if it changed this transaction,
// matching docs.rs's `finish`.
func (d *HnswDocs) Finish(ctx context.Context, tx kv.RwTx) error {
	if !d.updated {
		return nil
	}
	buf, err := d.avail.ToBytes()
	if err != nil {
		return err
	}
	data, err := val.Encode(registry, docsStateSchema, docsState{Available: buf, NextDocID: d.nextID})
	if err != nil {
		return err
	}
	return tx.Set(ctx, d.stateKey(), data)
}

// elementDocs is the value stored per distinct vector: the graph element
// id representing it, and the set of DocIDs that share this exact vector
// (deduplication, grounded on docs.rs's ElementDocs + Ids64).
type elementDocs struct {
	ElementID uint64
	Docs      []byte // serialized roaring.Bitmap of DocIDs sharing this vector
}

// VecDocs maps a distinct vector to the graph element representing it and
// the set of documents sharing that exact vector value, so identical
// vectors from different records collapse onto one graph node
// (docs.rs's VecDocs).
type VecDocs struct {
	nsID, dbID uint32
	table      string
	ixID       uint32
}

func NewVecDocs(nsID, dbID uint32, table string, ixID uint32) *VecDocs {
	return &VecDocs{nsID: nsID, dbID: dbID, table: table, ixID: ixID}
}

func (vd *VecDocs) key(vec []float32) []byte {
	return key.EncodeSub(vd.nsID, vd.dbID, vd.table, vd.ixID, key.SubHnswVec, encodeVector(vec))
}

func (vd *VecDocs) get(ctx context.Context, tx kv.Tx, vec []float32) (*elementDocs, *roaring.Bitmap, error) {
	raw, err := tx.Get(ctx, vd.key(vec))
	if err != nil || raw == nil {
		return nil, nil, err
	}
	var ed elementDocs
	if err := val.Decode(registry, elementDocsSchema, raw, &ed); err != nil {
		return nil, nil, err
	}
	bm := roaring.New()
	if _, err := bm.FromBuffer(ed.Docs); err != nil {
		return nil, nil, err
	}
	return &ed, bm, nil
}

// GetDocs returns the DocID set sharing vec, if any.
func (vd *VecDocs) GetDocs(ctx context.Context, tx kv.Tx, vec []float32) (*roaring.Bitmap, error) {
	_, bm, err := vd.get(ctx, tx, vec)
	return bm, err
}

// Insert records that DocID d has vector vec, inserting a fresh graph
// element via insertElement only the first time this exact vector is seen
// (docs.rs's VecDocs::insert).
func (vd *VecDocs) Insert(ctx context.Context, tx kv.RwTx, vec []float32, d DocID, insertElement func() (ElementID, error)) error {
	ed, bm, err := vd.get(ctx, tx, vec)
	if err != nil {
		return err
	}
	if ed == nil {
		eID, err := insertElement()
		if err != nil {
			return err
		}
		bm = roaring.New()
		bm.Add(uint64(d))
		ed = &elementDocs{ElementID: uint64(eID)}
	} else if bm.Contains(uint64(d)) {
		return nil
	} else {
		bm.Add(uint64(d))
	}
	return vd.put(ctx, tx, vec, ed, bm)
}

// Remove drops d from vec's doc set, removing the graph element entirely
// via removeElement once no document references it anymore (docs.rs's
// VecDocs::remove).
func (vd *VecDocs) Remove(ctx context.Context, tx kv.RwTx, vec []float32, d DocID, removeElement func(ElementID) error) error {
	ed, bm, err := vd.get(ctx, tx, vec)
	if err != nil || ed == nil {
		return err
	}
	if !bm.Contains(uint64(d)) {
		return nil
	}
	bm.Remove(uint64(d))
	if bm.IsEmpty() {
		if err := tx.Del(ctx, vd.key(vec)); err != nil {
			return err
		}
		return removeElement(ElementID(ed.ElementID))
	}
	return vd.put(ctx, tx, vec, ed, bm)
}

func (vd *VecDocs) put(ctx context.Context, tx kv.RwTx, vec []float32, ed *elementDocs, bm *roaring.Bitmap) error {
	buf, err := bm.ToBytes()
	if err != nil {
		return err
	}
	ed.Docs = buf
	data, err := val.Encode(registry, elementDocsSchema, *ed)
	if err != nil {
		return err
	}
	return tx.Set(ctx, vd.key(vec), data)
}
