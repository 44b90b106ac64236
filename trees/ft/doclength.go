// Package ft implements the full-text doc-length map (C9): a DocId ->
// document-length map backed by the generic B-tree (C8), used by
// BM25-style scoring to normalize term frequency against document length.
// Grounded verbatim on original_source/core/src/idx/ft/doclength.rs.
package ft

import (
	"context"
	"encoding/binary"

	"github.com/surrealdb/surrealdb-sub027/kv"
	"github.com/surrealdb/surrealdb-sub027/trees"
)

type DocID uint64
type DocLength = trees.Payload

func docKey(id DocID) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

// DocLengths is the doc-length map for one full-text index.
type DocLengths struct {
	ix *trees.Index
}

func NewDocLengths(store *trees.Store, order int) *DocLengths {
	return &DocLengths{ix: trees.NewIndex(store, order)}
}

func (d *DocLengths) Get(ctx context.Context, tx kv.Tx, id DocID) (DocLength, bool, error) {
	return d.ix.Search(ctx, tx, docKey(id))
}

func (d *DocLengths) Set(ctx context.Context, tx kv.RwTx, id DocID, length DocLength) error {
	return d.ix.Insert(ctx, tx, docKey(id), length)
}

// Remove deletes a doc's length entry, returning the removed length if the
// doc was present (`remove_doc_length`'s Option<Payload>).
func (d *DocLengths) Remove(ctx context.Context, tx kv.RwTx, id DocID) (DocLength, bool, error) {
	length, found, err := d.ix.Search(ctx, tx, docKey(id))
	if err != nil || !found {
		return 0, false, err
	}
	if _, err := d.ix.Delete(ctx, tx, docKey(id)); err != nil {
		return 0, false, err
	}
	return length, true, nil
}

func (d *DocLengths) Statistics(ctx context.Context, tx kv.Tx) (trees.Statistics, error) {
	return d.ix.Statistics(ctx, tx)
}
