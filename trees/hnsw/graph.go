package hnsw

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/surrealdb/surrealdb-sub027/errs"
	"github.com/surrealdb/surrealdb-sub027/kv"
)

// Params configures one HNSW graph, grounded on index.rs's HnswParams:
// dimension/metric plus the classic M / efConstruction tuning knobs.
type Params struct {
	Dim            int
	Metric         Metric
	M              int // max neighbors per node above layer 0
	MMax0          int // max neighbors per node at layer 0 (conventionally 2*M)
	EfConstruction int
	Ml             float64 // layer-assignment decay, conventionally 1/ln(M)
}

func DefaultParams(dim int, metric Metric) Params {
	const m = 16
	return Params{Dim: dim, Metric: metric, M: m, MMax0: 2 * m, EfConstruction: 100, Ml: 1 / math.Log(float64(m))}
}

// Index is one HNSW vector index: the proximity graph plus the
// record<->DocID and vector<->DocID maps in front of it, grounded on
// index.rs's HnswIndex.
type Index struct {
	nsID, dbID uint32
	table      string
	ixID       uint32
	params     Params

	store   *elementStore
	docs    *HnswDocs
	vecdocs *VecDocs
}

// Open loads (or initializes) an HNSW index's doc-id allocator state.
func Open(ctx context.Context, tx kv.Tx, nsID, dbID uint32, table string, ixID uint32, params Params) (*Index, error) {
	docs, err := NewHnswDocs(ctx, tx, nsID, dbID, table, ixID)
	if err != nil {
		return nil, err
	}
	return &Index{
		nsID: nsID, dbID: dbID, table: table, ixID: ixID, params: params,
		store:   newElementStore(nsID, dbID, table, ixID),
		docs:    docs,
		vecdocs: NewVecDocs(nsID, dbID, table, ixID),
	}, nil
}

// IndexDocument inserts every vector extracted from a record's indexed
// field(s), resolving the record to a DocID first, matching
// index.rs's `index_document`.
func (ix *Index) IndexDocument(ctx context.Context, tx kv.RwTx, recordKeyBytes []byte, vectors [][]float32) error {
	docID, err := ix.docs.Resolve(ctx, tx, recordKeyBytes)
	if err != nil {
		return err
	}
	for _, v := range vectors {
		if len(v) != ix.params.Dim {
			return errs.Newf(errs.DimensionMismatch, "hnsw: vector has dimension %d, index expects %d", len(v), ix.params.Dim)
		}
		if err := ix.vecdocs.Insert(ctx, tx, v, docID, func() (ElementID, error) {
			return ix.insertElement(ctx, tx, v)
		}); err != nil {
			return err
		}
	}
	return ix.docs.Finish(ctx, tx)
}

// RemoveDocument reverses IndexDocument, matching index.rs's
// `remove_document`.
func (ix *Index) RemoveDocument(ctx context.Context, tx kv.RwTx, recordKeyBytes []byte, vectors [][]float32) error {
	docID, found, err := ix.docs.Remove(ctx, tx, recordKeyBytes)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	for _, v := range vectors {
		if err := ix.vecdocs.Remove(ctx, tx, v, docID, func(eID ElementID) error {
			return ix.removeElement(ctx, tx, eID)
		}); err != nil {
			return err
		}
	}
	return ix.docs.Finish(ctx, tx)
}

func randomLayer(ml float64) int {
	r := rand.Float64()
	if r <= 0 {
		r = 1e-12
	}
	return int(math.Floor(-math.Log(r) * ml))
}

func (ix *Index) dist(a, b []float32) (float64, error) {
	return Distance(ix.params.Metric, a, b)
}

func (ix *Index) maxNeighbors(layer int) int {
	if layer == 0 {
		return ix.params.MMax0
	}
	return ix.params.M
}

type candidate struct {
	id   ElementID
	dist float64
}

// insertElement runs the standard multi-layer HNSW insertion: greedy
// single-best descent from the entry point down to the new element's top
// layer, then an ef-width search and neighbor selection at each layer from
// there down to 0, with bidirectional edges pruned to each layer's M.
func (ix *Index) insertElement(ctx context.Context, tx kv.RwTx, vec []float32) (ElementID, error) {
	st, err := ix.store.loadState(ctx, tx)
	if err != nil {
		return 0, err
	}
	id := ElementID(st.NextElement)
	st.NextElement++
	layer := randomLayer(ix.params.Ml)
	e := &element{ID: id, Vector: vec, TopLayer: layer, Neighbors: make(map[int][]uint64)}

	if !st.HasEntry {
		st.HasEntry = true
		st.EntryPoint = uint64(id)
		st.TopLayer = layer
		if err := ix.store.put(ctx, tx, e); err != nil {
			return 0, err
		}
		return id, ix.store.saveState(ctx, tx, st)
	}

	curr := ElementID(st.EntryPoint)
	for l := st.TopLayer; l > layer; l-- {
		var err error
		curr, err = ix.greedyClosest(ctx, tx, curr, vec, l)
		if err != nil {
			return 0, err
		}
	}

	top := layer
	if st.TopLayer < top {
		top = st.TopLayer
	}
	for l := top; l >= 0; l-- {
		cands, err := ix.searchLayer(ctx, tx, vec, curr, ix.params.EfConstruction, l)
		if err != nil {
			return 0, err
		}
		if len(cands) == 0 {
			continue
		}
		curr = cands[0].id

		neighbors := cands
		if len(neighbors) > ix.params.M {
			neighbors = neighbors[:ix.params.M]
		}
		ids := make([]uint64, len(neighbors))
		for i, c := range neighbors {
			ids[i] = uint64(c.id)
		}
		e.Neighbors[l] = ids

		for _, n := range neighbors {
			if err := ix.addEdge(ctx, tx, n.id, id, l); err != nil {
				return 0, err
			}
		}
	}

	if err := ix.store.put(ctx, tx, e); err != nil {
		return 0, err
	}
	if layer > st.TopLayer {
		st.TopLayer = layer
		st.EntryPoint = uint64(id)
	}
	return id, ix.store.saveState(ctx, tx, st)
}

// addEdge connects neighbor -> newID at layer (the reverse of the edge
// already recorded on the new element), pruning neighbor's adjacency list
// back down to the layer's max degree by keeping its closest peers.
func (ix *Index) addEdge(ctx context.Context, tx kv.RwTx, neighborID, newID ElementID, layer int) error {
	n, err := ix.store.get(ctx, tx, neighborID)
	if err != nil || n == nil {
		return err
	}
	n.Neighbors[layer] = append(n.Neighbors[layer], uint64(newID))
	if max := ix.maxNeighbors(layer); len(n.Neighbors[layer]) > max {
		ranked, err := ix.rankByDistance(ctx, tx, n.Vector, n.Neighbors[layer])
		if err != nil {
			return err
		}
		ranked = ranked[:max]
		ids := make([]uint64, len(ranked))
		for i, c := range ranked {
			ids[i] = uint64(c.id)
		}
		n.Neighbors[layer] = ids
	}
	return ix.store.put(ctx, tx, n)
}

func (ix *Index) rankByDistance(ctx context.Context, tx kv.Tx, from []float32, ids []uint64) ([]candidate, error) {
	out := make([]candidate, 0, len(ids))
	for _, id := range ids {
		el, err := ix.store.get(ctx, tx, ElementID(id))
		if err != nil {
			return nil, err
		}
		if el == nil {
			continue
		}
		d, err := ix.dist(from, el.Vector)
		if err != nil {
			return nil, err
		}
		out = append(out, candidate{id: ElementID(id), dist: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].dist < out[j].dist })
	return out, nil
}

// greedyClosest performs one layer's single-best greedy descent from curr,
// used above the new/query element's top layer where only the entry point
// for the next layer down matters.
func (ix *Index) greedyClosest(ctx context.Context, tx kv.Tx, curr ElementID, vec []float32, layer int) (ElementID, error) {
	currNode, err := ix.store.get(ctx, tx, curr)
	if err != nil || currNode == nil {
		return curr, err
	}
	bestDist, err := ix.dist(vec, currNode.Vector)
	if err != nil {
		return curr, err
	}
	for {
		improved := false
		for _, nID := range currNode.Neighbors[layer] {
			n, err := ix.store.get(ctx, tx, ElementID(nID))
			if err != nil || n == nil {
				continue
			}
			d, err := ix.dist(vec, n.Vector)
			if err != nil {
				return curr, err
			}
			if d < bestDist {
				bestDist = d
				curr = ElementID(nID)
				currNode = n
				improved = true
			}
		}
		if !improved {
			return curr, nil
		}
	}
}

// searchLayer is the ef-width best-first search at one layer, returning up
// to ef candidates ordered nearest-first.
func (ix *Index) searchLayer(ctx context.Context, tx kv.Tx, vec []float32, entry ElementID, ef int, layer int) ([]candidate, error) {
	visited := map[ElementID]bool{entry: true}
	entryNode, err := ix.store.get(ctx, tx, entry)
	if err != nil || entryNode == nil {
		return nil, err
	}
	d0, err := ix.dist(vec, entryNode.Vector)
	if err != nil {
		return nil, err
	}
	candidates := []candidate{{id: entry, dist: d0}}
	results := []candidate{{id: entry, dist: d0}}

	for len(candidates) > 0 {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
		c := candidates[0]
		candidates = candidates[1:]

		sort.Slice(results, func(i, j int) bool { return results[i].dist < results[j].dist })
		if len(results) >= ef && c.dist > results[len(results)-1].dist {
			break
		}

		n, err := ix.store.get(ctx, tx, c.id)
		if err != nil || n == nil {
			continue
		}
		for _, nID := range n.Neighbors[layer] {
			id := ElementID(nID)
			if visited[id] {
				continue
			}
			visited[id] = true
			nn, err := ix.store.get(ctx, tx, id)
			if err != nil || nn == nil {
				continue
			}
			d, err := ix.dist(vec, nn.Vector)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, candidate{id: id, dist: d})
			results = append(results, candidate{id: id, dist: d})
			if len(results) > ef {
				sort.Slice(results, func(i, j int) bool { return results[i].dist < results[j].dist })
				results = results[:ef]
			}
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].dist < results[j].dist })
	return results, nil
}

// removeElement deletes a graph node and unlinks it from every neighbor
// that referenced it across all of its layers.
func (ix *Index) removeElement(ctx context.Context, tx kv.RwTx, id ElementID) error {
	e, err := ix.store.get(ctx, tx, id)
	if err != nil || e == nil {
		return err
	}
	for layer, neighbors := range e.Neighbors {
		for _, nID := range neighbors {
			n, err := ix.store.get(ctx, tx, ElementID(nID))
			if err != nil || n == nil {
				continue
			}
			n.Neighbors[layer] = removeID(n.Neighbors[layer], uint64(id))
			if err := ix.store.put(ctx, tx, n); err != nil {
				return err
			}
		}
	}
	if err := ix.store.delete(ctx, tx, id); err != nil {
		return err
	}

	st, err := ix.store.loadState(ctx, tx)
	if err != nil {
		return err
	}
	if st.HasEntry && ElementID(st.EntryPoint) == id {
		// The entry point was removed; fall back to any remaining neighbor
		// at its old top layer, or declare the graph empty.
		if len(e.Neighbors[e.TopLayer]) > 0 {
			st.EntryPoint = e.Neighbors[e.TopLayer][0]
		} else {
			st.HasEntry = false
			st.EntryPoint = 0
			st.TopLayer = 0
		}
		return ix.store.saveState(ctx, tx, st)
	}
	return nil
}

func removeID(s []uint64, id uint64) []uint64 {
	out := s[:0]
	for _, v := range s {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Result is one ranked hit from KnnSearch: the matching record and its
// distance to the query vector.
type Result struct {
	RecordKeyBytes []byte
	Distance       float64
}

// KnnSearch returns up to k nearest records to query, searching with
// beam-width ef at the base layer after descending greedily from the
// entry point, matching index.rs's `knn_search`.
func (ix *Index) KnnSearch(ctx context.Context, tx kv.Tx, query []float32, k, ef int) ([]Result, error) {
	if len(query) != ix.params.Dim {
		return nil, errs.Newf(errs.DimensionMismatch, "hnsw: query has dimension %d, index expects %d", len(query), ix.params.Dim)
	}
	st, err := ix.store.loadState(ctx, tx)
	if err != nil {
		return nil, err
	}
	if !st.HasEntry {
		return nil, nil
	}
	curr := ElementID(st.EntryPoint)
	for l := st.TopLayer; l > 0; l-- {
		curr, err = ix.greedyClosest(ctx, tx, curr, query, l)
		if err != nil {
			return nil, err
		}
	}
	cands, err := ix.searchLayer(ctx, tx, query, curr, ef, 0)
	if err != nil {
		return nil, err
	}

	var out []Result
	seen := map[string]bool{}
	for _, c := range cands {
		el, err := ix.store.get(ctx, tx, c.id)
		if err != nil || el == nil {
			continue
		}
		docIDs, err := ix.vecdocs.GetDocs(ctx, tx, el.Vector)
		if err != nil || docIDs == nil {
			continue
		}
		it := docIDs.Iterator()
		for it.HasNext() {
			docID := DocID(it.Next())
			rk, err := ix.docs.GetRecordKey(ctx, tx, docID)
			if err != nil || rk == nil {
				continue
			}
			sk := string(rk)
			if seen[sk] {
				continue
			}
			seen[sk] = true
			out = append(out, Result{RecordKeyBytes: rk, Distance: c.dist})
			if len(out) >= k {
				return out, nil
			}
		}
	}
	return out, nil
}
