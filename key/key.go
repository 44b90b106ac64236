// Package key implements the ordered byte-keyed codec (C1): deterministic,
// order-preserving encoding of every logical key family onto the flat
// byte-keyed store. Structurally grounded on erigon-lib/kv/tables.go's
// table-prefix family convention (one-byte/one-rune family tag followed by
// fixed-width or escaped-terminated components) and on the persisted state
// layout documented in SPEC_FULL.md / spec.md §6.
package key

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/surrealdb/surrealdb-sub027/errs"
)

// Family tag bytes. A single root byte plus per-segment delimiter bytes
// disambiguate overlapping families so two different key kinds can never
// collide, matching §4.1's design rule.
const (
	tagRoot      byte = '/'
	tagNamespace byte = '*'
	tagDatabase  byte = '*'
	tagTable     byte = '*'
	tagRecord    byte = '*'
	tagEdge      byte = '~'
	tagIndex     byte = '+'
	tagChangeFeed byte = '#'
	tagSub       byte = '!' // per-index sub-namespace (btree page / hnsw layer / doc map)
)

// Component type tags for record-id key-components. Ordering of the tag
// values themselves defines the cross-type ordering required by §3:
// numeric < string < uuid < array < object.
const (
	compInt byte = iota + 1
	compString
	compUUID
	compArray
	compObject
)

// strEscape encodes s so that the result is null-terminated and
// lexicographically order-preserving: every literal 0x00 byte is escaped
// as 0x00 0xFF, and the component is terminated by a bare 0x00 0x00.
func strEscape(s string) []byte {
	buf := make([]byte, 0, len(s)+2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == 0x00 {
			buf = append(buf, 0x00, 0xFF)
		} else {
			buf = append(buf, c)
		}
	}
	buf = append(buf, 0x00, 0x00)
	return buf
}

// strUnescape reads one escaped-terminated string starting at buf[0],
// returning the decoded string and the number of bytes consumed.
func strUnescape(buf []byte) (string, int, error) {
	var out []byte
	i := 0
	for {
		if i >= len(buf) {
			return "", 0, errs.New(errs.InvalidKey, "unterminated string component")
		}
		if buf[i] == 0x00 {
			if i+1 >= len(buf) {
				return "", 0, errs.New(errs.InvalidKey, "truncated escape sequence")
			}
			switch buf[i+1] {
			case 0x00:
				return string(out), i + 2, nil
			case 0xFF:
				out = append(out, 0x00)
				i += 2
				continue
			default:
				return "", 0, errs.New(errs.InvalidKey, "invalid escape sequence")
			}
		}
		out = append(out, buf[i])
		i++
	}
}

func u64be(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeU64(buf []byte) (uint64, int, error) {
	if len(buf) < 8 {
		return 0, 0, errs.New(errs.InvalidKey, "truncated uint64 component")
	}
	return binary.BigEndian.Uint64(buf[:8]), 8, nil
}

func u32be(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func decodeU32(buf []byte) (uint32, int, error) {
	if len(buf) < 4 {
		return 0, 0, errs.New(errs.InvalidKey, "truncated uint32 component")
	}
	return binary.BigEndian.Uint32(buf[:4]), 4, nil
}

// RecordKey is a (table, key-component) pair, the identity of one record
// within a table (§3 "Record id").
type RecordKey struct {
	Table     string
	Component Component
}

// Component is a record-id key-component variant. Only one of the fields
// is populated, selected by Kind.
type Component struct {
	Kind  byte // compInt, compString, compUUID, compArray, compObject
	Int   int64
	Str   string // also backs the UUID variant (canonical string form)
	Array []Component
	// Object maps field name -> Component; encoded in sorted-by-field-name
	// order so encoding stays deterministic and order-preserving for equal
	// prefixes.
	Object map[string]Component
	fields []string // cached sorted field names, populated by NewObject
}

func NewInt(v int64) Component    { return Component{Kind: compInt, Int: v} }
func NewString(v string) Component { return Component{Kind: compString, Str: v} }

// NewUUID builds a uuid-variant key-component from an existing UUID string,
// canonicalizing it (e.g. stripped of a "urn:uuid:" prefix) so two textually
// different but equal UUIDs always encode to the same key.
func NewUUID(v string) (Component, error) {
	id, err := uuid.Parse(v)
	if err != nil {
		return Component{}, errs.Wrap(errs.InvalidKey, "key: invalid uuid", err)
	}
	return Component{Kind: compUUID, Str: id.String()}, nil
}

// NewRandomUUID generates a fresh random (v4) uuid-variant key-component,
// for record ids created without an explicit id.
func NewRandomUUID() Component {
	return Component{Kind: compUUID, Str: uuid.NewString()}
}

func NewArray(v ...Component) Component { return Component{Kind: compArray, Array: v} }

func NewObject(fields map[string]Component) Component {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sortStrings(names)
	return Component{Kind: compObject, Object: fields, fields: names}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func encodeComponent(buf *bytes.Buffer, c Component) {
	buf.WriteByte(c.Kind)
	switch c.Kind {
	case compInt:
		// Flip the sign bit so two's-complement big-endian comparison
		// matches signed numeric ordering.
		u := uint64(c.Int) ^ (1 << 63)
		buf.Write(u64be(u))
	case compString, compUUID:
		buf.Write(strEscape(c.Str))
	case compArray:
		buf.Write(u32be(uint32(len(c.Array))))
		for _, el := range c.Array {
			encodeComponent(buf, el)
		}
	case compObject:
		names := c.fields
		if names == nil {
			for k := range c.Object {
				names = append(names, k)
			}
			sortStrings(names)
		}
		buf.Write(u32be(uint32(len(names))))
		for _, name := range names {
			buf.Write(strEscape(name))
			encodeComponent(buf, c.Object[name])
		}
	}
}

func decodeComponent(buf []byte) (Component, int, error) {
	if len(buf) < 1 {
		return Component{}, 0, errs.New(errs.InvalidKey, "empty component")
	}
	kind := buf[0]
	off := 1
	switch kind {
	case compInt:
		u, n, err := decodeU64(buf[off:])
		if err != nil {
			return Component{}, 0, err
		}
		off += n
		return Component{Kind: compInt, Int: int64(u ^ (1 << 63))}, off, nil
	case compString, compUUID:
		s, n, err := strUnescape(buf[off:])
		if err != nil {
			return Component{}, 0, err
		}
		off += n
		return Component{Kind: kind, Str: s}, off, nil
	case compArray:
		count, n, err := decodeU32(buf[off:])
		if err != nil {
			return Component{}, 0, err
		}
		off += n
		arr := make([]Component, 0, count)
		for i := uint32(0); i < count; i++ {
			el, n, err := decodeComponent(buf[off:])
			if err != nil {
				return Component{}, 0, err
			}
			off += n
			arr = append(arr, el)
		}
		return Component{Kind: compArray, Array: arr}, off, nil
	case compObject:
		count, n, err := decodeU32(buf[off:])
		if err != nil {
			return Component{}, 0, err
		}
		off += n
		obj := make(map[string]Component, count)
		fields := make([]string, 0, count)
		for i := uint32(0); i < count; i++ {
			name, n, err := strUnescape(buf[off:])
			if err != nil {
				return Component{}, 0, err
			}
			off += n
			val, n, err := decodeComponent(buf[off:])
			if err != nil {
				return Component{}, 0, err
			}
			off += n
			obj[name] = val
			fields = append(fields, name)
		}
		return Component{Kind: compObject, Object: obj, fields: fields}, off, nil
	default:
		return Component{}, 0, errs.New(errs.InvalidKey, "unknown component kind")
	}
}

// --- Namespace / Database / Table ---

func EncodeNamespace(nsID uint32) []byte {
	var b bytes.Buffer
	b.WriteByte(tagRoot)
	b.WriteByte(tagNamespace)
	b.Write(u32be(nsID))
	return b.Bytes()
}

func EncodeDatabase(nsID, dbID uint32) []byte {
	var b bytes.Buffer
	b.Write(EncodeNamespace(nsID))
	b.WriteByte(tagDatabase)
	b.Write(u32be(dbID))
	return b.Bytes()
}

func EncodeTable(nsID, dbID uint32, table string) []byte {
	var b bytes.Buffer
	b.Write(EncodeDatabase(nsID, dbID))
	b.WriteByte(tagTable)
	b.Write(strEscape(table))
	return b.Bytes()
}

// --- Record ---

// EncodeRecord returns the key for a single record identified by
// (nsID, dbID, table, component). component must not be a range.
func EncodeRecord(nsID, dbID uint32, table string, component Component) []byte {
	var b bytes.Buffer
	b.Write(EncodeTable(nsID, dbID, table))
	b.WriteByte(tagRecord)
	encodeComponent(&b, component)
	return b.Bytes()
}

// DecodeRecord parses a record key back to a RecordKey. This only supports
// decoding keys that were produced by EncodeRecord (it does not re-derive
// nsID/dbID, which callers already know from context); it is primarily
// used by tests asserting round-trip (invariant 1).
func DecodeRecord(buf []byte, nsID, dbID uint32, table string) (Component, error) {
	prefix := EncodeTable(nsID, dbID, table)
	prefix = append(prefix, tagRecord)
	if !bytes.HasPrefix(buf, prefix) {
		return Component{}, errs.New(errs.InvalidKey, "record key does not match expected table prefix")
	}
	c, n, err := decodeComponent(buf[len(prefix):])
	if err != nil {
		return Component{}, err
	}
	if len(prefix)+n != len(buf) {
		return Component{}, errs.New(errs.InvalidKey, "trailing bytes after record component")
	}
	return c, nil
}

// RecordPrefix returns the [low, high) half-open range covering every
// record in table.
func RecordPrefix(nsID, dbID uint32, table string) (low, high []byte) {
	p := EncodeTable(nsID, dbID, table)
	p = append(p, tagRecord)
	return p, prefixUpperBound(p)
}

// RecordRange encodes the half-open range [begin, end) for a record-id
// range scan over two key-components (S6: `mytb:[1..=5]`). The end bound
// is made exclusive by taking the prefix successor of the inclusive end
// component's encoding.
func RecordRange(nsID, dbID uint32, table string, begin, end Component, endInclusive bool) (low, high []byte) {
	low = EncodeRecord(nsID, dbID, table, begin)
	high = EncodeRecord(nsID, dbID, table, end)
	if endInclusive {
		high = prefixUpperBound(high)
	}
	return low, high
}

// prefixUpperBound returns the lexicographically smallest byte string
// greater than every string having p as a prefix, i.e. the standard
// "increment the last non-0xFF byte, drop trailing 0xFFs" trick. A nil
// result (all-0xFF prefix) means "no upper bound" (unbounded scan).
func prefixUpperBound(p []byte) []byte {
	out := make([]byte, len(p))
	copy(out, p)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

// --- Graph edges: (from, direction, predicate, to) ---

type Direction byte

const (
	DirectionOut Direction = iota
	DirectionIn
)

func EncodeEdge(nsID, dbID uint32, table string, from Component, dir Direction, predicate string, to RecordKey) []byte {
	var b bytes.Buffer
	b.Write(EncodeTable(nsID, dbID, table))
	b.WriteByte(tagEdge)
	encodeComponent(&b, from)
	b.WriteByte(byte(dir))
	b.Write(strEscape(predicate))
	b.Write(strEscape(to.Table))
	encodeComponent(&b, to.Component)
	return b.Bytes()
}

// EdgePrefix returns the [low, high) range of every edge originating at
// `from` in `table`, optionally narrowed to a single direction.
func EdgePrefix(nsID, dbID uint32, table string, from Component, dir Direction, narrowDirection bool) (low, high []byte) {
	var b bytes.Buffer
	b.Write(EncodeTable(nsID, dbID, table))
	b.WriteByte(tagEdge)
	encodeComponent(&b, from)
	if narrowDirection {
		b.WriteByte(byte(dir))
	}
	p := b.Bytes()
	return p, prefixUpperBound(p)
}

// --- Index ---

// EncodeIndex returns the key for one index entry: table + index id +
// ordered field-value tuple + the indexed record's key-component (so
// duplicate field values still sort by record).
func EncodeIndex(nsID, dbID uint32, table string, ixID uint32, fields []Component, recordComponent Component) []byte {
	var b bytes.Buffer
	b.Write(EncodeTable(nsID, dbID, table))
	b.WriteByte(tagIndex)
	b.Write(u32be(ixID))
	for _, f := range fields {
		encodeComponent(&b, f)
	}
	encodeComponent(&b, recordComponent)
	return b.Bytes()
}

// IndexPrefix returns the [low, high) range of every entry under
// (table, ixID, fields-prefix).
func IndexPrefix(nsID, dbID uint32, table string, ixID uint32, fields []Component) (low, high []byte) {
	var b bytes.Buffer
	b.Write(EncodeTable(nsID, dbID, table))
	b.WriteByte(tagIndex)
	b.Write(u32be(ixID))
	for _, f := range fields {
		encodeComponent(&b, f)
	}
	p := b.Bytes()
	return p, prefixUpperBound(p)
}

// --- Change feed ---

// EncodeChangeFeed returns the key for the change-feed entry at versionstamp
// vs within table, following the documented family layout
// `/*{ns_id}*{db_id}#{vs}*{tb}`.
func EncodeChangeFeed(nsID, dbID uint32, vs [10]byte, table string) []byte {
	var b bytes.Buffer
	b.Write(EncodeDatabase(nsID, dbID))
	b.WriteByte(tagChangeFeed)
	b.Write(vs[:])
	b.WriteByte(tagTable)
	b.Write(strEscape(table))
	return b.Bytes()
}

// ChangeFeedRange returns the [low, high) range for a versionstamp window
// [vsLow, vsHigh) scan across the whole database (all tables).
func ChangeFeedRange(nsID, dbID uint32, vsLow, vsHigh [10]byte) (low, high []byte) {
	var lb, hb bytes.Buffer
	lb.Write(EncodeDatabase(nsID, dbID))
	lb.WriteByte(tagChangeFeed)
	lb.Write(vsLow[:])
	hb.Write(EncodeDatabase(nsID, dbID))
	hb.WriteByte(tagChangeFeed)
	hb.Write(vsHigh[:])
	return lb.Bytes(), hb.Bytes()
}

// --- Per-index sub-namespaces: B-tree pages / HNSW layers / doc maps ---

// SubKind distinguishes the per-index sub-families sharing the tagSub byte
// + index-id prefix.
type SubKind byte

const (
	SubBTreeNode SubKind = iota + 1
	SubBTreeState
	SubHnswLayer
	SubHnswElement
	SubHnswDoc
	SubHnswVec
	SubHnswState
	SubDocLen
)

// EncodeSub builds a sub-family key: table + index id + sub-kind +
// caller-supplied, already order-preserving suffix bytes (e.g. a NodeId,
// an ElementId, or a doc-length DocId, all big-endian fixed width).
func EncodeSub(nsID, dbID uint32, table string, ixID uint32, kind SubKind, suffix []byte) []byte {
	var b bytes.Buffer
	b.Write(EncodeTable(nsID, dbID, table))
	b.WriteByte(tagSub)
	b.Write(u32be(ixID))
	b.WriteByte(byte(kind))
	b.Write(suffix)
	return b.Bytes()
}

// SubPrefix returns the [low, high) range of every key under
// (table, ixID, kind).
func SubPrefix(nsID, dbID uint32, table string, ixID uint32, kind SubKind) (low, high []byte) {
	p := EncodeSub(nsID, dbID, table, ixID, kind, nil)
	return p, prefixUpperBound(p)
}

// NodeIDBytes/ElementIDBytes/DocIDBytes are the fixed-width big-endian
// suffix encodings used by C7/C10/C9 respectively, kept here so every
// sub-family suffix is produced the same order-preserving way.
func NodeIDBytes(id uint64) []byte    { return u64be(id) }
func ElementIDBytes(id uint64) []byte { return u64be(id) }
func DocIDBytes(id uint64) []byte     { return u64be(id) }
