// Package store implements the persistence bridge (spec §4.D): an
// append-only, sequentially-scanned log of records, backed by BoltDB —
// the pack's closest analogue to "append records, scan in order"
// (grounded on daemon/service/dtn_queue.go's use of github.com/boltdb/bolt
// as an embedded ordered key-value log).
package store

// RecordType identifies the kind of a persisted record (spec §3).
type RecordType byte

const (
	TypeChunkCode RecordType = iota + 1
	TypeChunkAttribute
	TypeChunkDeleted
	TypeVarName
	TypeVarDeleted
	TypeComment
	TypeCommentPosition
	TypeCommentDeleted
)

// RecordRef opaquely identifies a persisted record. Per the Design Notes
// (spec §9: "model with index-and-generation into the log, not a raw
// pointer"), it carries only the Bolt sequence number the record was
// written under. It is not stable across a Compact(), which rewrites
// every record under a fresh sequence number; holders re-resolve refs
// from a fresh RecordAfter scan after a compaction (chunktable's Rebuild
// does this) rather than keeping stale ones.
type RecordRef struct {
	seq uint64
}

// IsZero reports whether r is the null reference (spec §3: "null code
// reference" for an unused chunk table entry).
func (r RecordRef) IsZero() bool { return r.seq == 0 }

// Record is a decoded persistent record (spec §3): a type, an index byte,
// an auxiliary byte (chunk type or attribute id), and a body of N 32-bit
// words.
type Record struct {
	Ref   RecordRef
	Type  RecordType
	Index byte
	Aux   byte
	Words []uint32
}

func wordsToBytes(words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		out[i*4+0] = byte(w)
		out[i*4+1] = byte(w >> 8)
		out[i*4+2] = byte(w >> 16)
		out[i*4+3] = byte(w >> 24)
	}
	return out
}

func bytesToWords(b []byte) []uint32 {
	n := len(b) / 4
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = uint32(b[i*4+0]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
	}
	return out
}

// payload is the flat {type, index, aux, bodyWordCount, body} encoding of
// a record, before any parity wrapping. The reading path is the only
// thing that interprets this layout (spec §4.D: "the core treats recordRef
// as opaque; only the reading path interprets the first two words").
func marshalPayload(t RecordType, index, aux byte, words []uint32) []byte {
	body := wordsToBytes(words)
	out := make([]byte, 0, 7+len(body))
	out = append(out, byte(t), index, aux)
	n := uint32(len(words))
	out = append(out, byte(n), byte(n>>8), byte(n>>16), byte(n>>24))
	out = append(out, body...)
	return out
}

func unmarshalPayload(buf []byte) (Record, bool) {
	if len(buf) < 7 {
		return Record{}, false
	}
	t := RecordType(buf[0])
	index := buf[1]
	aux := buf[2]
	n := uint32(buf[3]) | uint32(buf[4])<<8 | uint32(buf[5])<<16 | uint32(buf[6])<<24
	want := int(n) * 4
	if len(buf[7:]) < want {
		return Record{}, false
	}
	words := bytesToWords(buf[7 : 7+want])
	return Record{Type: t, Index: index, Aux: aux, Words: words}, true
}
