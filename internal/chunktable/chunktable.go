// Package chunktable implements the chunk table (spec §4.C): a flat,
// fixed-size array of installed scripts, backed by internal/store for
// the actual code bytes.
package chunktable

import (
	"fmt"
	"sort"

	"github.com/netseye/smallvm/internal/interp"
	"github.com/netseye/smallvm/internal/observability"
	"github.com/netseye/smallvm/internal/store"
)

// ChunkType identifies what kind of script a table entry holds (spec §3).
// TypeUnused is the Go zero value, matching the chunk table's invariant
// that a freshly-zeroed entry is already a correctly-unused one.
type ChunkType byte

const (
	TypeUnused ChunkType = iota
	TypeCommandStack
	TypeReporter
	TypeFunction
	TypeStartHat
	TypeWhenConditionHat
	TypeBroadcastHat
)

// Entry is one chunk table slot (spec §3).
type Entry struct {
	Type ChunkType
	Code store.RecordRef // null (IsZero) when Type == TypeUnused
}

func (e Entry) Unused() bool { return e.Type == TypeUnused }

// TaskStopper lets the chunk table cancel running tasks ahead of a
// deletion, without chunktable importing the scheduler package directly
// (spec §4.C: "Deletion ... stops any task for that chunk").
type TaskStopper interface {
	StopTaskForChunk(chunkIndex int)
}

// Table is the chunk table proper: a fixed MAX_CHUNKS array plus the
// persistence bridge it durably records through (grounded on
// backend/daemon/manager/store.go's SessionStore, adapted from a map
// keyed by session ID to a fixed-size array keyed by chunk index, since
// spec §3 bounds chunks to [0, MAX_CHUNKS)).
type Table struct {
	entries []Entry
	log     store.Store
	obs     *observability.Logger
	metrics *observability.Metrics
}

// New builds a Table of the given size backed by log.
func New(maxChunks int, log store.Store, obs *observability.Logger, metrics *observability.Metrics) *Table {
	return &Table{
		entries: make([]Entry, maxChunks),
		log:     log,
		obs:     obs,
		metrics: metrics,
	}
}

func (t *Table) Len() int { return len(t.entries) }

// At returns the entry at index, or the zero (unused) Entry if index is
// out of range.
func (t *Table) At(index int) Entry {
	if index < 0 || index >= len(t.entries) {
		return Entry{}
	}
	return t.entries[index]
}

// Type reports the chunk type at index, TypeUnused if out of range.
func (t *Table) Type(index int) ChunkType {
	return t.At(index).Type
}

// StoreCodeChunk implements spec §4.C's storeCodeChunk(index, bytes): the
// first body byte is the chunk type, the remainder is the code words
// appended as a TypeChunkCode record, and the table entry is updated to
// point at it.
func (t *Table) StoreCodeChunk(index int, body []byte) error {
	if index < 0 || index >= len(t.entries) {
		return fmt.Errorf("chunktable: index %d out of range", index)
	}
	if len(body) < 1 {
		return fmt.Errorf("chunktable: empty chunk body for index %d", index)
	}
	chunkType := ChunkType(body[0])
	code := body[1:]

	words := bytesToWords(code)
	ref, err := t.log.Append(store.TypeChunkCode, byte(index), byte(chunkType), words)
	if err != nil {
		return fmt.Errorf("chunktable: append chunk %d: %w", index, err)
	}

	t.entries[index] = Entry{Type: chunkType, Code: ref}

	if t.metrics != nil {
		t.metrics.ChunksStoredTotal.Inc()
	}
	if t.obs != nil {
		t.obs.ChunkStored(index, byte(chunkType), len(code))
	}
	return nil
}

// StoreAttribute appends a chunkAttribute record keyed by
// (chunkIndex, attributeID); attributes are never cached in the table,
// only scanned from the log on demand (spec §4.C).
func (t *Table) StoreAttribute(index int, attributeID byte, body []byte) error {
	if index < 0 || index >= len(t.entries) {
		return fmt.Errorf("chunktable: index %d out of range", index)
	}
	words := bytesToWords(body)
	_, err := t.log.Append(store.TypeChunkAttribute, byte(index), attributeID, words)
	if err != nil {
		return fmt.Errorf("chunktable: append attribute %d/%d: %w", index, attributeID, err)
	}
	return nil
}

// attributeKey identifies one (chunk, attribute) slot in the log scan.
type attributeKey struct {
	index       int
	attributeID byte
}

// scanAttributes walks the whole log once and keeps only the latest
// write per (index, attributeID), dropping a chunk's attributes when a
// later chunkDeleted record for that chunk appears — the single scan both
// Attribute and EachAttribute are built on.
func (t *Table) scanAttributes() map[attributeKey][]uint32 {
	latest := make(map[attributeKey][]uint32)
	var ref store.RecordRef
	for {
		rec, err := t.log.RecordAfter(ref)
		if err != nil || rec == nil {
			break
		}
		ref = rec.Ref
		switch rec.Type {
		case store.TypeChunkAttribute:
			latest[attributeKey{int(rec.Index), rec.Aux}] = rec.Words
		case store.TypeChunkDeleted:
			for k := range latest {
				if k.index == int(rec.Index) {
					delete(latest, k)
				}
			}
		}
	}
	return latest
}

// Attribute scans the log for the latest non-deleted chunkAttribute
// record matching (index, attributeID), returning its words and whether
// one was found.
func (t *Table) Attribute(index int, attributeID byte) ([]uint32, bool) {
	words, ok := t.scanAttributes()[attributeKey{index, attributeID}]
	return words, ok
}

// EachAttribute calls fn once for every chunk attribute currently live
// in the log (latest write per (index, attributeID) only), in
// ascending (index, attributeID) order — the scan getAllCode's dump
// (spec §4.C/§4.G) drives instead of re-implementing its own.
func (t *Table) EachAttribute(fn func(index int, attributeID byte, words []uint32)) {
	latest := t.scanAttributes()
	keys := make([]attributeKey, 0, len(latest))
	for k := range latest {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].index != keys[j].index {
			return keys[i].index < keys[j].index
		}
		return keys[i].attributeID < keys[j].attributeID
	})
	for _, k := range keys {
		fn(k.index, k.attributeID, latest[k])
	}
}

// DeleteChunk implements spec §4.C's deletion: stop any task for the
// chunk first, reset the table entry to unused, then append a
// chunkDeleted record. Order matters — the scheduler must not keep
// stepping a task whose code the log no longer treats as current.
func (t *Table) DeleteChunk(index int, tasks TaskStopper) error {
	if index < 0 || index >= len(t.entries) {
		return fmt.Errorf("chunktable: index %d out of range", index)
	}
	if tasks != nil {
		tasks.StopTaskForChunk(index)
	}
	t.entries[index] = Entry{}

	if _, err := t.log.Append(store.TypeChunkDeleted, byte(index), 0, nil); err != nil {
		return fmt.Errorf("chunktable: append deletion %d: %w", index, err)
	}

	if t.metrics != nil {
		t.metrics.ChunksDeletedTotal.Inc()
	}
	if t.obs != nil {
		t.obs.ChunkDeleted(index)
	}
	return nil
}

// DeleteAll resets every chunk to unused and records a deletion for each
// previously-occupied slot (used by the "clear all" IDE command and by
// scenario S6).
func (t *Table) DeleteAll(tasks TaskStopper) error {
	for i, e := range t.entries {
		if e.Unused() {
			continue
		}
		if err := t.DeleteChunk(i, tasks); err != nil {
			return err
		}
	}
	return nil
}

// Words returns the compiled instruction words for the chunk at index,
// or nil if the entry is unused or its code reference cannot be
// resolved. Satisfies internal/broadcast.CodeSource.
func (t *Table) Words(index int) []interp.Word {
	entry := t.At(index)
	if entry.Unused() || entry.Code.IsZero() {
		return nil
	}
	rec, err := t.log.Get(entry.Code)
	if err != nil || rec == nil {
		return nil
	}
	out := make([]interp.Word, len(rec.Words))
	for i, w := range rec.Words {
		out[i] = interp.Word(w)
	}
	return out
}

// Rebuild rescans the persisted log from the start and reconstructs
// every table entry from it. Code references are not stable across a
// store.Compact() call (compaction rewrites every record under a fresh
// sequence number), so the dispatcher must call Rebuild after every
// compaction instead of trusting the table's previously-cached refs.
func (t *Table) Rebuild() error {
	for i := range t.entries {
		t.entries[i] = Entry{}
	}

	var ref store.RecordRef
	for {
		rec, err := t.log.RecordAfter(ref)
		if err != nil {
			return fmt.Errorf("chunktable: rebuild scan: %w", err)
		}
		if rec == nil {
			return nil
		}
		ref = rec.Ref
		if int(rec.Index) >= len(t.entries) {
			continue
		}
		switch rec.Type {
		case store.TypeChunkCode:
			t.entries[rec.Index] = Entry{Type: ChunkType(rec.Aux), Code: rec.Ref}
		case store.TypeChunkDeleted:
			t.entries[rec.Index] = Entry{}
		}
	}
}

func bytesToWords(b []byte) []uint32 {
	n := (len(b) + 3) / 4
	out := make([]uint32, n)
	for i := 0; i < len(b); i++ {
		out[i/4] |= uint32(b[i]) << (8 * uint(i%4))
	}
	return out
}
