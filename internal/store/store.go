package store

import (
	"encoding/binary"
	"fmt"

	"github.com/boltdb/bolt"

	"github.com/netseye/smallvm/internal/observability"
)

var recordsBucket = []byte("records")

// Store is the persistence bridge abstract interface (spec §4.D):
// append, iterate in write order, and compact to the latest non-deleted
// record per key.
type Store interface {
	Append(t RecordType, index, aux byte, words []uint32) (RecordRef, error)
	// RecordAfter returns the record immediately following prev in write
	// order, or (nil, nil) if prev is the last record. Pass the zero
	// RecordRef to start iteration from the beginning of the log.
	RecordAfter(prev RecordRef) (*Record, error)
	// Get resolves a previously-returned RecordRef back to its record
	// directly, without a linear scan — used by readers that cached a
	// ref (e.g. the chunk table's code pointer) and need its current
	// bytes on demand.
	Get(ref RecordRef) (*Record, error)
	Compact() (CompactionStats, error)
	Close() error
}

// CompactionStats summarizes a Compact() run, used only for the
// observability digest addition (SPEC_FULL.md §4.D); it does not change
// compaction's selection rule.
type CompactionStats struct {
	RecordsBefore int
	RecordsAfter  int
	Digest        string
}

// BoltStore implements Store over a single BoltDB bucket, keyed by
// monotonic sequence number so write order is exactly key order
// (grounded on daemon/service/dtn_queue.go's bolt-backed append log).
type BoltStore struct {
	db     *bolt.DB
	parity *parityCodec // nil disables parity protection

	obs     *observability.Logger
	metrics *observability.Metrics
}

// Open opens (creating if necessary) a BoltStore at path. If dataShards
// and parityShards are both positive, every appended record is protected
// by Reed-Solomon parity (SPEC_FULL.md §4.D); pass zero for either to
// disable parity and store records as a plain append-only log. obs and
// metrics may be nil.
func Open(path string, dataShards, parityShards int, obs *observability.Logger, metrics *observability.Metrics) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(recordsBucket)
		return e
	}); err != nil {
		db.Close()
		return nil, err
	}

	bs := &BoltStore{db: db, obs: obs, metrics: metrics}
	if dataShards > 0 && parityShards > 0 {
		codec, err := newParityCodec(dataShards, parityShards)
		if err != nil {
			db.Close()
			return nil, err
		}
		bs.parity = codec
	}
	return bs, nil
}

func seqKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}

func keySeq(k []byte) uint64 {
	return binary.BigEndian.Uint64(k)
}

// Append adds a new record to the end of the log (spec §4.D).
func (bs *BoltStore) Append(t RecordType, index, aux byte, words []uint32) (RecordRef, error) {
	payload := marshalPayload(t, index, aux, words)
	var stored []byte
	if bs.parity != nil {
		wrapped, err := bs.parity.wrap(payload)
		if err != nil {
			return RecordRef{}, err
		}
		stored = append([]byte{1}, wrapped...)
	} else {
		stored = append([]byte{0}, payload...)
	}

	var seq uint64
	err := bs.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		s, err := b.NextSequence()
		if err != nil {
			return err
		}
		seq = s
		return b.Put(seqKey(seq), stored)
	})
	if err != nil {
		return RecordRef{}, fmt.Errorf("store: append: %w", err)
	}
	if bs.metrics != nil {
		bs.metrics.RecordsAppendedTotal.Inc()
	}
	return RecordRef{seq: seq}, nil
}

// decode unwraps a raw bucket value into a Record, repairing parity if
// needed and configured.
func (bs *BoltStore) decode(seq uint64, raw []byte) (Record, bool, error) {
	if len(raw) < 1 {
		return Record{}, false, fmt.Errorf("store: empty record at seq %d", seq)
	}
	protectedFlag, body := raw[0], raw[1:]

	var payload []byte
	var repaired bool
	var err error
	if protectedFlag == 1 {
		if bs.parity == nil {
			return Record{}, false, fmt.Errorf("store: record at seq %d is parity-protected but no codec configured", seq)
		}
		payload, repaired, err = bs.parity.unwrap(body)
		if err != nil {
			if bs.metrics != nil {
				bs.metrics.RecordParityFailuresTotal.Inc()
			}
			return Record{}, false, fmt.Errorf("store: unwrap seq %d: %w", seq, err)
		}
		if repaired {
			if bs.obs != nil {
				bs.obs.RecordParityRepaired(seq)
			}
			if bs.metrics != nil {
				bs.metrics.RecordParityRepairsTotal.Inc()
			}
		}
	} else {
		payload = body
	}

	rec, ok := unmarshalPayload(payload)
	if !ok {
		return Record{}, false, fmt.Errorf("store: malformed payload at seq %d", seq)
	}
	rec.Ref = RecordRef{seq: seq}
	return rec, repaired, nil
}

// RecordAfter implements Store.
func (bs *BoltStore) RecordAfter(prev RecordRef) (*Record, error) {
	var rec *Record
	err := bs.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(recordsBucket).Cursor()
		var k, v []byte
		if prev.IsZero() {
			k, v = c.First()
		} else {
			c.Seek(seqKey(prev.seq))
			k, v = c.Next()
		}
		if k == nil {
			return nil
		}
		r, _, err := bs.decode(keySeq(k), v)
		if err != nil {
			return err
		}
		rec = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Get implements Store.
func (bs *BoltStore) Get(ref RecordRef) (*Record, error) {
	if ref.IsZero() {
		return nil, nil
	}
	var rec *Record
	err := bs.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(recordsBucket).Get(seqKey(ref.seq))
		if v == nil {
			return nil
		}
		r, _, err := bs.decode(ref.seq, v)
		if err != nil {
			return err
		}
		rec = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Close implements Store.
func (bs *BoltStore) Close() error { return bs.db.Close() }
