package store

import (
	"encoding/hex"
	"sort"

	"github.com/boltdb/bolt"
	"github.com/zeebo/blake3"
)

type codeKey struct{ index byte }
type attrKey struct{ index, aux byte }
type varKey struct{ index byte }
type commentKey struct{ index byte }
type commentPosKey struct{ index byte }

// Compact rewrites the log to retain only the latest non-deleted record
// per (index, kind) — spec §4.D's canonical minimum form — called before
// sending the full code dump so a freshly-connected IDE never has to
// replay deletion history.
//
// "Kind" groups tombstone types with the record type they delete: a
// chunk's code record and its chunkDeleted tombstone share one group (the
// chunk), a variable's name record and its varDeleted tombstone share
// one group, and likewise for comments. Chunk attributes and comment
// positions additionally fall out of the compacted set once their owning
// chunk/comment has been deleted, since spec §4.C states deleting a chunk
// discards everything that depended on it.
func (bs *BoltStore) Compact() (CompactionStats, error) {
	var (
		codeLatest    = map[codeKey]Record{}
		codeDeletedAt = map[byte]uint64{} // chunk index -> seq of its deletion tombstone
		attrLatest    = map[attrKey]Record{}
		varLatest     = map[varKey]Record{}
		varDeletedAt  = map[byte]uint64{}
		commentLatest = map[commentKey]Record{}
		commentDelAt  = map[byte]uint64{}
		commentPos    = map[commentPosKey]Record{}

		before int
	)

	err := bs.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(recordsBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			before++
			rec, _, err := bs.decode(keySeq(k), v)
			if err != nil {
				return err
			}
			switch rec.Type {
			case TypeChunkCode:
				codeLatest[codeKey{rec.Index}] = rec
			case TypeChunkDeleted:
				codeDeletedAt[rec.Index] = rec.Ref.seq
			case TypeChunkAttribute:
				attrLatest[attrKey{rec.Index, rec.Aux}] = rec
			case TypeVarName:
				varLatest[varKey{rec.Index}] = rec
			case TypeVarDeleted:
				varDeletedAt[rec.Index] = rec.Ref.seq
			case TypeComment:
				commentLatest[commentKey{rec.Index}] = rec
			case TypeCommentDeleted:
				commentDelAt[rec.Index] = rec.Ref.seq
			case TypeCommentPosition:
				commentPos[commentPosKey{rec.Index}] = rec
			}
		}
		return nil
	})
	if err != nil {
		return CompactionStats{}, err
	}

	var kept []Record
	for key, rec := range codeLatest {
		if delSeq, deleted := codeDeletedAt[key.index]; deleted && delSeq > rec.Ref.seq {
			continue
		}
		kept = append(kept, rec)
	}
	for key, rec := range attrLatest {
		if delSeq, deleted := codeDeletedAt[key.index]; deleted && delSeq > rec.Ref.seq {
			continue
		}
		kept = append(kept, rec)
	}
	for key, rec := range varLatest {
		if delSeq, deleted := varDeletedAt[key.index]; deleted && delSeq > rec.Ref.seq {
			continue
		}
		kept = append(kept, rec)
	}
	for key, rec := range commentLatest {
		if delSeq, deleted := commentDelAt[key.index]; deleted && delSeq > rec.Ref.seq {
			continue
		}
		kept = append(kept, rec)
	}
	for key, rec := range commentPos {
		if delSeq, deleted := commentDelAt[key.index]; deleted && delSeq > rec.Ref.seq {
			continue
		}
		kept = append(kept, rec)
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Ref.seq < kept[j].Ref.seq })

	err = bs.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(recordsBucket); err != nil {
			return err
		}
		b, err := tx.CreateBucket(recordsBucket)
		if err != nil {
			return err
		}
		for _, rec := range kept {
			payload := marshalPayload(rec.Type, rec.Index, rec.Aux, rec.Words)
			var stored []byte
			if bs.parity != nil {
				wrapped, err := bs.parity.wrap(payload)
				if err != nil {
					return err
				}
				stored = append([]byte{1}, wrapped...)
			} else {
				stored = append([]byte{0}, payload...)
			}
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			if err := b.Put(seqKey(seq), stored); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return CompactionStats{}, err
	}

	return CompactionStats{
		RecordsBefore: before,
		RecordsAfter:  len(kept),
		Digest:        digestRecords(kept),
	}, nil
}

// digestRecords computes a BLAKE3 digest over the retained record set
// (SPEC_FULL.md §4.D), so an operator can confirm two device snapshots
// hold identical code without transferring the whole dump. Observability
// only — it plays no part in selecting which records compaction keeps.
func digestRecords(records []Record) string {
	h := blake3.New()
	for _, rec := range records {
		h.Write([]byte{byte(rec.Type), rec.Index, rec.Aux})
		h.Write(wordsToBytes(rec.Words))
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}
