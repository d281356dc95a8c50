package store

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/klauspost/reedsolomon"
)

// parityCodec wraps a persisted record's payload in Reed-Solomon data and
// parity shards (grounded on backend/internal/fec/fec.go's Encoder/Decoder
// pair), so a single corrupted shard can be reconstructed on read instead
// of silently handing back garbled chunk code. A per-shard CRC32 is kept
// alongside the shards themselves because reedsolomon's Reconstruct only
// fills in shards the caller has already marked missing (nil) — it has no
// built-in corruption *detection* of its own, only erasure recovery.
type parityCodec struct {
	k, r int
	rs   reedsolomon.Encoder
}

func newParityCodec(k, r int) (*parityCodec, error) {
	rs, err := reedsolomon.New(k, r)
	if err != nil {
		return nil, fmt.Errorf("store: reed-solomon init (k=%d r=%d): %w", k, r, err)
	}
	return &parityCodec{k: k, r: r, rs: rs}, nil
}

// wrap encodes payload into k data shards + r parity shards and returns a
// self-describing blob: origLen, shardLen, k, r, per-shard CRC32s, then
// the concatenated shards.
func (c *parityCodec) wrap(payload []byte) ([]byte, error) {
	origLen := len(payload)
	shardLen := (origLen + c.k - 1) / c.k
	if shardLen == 0 {
		shardLen = 1
	}
	padded := make([]byte, shardLen*c.k)
	copy(padded, payload)

	shards := make([][]byte, c.k+c.r)
	for i := 0; i < c.k; i++ {
		shards[i] = padded[i*shardLen : (i+1)*shardLen]
	}
	for i := c.k; i < c.k+c.r; i++ {
		shards[i] = make([]byte, shardLen)
	}
	if err := c.rs.Encode(shards); err != nil {
		return nil, fmt.Errorf("store: parity encode: %w", err)
	}

	out := make([]byte, 0, 16+(c.k+c.r)*4+(c.k+c.r)*shardLen)
	var hdr [16]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(origLen))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(shardLen))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(c.k))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(c.r))
	out = append(out, hdr[:]...)
	for _, s := range shards {
		var crc [4]byte
		binary.LittleEndian.PutUint32(crc[:], crc32.ChecksumIEEE(s))
		out = append(out, crc[:]...)
	}
	for _, s := range shards {
		out = append(out, s...)
	}
	return out, nil
}

// unwrap reverses wrap, reconstructing up to r corrupted shards by their
// CRC32 mismatching, and returns the original payload plus whether a
// repair was performed.
func (c *parityCodec) unwrap(blob []byte) (payload []byte, repaired bool, err error) {
	if len(blob) < 16 {
		return nil, false, fmt.Errorf("store: parity blob too short")
	}
	origLen := int(binary.LittleEndian.Uint32(blob[0:4]))
	shardLen := int(binary.LittleEndian.Uint32(blob[4:8]))
	k := int(binary.LittleEndian.Uint32(blob[8:12]))
	r := int(binary.LittleEndian.Uint32(blob[12:16]))
	total := k + r

	crcOff := 16
	dataOff := crcOff + total*4
	if len(blob) < dataOff+total*shardLen {
		return nil, false, fmt.Errorf("store: parity blob truncated")
	}

	shards := make([][]byte, total)
	missing := 0
	for i := 0; i < total; i++ {
		wantCRC := binary.LittleEndian.Uint32(blob[crcOff+i*4 : crcOff+i*4+4])
		shard := blob[dataOff+i*shardLen : dataOff+(i+1)*shardLen]
		if crc32.ChecksumIEEE(shard) == wantCRC {
			cp := make([]byte, shardLen)
			copy(cp, shard)
			shards[i] = cp
		} else {
			missing++
		}
	}

	if missing > 0 {
		if missing > r {
			return nil, false, fmt.Errorf("store: %d shards corrupted, can only recover %d", missing, r)
		}
		if err := c.rs.Reconstruct(shards); err != nil {
			return nil, false, fmt.Errorf("store: parity reconstruct: %w", err)
		}
		repaired = true
	}

	out := make([]byte, 0, k*shardLen)
	for i := 0; i < k; i++ {
		out = append(out, shards[i]...)
	}
	if origLen > len(out) {
		origLen = len(out)
	}
	return out[:origLen], repaired, nil
}
