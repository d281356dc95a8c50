// Package ring implements the bounded, single-producer/single-consumer
// output byte ring (spec §4.A): the sole serialization point for every
// outbound byte the runtime ever emits.
package ring

import (
	"github.com/netseye/smallvm/internal/hostio"
	"github.com/netseye/smallvm/internal/ratelimit"
)

// Ring is a fixed power-of-two byte buffer with masked start/end offsets.
// At most size-2 bytes are ever queued (spec §9 open question 2:
// hasOutputSpace uses strict `>`, which costs one slot beyond the usual
// ring's one empty slot, in exchange for an unambiguous empty/full test).
//
// The ring is not safe for concurrent producers; spec §5 requires exactly
// one producer (the runtime thread) and one consumer (the host drain).
type Ring struct {
	buf   []byte
	mask  uint32
	start uint32
	end   uint32

	dropped  Counter
	enqueued Counter

	pacer *ratelimit.Bucket // nil disables pacing: drain is unthrottled
}

// Counter is the minimal counter surface the ring needs from an
// observability backend; prometheus.Counter satisfies it, and the
// default nilCounter is a safe no-op for tests.
type Counter interface {
	Inc()
}

type nilCounter struct{}

func (nilCounter) Inc() {}

// New creates a ring of size 1<<sizeLog2 bytes.
func New(sizeLog2 uint) *Ring {
	size := uint32(1) << sizeLog2
	return &Ring{
		buf:      make([]byte, size),
		mask:     size - 1,
		dropped:  nilCounter{},
		enqueued: nilCounter{},
	}
}

// SetCounters wires Prometheus (or any Counter-shaped) metrics for
// drop/enqueue observability (SPEC_FULL.md §4.A). Purely observational;
// never changes drop/enqueue behavior.
func (r *Ring) SetCounters(dropped, enqueued Counter) {
	if dropped != nil {
		r.dropped = dropped
	}
	if enqueued != nil {
		r.enqueued = enqueued
	}
}

// SetPacer attaches a token-bucket baud-rate model to DrainOne (SPEC_FULL.md
// §4.A), so simulations and tests can exercise a host link of bounded
// throughput. It changes only how often DrainOne emits a byte per call,
// never the one-byte-per-tick contract: a paced-out tick is indistinguishable
// from a host refusal, and the same byte is retried next tick.
func (r *Ring) SetPacer(bytesPerSecond float64, burst int) {
	r.pacer = ratelimit.NewBucket(bytesPerSecond, burst)
}

// count returns the number of queued bytes.
func (r *Ring) count() uint32 {
	return (r.end - r.start) & r.mask
}

// HasSpace reports whether n more bytes can be enqueued. The free space
// (mask minus queued count) must be strictly greater than n, per spec §4.A and the
// §9 design note: this wastes one slot but avoids the start==end
// empty/full ambiguity. Do not relax this to `>=`.
func (r *Ring) HasSpace(n int) bool {
	free := r.mask - r.count()
	return free > uint32(n)
}

// enqueueByte enqueues a single byte. Callers must have already reserved
// space via HasSpace; this never checks space itself (spec §4.A).
func (r *Ring) enqueueByte(b byte) {
	r.buf[r.end&r.mask] = b
	r.end++
}

// TryEnqueue attempts to enqueue all of msg atomically: either every byte
// is queued, or none are (spec §3 invariant: a message that would not fit
// is dropped atomically, never partially queued).
func (r *Ring) TryEnqueue(msg []byte) bool {
	if !r.HasSpace(len(msg)) {
		r.dropped.Inc()
		return false
	}
	for _, b := range msg {
		r.enqueueByte(b)
		r.enqueued.Inc()
	}
	return true
}

// DrainOne attempts to hand the oldest queued byte to the host adapter's
// SendByte. On acceptance the byte is retired; on refusal the ring is left
// untouched so the same byte is retried next tick (spec §4.A).
func (r *Ring) DrainOne(host hostio.ByteSender) {
	if r.count() == 0 {
		return
	}
	if r.pacer != nil && !r.pacer.Allow(1) {
		return
	}
	b := r.buf[r.start&r.mask]
	if host.SendByte(b) {
		r.start++
	}
}

// WaitForSpace busy-drains the ring until n bytes of free space exist.
// This is the one inversion of the single-threaded cooperative rule
// (spec §5, §9): it spins performing only ring drains, never re-entering
// the dispatcher or interpreter. It must only be called from contexts that
// are certain the host is still accepting bytes — full code dumps and
// IDE-directed broadcasts (spec §4.A) — and never from within dispatch of
// a message that could itself be large.
func (r *Ring) WaitForSpace(n int, host hostio.ByteSender) {
	for !r.HasSpace(n) {
		r.DrainOne(host)
	}
}

// Len reports the number of bytes currently queued (test/diagnostic use).
func (r *Ring) Len() int { return int(r.count()) }

// Cap reports the ring's mask (size minus one). Because HasSpace is strict,
// at most Cap()-1 bytes can be queued at once.
func (r *Ring) Cap() int { return int(r.mask) }
