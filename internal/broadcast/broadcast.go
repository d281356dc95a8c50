// Package broadcast implements the broadcast router (spec §4.F):
// matching a broadcast payload against every installed broadcast-hat
// chunk's literal argument, and starting a task for each match.
package broadcast

import (
	"github.com/netseye/smallvm/internal/chunktable"
	"github.com/netseye/smallvm/internal/interp"
	"github.com/netseye/smallvm/internal/observability"
)

// CodeSource gives the router read access to the chunk table and to the
// raw compiled words for a chunk, without importing the chunk table's
// backing store directly.
type CodeSource interface {
	Len() int
	Type(index int) chunktable.ChunkType
	// Words returns the compiled instruction words for the chunk at
	// index, or nil if none is stored.
	Words(index int) []interp.Word
}

// LiteralResolver dereferences a pushLiteral argument into its string
// bytes. Literal storage is owned by the object memory (spec §1, §6,
// external collaborator); the router only needs to ask for bytes at a
// displacement, mirroring how internal/interp models the rest of that
// boundary.
type LiteralResolver interface {
	ResolveStringLiteral(arg uint32) ([]byte, bool)
}

// Scheduler is the subset of the task table the router drives.
type Scheduler interface {
	StartTaskForChunk(chunkIndex int)
}

// Router implements spec §4.F.
type Router struct {
	code      CodeSource
	literals  LiteralResolver
	scheduler Scheduler
	obs       *observability.Logger
	metrics   *observability.Metrics
}

// New builds a Router.
func New(code CodeSource, literals LiteralResolver, scheduler Scheduler, obs *observability.Logger, metrics *observability.Metrics) *Router {
	return &Router{code: code, literals: literals, scheduler: scheduler, obs: obs, metrics: metrics}
}

// StartReceiversOfBroadcast implements spec §4.F's
// start_receivers_of_broadcast(msg, len): scan every broadcast-hat
// chunk, decode its second instruction's literal, and start a task for
// each chunk whose literal matches msg byte-for-byte. A chunk whose code
// is too short, malformed, or not pushLiteral is silently skipped — spec
// §4.F names this explicitly, since a mid-compile chunk must never wedge
// the whole broadcast scan.
func (r *Router) StartReceiversOfBroadcast(msg []byte) {
	for i := 0; i < r.code.Len(); i++ {
		if r.code.Type(i) != chunktable.TypeBroadcastHat {
			continue
		}
		name, ok := r.literalNameOf(i)
		if !ok {
			continue
		}
		if !bytesEqual(name, msg) {
			continue
		}
		if r.metrics != nil {
			r.metrics.BroadcastMatchesTotal.Inc()
		}
		if r.obs != nil {
			r.obs.BroadcastMatched(i, string(name))
		}
		r.scheduler.StartTaskForChunk(i)
	}
}

// literalNameOf decodes chunk i's second instruction as described in
// spec §4.F: skip initLocals, require the next word to be pushLiteral,
// and resolve its argument through the literal resolver.
func (r *Router) literalNameOf(chunkIndex int) ([]byte, bool) {
	words := r.code.Words(chunkIndex)
	if len(words) < int(interp.PersistentHeaderWords)+2 {
		return nil, false
	}

	initWord := words[interp.PersistentHeaderWords]
	if interp.Cmd(initWord) != interp.OpInitLocals {
		return nil, false
	}
	pushWord := words[interp.PersistentHeaderWords+1]
	if interp.Cmd(pushWord) != interp.OpPushLiteral {
		return nil, false
	}

	if r.literals == nil {
		return nil, false
	}
	return r.literals.ResolveStringLiteral(interp.Arg(pushWord))
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
