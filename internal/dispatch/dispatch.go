// Package dispatch implements the message dispatcher (spec §4.G): the
// single owner struct (spec §9's "Runtime") tying the receive buffer,
// output ring, wire codec, chunk/task tables, broadcast router,
// persistence bridge, and value encoder together into one per-tick
// cooperative loop.
package dispatch

import (
	"context"

	"github.com/google/uuid"

	"github.com/netseye/smallvm/internal/broadcast"
	"github.com/netseye/smallvm/internal/chunktable"
	"github.com/netseye/smallvm/internal/config"
	"github.com/netseye/smallvm/internal/hostio"
	"github.com/netseye/smallvm/internal/interp"
	"github.com/netseye/smallvm/internal/observability"
	"github.com/netseye/smallvm/internal/ring"
	"github.com/netseye/smallvm/internal/store"
	"github.com/netseye/smallvm/internal/tasktable"
	"github.com/netseye/smallvm/internal/value"
	"github.com/netseye/smallvm/internal/wire"

	oteltrace "go.opentelemetry.io/otel/trace"
)

// Runtime is the single owner of every piece of per-board state (spec
// §9 design note: "model them as a single Runtime owner... rather than
// true globals, to keep the VM embeddable"). Multiple Runtimes can
// coexist, e.g. one per simulated board in tests.
type Runtime struct {
	cfg  *config.Config
	host hostio.HostAdapter

	outRing *ring.Ring
	log     store.Store
	chunks  *chunktable.Table
	tasks   *tasktable.Table
	router  *broadcast.Router

	vars []interp.Value

	rcvBuf       []byte
	rcvByteCount int
	lastRcvTime  uint32

	obs     *observability.Logger
	metrics *observability.Metrics
	tracer  oteltrace.Tracer
}

// New builds a Runtime. literals resolves broadcast-hat literal pool
// arguments to string bytes (external object-memory collaborator, spec
// §1/§6); obs and metrics may be nil (all observability calls are
// nil-guarded, matching the package-level tests for C/D/E/F).
func New(cfg *config.Config, host hostio.HostAdapter, log store.Store, literals broadcast.LiteralResolver, obs *observability.Logger, metrics *observability.Metrics) *Runtime {
	rt := &Runtime{
		cfg:     cfg,
		host:    host,
		outRing: ring.New(cfg.RingSizeLog2),
		log:     log,
		vars:    make([]interp.Value, cfg.MaxVars),
		rcvBuf:  make([]byte, cfg.RcvBufSize),
		obs:     obs,
		metrics: metrics,
		tracer:  observability.Tracer(),
	}
	if metrics != nil {
		rt.outRing.SetCounters(metrics.RingBytesDroppedTotal, metrics.RingBytesEnqueuedTotal)
	}

	rt.chunks = chunktable.New(cfg.MaxChunks, log, obs, metrics)
	rt.tasks = tasktable.New(cfg.MaxTasks, rt.chunks, rt, obs, metrics)
	rt.router = broadcast.New(rt.chunks, literals, rt.tasks, obs, metrics)

	return rt
}

// NewRuntimeInstanceID mints a correlation id for a Runtime's log lines
// (SPEC_FULL.md §4.G), grounded on the teacher's pervasive use of
// github.com/google/uuid for session/correlation ids.
func NewRuntimeInstanceID() uuid.UUID { return uuid.New() }

// Chunks exposes the chunk table for process wiring (cmd/vmhost) and tests.
func (rt *Runtime) Chunks() *chunktable.Table { return rt.chunks }

// Tasks exposes the task table for process wiring and tests.
func (rt *Runtime) Tasks() *tasktable.Table { return rt.tasks }

// Ring exposes the output ring for process wiring and tests.
func (rt *Runtime) Ring() *ring.Ring { return rt.outRing }

// TaskStarted implements tasktable.StartedHandler: encode and enqueue a
// taskStartedMsg (spec §4.E, §5 ordering guarantee: this always precedes
// any output produced by the task itself, since it is enqueued
// synchronously with start_task_for_chunk).
func (rt *Runtime) TaskStarted(chunkIndex, taskIndex int) {
	rt.outRing.TryEnqueue(wire.EncodeShort(wire.MsgTaskStarted, byte(chunkIndex)))
}

// TaskDone implements tasktable.StartedHandler (spec §4.E/§5: emitted
// exactly once per run termination).
func (rt *Runtime) TaskDone(chunkIndex, taskIndex int) {
	rt.outRing.TryEnqueue(wire.EncodeShort(wire.MsgTaskDone, byte(chunkIndex)))
}

// NoFreeTaskEntries implements tasktable.StartedHandler (spec §7): the
// diagnostic string is sent as an outputValueMsg, not just logged.
func (rt *Runtime) NoFreeTaskEntries(chunkIndex int) {
	rt.sendDiagnostic(byte(chunkIndex), "No free task entries")
}

func (rt *Runtime) sendDiagnostic(arg byte, text string) {
	body := value.Encode(interp.NewStringFromBytes([]byte(text)), rt.cfg.MaxValueBodyBytes)
	rt.outRing.TryEnqueue(wire.EncodeLong(wire.MsgOutputValue, arg, body))
}

// SendTaskError implements spec §7's sendTaskError(chunkIndex, errorCode,
// where), called by the external interpreter when a running task faults.
func (rt *Runtime) SendTaskError(chunkIndex int, errorCode byte, where uint32) {
	body := []byte{errorCode, byte(where), byte(where >> 8), byte(where >> 16), byte(where >> 24)}
	rt.outRing.TryEnqueue(wire.EncodeLong(wire.MsgTaskError, byte(chunkIndex), body))
	if rt.obs != nil {
		rt.obs.TaskError(chunkIndex, errorCode, where)
	}
}

// Step runs one logical tick (spec §5): drain one output byte, pull in
// available inbound bytes, and dispatch at most one complete message.
func (rt *Runtime) Step() {
	rt.outRing.DrainOne(rt.host)

	room := rt.cfg.RcvBufSize - rt.rcvByteCount
	if room > 0 {
		n := rt.host.ReadBytes(rt.rcvBuf[rt.rcvByteCount : rt.rcvByteCount+room])
		if n > 0 {
			rt.rcvByteCount += n
			rt.lastRcvTime = rt.host.Microsecs()
		}
	}

	if rt.rcvByteCount == 0 {
		return
	}

	buf := rt.rcvBuf[:rt.rcvByteCount]
	frame, consumed, err := wire.TryDecode(buf)
	switch err {
	case nil:
		_, span := rt.tracer.Start(context.Background(), "dispatch.message")
		rt.dispatch(frame)
		span.End()
		rt.consume(consumed)

	case wire.ErrIncomplete, wire.ErrBadTerminator:
		if rt.timedOut() {
			rt.resync(err.Error())
		}

	default: // wire.ErrBadStart and anything else: resync immediately.
		rt.resync(err.Error())
	}
}

func (rt *Runtime) timedOut() bool {
	elapsed := rt.host.Microsecs() - rt.lastRcvTime
	return elapsed > rt.cfg.InterByteTimeoutMicros
}

// resync implements spec §4.G's skipToStartByteAfter(1): scan past the
// current leading byte for the next legal start-byte/message-type pair,
// shifting it to offset 0; clear the buffer entirely if none exists.
func (rt *Runtime) resync(reason string) {
	before := rt.rcvByteCount
	idx := wire.SkipToStartByteAfter(rt.rcvBuf[:rt.rcvByteCount], 1)
	if idx < 0 {
		rt.rcvByteCount = 0
	} else {
		rt.consume(idx)
	}
	if rt.obs != nil {
		rt.obs.Resync(reason, before-rt.rcvByteCount)
	}
	if rt.metrics != nil {
		rt.metrics.DispatcherResyncsTotal.WithLabelValues(reason).Inc()
	}
}

// consume shifts the receive buffer left by n bytes.
func (rt *Runtime) consume(n int) {
	remaining := rt.rcvByteCount - n
	copy(rt.rcvBuf, rt.rcvBuf[n:rt.rcvByteCount])
	rt.rcvByteCount = remaining
}

func (rt *Runtime) dispatch(f wire.Frame) {
	if f.Long {
		rt.dispatchLong(f)
		return
	}
	rt.dispatchShort(f)
}

func (rt *Runtime) dispatchShort(f wire.Frame) {
	index := int(f.Arg)
	switch f.Type {
	case wire.MsgDeleteChunk:
		rt.logErr(rt.chunks.DeleteChunk(index, rt.tasks), "delete chunk failed")
	case wire.MsgStartChunk:
		rt.tasks.StartTaskForChunk(index)
	case wire.MsgStopChunk:
		rt.tasks.StopTaskForChunk(index)
	case wire.MsgStartAll:
		rt.tasks.StartAll()
	case wire.MsgStopAll:
		rt.tasks.StopAllTasks()
		rt.sendDiagnostic(0, "All tasks stopped")
	case wire.MsgGetVar:
		rt.sendVar(index)
	case wire.MsgDeleteVar:
		rt.deleteVar(index)
	case wire.MsgDeleteComment:
		_, err := rt.log.Append(store.TypeCommentDeleted, byte(index), 0, nil)
		rt.logErr(err, "append commentDeleted failed")
	case wire.MsgGetVersion:
		rt.sendVersion()
	case wire.MsgGetAllCode:
		rt.sendAllCode()
	case wire.MsgDeleteAllCode:
		rt.deleteAllCode()
	case wire.MsgSystemReset:
		rt.host.SystemReset()
	case wire.MsgPing:
		rt.outRing.TryEnqueue(wire.EncodeShort(wire.MsgPing, 0))
	}
}

func (rt *Runtime) dispatchLong(f wire.Frame) {
	index := int(f.Arg)
	switch f.Type {
	case wire.MsgChunkCode:
		rt.logErr(rt.chunks.StoreCodeChunk(index, f.Body), "store chunk code failed")
	case wire.MsgSetVar:
		if v, ok := value.DecodeSetVar(f.Body); ok && index >= 0 && index < len(rt.vars) {
			rt.vars[index] = v
		}
	case wire.MsgBroadcast:
		rt.router.StartReceiversOfBroadcast(f.Body)
	case wire.MsgChunkAttribute:
		if len(f.Body) >= 1 {
			rt.logErr(rt.chunks.StoreAttribute(index, f.Body[0], f.Body[1:]), "store chunk attribute failed")
		}
	case wire.MsgVarName:
		_, err := rt.log.Append(store.TypeVarName, byte(index), 0, bytesToWords(f.Body))
		rt.logErr(err, "append varName failed")
	case wire.MsgComment:
		_, err := rt.log.Append(store.TypeComment, byte(index), 0, bytesToWords(f.Body))
		rt.logErr(err, "append comment failed")
	case wire.MsgCommentPosition:
		if len(f.Body) == 4 {
			_, err := rt.log.Append(store.TypeCommentPosition, byte(index), 0, bytesToWords(f.Body))
			rt.logErr(err, "append commentPosition failed")
		}
		// Any other size is a malformed payload (spec §7): silently ignored.
	}
}

func (rt *Runtime) logErr(err error, msg string) {
	if err != nil && rt.obs != nil {
		rt.obs.Error(err, msg)
	}
}

func (rt *Runtime) sendVar(index int) {
	var v interp.Value
	if index >= 0 && index < len(rt.vars) {
		v = rt.vars[index]
	} else {
		v = interp.Int2Obj(0)
	}
	body := value.Encode(v, rt.cfg.MaxValueBodyBytes)
	rt.outRing.TryEnqueue(wire.EncodeLong(wire.MsgOutputValue, byte(index), body))
}

func (rt *Runtime) deleteVar(index int) {
	if index >= 0 && index < len(rt.vars) {
		rt.vars[index] = interp.Int2Obj(0)
	}
	_, err := rt.log.Append(store.TypeVarDeleted, byte(index), 0, nil)
	rt.logErr(err, "append varDeleted failed")
}

func (rt *Runtime) sendVersion() {
	body := []byte(rt.cfg.FirmwareVersion + "|" + rt.host.BoardType())
	rt.outRing.TryEnqueue(wire.EncodeLong(wire.MsgVersionReply, 0, body))
}

// sendAllCode implements getAllCode (spec §4.G short command table):
// compact the log to canonical minimum form, then dump every occupied
// chunk and its attributes. Dumps use WaitForSpace — the one privileged
// blocking emission spec §4.A/§9 reserve for full code dumps and
// IDE-directed broadcasts.
func (rt *Runtime) sendAllCode() {
	if _, err := rt.log.Compact(); err != nil && rt.obs != nil {
		rt.obs.Error(err, "compaction failed during getAllCode")
	}
	if err := rt.chunks.Rebuild(); err != nil && rt.obs != nil {
		rt.obs.Error(err, "chunk table rebuild failed after compaction")
	}

	for i := 0; i < rt.chunks.Len(); i++ {
		entry := rt.chunks.At(i)
		if entry.Unused() {
			continue
		}
		codeBytes := wordsToBytes(interpWordsToUint32(rt.chunks.Words(i)))
		body := append([]byte{byte(entry.Type)}, codeBytes...)
		frame := wire.EncodeLong(wire.MsgCodeDumpChunk, byte(i), body)
		rt.outRing.WaitForSpace(len(frame), rt.host)
		rt.outRing.TryEnqueue(frame)
	}

	rt.dumpAttributes()
}

func interpWordsToUint32(words []interp.Word) []uint32 {
	out := make([]uint32, len(words))
	for i, w := range words {
		out[i] = uint32(w)
	}
	return out
}

func (rt *Runtime) dumpAttributes() {
	rt.chunks.EachAttribute(func(index int, attributeID byte, words []uint32) {
		body := append([]byte{attributeID}, wordsToBytes(words)...)
		frame := wire.EncodeLong(wire.MsgCodeDumpAttribute, byte(index), body)
		rt.outRing.WaitForSpace(len(frame), rt.host)
		rt.outRing.TryEnqueue(frame)
	})
}

// deleteAllCode implements deleteAllCode (spec §4.G): stop everything,
// then wipe the chunk table. Scenario S6: only previously-occupied
// indices get a chunkDeleted record — chunktable.DeleteAll already
// restricts itself to those.
func (rt *Runtime) deleteAllCode() {
	rt.tasks.StopAllTasks()
	rt.logErr(rt.chunks.DeleteAll(rt.tasks), "delete all chunks failed")
}

func bytesToWords(b []byte) []uint32 {
	n := (len(b) + 3) / 4
	out := make([]uint32, n)
	for i := 0; i < len(b); i++ {
		out[i/4] |= uint32(b[i]) << (8 * uint(i%4))
	}
	return out
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
