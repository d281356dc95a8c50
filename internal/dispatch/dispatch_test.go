package dispatch

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/netseye/smallvm/internal/chunktable"
	"github.com/netseye/smallvm/internal/config"
	"github.com/netseye/smallvm/internal/hostio"
	"github.com/netseye/smallvm/internal/interp"
	"github.com/netseye/smallvm/internal/store"
	"github.com/netseye/smallvm/internal/value"
	"github.com/netseye/smallvm/internal/wire"
)

type fakeLiterals struct {
	byArg map[uint32][]byte
}

func (f *fakeLiterals) ResolveStringLiteral(arg uint32) ([]byte, bool) {
	b, ok := f.byArg[arg]
	return b, ok
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.MaxChunks = 8
	cfg.MaxTasks = 4
	cfg.MaxVars = 4
	cfg.RingSizeLog2 = 6 // 64-byte ring, plenty for these tests
	cfg.RcvBufSize = 256
	cfg.RecordParityShards = 0
	cfg.RecordDataShards = 0
	return cfg
}

func openTestLog(t *testing.T) store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	bs, err := store.Open(path, 0, 0, nil, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { bs.Close() })
	return bs
}

func newTestRuntime(t *testing.T, literals *fakeLiterals) (*Runtime, *hostio.Loopback) {
	t.Helper()
	if literals == nil {
		literals = &fakeLiterals{byArg: map[uint32][]byte{}}
	}
	host := hostio.NewLoopback("test-board")
	rt := New(testConfig(), host, openTestLog(t), literals, nil, nil)
	return rt, host
}

// runSteps runs Step() n times, advancing the loopback clock past the
// inter-byte timeout between each so a stalled decode always resyncs
// promptly rather than waiting out multiple ticks.
func runSteps(rt *Runtime, host *hostio.Loopback, n int) {
	for i := 0; i < n; i++ {
		rt.Step()
		host.Advance(rt.cfg.InterByteTimeoutMicros + 1)
	}
}

func encodeWords(words []interp.Word) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		out[i*4+0] = byte(w)
		out[i*4+1] = byte(w >> 8)
		out[i*4+2] = byte(w >> 16)
		out[i*4+3] = byte(w >> 24)
	}
	return out
}

func countOccurrences(haystack, needle []byte) int {
	count := 0
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if bytes.Equal(haystack[i:i+len(needle)], needle) {
			count++
		}
	}
	return count
}

// S1: a ping message gets a pingReply, byte for byte.
func TestPingRepliesS1(t *testing.T) {
	rt, host := newTestRuntime(t, nil)
	host.Feed(wire.EncodeShort(wire.MsgPing, 0))

	runSteps(rt, host, 10)

	want := wire.EncodeShort(wire.MsgPing, 0)
	if !bytes.Contains(host.Sent, want) {
		t.Fatalf("expected pingReply %v in sent bytes, got %v", want, host.Sent)
	}
}

// S2: garbage bytes ahead of a legal frame are skipped by resync, and the
// legal frame behind them is still decoded and dispatched.
func TestResyncSkipsGarbageThenDecodesS2(t *testing.T) {
	rt, host := newTestRuntime(t, nil)

	garbage := []byte{0x00, 0x11, 0x22, 0xFA, 0x99} // 0xFA followed by an illegal type, also garbage
	ping := wire.EncodeShort(wire.MsgPing, 0)
	host.Feed(append(garbage, ping...))

	runSteps(rt, host, 20)

	want := wire.EncodeShort(wire.MsgPing, 0)
	if !bytes.Contains(host.Sent, want) {
		t.Fatalf("expected pingReply to eventually arrive after resync, got %v", host.Sent)
	}
}

// S3: storing a start-hat chunk and issuing startChunk starts exactly one
// task and emits a taskStarted message.
func TestStoreAndStartChunkS3(t *testing.T) {
	rt, host := newTestRuntime(t, nil)

	code := encodeWords([]interp.Word{0}) // header word only
	body := append([]byte{byte(chunktable.TypeStartHat)}, code...)
	host.Feed(wire.EncodeLong(wire.MsgChunkCode, 0, body))
	runSteps(rt, host, 10)

	if rt.chunks.Type(0) != chunktable.TypeStartHat {
		t.Fatalf("expected chunk 0 to be stored as a start-hat, got %v", rt.chunks.Type(0))
	}

	host.Feed(wire.EncodeShort(wire.MsgStartChunk, 0))
	runSteps(rt, host, 10)

	if rt.tasks.TaskCount() != 1 {
		t.Fatalf("expected exactly one running task, got %d", rt.tasks.TaskCount())
	}
	want := wire.EncodeShort(wire.MsgTaskStarted, 0)
	if !bytes.Contains(host.Sent, want) {
		t.Fatalf("expected taskStarted message in sent bytes, got %v", host.Sent)
	}
}

// S4: re-broadcasting the same message to the same receiver is idempotent
// (spec §4.E's start_task_for_chunk) — one task, one taskStarted message.
func TestBroadcastIdempotentS4(t *testing.T) {
	literals := &fakeLiterals{byArg: map[uint32][]byte{1: []byte("go")}}
	rt, host := newTestRuntime(t, literals)

	hatCode := encodeWords([]interp.Word{
		0, // header word, skipped
		interp.MakeWord(interp.OpInitLocals, 0),
		interp.MakeWord(interp.OpPushLiteral, 1),
	})
	body := append([]byte{byte(chunktable.TypeBroadcastHat)}, hatCode...)
	host.Feed(wire.EncodeLong(wire.MsgChunkCode, 0, body))
	runSteps(rt, host, 10)

	host.Feed(wire.EncodeLong(wire.MsgBroadcast, 0, []byte("go")))
	runSteps(rt, host, 10)
	host.Feed(wire.EncodeLong(wire.MsgBroadcast, 0, []byte("go")))
	runSteps(rt, host, 10)

	if rt.tasks.TaskCount() != 1 {
		t.Fatalf("expected exactly one task after duplicate broadcast, got %d", rt.tasks.TaskCount())
	}
	got := countOccurrences(host.Sent, wire.EncodeShort(wire.MsgTaskStarted, 0))
	if got != 1 {
		t.Fatalf("expected exactly one taskStarted message, got %d in %v", got, host.Sent)
	}
}

// getAllCode dumps a stored chunk attribute, exercising the dispatcher's
// getAllCode path through chunktable.Table.EachAttribute rather than a
// second, independent log scan.
func TestGetAllCodeDumpsAttribute(t *testing.T) {
	rt, host := newTestRuntime(t, nil)

	code := encodeWords([]interp.Word{0})
	body := append([]byte{byte(chunktable.TypeReporter)}, code...)
	host.Feed(wire.EncodeLong(wire.MsgChunkCode, 3, body))
	runSteps(rt, host, 10)

	attrBody := append([]byte{7}, 0xAA, 0xBB)
	host.Feed(wire.EncodeLong(wire.MsgChunkAttribute, 3, attrBody))
	runSteps(rt, host, 10)

	// The dump queues two 11-byte frames and the ring drains one byte per
	// tick, so the attribute frame needs more than 22 ticks to reach the wire.
	host.Feed(wire.EncodeShort(wire.MsgGetAllCode, 0))
	runSteps(rt, host, 30)

	want := wire.EncodeLong(wire.MsgCodeDumpAttribute, 3, []byte{7, 0xAA, 0xBB, 0x00, 0x00})
	if !bytes.Contains(host.Sent, want) {
		t.Fatalf("expected attribute dump %v in sent bytes, got %v", want, host.Sent)
	}
}

// S6: deleting all code only records a deletion for previously-occupied
// indices (three here), and clears every chunk table entry.
func TestDeleteAllCodeS6(t *testing.T) {
	rt, host := newTestRuntime(t, nil)

	for _, idx := range []int{1, 2, 5} {
		code := encodeWords([]interp.Word{0})
		body := append([]byte{byte(chunktable.TypeCommandStack)}, code...)
		host.Feed(wire.EncodeLong(wire.MsgChunkCode, byte(idx), body))
		runSteps(rt, host, 10)
	}

	host.Feed(wire.EncodeShort(wire.MsgDeleteAllCode, 0))
	runSteps(rt, host, 10)

	for _, idx := range []int{1, 2, 5} {
		if !rt.chunks.At(idx).Unused() {
			t.Fatalf("expected chunk %d to be unused after deleteAllCode", idx)
		}
	}

	deleted := 0
	var ref store.RecordRef
	for {
		rec, err := rt.log.RecordAfter(ref)
		if err != nil || rec == nil {
			break
		}
		ref = rec.Ref
		if rec.Type == store.TypeChunkDeleted {
			deleted++
		}
	}
	if deleted != 3 {
		t.Fatalf("expected exactly 3 chunkDeleted records, got %d", deleted)
	}
}

// A message type the dispatcher doesn't recognize (but whose framing is
// otherwise legal) is consumed and ignored rather than wedging the
// receive buffer.
func TestUnknownLegalMessageTypeIsConsumed(t *testing.T) {
	rt, host := newTestRuntime(t, nil)
	host.Feed(wire.EncodeShort(wire.MsgType(wire.MaxMsgType), 0))
	host.Feed(wire.EncodeShort(wire.MsgPing, 0))

	runSteps(rt, host, 15)

	want := wire.EncodeShort(wire.MsgPing, 0)
	if !bytes.Contains(host.Sent, want) {
		t.Fatalf("expected ping after an unrecognized-but-legal message, got %v", host.Sent)
	}
}

// getVar on an out-of-range index reports integer zero rather than
// panicking (spec §7: malformed/out-of-range requests are tolerated).
func TestGetVarOutOfRangeYieldsZero(t *testing.T) {
	rt, host := newTestRuntime(t, nil)
	host.Feed(wire.EncodeShort(wire.MsgGetVar, 200))

	runSteps(rt, host, 15)

	if len(host.Sent) == 0 {
		t.Fatalf("expected an outputValue message even for an out-of-range var index")
	}
	want := wire.EncodeLong(wire.MsgOutputValue, 200, []byte{value.TypeInt, 0, 0, 0, 0})
	if !bytes.Contains(host.Sent, want) {
		t.Fatalf("expected integer-zero outputValue %v in sent bytes, got %v", want, host.Sent)
	}
}
