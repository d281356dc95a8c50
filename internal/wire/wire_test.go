package wire

import "testing"

func TestEncodeDecodeShortRoundTrip(t *testing.T) {
	msg := EncodeShort(MsgPing, 0x00)
	want := []byte{ShortStart, byte(MsgPing), 0x00}
	if string(msg) != string(want) {
		t.Fatalf("S1 ping: got % x want % x", msg, want)
	}

	f, n, err := TryDecode(msg)
	if err != nil {
		t.Fatalf("decode short: %v", err)
	}
	if n != ShortFrameLen || f.Type != MsgPing || f.Arg != 0 {
		t.Fatalf("unexpected decode: %+v consumed=%d", f, n)
	}
}

func TestEncodeDecodeLongRoundTrip(t *testing.T) {
	body := []byte("go")
	msg := EncodeLong(MsgBroadcast, 0, body)
	f, n, err := TryDecode(msg)
	if err != nil {
		t.Fatalf("decode long: %v", err)
	}
	if n != len(msg) || f.Type != MsgBroadcast || string(f.Body) != "go" || !f.Long {
		t.Fatalf("unexpected decode: %+v consumed=%d", f, n)
	}
}

func TestTryDecodeIncompleteWaitsForMoreBytes(t *testing.T) {
	_, _, err := TryDecode([]byte{ShortStart, byte(MsgPing)})
	if err != ErrIncomplete {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}

	full := EncodeLong(MsgChunkCode, 3, []byte{1, 2, 3})
	_, _, err = TryDecode(full[:LongFrameHeaderLen+1])
	if err != ErrIncomplete {
		t.Fatalf("expected ErrIncomplete for partial long frame, got %v", err)
	}
}

func TestTryDecodeBadTerminatorForcesResync(t *testing.T) {
	full := EncodeLong(MsgChunkCode, 3, []byte{1, 2, 3})
	full[len(full)-1] = 0x00 // corrupt terminator
	_, _, err := TryDecode(full)
	if err != ErrBadTerminator {
		t.Fatalf("expected ErrBadTerminator, got %v", err)
	}
}

func TestTryDecodeBadStartForcesResync(t *testing.T) {
	_, _, err := TryDecode([]byte{0x00, 0x00, 0xFA})
	if err != ErrBadStart {
		t.Fatalf("expected ErrBadStart, got %v", err)
	}
}

func TestSkipToStartByteAfterResyncS2(t *testing.T) {
	// S2: two leading junk bytes, then a valid ping frame.
	buf := append([]byte{0x00, 0x00}, EncodeShort(MsgPing, 0x00)...)
	idx := SkipToStartByteAfter(buf, 0)
	if idx != 2 {
		t.Fatalf("expected resync to offset 2, got %d", idx)
	}
	f, n, err := TryDecode(buf[idx:])
	if err != nil || f.Type != MsgPing || n != ShortFrameLen {
		t.Fatalf("unexpected post-resync decode: %+v %d %v", f, n, err)
	}
}

func TestSkipToStartByteAfterNoCandidateClearsBuffer(t *testing.T) {
	buf := []byte{0x00, 0x01, 0x02, 0x03}
	idx := SkipToStartByteAfter(buf, 0)
	if idx != -1 {
		t.Fatalf("expected no resync candidate, got %d", idx)
	}
}

func TestIsLegalMsgType(t *testing.T) {
	if !IsLegalMsgType(0x01) || !IsLegalMsgType(0x20) {
		t.Fatalf("bounds should be legal")
	}
	if IsLegalMsgType(0x00) || IsLegalMsgType(0x21) {
		t.Fatalf("out-of-range types should be illegal")
	}
}
