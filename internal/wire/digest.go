package wire

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// FrameDigest returns a short hex BLAKE3 digest of a long frame's body,
// for an optional trailing debug log field only (SPEC_FULL.md §4.B). It
// never participates in parsing or resync; nothing in the dispatcher
// calls it, so it has no effect on observable wire behavior.
func FrameDigest(body []byte) string {
	h := blake3.New()
	h.Write(body)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8])
}
