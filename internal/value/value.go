// Package value implements the value encoder (spec §4.H): serialising a
// tagged runtime value to a small type-prefixed wire payload, and
// decoding the setVar command's symmetric subset of that encoding.
package value

import (
	"encoding/binary"

	"github.com/netseye/smallvm/internal/interp"
)

// Wire type tags for an encoded value body (spec §4.H).
const (
	TypeInt       = 1
	TypeString    = 2
	TypeBoolean   = 3
	TypeByteArray = 4
)

// Encode serialises v to a body of 1+N bytes: a leading type tag
// followed by N payload bytes. maxBodyBytes bounds the total length —
// string payloads are truncated to fit, matching spec §4.H's "truncated
// to fit the 500-byte body ceiling".
func Encode(v interp.Value, maxBodyBytes int) []byte {
	switch {
	case interp.IsInt(v):
		body := make([]byte, 5)
		body[0] = TypeInt
		binary.LittleEndian.PutUint32(body[1:], uint32(interp.Obj2Int(v)))
		return clip(body, maxBodyBytes)

	case interp.IsClass(v, interp.ClassString):
		s := []byte(interp.Obj2Str(v))
		budget := maxBodyBytes - 1
		if budget < 0 {
			budget = 0
		}
		if len(s) > budget {
			s = s[:budget]
		}
		body := make([]byte, 1+len(s))
		body[0] = TypeString
		copy(body[1:], s)
		return body

	case interp.IsClass(v, interp.ClassBoolean):
		b := byte(0)
		if interp.Bool(v) {
			b = 1
		}
		return clip([]byte{TypeBoolean, b}, maxBodyBytes)

	case interp.IsClass(v, interp.ClassByteArray):
		raw := interp.Bytes(v)
		budget := maxBodyBytes - 1
		if budget < 0 {
			budget = 0
		}
		if len(raw) > budget {
			raw = raw[:budget]
		}
		body := make([]byte, 1+len(raw))
		body[0] = TypeByteArray
		copy(body[1:], raw)
		return body

	default:
		// Unknown class: encode as integer zero rather than panic, since
		// this path runs on every output tick and must never wedge the
		// dispatcher over a value the interpreter tagged unexpectedly.
		return []byte{TypeInt, 0, 0, 0, 0}
	}
}

func clip(body []byte, maxBodyBytes int) []byte {
	if maxBodyBytes > 0 && len(body) > maxBodyBytes {
		return body[:maxBodyBytes]
	}
	return body
}

// DecodeSetVar decodes a setVar command body (spec §4.H: "Decoding setVar
// accepts types 1, 2, and 3 symmetrically"). Byte-arrays are never
// assigned directly through setVar — they only ever arrive by reference
// from the object heap, which is external to this package.
func DecodeSetVar(body []byte) (interp.Value, bool) {
	if len(body) < 1 {
		return interp.Value{}, false
	}
	switch body[0] {
	case TypeInt:
		if len(body) < 5 {
			return interp.Value{}, false
		}
		n := int32(binary.LittleEndian.Uint32(body[1:5]))
		return interp.Int2Obj(n), true

	case TypeString:
		return interp.NewStringFromBytes(body[1:]), true

	case TypeBoolean:
		if len(body) < 2 {
			return interp.Value{}, false
		}
		if body[1] != 0 {
			return interp.True, true
		}
		return interp.False, true

	default:
		return interp.Value{}, false
	}
}
