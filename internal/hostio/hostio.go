// Package hostio defines the host adapter contract this runtime requires
// of its embedding (spec §6) and provides two reference implementations:
// an in-memory loopback for tests, and a stdio adapter standing in for a
// serial link for local manual exercising of the dispatcher.
//
// This is an external-boundary package by design (spec §1): the actual
// byte transport, clock, and reset hook are device-specific and owned by
// the embedder, not the runtime core.
package hostio

// ByteSender is the narrow slice of HostAdapter the output ring needs.
type ByteSender interface {
	// SendByte offers one byte to the host link. Non-blocking; returns
	// true if the host accepted it.
	SendByte(b byte) bool
}

// HostAdapter is the full set of host-provided primitives (spec §6).
type HostAdapter interface {
	ByteSender
	// ReadBytes reads up to len(buf) bytes without blocking, returning
	// the number actually read.
	ReadBytes(buf []byte) int
	// Microsecs returns a free-running microsecond counter; wraparound
	// is expected and must be handled by elapsed-time comparisons, never
	// by comparing absolute values.
	Microsecs() uint32
	// SystemReset reboots the host device.
	SystemReset()
	// BoardType reports a short board identifier, included in the
	// getVersion response (spec §4.G).
	BoardType() string
}
