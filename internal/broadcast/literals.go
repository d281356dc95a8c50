package broadcast

import "sync"

// StaticLiterals is a minimal in-memory LiteralResolver, a stand-in for
// the object-memory heap the full system's literal pool would live in
// (spec §1, §6). cmd/vmhost wires this up since the wire protocol this
// spec defines has no message for uploading a literal pool directly;
// an IDE-side compiler that owns the heap would implement LiteralResolver
// against its own memory instead.
type StaticLiterals struct {
	mu    sync.RWMutex
	byArg map[uint32][]byte
}

// NewStaticLiterals builds an empty literal table.
func NewStaticLiterals() *StaticLiterals {
	return &StaticLiterals{byArg: make(map[uint32][]byte)}
}

// Set installs the string literal at arg, overwriting any previous value.
func (s *StaticLiterals) Set(arg uint32, text []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byArg[arg] = append([]byte(nil), text...)
}

// ResolveStringLiteral implements LiteralResolver.
func (s *StaticLiterals) ResolveStringLiteral(arg uint32) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byArg[arg]
	return b, ok
}
