package interp

// Word is a single compiled instruction: an 8-bit opcode packed with a
// 24-bit argument, matching the host VM's compiled chunk code layout
// (spec §6). The encoding itself is an external contract; only the two
// accessor helpers and the two opcode constants the broadcast router needs
// (spec §4.F) are modeled here.
type Word uint32

// PersistentHeaderWords is the number of words every chunk's persisted
// code begins with before instruction 0 (spec §6). The header itself is
// owned by the persistence/object layer and is opaque to this runtime;
// the runtime only needs to know how many words to skip.
const PersistentHeaderWords = 1

const (
	// OpInitLocals is instruction 0 of every chunk (spec §3): it
	// allocates the chunk's local-variable frame before execution begins.
	OpInitLocals = 0x01
	// OpPushLiteral pushes a literal from the chunk's literal pool. The
	// broadcast router (spec §4.F) requires a broadcast-hat chunk's
	// second instruction to be exactly this opcode.
	OpPushLiteral = 0x02
)

// Cmd extracts the 8-bit opcode from a compiled word.
func Cmd(w Word) uint8 { return uint8(w >> 24) }

// Arg extracts the 24-bit argument from a compiled word.
func Arg(w Word) uint32 { return uint32(w & 0x00FFFFFF) }

// MakeWord packs an opcode and argument into a compiled word. Used only
// by tests constructing synthetic chunk code.
func MakeWord(op uint8, arg uint32) Word {
	return Word(uint32(op)<<24 | (arg & 0x00FFFFFF))
}
