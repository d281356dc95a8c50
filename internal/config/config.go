// Package config holds runtime-wide tunables for the VM core, mirroring
// the flat, no-file-parsing Config pattern the teacher daemon uses
// (daemon/config/config.go): a struct of sized limits plus a
// DefaultConfig constructor.
package config

// Config holds the sizes and tunables that bound the VM runtime's
// in-memory tables and buffers (spec §3).
type Config struct {
	// MaxChunks bounds the chunk table (spec §3: index in [0, MAX_CHUNKS)).
	MaxChunks int
	// MaxTasks bounds the task table (spec §3: index in [0, MAX_TASKS)).
	MaxTasks int
	// MaxVars bounds the variable slot table (spec §3).
	MaxVars int
	// RingSizeLog2 sets the output ring's size to 1<<RingSizeLog2 bytes
	// (spec §4.A: power-of-two byte buffer).
	RingSizeLog2 uint
	// RcvBufSize bounds the dispatcher's receive buffer (spec §4.G).
	RcvBufSize int
	// InterByteTimeoutMicros is the 20ms inter-byte timeout from spec §3,
	// expressed in the host adapter's microsecond clock units.
	InterByteTimeoutMicros uint32
	// MaxValueBodyBytes bounds a string value payload (spec §4.H: 500
	// byte body ceiling, 1 tag byte + up to 499 string bytes).
	MaxValueBodyBytes int
	// RecordParityShards is the number of Reed-Solomon parity shards
	// (internal/store) protecting each persisted record against
	// single-shard flash corruption. Zero disables parity, degenerating
	// the store to a plain append-only log (spec §4.D's minimal contract).
	RecordParityShards int
	// RecordDataShards is the number of data shards a persisted record's
	// body is split across when RecordParityShards > 0.
	RecordDataShards int
	// PersistencePath is the BoltDB file backing the persistence bridge.
	PersistencePath string
	// BoardType is reported in the version message (spec §4.G getVersion).
	BoardType string
	// FirmwareVersion is reported alongside BoardType in getVersion.
	FirmwareVersion string
}

// DefaultConfig returns the default runtime configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxChunks:              256,
		MaxTasks:               32,
		MaxVars:                64,
		RingSizeLog2:           8, // 256-byte ring
		RcvBufSize:             1024,
		InterByteTimeoutMicros: 20000, // 20ms
		MaxValueBodyBytes:      500,
		RecordParityShards:     2,
		RecordDataShards:       4,
		PersistencePath:        "smallvm.store",
		BoardType:              "generic-mcu",
		FirmwareVersion:        "smallvm-0.1",
	}
}
