// Package observability carries the VM runtime's ambient stack: structured
// logging, Prometheus metrics, and OpenTelemetry tracing — ported from the
// teacher daemon's internal/observability package (logger.go, metrics.go,
// tracing.go) and renamed to this domain's events.
package observability

import (
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging, as in the teacher's
// observability.Logger.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a structured logger tagged with a runtime instance id
// so multiple simulated boards can be told apart in a shared log stream
// (SPEC_FULL.md §4.G).
func NewLogger(board string, instance uuid.UUID, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("component", "smallvm").
		Str("board", board).
		Str("runtime_id", instance.String()).
		Logger()

	return &Logger{logger: logger}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) { l.logger.Debug().Msg(msg) }

// Info logs an info message.
func (l *Logger) Info(msg string) { l.logger.Info().Msg(msg) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string) { l.logger.Warn().Msg(msg) }

// Error logs an error-level message.
func (l *Logger) Error(err error, msg string) { l.logger.Error().Err(err).Msg(msg) }

// Fatal logs an error-level message and terminates the process, for
// startup failures cmd/vmhost cannot recover from.
func (l *Logger) Fatal(err error, msg string) { l.logger.Fatal().Err(err).Msg(msg) }

// TaskStarted logs a task start event (spec §4.E).
func (l *Logger) TaskStarted(chunkIndex int, taskIndex int) {
	l.logger.Info().
		Int("chunk_index", chunkIndex).
		Int("task_index", taskIndex).
		Msg("task started")
}

// TaskDone logs a task completion event (spec §4.E, §5 ordering guarantee).
func (l *Logger) TaskDone(chunkIndex int, taskIndex int) {
	l.logger.Info().
		Int("chunk_index", chunkIndex).
		Int("task_index", taskIndex).
		Msg("task done")
}

// TaskError logs a task runtime error (spec §7 sendTaskError).
func (l *Logger) TaskError(chunkIndex int, errorCode byte, where uint32) {
	l.logger.Error().
		Int("chunk_index", chunkIndex).
		Uint8("error_code", errorCode).
		Uint32("where", where).
		Msg("task runtime error")
}

// ChunkStored logs a chunk code store event (spec §4.C).
func (l *Logger) ChunkStored(chunkIndex int, chunkType byte, codeLen int) {
	l.logger.Debug().
		Int("chunk_index", chunkIndex).
		Uint8("chunk_type", chunkType).
		Int("code_len", codeLen).
		Msg("chunk code stored")
}

// ChunkDeleted logs a chunk deletion event (spec §4.C).
func (l *Logger) ChunkDeleted(chunkIndex int) {
	l.logger.Debug().
		Int("chunk_index", chunkIndex).
		Msg("chunk deleted")
}

// BroadcastMatched logs a broadcast router match (spec §4.F).
func (l *Logger) BroadcastMatched(chunkIndex int, name string) {
	l.logger.Debug().
		Int("chunk_index", chunkIndex).
		Str("broadcast", name).
		Msg("broadcast matched receiver")
}

// Resync logs a dispatcher resync event (spec §4.G, §7).
func (l *Logger) Resync(reason string, bytesSkipped int) {
	l.logger.Warn().
		Str("reason", reason).
		Int("bytes_skipped", bytesSkipped).
		Msg("dispatcher resync")
}

// NoFreeTaskEntries logs the resource-exhaustion diagnostic (spec §7).
func (l *Logger) NoFreeTaskEntries(chunkIndex int) {
	l.logger.Warn().
		Int("chunk_index", chunkIndex).
		Msg("no free task entries")
}

// RecordParityRepaired logs a persistence-layer parity reconstruction
// event (SPEC_FULL.md §4.D).
func (l *Logger) RecordParityRepaired(recordIndex uint64) {
	l.logger.Warn().
		Uint64("record_index", recordIndex).
		Msg("persisted record repaired from parity shards")
}
