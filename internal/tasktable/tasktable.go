// Package tasktable implements the task table / scheduler (spec §4.E): a
// fixed-size array of cooperative task entries bound to chunks, with
// start/stop/match semantics. It does not execute tasks — the bytecode
// interpreter step function (external, internal/interp's contract) is
// what advances runnable tasks round-robin; this package only manages
// the table those tasks live in.
package tasktable

import (
	"github.com/netseye/smallvm/internal/chunktable"
	"github.com/netseye/smallvm/internal/interp"
	"github.com/netseye/smallvm/internal/observability"
)

// Status is a task's run state (spec §3). StatusUnused is the Go zero
// value, so a freshly-zeroed Entry is already correctly unused — see
// DESIGN.md's Open Question decision on this point.
type Status byte

const (
	StatusUnused Status = iota
	StatusRunning
	StatusWaiting
	StatusPolling
	StatusDoneWithValue
)

// Entry is one task table slot (spec §3).
type Entry struct {
	Status Status

	// TaskChunkIndex is the chunk this task was started for.
	TaskChunkIndex int
	// CurrentChunkIndex is the chunk currently executing, which may
	// differ from TaskChunkIndex during a function call.
	CurrentChunkIndex int

	IP uint32 // instruction pointer: offset within the current chunk's code
	SP uint32 // stack pointer
	FP uint32 // frame pointer; zero means not inside a function call

	Scratch [4]uint32 // per-task interpreter scratch words
}

func (e Entry) Unused() bool { return e.Status == StatusUnused }

// ChunkResolver is the subset of the chunk table the scheduler needs:
// looking up a chunk's type (to drive start_all). It provides no code
// pointer; a new task's instruction pointer is seeded with the fixed
// PersistentHeaderWords offset.
type ChunkResolver interface {
	Type(index int) chunktable.ChunkType
}

// StartedHandler is notified when a task starts or stops, so the
// dispatcher can encode and queue the corresponding wire message
// without the scheduler importing the wire/ring packages directly.
type StartedHandler interface {
	TaskStarted(chunkIndex, taskIndex int)
	TaskDone(chunkIndex, taskIndex int)
	// NoFreeTaskEntries is called when the table is full; spec §7 requires
	// the diagnostic string "No free task entries" to be emitted as an
	// outputValueMsg on the wire, which only the dispatcher can encode.
	NoFreeTaskEntries(chunkIndex int)
}

// Table is the fixed-size task table (grounded on
// backend/daemon/manager/session.go's TransitionTo state-machine style,
// adapted from a mutex-guarded map to a fixed, lock-free array — the
// scheduler runs on the single cooperative runtime thread, spec §5).
type Table struct {
	entries   []Entry
	taskCount int

	chunks  ChunkResolver
	events  StartedHandler
	obs     *observability.Logger
	metrics *observability.Metrics
}

// New builds a Table of the given size.
func New(maxTasks int, chunks ChunkResolver, events StartedHandler, obs *observability.Logger, metrics *observability.Metrics) *Table {
	return &Table{
		entries: make([]Entry, maxTasks),
		chunks:  chunks,
		events:  events,
		obs:     obs,
		metrics: metrics,
	}
}

func (t *Table) Len() int            { return len(t.entries) }
func (t *Table) TaskCount() int      { return t.taskCount }
func (t *Table) At(i int) Entry      { return t.entries[i] }

// findForChunk returns the index of the entry bound to chunkIndex with a
// non-unused status, or -1.
func (t *Table) findForChunk(chunkIndex int) int {
	for i, e := range t.entries {
		if !e.Unused() && e.TaskChunkIndex == chunkIndex {
			return i
		}
	}
	return -1
}

func (t *Table) firstUnused() int {
	for i, e := range t.entries {
		if e.Unused() {
			return i
		}
	}
	return -1
}

// StartTaskForChunk implements spec §4.E's start_task_for_chunk: if a
// task already runs for this chunk, this is a no-op (idempotent,
// required by scenario S4's duplicate-broadcast case). Otherwise a free
// slot is initialised and a taskStarted event fires.
func (t *Table) StartTaskForChunk(chunkIndex int) {
	if t.findForChunk(chunkIndex) >= 0 {
		return
	}

	slot := t.firstUnused()
	if slot < 0 {
		if t.obs != nil {
			t.obs.NoFreeTaskEntries(chunkIndex)
		}
		if t.events != nil {
			t.events.NoFreeTaskEntries(chunkIndex)
		}
		return
	}

	t.entries[slot] = Entry{
		Status:            StatusRunning,
		TaskChunkIndex:    chunkIndex,
		CurrentChunkIndex: chunkIndex,
		IP:                interp.PersistentHeaderWords,
		SP:                0,
		FP:                0,
	}
	if slot+1 > t.taskCount {
		t.taskCount = slot + 1
	}

	if t.metrics != nil {
		t.metrics.TasksActive.Inc()
		t.metrics.TasksStartedTotal.Inc()
	}
	if t.events != nil {
		t.events.TaskStarted(chunkIndex, slot)
	}
}

// StopTaskForChunk implements spec §4.E's stop_task_for_chunk: zero the
// entry bound to chunkIndex (if any), shrink taskCount if it was the
// last live entry, and emit a taskDone event. Also the TaskStopper the
// chunk table calls before deleting a chunk.
func (t *Table) StopTaskForChunk(chunkIndex int) {
	slot := t.findForChunk(chunkIndex)
	if slot < 0 {
		return
	}
	t.stopSlot(slot)
}

func (t *Table) stopSlot(slot int) {
	chunkIndex := t.entries[slot].TaskChunkIndex
	t.entries[slot] = Entry{}
	if slot+1 == t.taskCount {
		t.taskCount = slot
		for t.taskCount > 0 && t.entries[t.taskCount-1].Unused() {
			t.taskCount--
		}
	}

	if t.metrics != nil {
		t.metrics.TasksActive.Dec()
		t.metrics.TasksDoneTotal.Inc()
	}
	if t.events != nil {
		t.events.TaskDone(chunkIndex, slot)
	}
}

// StartAll implements spec §4.E's start_all: stop everything, then
// start a task for every start-hat or when-condition-hat chunk.
func (t *Table) StartAll() {
	t.StopAllTasks()
	if t.chunks == nil {
		return
	}
	maxChunks := 0
	// The chunk table's own length is the authority on how many
	// indices exist: the loop runs over the resolver's Len(), and a
	// resolver without a Len() method starts nothing.
	if lenAware, ok := t.chunks.(interface{ Len() int }); ok {
		maxChunks = lenAware.Len()
	}
	for i := 0; i < maxChunks; i++ {
		switch t.chunks.Type(i) {
		case chunktable.TypeStartHat, chunktable.TypeWhenConditionHat:
			t.StartTaskForChunk(i)
		}
	}
}

// StopAllTasks implements spec §4.E's stop_all_tasks: emit a taskDone
// for every currently-non-unused task, then reset the whole table.
func (t *Table) StopAllTasks() {
	for i, e := range t.entries {
		if e.Unused() {
			continue
		}
		if t.metrics != nil {
			t.metrics.TasksActive.Dec()
			t.metrics.TasksDoneTotal.Inc()
		}
		if t.events != nil {
			t.events.TaskDone(e.TaskChunkIndex, i)
		}
		t.entries[i] = Entry{}
	}
	t.taskCount = 0
}
