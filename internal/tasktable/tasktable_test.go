package tasktable

import (
	"testing"

	"github.com/netseye/smallvm/internal/chunktable"
)

// fakeResolver is a minimal ChunkResolver + Len() stand-in so StartAll
// can be exercised without pulling in internal/chunktable's storage.
type fakeResolver struct {
	kinds []chunktable.ChunkType // indexed by chunk index
}

func (f *fakeResolver) Len() int { return len(f.kinds) }
func (f *fakeResolver) Type(i int) chunktable.ChunkType {
	if i < 0 || i >= len(f.kinds) {
		return chunktable.TypeUnused
	}
	return f.kinds[i]
}

func TestStartTaskForChunkIsIdempotent(t *testing.T) {
	events := &recordingEvents{}
	tbl := New(4, &fakeResolver{kinds: make([]chunktable.ChunkType, 4)}, events, nil, nil)

	tbl.StartTaskForChunk(2)
	tbl.StartTaskForChunk(2)

	if tbl.TaskCount() != 1 {
		t.Fatalf("expected exactly one task after duplicate start, got taskCount=%d", tbl.TaskCount())
	}
	if len(events.started) != 1 {
		t.Fatalf("expected exactly one taskStarted event, got %d", len(events.started))
	}
}

func TestStopTaskForChunkShrinksTaskCount(t *testing.T) {
	events := &recordingEvents{}
	tbl := New(4, &fakeResolver{kinds: make([]chunktable.ChunkType, 4)}, events, nil, nil)

	tbl.StartTaskForChunk(0)
	tbl.StartTaskForChunk(1)
	if tbl.TaskCount() != 2 {
		t.Fatalf("expected taskCount=2, got %d", tbl.TaskCount())
	}

	tbl.StopTaskForChunk(1)
	if tbl.TaskCount() != 1 {
		t.Fatalf("expected taskCount to shrink to 1 after stopping the last task, got %d", tbl.TaskCount())
	}
	if !tbl.At(1).Unused() {
		t.Fatalf("expected entry 1 to be unused after stop")
	}
}

func TestNoFreeSlotsReportsNoFreeTaskEntries(t *testing.T) {
	events := &recordingEvents{}
	tbl := New(2, &fakeResolver{kinds: make([]chunktable.ChunkType, 4)}, events, nil, nil)

	tbl.StartTaskForChunk(0)
	tbl.StartTaskForChunk(1)
	tbl.StartTaskForChunk(2) // table full

	if tbl.TaskCount() != 2 {
		t.Fatalf("expected taskCount to stay at 2 when table is full, got %d", tbl.TaskCount())
	}
	if len(events.started) != 2 {
		t.Fatalf("expected only 2 taskStarted events, got %d", len(events.started))
	}
	if len(events.noFreeAt) != 1 || events.noFreeAt[0] != 2 {
		t.Fatalf("expected one NoFreeTaskEntries(2) event, got %v", events.noFreeAt)
	}
}

func TestStopAllTasksResetsTableAndEmitsEvents(t *testing.T) {
	events := &recordingEvents{}
	tbl := New(4, &fakeResolver{kinds: make([]chunktable.ChunkType, 4)}, events, nil, nil)

	tbl.StartTaskForChunk(0)
	tbl.StartTaskForChunk(3)
	tbl.StopAllTasks()

	if tbl.TaskCount() != 0 {
		t.Fatalf("expected taskCount=0 after stop all, got %d", tbl.TaskCount())
	}
	for i := 0; i < tbl.Len(); i++ {
		if !tbl.At(i).Unused() {
			t.Fatalf("expected every entry unused after StopAllTasks")
		}
	}
	if len(events.done) != 2 {
		t.Fatalf("expected 2 taskDone events, got %d", len(events.done))
	}
}

func TestStartAllStartsOnlyHatChunksS3(t *testing.T) {
	events := &recordingEvents{}
	resolver := &fakeResolver{kinds: []chunktable.ChunkType{
		chunktable.TypeUnused,
		chunktable.TypeCommandStack,
		chunktable.TypeStartHat,
		chunktable.TypeWhenConditionHat,
		chunktable.TypeBroadcastHat,
	}}
	tbl := New(4, resolver, events, nil, nil)

	tbl.StartAll()

	if tbl.TaskCount() != 2 {
		t.Fatalf("expected 2 tasks started (indices 2 and 3), got %d", tbl.TaskCount())
	}
	started := map[int]bool{}
	for _, s := range events.started {
		started[s.chunkIndex] = true
	}
	if !started[2] || !started[3] {
		t.Fatalf("expected start-hat (idx 2) and when-condition-hat (idx 3) to start, got %v", events.started)
	}
	if started[4] {
		t.Fatalf("did not expect broadcast-hat chunk to be started by start_all")
	}
}

func TestZeroEntryIsAlreadyUnused(t *testing.T) {
	var e Entry
	if !e.Unused() {
		t.Fatalf("expected a zero-value Entry to report Unused()")
	}
	if e.Status != StatusUnused {
		t.Fatalf("expected StatusUnused to be the Go zero value")
	}
}

type startedEvent struct{ chunkIndex, taskIndex int }

type recordingEvents struct {
	started  []startedEvent
	done     []startedEvent
	noFreeAt []int
}

func (r *recordingEvents) NoFreeTaskEntries(chunkIndex int) {
	r.noFreeAt = append(r.noFreeAt, chunkIndex)
}

func (r *recordingEvents) TaskStarted(chunkIndex, taskIndex int) {
	r.started = append(r.started, startedEvent{chunkIndex, taskIndex})
}

func (r *recordingEvents) TaskDone(chunkIndex, taskIndex int) {
	r.done = append(r.done, startedEvent{chunkIndex, taskIndex})
}
