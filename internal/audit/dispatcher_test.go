package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
	err    error
}

func (s *recordingSink) Record(_ context.Context, event Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherRecordsEvents(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 16)

	for i := 0; i < 5; i++ {
		d.Emit(Event{Action: ActionLogin, UserID: "u1"})
	}
	d.Close()

	if got := sink.count(); got != 5 {
		t.Fatalf("recorded = %d, want 5", got)
	}
	if d.Dropped() != 0 {
		t.Fatalf("dropped = %d, want 0", d.Dropped())
	}
}

func TestDispatcherCloseDrainsBuffer(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(sink, 16)

	for i := 0; i < 10; i++ {
		d.Emit(Event{Action: ActionLogout})
	}
	// Let the worker proceed and shut down; everything buffered must land.
	close(sink.block)
	d.Close()

	if got := sink.count(); got != 10 {
		t.Fatalf("recorded = %d, want all 10 drained on close", got)
	}
}

func TestDispatcherDropsUnderBackpressure(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(sink, 2)

	// The worker is stuck on the first event; the buffer holds two more.
	// Everything past that is dropped, never blocking the caller.
	for i := 0; i < 10; i++ {
		d.Emit(Event{Action: ActionLogin})
	}
	if d.Dropped() == 0 {
		t.Fatal("no events dropped with a full buffer and a stuck sink")
	}

	close(sink.block)
	d.Close()

	total := uint64(sink.count()) + d.Dropped()
	if total != 10 {
		t.Fatalf("recorded %d + dropped %d != 10 emitted", sink.count(), d.Dropped())
	}
}

func TestDispatcherSinkErrorDoesNotPropagate(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	d := NewDispatcher(sink, 4)

	// Emit never returns an error; the failure is logged and swallowed.
	d.Emit(Event{Action: ActionLogin})
	d.Close()

	if sink.count() != 1 {
		t.Fatalf("recorded = %d, want 1 attempt", sink.count())
	}
}

func TestDispatcherEmitAfterClose(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 4)
	d.Close()

	d.Emit(Event{Action: ActionLogin})
	time.Sleep(10 * time.Millisecond)
	if sink.count() != 0 {
		t.Fatal("event recorded after close")
	}
}

func TestEventRowDefaults(t *testing.T) {
	row := Event{
		Action:    ActionRateLimited,
		Resource:  "endpoint",
		NewValues: map[string]any{"retry_after_seconds": 30},
	}.Row()

	if row.WorkspaceID != "security" {
		t.Fatalf("workspace = %q, want security", row.WorkspaceID)
	}
	if row.CreatedAt.IsZero() {
		t.Fatal("created_at not defaulted")
	}
	if row.NewValues == "" {
		t.Fatal("detail payload empty")
	}
	if row.OldValues != "" {
		t.Fatalf("old values = %q, want empty", row.OldValues)
	}
}
