package observe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Emit(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func TestNewMultiSink(t *testing.T) {
	if _, ok := NewMultiSink().(NoopSink); !ok {
		t.Fatalf("expected NoopSink for no sinks")
	}
	a := &recordingSink{}
	if got := NewMultiSink(nil, a); got != Sink(a) {
		t.Fatalf("expected single sink to be returned as-is")
	}

	b := &recordingSink{}
	m := NewMultiSink(a, b)
	if err := m.Emit(context.Background(), Event{Kind: KindCampaign}); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("unexpected fan-out a=%d b=%d", len(a.events), len(b.events))
	}

	failing := SinkFunc(func(context.Context, Event) error { return errors.New("boom") })
	if err := NewMultiSink(failing, b).Emit(context.Background(), Event{}); err == nil {
		t.Fatalf("expected error from failing sink")
	}
}

func TestAsyncSinkDrainsOnClose(t *testing.T) {
	rec := &recordingSink{}
	s := NewAsyncSink(rec, 16)
	for i := 0; i < 5; i++ {
		_ = s.Emit(context.Background(), Event{Kind: KindRecipient, Index: i})
	}
	s.Close()
	if len(rec.events) != 5 {
		t.Fatalf("expected 5 drained events, got %d", len(rec.events))
	}
	if rec.events[0].Timestamp.IsZero() {
		t.Fatalf("expected normalized timestamp")
	}
}

// blockingSink holds every Emit until release is closed.
type blockingSink struct {
	release chan struct{}
	recordingSink
}

func (b *blockingSink) Emit(ctx context.Context, e Event) error {
	<-b.release
	return b.recordingSink.Emit(ctx, e)
}

func TestAsyncSinkShedsOnlyProgressEvents(t *testing.T) {
	down := &blockingSink{release: make(chan struct{})}
	s := NewAsyncSink(down, 1)

	// The first event is taken by the loop and blocks there, the second
	// fills the buffer.
	_ = s.Emit(context.Background(), Event{Kind: KindRecipient, Index: 0})
	deadline := time.Now().Add(2 * time.Second)
	for len(s.queue) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("loop never picked up the first event")
		}
		time.Sleep(time.Millisecond)
	}
	_ = s.Emit(context.Background(), Event{Kind: KindRecipient, Index: 1})
	_ = s.Emit(context.Background(), Event{Kind: KindStage, Step: "SEND"})
	_ = s.Emit(context.Background(), Event{Kind: KindRecipient, Index: 2})

	checkpointSent := make(chan error, 1)
	go func() {
		checkpointSent <- s.Emit(context.Background(), Event{Kind: KindCheckpoint, Index: 3})
	}()
	select {
	case err := <-checkpointSent:
		t.Fatalf("checkpoint event should wait for queue space, returned %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(down.release)
	if err := <-checkpointSent; err != nil {
		t.Fatalf("checkpoint Emit failed: %v", err)
	}
	s.Close()

	if diff := cmp.Diff(map[string]uint64{"recipient": 1, "stage": 1}, s.Dropped()); diff != "" {
		t.Fatalf("dropped counts mismatch (-want +got):\n%s", diff)
	}
	down.mu.Lock()
	defer down.mu.Unlock()
	if len(down.events) != 3 || down.events[2].Kind != KindCheckpoint {
		t.Fatalf("unexpected delivered events %#v", down.events)
	}
}

func TestAsyncSinkEmitAfterClose(t *testing.T) {
	s := NewAsyncSink(&recordingSink{}, 4)
	s.Close()
	s.Close()
	if err := s.Emit(context.Background(), Event{Kind: KindCampaign}); !errors.Is(err, ErrSinkClosed) {
		t.Fatalf("expected ErrSinkClosed, got %v", err)
	}
}

func TestLogSinkLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := NewLogSink(zap.New(core))

	_ = s.Emit(context.Background(), Event{Kind: KindRecipient, Status: StatusFailed, CampaignID: "c1", Recipient: "a@example.com", Error: "boom"})
	_ = s.Emit(context.Background(), Event{Kind: KindStage, Status: StatusStarted, Step: "QUALIFY"})
	_ = s.Emit(context.Background(), Event{Kind: KindCampaign, Status: StatusCompleted})

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Level != zap.WarnLevel || entries[0].ContextMap()["recipient"] != "a@example.com" {
		t.Fatalf("unexpected failure entry %#v", entries[0])
	}
	if entries[1].Level != zap.DebugLevel {
		t.Fatalf("expected stage start at debug, got %s", entries[1].Level)
	}
	if entries[2].Level != zap.InfoLevel {
		t.Fatalf("expected info, got %s", entries[2].Level)
	}
}
