package observe

import (
	"context"
	"errors"
	"sync"
)

type Sink interface {
	Emit(ctx context.Context, event Event) error
}

type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Emit(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type NoopSink struct{}

func (NoopSink) Emit(ctx context.Context, event Event) error {
	_ = ctx
	_ = event
	return nil
}

type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		filtered = append(filtered, s)
	}
	if len(filtered) == 0 {
		return NoopSink{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &MultiSink{sinks: filtered}
}

func (m *MultiSink) Emit(ctx context.Context, event Event) error {
	if m == nil {
		return nil
	}
	for _, sink := range m.sinks {
		if err := sink.Emit(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

var ErrSinkClosed = errors.New("observe: sink closed")

// AsyncSink hands events to downstream on its own goroutine. Campaign and
// checkpoint events wait for queue space; recipient and stage events are
// dropped under pressure and counted per kind.
type AsyncSink struct {
	downstream Sink
	queue      chan Event
	done       chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped map[Kind]uint64
	dropMu  sync.Mutex
}

func NewAsyncSink(downstream Sink, buffer int) *AsyncSink {
	if downstream == nil {
		downstream = NoopSink{}
	}
	if buffer <= 0 {
		buffer = 256
	}
	as := &AsyncSink{
		downstream: downstream,
		queue:      make(chan Event, buffer),
		done:       make(chan struct{}),
		dropped:    make(map[Kind]uint64),
	}
	go as.loop()
	return as
}

// durable reports whether losing event would hide a run state change.
func durable(event Event) bool {
	return event.Kind == KindCampaign || event.Kind == KindCheckpoint
}

func (s *AsyncSink) Emit(ctx context.Context, event Event) error {
	if s == nil {
		return nil
	}
	event.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	if durable(event) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s.queue <- event:
			return nil
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.queue <- event:
		return nil
	default:
		s.dropMu.Lock()
		s.dropped[event.Kind]++
		s.dropMu.Unlock()
		return nil
	}
}

// Dropped returns the number of events shed under pressure, by kind.
func (s *AsyncSink) Dropped() map[string]uint64 {
	out := map[string]uint64{}
	if s == nil {
		return out
	}
	s.dropMu.Lock()
	defer s.dropMu.Unlock()
	for kind, n := range s.dropped {
		out[string(kind)] = n
	}
	return out
}

// Close stops accepting events and waits for queued ones to drain. Later
// Emit calls return ErrSinkClosed.
func (s *AsyncSink) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *AsyncSink) loop() {
	defer close(s.done)
	for event := range s.queue {
		_ = s.downstream.Emit(context.Background(), event)
	}
}
