package engine

import (
	"context"
	"slices"
	"sync"
)

// Handle is the live execution slot of one campaign.
type Handle struct {
	CampaignID string
	Generation uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *Handle) Context() context.Context { return h.ctx }

// Done is closed when the loop bound to this handle has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Registry maps campaign ids to their current handle and generation.
// Generations only grow; removing a handle keeps the counter.
type Registry struct {
	mu          sync.Mutex
	generations map[string]uint64
	handles     map[string]*Handle
}

func NewRegistry() *Registry {
	return &Registry{
		generations: make(map[string]uint64),
		handles:     make(map[string]*Handle),
	}
}

// Register cancels any existing handle for id and installs a new one with
// the next generation.
func (r *Registry) Register(parent context.Context, id string) *Handle {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.handles[id]; ok {
		prev.cancel()
	}
	r.generations[id]++
	h := &Handle{
		CampaignID: id,
		Generation: r.generations[id],
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	r.handles[id] = h
	return h
}

func (r *Registry) Generation(id string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generations[id]
}

// IsCurrent reports whether gen is still the latest generation for id.
func (r *Registry) IsCurrent(id string, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generations[id] == gen
}

// Cancel signals and removes the handle for id. It reports whether one existed.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return false
	}
	h.cancel()
	delete(r.handles, id)
	return true
}

// Release removes the handle for id only if it still belongs to gen.
func (r *Registry) Release(id string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[id]; ok && h.Generation == gen {
		h.cancel()
		delete(r.handles, id)
	}
}

func (r *Registry) Lookup(id string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	return h, ok
}

// Active lists campaign ids that currently hold a handle, sorted.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// CancelAll signals every handle and returns them so callers can wait on Done.
func (r *Registry) CancelAll() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Handle, 0, len(r.handles))
	for id, h := range r.handles {
		h.cancel()
		delete(r.handles, id)
		out = append(out, h)
	}
	return out
}
