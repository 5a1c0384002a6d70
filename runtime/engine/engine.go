package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/PipeOpsHQ/campaign-engine/delivery"
	"github.com/PipeOpsHQ/campaign-engine/dispatch"
	"github.com/PipeOpsHQ/campaign-engine/observe"
	"github.com/PipeOpsHQ/campaign-engine/personalize"
	"github.com/PipeOpsHQ/campaign-engine/state"
	"go.uber.org/zap"
)

var ErrCampaignCompleted = errors.New("engine: campaign already completed")

// Qualifier decides whether a recipient is worth sending to.
type Qualifier interface {
	Qualify(ctx context.Context, r state.Recipient) error
}

// Personalizer produces a validated draft for agent driven campaigns.
type Personalizer interface {
	Personalize(ctx context.Context, agent state.Agent, r state.Recipient) (personalize.Result, error)
}

// Sender delivers a composed email and records the attempt.
type Sender interface {
	Send(ctx context.Context, ref delivery.CampaignRef, email dispatch.Email) (state.SentRecord, error)
}

// Run describes a started execution loop.
type Run struct {
	CampaignID string
	Generation uint64
	Done       <-chan struct{}
}

type Engine struct {
	store        state.Store
	qualifier    Qualifier
	personalizer Personalizer
	sender       Sender
	sink         observe.Sink
	logger       *zap.Logger
	policy       Policy
	registry     *Registry

	// startMu orders Start calls so the generation written to the START
	// entry is the one Register hands out.
	startMu    sync.Mutex
	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
	now        func() time.Time
}

type Option func(*Engine)

func WithPersonalizer(p Personalizer) Option {
	return func(e *Engine) { e.personalizer = p }
}

func WithSink(s observe.Sink) Option {
	return func(e *Engine) {
		if s != nil {
			e.sink = s
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = NormalizePolicy(p) }
}

func WithRegistry(r *Registry) Option {
	return func(e *Engine) {
		if r != nil {
			e.registry = r
		}
	}
}

func New(store state.Store, qualifier Qualifier, sender Sender, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if qualifier == nil {
		return nil, fmt.Errorf("qualifier is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:      store,
		qualifier:  qualifier,
		sender:     sender,
		sink:       observe.NoopSink{},
		logger:     zap.NewNop(),
		policy:     DefaultPolicy(),
		registry:   NewRegistry(),
		baseCtx:    baseCtx,
		baseCancel: cancel,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Registry() *Registry { return e.registry }

// Running reports whether a loop currently holds the handle for id.
func (e *Engine) Running(id string) bool {
	_, ok := e.registry.Lookup(id)
	return ok
}

func (e *Engine) Generation(id string) uint64 { return e.registry.Generation(id) }

// Start marks the campaign processing and launches a fresh loop for it,
// superseding any loop already running. The status is persisted before the
// previous loop is cancelled, so a failed write leaves it running. The loop
// outlives ctx.
func (e *Engine) Start(ctx context.Context, id string) (Run, error) {
	e.startMu.Lock()
	defer e.startMu.Unlock()

	c, err := e.store.LoadCampaign(ctx, id)
	if err != nil {
		return Run{}, err
	}
	if c.Status == state.StatusCompleted {
		return Run{}, ErrCampaignCompleted
	}

	gen := e.registry.Generation(id) + 1
	_, err = state.UpdateCampaign(ctx, e.store, id, func(c *state.Campaign) error {
		if c.Status == state.StatusCompleted {
			return ErrCampaignCompleted
		}
		c.Status = state.StatusProcessing
		c.AppendLog(state.LogEntry{
			Timestamp:  e.now(),
			Step:       StepStart,
			Status:     LogSuccess,
			Message:    fmt.Sprintf("started at recipient %d of %d", c.CurrentIndex+1, len(c.Recipients)),
			Generation: gen,
		})
		return nil
	})
	if err != nil {
		return Run{}, err
	}
	h := e.registry.Register(e.baseCtx, id)

	e.logger.Info("campaign started",
		zap.String("campaign_id", id),
		zap.Uint64("generation", h.Generation))
	e.emit(ctx, observe.Event{
		CampaignID: id,
		Generation: h.Generation,
		Kind:       observe.KindCampaign,
		Status:     observe.StatusStarted,
		Name:       "run",
		Index:      c.CurrentIndex,
	})

	e.wg.Add(1)
	go e.run(h)
	return Run{CampaignID: id, Generation: h.Generation, Done: h.Done()}, nil
}

// Pause persists the paused status and then cancels the running loop. The
// current index is left untouched. A campaign with no recipient left is
// completed instead.
func (e *Engine) Pause(ctx context.Context, id string) (state.Campaign, error) {
	return e.halt(ctx, id, state.StatusPaused, StepPause)
}

// Stop is Pause with a terminal status that Resume never picks up.
func (e *Engine) Stop(ctx context.Context, id string) (state.Campaign, error) {
	return e.halt(ctx, id, state.StatusStopped, StepStop)
}

// halt persists status first and cancels the loop only once the write
// landed. A loop that reloads in between sees the new status and exits.
func (e *Engine) halt(ctx context.Context, id string, status state.CampaignStatus, step string) (state.Campaign, error) {
	c, err := state.UpdateCampaign(ctx, e.store, id, func(c *state.Campaign) error {
		if c.Status == state.StatusCompleted {
			return errCompletedNoop
		}
		if Finish(c, e.registry.Generation(id), e.now()) {
			return nil
		}
		c.Status = status
		c.AppendLog(state.LogEntry{
			Timestamp:  e.now(),
			Step:       step,
			Status:     LogSuccess,
			Message:    fmt.Sprintf("%s at recipient %d of %d", status, c.CurrentIndex, len(c.Recipients)),
			Generation: e.registry.Generation(id),
		})
		return nil
	})
	if errors.Is(err, errCompletedNoop) {
		e.registry.Cancel(id)
		return e.store.LoadCampaign(ctx, id)
	}
	if err != nil {
		return state.Campaign{}, err
	}
	cancelled := e.registry.Cancel(id)
	if c.Status == state.StatusCompleted {
		return c, nil
	}
	e.logger.Info("campaign halted",
		zap.String("campaign_id", id),
		zap.String("status", string(status)),
		zap.Bool("loop_cancelled", cancelled))
	e.emit(ctx, observe.Event{
		CampaignID: id,
		Generation: e.registry.Generation(id),
		Kind:       observe.KindCampaign,
		Status:     observe.StatusCancelled,
		Name:       string(status),
		Index:      c.CurrentIndex,
	})
	return c, nil
}

var errCompletedNoop = errors.New("campaign completed")

// Resume starts a loop for every persisted processing campaign that has
// none, which recovers runs interrupted by a restart.
func (e *Engine) Resume(ctx context.Context) ([]string, error) {
	const pageSize = 100
	var started []string
	for offset := 0; ; offset += pageSize {
		page, err := e.store.ListCampaigns(ctx, state.ListCampaignsQuery{
			Status: state.StatusProcessing,
			Limit:  pageSize,
			Offset: offset,
		})
		if err != nil {
			return started, err
		}
		for _, c := range page {
			if e.Running(c.ID) {
				continue
			}
			if _, err := e.Start(ctx, c.ID); err != nil {
				e.logger.Warn("resume failed", zap.String("campaign_id", c.ID), zap.Error(err))
				continue
			}
			started = append(started, c.ID)
		}
		if len(page) < pageSize {
			return started, nil
		}
	}
}

// Shutdown cancels every loop without touching persisted status and waits
// for them to exit or for ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.registry.CancelAll()
	e.baseCancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) emit(ctx context.Context, event observe.Event) {
	event.Normalize()
	if err := e.sink.Emit(context.WithoutCancel(ctx), event); err != nil {
		e.logger.Debug("event sink failed", zap.String("campaign_id", event.CampaignID), zap.Error(err))
	}
}
