package campaigns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/PipeOpsHQ/campaign-engine/delivery"
	"github.com/PipeOpsHQ/campaign-engine/delivery/resend"
	"github.com/PipeOpsHQ/campaign-engine/dispatch"
	"github.com/PipeOpsHQ/campaign-engine/httpapi"
	"github.com/PipeOpsHQ/campaign-engine/internal/config"
	"github.com/PipeOpsHQ/campaign-engine/llm"
	"github.com/PipeOpsHQ/campaign-engine/observe"
	otelsink "github.com/PipeOpsHQ/campaign-engine/observe/otel"
	"github.com/PipeOpsHQ/campaign-engine/personalize"
	providerfactory "github.com/PipeOpsHQ/campaign-engine/providers/factory"
	"github.com/PipeOpsHQ/campaign-engine/qualify"
	"github.com/PipeOpsHQ/campaign-engine/runtime/engine"
	"github.com/PipeOpsHQ/campaign-engine/state"
	statefactory "github.com/PipeOpsHQ/campaign-engine/state/factory"
)

// Options overrides the environment driven wiring. Zero values fall back to
// config.Load and the factories.
type Options struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    state.Store
	Provider llm.Provider
	Delivery delivery.Provider
	Resolver qualify.MXResolver
	Mailbox  qualify.MailboxVerifier
	Policy   *engine.Policy
}

// App holds the wired process: store, qualification, the event fan-out and
// a lazily built engine.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Store    state.Store
	Rules    *qualify.Rules
	Pipeline *qualify.Pipeline
	Hub      *httpapi.Hub

	opts      Options
	sink      *observe.AsyncSink
	ownsStore bool

	mu     sync.Mutex
	engine *engine.Engine
}

func New(ctx context.Context, opts Options) (*App, error) {
	cfg := config.Load()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rules := qualify.DefaultRules()
	if strings.TrimSpace(cfg.RulesFile) != "" {
		set, err := qualify.LoadRuleSet(cfg.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
		rules = set.Compile()
		logger.Info("qualification rules loaded", zap.String("path", cfg.RulesFile))
	}

	store := opts.Store
	ownsStore := false
	if store == nil {
		var err error
		store, err = statefactory.FromEnv(ctx)
		if err != nil {
			return nil, fmt.Errorf("state store: %w", err)
		}
		ownsStore = true
	}

	pipelineOpts := []qualify.Option{
		qualify.WithDNSTimeout(cfg.DNSTimeout),
		qualify.WithLogger(logger.Named("qualify")),
	}
	if opts.Resolver != nil {
		pipelineOpts = append(pipelineOpts, qualify.WithResolver(opts.Resolver))
	}
	switch {
	case opts.Mailbox != nil:
		pipelineOpts = append(pipelineOpts, qualify.WithMailboxVerifier(opts.Mailbox))
	case cfg.MailboxProbe:
		pipelineOpts = append(pipelineOpts, qualify.WithMailboxVerifier(&qualify.SMTPProber{
			Resolver: opts.Resolver,
			Helo:     cfg.ProbeHelo,
			From:     cfg.ProbeFrom,
			Timeout:  cfg.ProbeTimeout,
		}))
	}

	hub := httpapi.NewHub(logger.Named("events"))
	sink := observe.NewAsyncSink(observe.NewMultiSink(
		observe.NewLogSink(logger.Named("events")),
		otelsink.NewSink(otel.GetTracerProvider()),
		hub,
	), 512)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Rules:     rules,
		Pipeline:  qualify.NewPipeline(rules, pipelineOpts...),
		Hub:       hub,
		opts:      opts,
		sink:      sink,
		ownsStore: ownsStore,
	}, nil
}

// Engine builds the execution engine on first use. It needs a delivery
// provider; generation is optional and agent campaigns skip without it.
func (a *App) Engine(ctx context.Context) (*engine.Engine, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.engine != nil {
		return a.engine, nil
	}

	provider := a.opts.Delivery
	if provider == nil {
		client, err := resend.New(a.Config.ResendAPIKey, resend.WithBaseURL(a.Config.ResendBaseURL))
		if err != nil {
			return nil, fmt.Errorf("delivery provider: %w", err)
		}
		provider = client
	}
	sender := dispatch.New(provider, a.Store,
		dispatch.WithTimeout(a.Config.SendTimeout),
		dispatch.WithLogger(a.Logger.Named("dispatch")))

	engineOpts := []engine.Option{
		engine.WithSink(a.sink),
		engine.WithLogger(a.Logger.Named("engine")),
	}
	if a.opts.Policy != nil {
		engineOpts = append(engineOpts, engine.WithPolicy(*a.opts.Policy))
	}

	gen := a.opts.Provider
	if gen == nil {
		var err error
		gen, err = providerfactory.FromEnv(ctx)
		if err != nil {
			a.Logger.Warn("generation provider unavailable, agent campaigns will skip recipients", zap.Error(err))
		}
	}
	if gen != nil {
		p, err := personalize.New(gen,
			personalize.WithTimeout(a.Config.ProviderTimeout),
			personalize.WithLogger(a.Logger.Named("personalize")))
		if err != nil {
			return nil, fmt.Errorf("personalizer: %w", err)
		}
		engineOpts = append(engineOpts, engine.WithPersonalizer(p))
	}

	e, err := engine.New(a.Store, a.Pipeline, sender, engineOpts...)
	if err != nil {
		return nil, err
	}
	a.engine = e
	return e, nil
}

// Server builds the HTTP API over the app. ctrl may be nil for a read-only API.
func (a *App) Server(addr string, ctrl httpapi.Controller) *httpapi.Server {
	if strings.TrimSpace(addr) == "" {
		addr = a.Config.HTTPAddr
	}
	return httpapi.NewServer(httpapi.Config{
		Addr:   addr,
		Store:  a.Store,
		Engine: ctrl,
		Rules:  a.Rules,
		Hub:    a.Hub,
		Events: a.sink,
		Logger: a.Logger.Named("http"),
	})
}

// EnsureSettings seeds the settings record from the environment when the
// store has none yet.
func (a *App) EnsureSettings(ctx context.Context) (state.Settings, error) {
	current, err := a.Store.LoadSettings(ctx)
	if err != nil {
		return state.Settings{}, err
	}
	changed := false
	if current.DefaultSender == "" && a.Config.DefaultSender != "" {
		current.DefaultSender = a.Config.DefaultSender
		changed = true
	}
	if current.SenderName == "" && a.Config.SenderName != "" {
		current.SenderName = a.Config.SenderName
		changed = true
	}
	if !changed {
		return current.Normalize(), nil
	}
	if err := a.Store.SaveSettings(ctx, current); err != nil {
		return state.Settings{}, err
	}
	return current.Normalize(), nil
}

type CreateInput struct {
	Name     string
	AgentID  string
	Template state.Template
	Import   ImportResult
}

// CreateCampaign stores a draft campaign from an import result.
func (a *App) CreateCampaign(ctx context.Context, in CreateInput) (state.Campaign, error) {
	if strings.TrimSpace(in.Name) == "" {
		return state.Campaign{}, fmt.Errorf("campaign name is required")
	}
	if len(in.Import.Recipients) == 0 {
		return state.Campaign{}, fmt.Errorf("campaign has no recipients")
	}
	if in.AgentID == "" && strings.TrimSpace(in.Template.Subject) == "" {
		return state.Campaign{}, fmt.Errorf("a template subject or an agent is required")
	}
	if in.AgentID != "" {
		if _, err := a.Store.LoadAgent(ctx, in.AgentID); err != nil {
			return state.Campaign{}, fmt.Errorf("agent %s: %w", in.AgentID, err)
		}
	}
	c, err := a.Store.CreateCampaign(ctx, state.Campaign{
		Name:       strings.TrimSpace(in.Name),
		Status:     state.StatusDraft,
		Recipients: in.Import.Recipients,
		AgentID:    in.AgentID,
		Template:   in.Template,
	})
	if err != nil {
		return state.Campaign{}, err
	}
	a.Logger.Info("campaign imported",
		zap.String("campaign_id", c.ID),
		zap.String("source", in.Import.Source),
		zap.Int("recipients", len(c.Recipients)),
		zap.Int("skipped", in.Import.Skipped),
		zap.Int("duplicates", in.Import.Duplicates))
	return c, nil
}

// SetStatus writes status directly for the given campaign. It is used when
// no engine runs in this process; a remote loop sees the change on its next
// reload and exits.
func (a *App) SetStatus(ctx context.Context, id string, status state.CampaignStatus) (state.Campaign, error) {
	return state.UpdateCampaign(ctx, a.Store, id, func(c *state.Campaign) error {
		if c.Status == state.StatusCompleted {
			return engine.ErrCampaignCompleted
		}
		now := time.Now().UTC()
		if engine.Finish(c, 0, now) {
			return nil
		}
		c.Status = status
		c.AppendLog(state.LogEntry{
			Timestamp: now,
			Step:      strings.ToUpper(string(status)),
			Status:    engine.LogSuccess,
			Message:   fmt.Sprintf("%s at recipient %d of %d", status, c.CurrentIndex, len(c.Recipients)),
		})
		return nil
	})
}

// Reset pauses every processing campaign and returns their ids.
func (a *App) Reset(ctx context.Context) ([]string, error) {
	const pageSize = 100
	var ids []string
	for {
		page, err := a.Store.ListCampaigns(ctx, state.ListCampaignsQuery{Status: state.StatusProcessing, Limit: pageSize})
		if err != nil {
			return ids, err
		}
		if len(page) == 0 {
			return ids, nil
		}
		for _, c := range page {
			if _, err := a.SetStatus(ctx, c.ID, state.StatusPaused); err != nil && !errors.Is(err, engine.ErrCampaignCompleted) {
				return ids, fmt.Errorf("pause %s: %w", c.ID, err)
			}
			ids = append(ids, c.ID)
		}
	}
}

// Close stops the engine, drains events and closes an owned store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	a.mu.Lock()
	e := a.engine
	a.mu.Unlock()
	if e != nil {
		if err := e.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("engine shutdown: %w", err))
		}
	}
	a.sink.Close()
	if a.ownsStore {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
