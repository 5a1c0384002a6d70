package personalize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/PipeOpsHQ/campaign-engine/llm"
	"github.com/PipeOpsHQ/campaign-engine/state"
	"github.com/PipeOpsHQ/campaign-engine/types"
)

// MaxAttempts bounds generate-then-validate rounds per recipient.
const MaxAttempts = 2

const DefaultTimeout = 60 * time.Second

var ErrGenerationFailed = errors.New("personalize: no validated draft")

// GenerationError reports why no validated draft was produced. Cause is set
// when the provider itself failed.
type GenerationError struct {
	Attempts int
	Issues   []string
	Cause    error
}

func (e *GenerationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("generation failed after %d attempt(s): %v", e.Attempts, e.Cause)
	}
	return fmt.Sprintf("draft rejected after %d attempt(s): %s", e.Attempts, strings.Join(e.Issues, "; "))
}

func (e *GenerationError) Is(target error) bool { return target == ErrGenerationFailed }

func (e *GenerationError) Unwrap() error { return e.Cause }

type Result struct {
	Draft    Draft
	Language language.Tag
	Attempts int
}

type Personalizer struct {
	provider    llm.Provider
	timeout     time.Duration
	temperature *float64
	logger      *zap.Logger
	draft       *outputSchema
	verdict     *outputSchema
}

type Option func(*Personalizer)

func WithTimeout(d time.Duration) Option {
	return func(p *Personalizer) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithTemperature(t float64) Option {
	return func(p *Personalizer) { p.temperature = &t }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Personalizer) {
		if l != nil {
			p.logger = l
		}
	}
}

func New(provider llm.Provider, opts ...Option) (*Personalizer, error) {
	if provider == nil {
		return nil, fmt.Errorf("personalize: provider is required")
	}
	draft, err := newOutputSchema(&Draft{})
	if err != nil {
		return nil, fmt.Errorf("draft schema: %w", err)
	}
	verdict, err := newOutputSchema(&Verdict{})
	if err != nil {
		return nil, fmt.Errorf("verdict schema: %w", err)
	}
	p := &Personalizer{
		provider: provider,
		timeout:  DefaultTimeout,
		logger:   zap.NewNop(),
		draft:    draft,
		verdict:  verdict,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Personalize returns a draft that passed validation, or a *GenerationError.
// A provider error aborts immediately without a second attempt.
func (p *Personalizer) Personalize(ctx context.Context, agent state.Agent, r state.Recipient) (Result, error) {
	tag := DetectLanguage(r, ParseHint(agent.Language))
	lang := LanguageName(tag)
	log := p.logger.With(zap.String("recipient", r.Email), zap.String("language", lang))

	var issues []string
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		prompt := buildPrompt(agent, r, lang, issues)
		resp, err := p.call(ctx, systemPrompt, prompt, p.draft)
		if err != nil {
			return Result{}, &GenerationError{Attempts: attempt, Issues: issues, Cause: err}
		}

		var draft Draft
		if schemaIssues := p.draft.decode(resp.Message.Content, &draft); len(schemaIssues) > 0 {
			issues = schemaIssues
			log.Debug("draft failed schema", zap.Int("attempt", attempt), zap.Strings("issues", issues))
			continue
		}

		verdictResp, err := p.call(ctx, validatorSystemPrompt, buildValidationPrompt(draft, r, lang), p.verdict)
		if err != nil {
			return Result{}, &GenerationError{Attempts: attempt, Issues: issues, Cause: err}
		}
		var verdict Verdict
		verdictIssues := p.verdict.decode(verdictResp.Message.Content, &verdict)
		if len(verdictIssues) == 0 && !verdict.Valid {
			verdictIssues = verdict.Issues
			if len(verdictIssues) == 0 {
				verdictIssues = []string{"validator rejected the draft without detail"}
			}
		}
		issues = append(verdictIssues, checkDraft(draft, r)...)
		if len(issues) == 0 {
			return Result{Draft: draft, Language: tag, Attempts: attempt}, nil
		}
		log.Debug("draft rejected", zap.Int("attempt", attempt), zap.Strings("issues", issues))
	}
	return Result{}, &GenerationError{Attempts: MaxAttempts, Issues: issues}
}

func (p *Personalizer) call(ctx context.Context, system, prompt string, schema *outputSchema) (types.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.provider.Generate(ctx, types.Request{
		SystemPrompt:   system,
		Messages:       []types.Message{{Role: types.RoleUser, Content: prompt}},
		Temperature:    p.temperature,
		ResponseSchema: schema.raw,
	})
}
