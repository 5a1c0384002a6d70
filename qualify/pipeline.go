package qualify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/campaign-engine/state"
)

// Pipeline runs the lexical, domain and mailbox checks in order, stopping at
// the first rejection.
type Pipeline struct {
	rules   *Rules
	domain  *DomainChecker
	mailbox MailboxVerifier
	logger  *zap.Logger
}

type Option func(*Pipeline)

func WithResolver(r MXResolver) Option {
	return func(p *Pipeline) { p.domain.Resolver = r }
}

func WithDNSTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.domain.Timeout = d }
}

// WithMailboxVerifier enables the mailbox probe stage.
func WithMailboxVerifier(v MailboxVerifier) Option {
	return func(p *Pipeline) { p.mailbox = v }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func NewPipeline(rules *Rules, opts ...Option) *Pipeline {
	if rules == nil {
		rules = DefaultRules()
	}
	p := &Pipeline{
		rules:  rules,
		domain: &DomainChecker{Rules: rules},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) Rules() *Rules { return p.rules }

// Qualify returns nil when the recipient may be contacted, or a *Rejection.
func (p *Pipeline) Qualify(ctx context.Context, r state.Recipient) error {
	if err := CheckLexical(r.Email, p.rules); err != nil {
		return err
	}
	addr, _ := ParseAddress(r.Email)

	transient, err := p.domain.Check(ctx, addr)
	if err != nil {
		return err
	}
	if transient != nil {
		p.logger.Warn("mx lookup inconclusive, continuing",
			zap.String("recipient", r.Email), zap.Error(transient))
	}

	if p.mailbox == nil {
		return nil
	}
	verdict, err := p.mailbox.Verify(ctx, addr.Raw)
	if err != nil {
		if MailboxFailOpen {
			p.logger.Debug("mailbox probe failed open",
				zap.String("recipient", r.Email), zap.Error(err))
			return nil
		}
		return reject(StageMailbox, err.Error())
	}
	if verdict.Status == MailboxMissing {
		return reject(StageMailbox, "mailbox does not exist")
	}
	return nil
}

// AsRejection extracts the rejection detail from err, if any.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	ok := errors.As(err, &rej)
	return rej, ok
}
