package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/campaign-engine/delivery"
	"github.com/PipeOpsHQ/campaign-engine/personalize"
	"github.com/PipeOpsHQ/campaign-engine/state"
)

const DefaultTimeout = 30 * time.Second

var ErrDeliveryFailed = errors.New("dispatch: delivery failed")

// DeliveryError wraps a failed send. The failed SentRecord has already been
// appended when it is returned.
type DeliveryError struct {
	Record state.SentRecord
	Err    error
}

func (e *DeliveryError) Error() string { return "delivery failed: " + e.Err.Error() }

func (e *DeliveryError) Is(target error) bool { return target == ErrDeliveryFailed }

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Retryable() bool { return e.Record.Retryable }

// SentLog is the append-only record of delivery attempts.
type SentLog interface {
	AppendSent(ctx context.Context, record state.SentRecord) error
}

type Email struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
}

// Compose builds the outgoing email for r. With a draft the validated AI
// text is used, otherwise the campaign template is rendered.
func Compose(settings state.Settings, tpl state.Template, r state.Recipient, draft *personalize.Draft) (Email, error) {
	var subject, body string
	if draft != nil {
		subject = strings.TrimSpace(draft.Subject)
		body = TextToHTML(draft.Content)
	} else {
		var err error
		subject, body, err = RenderTemplate(tpl, r)
		if err != nil {
			return Email{}, err
		}
	}
	if subject == "" {
		return Email{}, fmt.Errorf("empty subject")
	}
	htmlBody := Envelope(body, settings.Signature)
	text, err := PlainText(htmlBody)
	if err != nil {
		return Email{}, fmt.Errorf("plain text: %w", err)
	}
	return Email{
		From:    settings.From(),
		To:      r.Email,
		Subject: subject,
		HTML:    htmlBody,
		Text:    text,
	}, nil
}

type Dispatcher struct {
	provider delivery.Provider
	sent     SentLog
	timeout  time.Duration
	logger   *zap.Logger
}

type Option func(*Dispatcher)

func WithTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(disp *Dispatcher) {
		if l != nil {
			disp.logger = l
		}
	}
}

func New(provider delivery.Provider, sent SentLog, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		provider: provider,
		sent:     sent,
		timeout:  DefaultTimeout,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send delivers email and appends the outcome to the sent log. A failed send
// returns a *DeliveryError. A send refused as a duplicate of an earlier
// request with the same idempotency key is recorded as SentStatusDuplicate
// and returns no error.
func (d *Dispatcher) Send(ctx context.Context, ref delivery.CampaignRef, email Email) (state.SentRecord, error) {
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	sendCtx = delivery.WithCampaign(sendCtx, ref)
	sendCtx = delivery.WithIdempotencyKey(sendCtx, delivery.IdempotencyKey(ref.CampaignID, ref.Index, email.To))

	record := state.SentRecord{
		CampaignID: ref.CampaignID,
		To:         email.To,
		Subject:    email.Subject,
		CreatedAt:  time.Now().UTC(),
	}

	res, sendErr := d.provider.Send(sendCtx, delivery.Message{
		From:    email.From,
		To:      []string{email.To},
		Subject: email.Subject,
		HTML:    email.HTML,
		Text:    email.Text,
	})
	var perr *delivery.ProviderError
	switch {
	case sendErr != nil && errors.As(sendErr, &perr) && perr.Duplicate():
		record.Status = state.SentStatusDuplicate
		record.Error = sendErr.Error()
		sendErr = nil
	case sendErr != nil:
		record.Status = state.SentStatusFailed
		record.Error = sendErr.Error()
		if perr != nil {
			record.Retryable = perr.Retryable()
		}
	default:
		record.Status = state.SentStatusSent
		record.DeliveryID = res.ID
	}

	if err := d.sent.AppendSent(ctx, record); err != nil {
		d.logger.Error("failed to append sent record",
			zap.String("campaign_id", ref.CampaignID),
			zap.String("recipient", email.To),
			zap.String("status", string(record.Status)),
			zap.Error(err))
	}

	if sendErr != nil {
		return record, &DeliveryError{Record: record, Err: sendErr}
	}
	return record, nil
}
