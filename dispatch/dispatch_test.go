package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/PipeOpsHQ/campaign-engine/delivery"
	"github.com/PipeOpsHQ/campaign-engine/personalize"
	"github.com/PipeOpsHQ/campaign-engine/state"
)

type fakeProvider struct {
	err   error
	calls []delivery.Message
	keys  []string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Send(ctx context.Context, msg delivery.Message) (delivery.Result, error) {
	f.calls = append(f.calls, msg)
	f.keys = append(f.keys, delivery.IdempotencyKeyFromContext(ctx))
	if f.err != nil {
		return delivery.Result{}, f.err
	}
	return delivery.Result{ID: "re_1"}, nil
}

type memSentLog struct {
	records []state.SentRecord
}

func (m *memSentLog) AppendSent(_ context.Context, r state.SentRecord) error {
	m.records = append(m.records, r)
	return nil
}

var settings = state.Settings{
	DefaultSender: "ada@example.com",
	SenderName:    "Ada",
	Signature:     "Ada\nExample BV",
}

var jan = state.Recipient{
	Name:    "Jan Jansen",
	Email:   "jan.jansen@marriott.com",
	Company: "Marriott & Co",
	Extra:   map[string]string{"city": "Amsterdam"},
}

func TestComposeFromTemplate(t *testing.T) {
	tpl := state.Template{
		Subject: "Quick question for {{company}}",
		Content: "<p>Hi {{firstName}},</p><p>How is {{city}}?</p>",
	}
	email, err := Compose(settings, tpl, jan, nil)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if email.Subject != "Quick question for Marriott & Co" {
		t.Fatalf("unexpected subject %q", email.Subject)
	}
	if email.From != "Ada <ada@example.com>" || email.To != jan.Email {
		t.Fatalf("unexpected addressing %#v", email)
	}
	if !strings.HasPrefix(email.HTML, envelopeOpen) || !strings.Contains(email.HTML, "<p>Hi Jan,</p>") {
		t.Fatalf("unexpected html %q", email.HTML)
	}
	if !strings.Contains(email.HTML, "Ada<br/>Example BV") {
		t.Fatalf("signature newlines should become <br/>: %q", email.HTML)
	}
}

func TestComposeFromDraft(t *testing.T) {
	draft := &personalize.Draft{
		Subject: "Rate updates before Monday",
		Content: "Hi Jan, <b>Marriott</b> teams\n\nSecond.\n\nThird?",
	}
	email, err := Compose(settings, state.Template{Subject: "ignored"}, jan, draft)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if email.Subject != draft.Subject {
		t.Fatalf("expected draft subject, got %q", email.Subject)
	}
	if !strings.Contains(email.HTML, "&lt;b&gt;Marriott&lt;/b&gt;") {
		t.Fatalf("draft text should be escaped: %q", email.HTML)
	}
	if strings.Count(email.HTML, "<p>") != 3 {
		t.Fatalf("expected three paragraphs: %q", email.HTML)
	}
	want := "Hi Jan, <b>Marriott</b> teams\n\nSecond.\n\nThird?\n\nAda\nExample BV"
	if email.Text != want {
		t.Fatalf("unexpected text alternative:\n%q\nwant\n%q", email.Text, want)
	}
}

func TestComposeRejectsEmptySubject(t *testing.T) {
	if _, err := Compose(settings, state.Template{Content: "hi"}, jan, nil); err == nil {
		t.Fatalf("expected error for empty subject")
	}
}

func TestDispatcherSendRecordsSuccess(t *testing.T) {
	provider := &fakeProvider{}
	sent := &memSentLog{}
	d := New(provider, sent)

	ref := delivery.CampaignRef{CampaignID: "c1", Generation: 1, Index: 4}
	rec, err := d.Send(context.Background(), ref, Email{From: "a", To: "Jan@Example.com", Subject: "s", HTML: "<p>x</p>"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if rec.Status != state.SentStatusSent || rec.DeliveryID != "re_1" {
		t.Fatalf("unexpected record %#v", rec)
	}
	if len(sent.records) != 1 || sent.records[0].CampaignID != "c1" {
		t.Fatalf("expected appended record, got %#v", sent.records)
	}
	if provider.keys[0] != "c1:4:jan@example.com" {
		t.Fatalf("unexpected idempotency key %q", provider.keys[0])
	}
}

func TestDispatcherSendRecordsFailure(t *testing.T) {
	provider := &fakeProvider{err: &delivery.ProviderError{StatusCode: 429, Message: "slow down"}}
	sent := &memSentLog{}
	d := New(provider, sent)

	_, err := d.Send(context.Background(), delivery.CampaignRef{CampaignID: "c1"}, Email{To: "a@example.com", Subject: "s"})
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	var derr *DeliveryError
	if !errors.As(err, &derr) || !derr.Retryable() {
		t.Fatalf("expected retryable delivery error, got %#v", err)
	}
	if len(sent.records) != 1 || sent.records[0].Status != state.SentStatusFailed || !sent.records[0].Retryable {
		t.Fatalf("expected failed record, got %#v", sent.records)
	}
}

func TestDispatcherSendTreatsIdempotencyConflictAsDuplicate(t *testing.T) {
	provider := &fakeProvider{err: &delivery.ProviderError{
		StatusCode: 409,
		Name:       delivery.ErrNameIdempotencyMismatch,
		Message:    "same idempotency key used with a different payload",
	}}
	sent := &memSentLog{}
	d := New(provider, sent)

	rec, err := d.Send(context.Background(), delivery.CampaignRef{CampaignID: "c1", Index: 2}, Email{To: "a@example.com", Subject: "s"})
	if err != nil {
		t.Fatalf("expected duplicate to succeed, got %v", err)
	}
	if rec.Status != state.SentStatusDuplicate || rec.Retryable {
		t.Fatalf("unexpected record %#v", rec)
	}
	if len(sent.records) != 1 || sent.records[0].Status != state.SentStatusDuplicate {
		t.Fatalf("expected duplicate record, got %#v", sent.records)
	}
}
