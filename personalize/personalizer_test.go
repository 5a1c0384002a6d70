package personalize

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/text/language"

	"github.com/PipeOpsHQ/campaign-engine/llm"
	"github.com/PipeOpsHQ/campaign-engine/state"
	"github.com/PipeOpsHQ/campaign-engine/types"
)

type scriptedProvider struct {
	drafts   []string
	verdicts []string
	err      error

	generateCalls int
	validateCalls int
	prompts       []string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{StructuredOutput: true}
}

func (p *scriptedProvider) Generate(_ context.Context, req types.Request) (types.Response, error) {
	if p.err != nil {
		return types.Response{}, p.err
	}
	props, _ := req.ResponseSchema["properties"].(map[string]any)
	if _, ok := props["valid"]; ok {
		out := p.verdicts[p.validateCalls]
		p.validateCalls++
		return types.Response{Message: types.Message{Role: types.RoleAssistant, Content: out}}, nil
	}
	p.prompts = append(p.prompts, req.Messages[0].Content)
	out := p.drafts[p.generateCalls]
	p.generateCalls++
	return types.Response{Message: types.Message{Role: types.RoleAssistant, Content: out}}, nil
}

var recipient = state.Recipient{
	Name:     "Jan Jansen",
	Email:    "jan.jansen@marriott.com",
	Company:  "Marriott",
	Location: "Amsterdam, Netherlands",
}

var agent = state.Agent{ID: "sdr", Definition: "You sell revenue software to hotels."}

const goodDraft = `{"subject":"Late check-ins before the summer peak","content":"Hi Jan, Marriott teams lose hours on manual rate updates.\n\nThat time comes straight out of guest service.\n\nWould a short call next week help?"}`

const badDraft = `{"subject":"Great offer","content":"Hi Jan, we have a great product."}`

func TestPersonalize_RetriesAfterRejectedDraft(t *testing.T) {
	provider := &scriptedProvider{
		drafts: []string{badDraft, goodDraft},
		verdicts: []string{
			`{"valid":false,"issues":["subject is generic"]}`,
			`{"valid":true}`,
		},
	}
	p, err := New(provider)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res, err := p.Personalize(context.Background(), agent, recipient)
	if err != nil {
		t.Fatalf("Personalize failed: %v", err)
	}
	if provider.generateCalls != 2 || provider.validateCalls != 2 {
		t.Fatalf("expected 2 generate and 2 validate calls, got %d/%d", provider.generateCalls, provider.validateCalls)
	}
	if res.Attempts != 2 || res.Draft.Subject != "Late check-ins before the summer peak" {
		t.Fatalf("expected second draft, got %#v", res)
	}
	if res.Language != language.Dutch {
		t.Fatalf("expected Dutch, got %s", res.Language)
	}
	if !strings.Contains(provider.prompts[1], "### ISSUES") || !strings.Contains(provider.prompts[1], "subject is generic") {
		t.Fatalf("retry prompt should carry validator issues:\n%s", provider.prompts[1])
	}
	if strings.Contains(provider.prompts[0], "### ISSUES") {
		t.Fatalf("first prompt should not carry issues")
	}
}

func TestPersonalize_SkipsAfterTwoRejections(t *testing.T) {
	provider := &scriptedProvider{
		drafts:   []string{badDraft, badDraft},
		verdicts: []string{`{"valid":false,"issues":["no question"]}`, `{"valid":false,"issues":["no question"]}`},
	}
	p, err := New(provider)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = p.Personalize(context.Background(), agent, recipient)
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.Attempts != MaxAttempts || genErr.Cause != nil {
		t.Fatalf("unexpected generation error: %#v", err)
	}
	if provider.generateCalls != 2 || provider.validateCalls != 2 {
		t.Fatalf("expected 2/2 calls, got %d/%d", provider.generateCalls, provider.validateCalls)
	}
}

func TestPersonalize_LocalGuardOverridesValidator(t *testing.T) {
	provider := &scriptedProvider{
		drafts:   []string{badDraft, badDraft},
		verdicts: []string{`{"valid":true}`, `{"valid":true}`},
	}
	p, err := New(provider)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = p.Personalize(context.Background(), agent, recipient)
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected generation error, got %v", err)
	}
	if !strings.Contains(strings.Join(genErr.Issues, "|"), "question mark") {
		t.Fatalf("expected local guard issues, got %v", genErr.Issues)
	}
}

func TestPersonalize_MalformedOutputSkipsValidation(t *testing.T) {
	provider := &scriptedProvider{
		drafts:   []string{`not json`, "```json\n" + goodDraft + "\n```"},
		verdicts: []string{`{"valid":true}`},
	}
	p, err := New(provider)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	res, err := p.Personalize(context.Background(), agent, recipient)
	if err != nil {
		t.Fatalf("Personalize failed: %v", err)
	}
	if provider.validateCalls != 1 || res.Attempts != 2 {
		t.Fatalf("expected one validation on attempt 2, got %d validations attempts=%d", provider.validateCalls, res.Attempts)
	}
}

func TestPersonalize_ProviderErrorAborts(t *testing.T) {
	provider := &scriptedProvider{err: context.DeadlineExceeded}
	p, err := New(provider)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = p.Personalize(context.Background(), agent, recipient)
	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.Attempts != 1 {
		t.Fatalf("expected abort on first attempt, got %#v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected cause to be preserved, got %v", err)
	}
}
