package factory

import (
	"context"
	"testing"
)

func TestFromEnv_Ollama(t *testing.T) {
	t.Setenv("CAMPAIGN_PROVIDER", "ollama")
	t.Setenv("OLLAMA_MODEL", "llama3.1:8b")
	t.Setenv("OLLAMA_HOST", "http://127.0.0.1:11434")

	p, err := FromEnv(context.Background())
	if err != nil {
		t.Fatalf("FromEnv returned error: %v", err)
	}
	if p.Name() != "ollama" {
		t.Fatalf("expected ollama provider, got %q", p.Name())
	}
}

func TestFromEnv_GeminiRequiresKey(t *testing.T) {
	t.Setenv("CAMPAIGN_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "")

	if _, err := FromEnv(context.Background()); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestFromEnv_UnsupportedProvider(t *testing.T) {
	t.Setenv("CAMPAIGN_PROVIDER", "unknown-provider")

	if _, err := FromEnv(context.Background()); err == nil {
		t.Fatalf("expected unsupported provider error")
	}
}

func TestFromEnv_OpenAICompatible(t *testing.T) {
	t.Setenv("CAMPAIGN_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", "http://127.0.0.1:8000")

	p, err := FromEnv(context.Background())
	if err != nil {
		t.Fatalf("FromEnv returned error: %v", err)
	}
	if p.Name() != "openai" {
		t.Fatalf("expected openai provider, got %q", p.Name())
	}
}

func TestFromEnv_AnthropicRequiresKey(t *testing.T) {
	t.Setenv("CAMPAIGN_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "")

	if _, err := FromEnv(context.Background()); err == nil {
		t.Fatalf("expected missing key error")
	}
}
