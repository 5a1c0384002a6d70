package factory

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/PipeOpsHQ/campaign-engine/llm"
	anthropicprov "github.com/PipeOpsHQ/campaign-engine/providers/anthropic"
	geminiprov "github.com/PipeOpsHQ/campaign-engine/providers/gemini"
	ollamaprov "github.com/PipeOpsHQ/campaign-engine/providers/ollama"
	openaiprov "github.com/PipeOpsHQ/campaign-engine/providers/openai"
)

func FromEnv(ctx context.Context) (llm.Provider, error) {
	provider := strings.ToLower(strings.TrimSpace(getenv("CAMPAIGN_PROVIDER", "gemini")))
	switch provider {
	case "gemini":
		key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required when CAMPAIGN_PROVIDER=gemini")
		}
		model := getenv("GEMINI_MODEL", "gemini-2.5-flash")
		return geminiprov.New(ctx, key, geminiprov.WithModel(model))

	case "ollama":
		model := getenv("OLLAMA_MODEL", "llama3.1:8b")
		baseURL := getenv("OLLAMA_HOST", "http://127.0.0.1:11434")
		return ollamaprov.New(
			ollamaprov.WithModel(model),
			ollamaprov.WithBaseURL(baseURL),
		)

	case "openai":
		key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when CAMPAIGN_PROVIDER=openai")
		}
		return openaiprov.New(
			key,
			openaiprov.WithModel(getenv("OPENAI_MODEL", "gpt-4o-mini")),
			openaiprov.WithBaseURL(getenv("OPENAI_BASE_URL", "https://api.openai.com")),
		)

	case "anthropic":
		key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required when CAMPAIGN_PROVIDER=anthropic")
		}
		return anthropicprov.New(key, anthropicprov.WithModel(getenv("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest")))
	}

	return nil, fmt.Errorf("unsupported CAMPAIGN_PROVIDER %q (use gemini, ollama, openai or anthropic)", provider)
}

func getenv(key, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}
