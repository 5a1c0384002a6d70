package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/PipeOpsHQ/campaign-engine/llm"
	"github.com/PipeOpsHQ/campaign-engine/types"
)

const (
	defaultModel   = "llama3.1:8b"
	defaultBaseURL = "http://127.0.0.1:11434"
)

type Client struct {
	client     *api.Client
	model      string
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) {
		if strings.TrimSpace(model) != "" {
			c.model = strings.TrimSpace(model)
		}
	}
}

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if strings.TrimSpace(baseURL) != "" {
			c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

func New(opts ...Option) (*Client, error) {
	c := &Client{
		model:   defaultModel,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base url %q: %w", c.baseURL, err)
	}
	c.client = api.NewClient(base, c.httpClient)
	return c, nil
}

func (c *Client) Name() string { return "ollama" }

func (c *Client) Capabilities() llm.Capabilities {
	return llm.Capabilities{StructuredOutput: true}
}

func (c *Client) Generate(ctx context.Context, req types.Request) (types.Response, error) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: make([]api.Message, 0, len(req.Messages)+1),
		Stream:   &stream,
		Options:  map[string]any{},
	}
	if req.SystemPrompt != "" {
		chatReq.Messages = append(chatReq.Messages, api.Message{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		chatReq.Messages = append(chatReq.Messages, api.Message{Role: string(m.Role), Content: m.Content})
	}
	if req.MaxOutputTokens > 0 {
		chatReq.Options["num_predict"] = req.MaxOutputTokens
	}
	if req.Temperature != nil {
		chatReq.Options["temperature"] = *req.Temperature
	}
	if req.StructuredOutput() {
		raw, err := json.Marshal(req.ResponseSchema)
		if err != nil {
			return types.Response{}, fmt.Errorf("failed to marshal ollama response schema: %w", err)
		}
		chatReq.Format = raw
	}

	start := time.Now()
	var (
		content strings.Builder
		last    api.ChatResponse
	)
	err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		last = resp
		return nil
	})
	if err != nil {
		return types.Response{}, fmt.Errorf("ollama request failed: %w", err)
	}

	out := types.Response{
		Message:  types.Message{Role: types.RoleAssistant, Content: strings.TrimSpace(content.String())},
		Model:    model,
		Duration: time.Since(start),
	}
	if last.Model != "" {
		out.Model = last.Model
	}
	if total := last.PromptEvalCount + last.EvalCount; total > 0 {
		out.Usage = &types.Usage{
			InputTokens:  last.PromptEvalCount,
			OutputTokens: last.EvalCount,
			TotalTokens:  total,
		}
	}
	return out, nil
}
