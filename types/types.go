package types

import "time"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
}

type Request struct {
	Model           string         `json:"model,omitempty"`
	SystemPrompt    string         `json:"systemPrompt,omitempty"`
	Messages        []Message      `json:"messages"`
	MaxOutputTokens int            `json:"maxOutputTokens,omitempty"`
	Temperature     *float64       `json:"temperature,omitempty"`
	ResponseSchema  map[string]any `json:"responseSchema,omitempty"`
}

// StructuredOutput reports whether the caller asked for a JSON document.
func (r Request) StructuredOutput() bool {
	return len(r.ResponseSchema) > 0
}

type Usage struct {
	InputTokens  int `json:"inputTokens,omitempty"`
	OutputTokens int `json:"outputTokens,omitempty"`
	TotalTokens  int `json:"totalTokens,omitempty"`
}

type Response struct {
	Message  Message       `json:"message"`
	Model    string        `json:"model,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Usage    *Usage        `json:"usage,omitempty"`
}
