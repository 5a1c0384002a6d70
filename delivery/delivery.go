package delivery

import (
	"context"
	"fmt"
	"net/http"
)

type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Message struct {
	From    string
	To      []string
	Subject string
	HTML    string
	Text    string
	Tags    []Tag
}

type Result struct {
	ID string
}

// Provider sends one message. Implementations read the idempotency key and
// campaign tags attached to ctx.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) (Result, error)
}

// ProviderError is a send rejected or failed by the delivery provider.
// StatusCode is zero when the request never got a response.
type ProviderError struct {
	StatusCode int
	Name       string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return fmt.Sprintf("delivery request failed: %v", e.Err)
	case e.Name != "":
		return fmt.Sprintf("delivery rejected (%d %s): %s", e.StatusCode, e.Name, e.Message)
	default:
		return fmt.Sprintf("delivery rejected (%d): %s", e.StatusCode, e.Message)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Resend error names for a reused idempotency key.
const (
	ErrNameIdempotencyMismatch   = "invalid_idempotent_request"
	ErrNameIdempotencyInProgress = "concurrent_idempotent_requests"
)

// Duplicate reports whether the provider refused the send because the same
// idempotency key was already used. The earlier request owns the delivery.
func (e *ProviderError) Duplicate() bool {
	if e.StatusCode != http.StatusConflict {
		return false
	}
	return e.Name == ErrNameIdempotencyMismatch || e.Name == ErrNameIdempotencyInProgress
}

// Retryable reports whether the same send could succeed later: transport
// failures, rate limits and provider-side errors.
func (e *ProviderError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}
