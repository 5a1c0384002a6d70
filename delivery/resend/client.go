package resend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/PipeOpsHQ/campaign-engine/delivery"
)

const defaultBaseURL = "https://api.resend.com"

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

var _ delivery.Provider = (*Client)(nil)

type Option func(*Client)

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

func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("RESEND_API_KEY is required")
	}
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Name() string { return "resend" }

type sendRequest struct {
	From    string         `json:"from"`
	To      []string       `json:"to"`
	Subject string         `json:"subject"`
	HTML    string         `json:"html,omitempty"`
	Text    string         `json:"text,omitempty"`
	Tags    []delivery.Tag `json:"tags,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	StatusCode int    `json:"statusCode"`
	Name       string `json:"name"`
	Message    string `json:"message"`
}

func (c *Client) Send(ctx context.Context, msg delivery.Message) (delivery.Result, error) {
	payload := sendRequest{
		From:    msg.From,
		To:      msg.To,
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		Tags:    msg.Tags,
	}
	if ref, ok := delivery.CampaignFromContext(ctx); ok {
		payload.Tags = append(payload.Tags, delivery.CampaignTags(ref)...)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return delivery.Result{}, fmt.Errorf("failed to marshal resend request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(raw))
	if err != nil {
		return delivery.Result{}, fmt.Errorf("failed to create resend request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if key := delivery.IdempotencyKeyFromContext(ctx); key != "" {
		httpReq.Header.Set("Idempotency-Key", key)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return delivery.Result{}, &delivery.ProviderError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return delivery.Result{}, &delivery.ProviderError{Err: fmt.Errorf("failed to read resend response: %w", err)}
	}
	if resp.StatusCode >= 300 {
		return delivery.Result{}, decodeError(resp.StatusCode, body)
	}

	var out sendResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return delivery.Result{}, fmt.Errorf("failed to decode resend response: %w", err)
	}
	if out.ID == "" {
		return delivery.Result{}, fmt.Errorf("resend response had no id")
	}
	return delivery.Result{ID: out.ID}, nil
}

func decodeError(status int, body []byte) error {
	perr := &delivery.ProviderError{StatusCode: status}
	var apiErr errorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		perr.Name = apiErr.Name
		perr.Message = apiErr.Message
		return perr
	}
	perr.Message = strings.TrimSpace(string(body))
	return perr
}
