package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/prepx/internal/metrics"
	"github.com/joescharf/prepx/internal/ratelimit"
)

// DefaultMaxTokens caps a response when a Request does not set its own limit.
const DefaultMaxTokens = 4096

// Request is one call to the external agent.
type Request struct {
	// Label names the calling stage in logs and metrics.
	Label     string
	System    string
	Prompt    string
	MaxTokens int64
}

// Response is the raw text answer plus usage counters.
type Response struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// Agent is the opaque external model call: text in, raw text out.
type Agent interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Client wraps the Anthropic Messages API.
type Client struct {
	api    *anthropic.Client
	model  anthropic.Model
	logger *slog.Logger
}

// NewClient creates an LLM client with the given API key and model. Extra
// request options (base URL, retries) are applied after the key.
func NewClient(apiKey, model string, extra ...option.RequestOption) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	opts = append(opts, extra...)
	client := anthropic.NewClient(opts...)
	return &Client{
		api:    &client,
		model:  anthropic.Model(model),
		logger: slog.Default(),
	}
}

// Complete sends a single-turn prompt and returns the first text block.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	c.logger.Debug("model call", "label", req.Label, "prompt_chars", len(req.Prompt))
	start := time.Now()
	msg, err := c.api.Messages.New(ctx, params)
	metrics.Get().ModelLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Get().ModelCalls.WithLabelValues(req.Label, "error").Inc()
		return nil, classify(fmt.Errorf("anthropic API call: %w", err))
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := sb.String()
	outcome := "ok"
	if text == "" {
		// Surfaces as a parse failure in the calling stage.
		outcome = "empty"
		c.logger.Warn("model reply has no text content", "label", req.Label, "stop_reason", msg.StopReason)
	}

	resp := &Response{
		Text:         text,
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}
	metrics.Get().ModelCalls.WithLabelValues(req.Label, outcome).Inc()
	metrics.Get().ModelTokens.WithLabelValues("input").Add(float64(resp.InputTokens))
	metrics.Get().ModelTokens.WithLabelValues("output").Add(float64(resp.OutputTokens))
	c.logger.Debug("model usage", "label", req.Label,
		"input_tokens", resp.InputTokens, "output_tokens", resp.OutputTokens,
		"total_tokens", resp.InputTokens+resp.OutputTokens)
	return resp, nil
}

// classify marks rate limiting and server-side failures as transient.
func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429, apiErr.StatusCode >= 500:
			return NewTransientError(err)
		default:
			return NewFatalError(err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return NewTransientError(err)
}

// Gated is an Agent whose every call first waits on a shared Limiter.
type Gated struct {
	agent   Agent
	limiter *ratelimit.Limiter
}

// Gate returns agent wrapped behind limiter.
func Gate(agent Agent, limiter *ratelimit.Limiter) *Gated {
	return &Gated{agent: agent, limiter: limiter}
}

// Complete acquires the limiter, then delegates.
func (g *Gated) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := g.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return g.agent.Complete(ctx, req)
}

// Unconfigured is the Agent used when no API key is set. Every call fails
// with ErrNotConfigured, which lets the rest of the service keep running.
type Unconfigured struct{}

// Complete always returns ErrNotConfigured.
func (Unconfigured) Complete(context.Context, Request) (*Response, error) {
	return nil, ErrNotConfigured
}
