// Package llm wraps the language model providers used by the interpreter and
// the browser step planner behind one narrow interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cuongbtq/news-clipping/internal/worker/domain"
)

var (
	// ErrMissingAPIKey is returned when the selected provider has no key configured
	ErrMissingAPIKey = errors.New("llm api key is not configured")

	// ErrUnsupportedProvider is returned by NewProvider for unknown provider names
	ErrUnsupportedProvider = errors.New("unsupported llm provider")

	// ErrEmptyResponse is returned when the provider answered without text
	ErrEmptyResponse = errors.New("empty llm response")
)

// Request is one single-turn completion
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	// JSON asks the provider to answer with a JSON document when it supports it
	JSON bool
}

// Response is the provider answer plus token accounting
type Response struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Provider completes prompts
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// Config selects and configures a provider
type Config struct {
	Provider        string
	Model           string
	AnthropicAPIKey string
	GeminiAPIKey    string
}

// NewProvider builds the provider named in cfg
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "anthropic", "claude", "":
		return NewAnthropic(cfg.AnthropicAPIKey, cfg.Model)
	case "gemini", "google":
		return NewGemini(ctx, cfg.GeminiAPIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}
}

// Pricing converts token counts to USD using per-1k rates
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// Usage builds the usage record of one call
func (p Pricing) Usage(component string, resp *Response) domain.Usage {
	if resp == nil {
		return domain.Usage{Component: component}
	}
	return domain.Usage{
		Component:    component,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		TotalTokens:  resp.InputTokens + resp.OutputTokens,
		CostUSD: float64(resp.InputTokens)/1000*p.InputPer1K +
			float64(resp.OutputTokens)/1000*p.OutputPer1K,
	}
}

// StripCodeFence removes a surrounding ```json ... ``` fence if present
func StripCodeFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}

// ProviderFunc adapts a function to the Provider interface
type ProviderFunc func(ctx context.Context, req Request) (*Response, error)

func (f ProviderFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

func (f ProviderFunc) Name() string { return "func" }
