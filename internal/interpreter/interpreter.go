// Package interpreter turns a free-text clipping instruction into a task descriptor.
package interpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/cuongbtq/news-clipping/internal/llm"
	"github.com/cuongbtq/news-clipping/internal/worker/domain"
)

// Task sources
const (
	SourceLLM      = "llm"
	SourceFallback = "fallback"
)

// DefaultTaskType is used when the instruction does not say what to collect
const DefaultTaskType = "artigo"

var urlPattern = regexp.MustCompile("https?://[^\\s<>\"{}|\\\\^`\\[\\]]+")

const systemPrompt = `You convert clipping instructions into a task descriptor.
Answer with one JSON object and nothing else, using exactly these keys:
{"url": "<target url or empty string>",
 "tipo": "news" | "article" | "product",
 "parametros": {<extraction parameters>},
 "instrucoes_especificas": "<specific instructions for the browser agent>"}`

// Task is the structured descriptor handed to the automation stage
type Task struct {
	URL          string         `json:"url"`
	Type         string         `json:"tipo"`
	Parameters   map[string]any `json:"parametros"`
	Instructions string         `json:"instrucoes_especificas"`
	Source       string         `json:"source"`
}

// Result is the interpreted task and, on the language model path, its usage record
type Result struct {
	Task  Task
	Usage *domain.Usage
}

// Config holds the completion settings
type Config struct {
	Temperature float64
	MaxTokens   int
	Pricing     llm.Pricing
}

// Interpreter calls the language model and falls back to a heuristic
type Interpreter struct {
	provider llm.Provider
	cfg      Config
	logger   *slog.Logger
}

// New creates an Interpreter. A nil provider makes every call use the fallback.
func New(provider llm.Provider, cfg Config, logger *slog.Logger) *Interpreter {
	return &Interpreter{provider: provider, cfg: cfg, logger: logger}
}

// Interpret never fails on model errors; it degrades to Fallback. The returned
// task may still lack a URL, which the caller treats as an input error.
func (i *Interpreter) Interpret(ctx context.Context, instruction string) *Result {
	if i.provider == nil {
		return &Result{Task: Fallback(instruction)}
	}

	resp, err := i.provider.Complete(ctx, llm.Request{
		System:      systemPrompt,
		Prompt:      instruction,
		Temperature: i.cfg.Temperature,
		MaxTokens:   i.cfg.MaxTokens,
		JSON:        true,
	})
	if err != nil {
		i.logger.Warn("Instruction interpretation failed, using fallback", slog.Any("error", err))
		return &Result{Task: Fallback(instruction)}
	}

	task, err := parseTask(resp.Text)
	if err != nil {
		i.logger.Warn("Unparseable interpretation, using fallback",
			slog.Any("error", err),
			slog.String("response", truncate(resp.Text, 200)),
		)
		return &Result{Task: Fallback(instruction)}
	}

	if task.URL == "" {
		task.URL = ExtractURL(instruction)
	}
	if task.Instructions == "" {
		task.Instructions = instruction
	}

	usage := i.cfg.Pricing.Usage("interpreter", resp)
	i.logger.Info("Instruction interpreted",
		slog.String("url", task.URL),
		slog.String("tipo", task.Type),
		slog.Int64("total_tokens", usage.TotalTokens),
		slog.Float64("cost_usd", usage.CostUSD),
	)

	return &Result{Task: task, Usage: &usage}
}

func parseTask(text string) (Task, error) {
	var task Task
	if err := json.Unmarshal([]byte(llm.StripCodeFence(text)), &task); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	task.URL = strings.TrimSpace(task.URL)
	if task.Type == "" {
		task.Type = DefaultTaskType
	}
	if task.Parameters == nil {
		task.Parameters = map[string]any{}
	}
	task.Source = SourceLLM
	return task, nil
}

// Fallback builds a task deterministically from the instruction text
func Fallback(instruction string) Task {
	return Task{
		URL:  ExtractURL(instruction),
		Type: DefaultTaskType,
		Parameters: map[string]any{
			"extract_images": false,
			"extract_links":  true,
			"format":         "both",
		},
		Instructions: instruction,
		Source:       SourceFallback,
	}
}

// ExtractURL returns the first well-formed http(s) URL in text, or ""
func ExtractURL(text string) string {
	raw := urlPattern.FindString(text)
	return strings.TrimRight(raw, ".,;:!?)'")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
