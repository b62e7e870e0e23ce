package orchestrator

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/news-clipping/internal/automation"
	"github.com/cuongbtq/news-clipping/internal/interpreter"
	"github.com/cuongbtq/news-clipping/internal/notifier"
	"github.com/cuongbtq/news-clipping/internal/structurer"
	"github.com/cuongbtq/news-clipping/internal/worker/domain"
)

// ExecutionContext is the mutable state of one job run. It belongs to a
// single Process call and is discarded when the call returns.
type ExecutionContext struct {
	JobID       string
	Instruction string
	// Parameters are the interpreted parameters overlaid with the message ones
	Parameters map[string]any
	URL        string
	Task       interpreter.Task
	Spec       automation.TaskSpec

	Automation    *automation.Result
	AutomationErr error
	Content       string
	Structured    *structurer.Structured
	Artifacts     []domain.Artifact
	Notification  *notifier.Result

	Usage  []domain.Usage
	Stages map[string]string

	messageParams map[string]any
	failure       error
	started       time.Time
}

func newExecutionContext(msg domain.TaskMessage) *ExecutionContext {
	return &ExecutionContext{
		JobID:       msg.JobID,
		Instruction: msg.Instruction,
		Parameters:  map[string]any{},
		Stages:      map[string]string{},

		messageParams: msg.Parameters,
		started:       time.Now(),
	}
}

func (ec *ExecutionContext) items() int {
	if ec.Structured == nil {
		return 0
	}
	return len(ec.Structured.Items)
}

func (ec *ExecutionContext) usageSummary() map[string]any {
	var tokens int64
	var cost float64
	for _, u := range ec.Usage {
		tokens += u.TotalTokens
		cost += u.CostUSD
	}
	components := ec.Usage
	if components == nil {
		components = []domain.Usage{}
	}
	return map[string]any{
		"components":     components,
		"total_tokens":   tokens,
		"total_cost_usd": cost,
	}
}

// metadata is what gets merged into the job's result_metadata
func (ec *ExecutionContext) metadata() map[string]any {
	m := map[string]any{
		"url":              ec.URL,
		"tipo":             ec.Task.Type,
		"interpretation":   ec.Task.Source,
		"parameters":       ec.Parameters,
		"stages":           ec.Stages,
		"llm_usage":        ec.usageSummary(),
		"duration_seconds": time.Since(ec.started).Seconds(),
	}

	if r := ec.Automation; r != nil {
		m["outcome"] = string(r.Outcome)
		m["attempts"] = r.Attempts
		m["steps_recorded"] = len(r.Steps)
	}
	if ec.Structured != nil {
		m["items"] = ec.items()
		m["extraction_failed"] = ec.Structured.ExtractionFailed
	}
	if ec.Artifacts != nil {
		m["artifacts"] = ec.Artifacts
	}
	if n := ec.Notification; n != nil {
		m["notification"] = n
		m["notification_status"] = n.Status
	}
	return m
}

// Defaults fill task fields the instruction and message leave out
type Defaults struct {
	Client   string
	Period   string
	Site     string
	MaxItems int
	MinItems int
	Keywords []string
	Timeout  time.Duration
}

// buildSpec turns the merged parameters into an automation task
func buildSpec(ec *ExecutionContext, d Defaults) automation.TaskSpec {
	p := ec.Parameters
	spec := automation.TaskSpec{
		URL:          ec.URL,
		Type:         ec.Task.Type,
		Client:       stringParam(p, d.Client, "cliente", "client"),
		Period:       stringParam(p, d.Period, "periodo", "period"),
		Site:         stringParam(p, d.Site, "site"),
		MaxItems:     intParam(p, d.MaxItems, "max_itens", "max_items"),
		MinItems:     intParam(p, d.MinItems, "min_noticias", "min_items"),
		Keywords:     listParam(p, d.Keywords, "palavras_chave", "keywords"),
		Timeout:      d.Timeout,
		Instructions: ec.Task.Instructions,
	}
	if spec.Site == "" {
		spec.Site = ec.URL
	}
	return spec
}

func stringParam(p map[string]any, def string, keys ...string) string {
	for _, k := range keys {
		if v, ok := p[k]; ok && v != nil {
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				return s
			}
		}
	}
	return def
}

func intParam(p map[string]any, def int, keys ...string) int {
	for _, k := range keys {
		switch v := p[k].(type) {
		case float64:
			return int(v)
		case int:
			return v
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}
		}
	}
	return def
}

func listParam(p map[string]any, def []string, keys ...string) []string {
	for _, k := range keys {
		switch v := p[k].(type) {
		case []any:
			out := make([]string, 0, len(v))
			for _, e := range v {
				if s := strings.TrimSpace(fmt.Sprint(e)); s != "" {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		case []string:
			if len(v) > 0 {
				return v
			}
		case string:
			var out []string
			for _, s := range strings.Split(v, ",") {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return def
}
