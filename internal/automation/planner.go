package automation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cuongbtq/news-clipping/internal/llm"
)

// Planner actions
const (
	ActionNavigate = "navigate"
	ActionClick    = "click"
	ActionType     = "type"
	ActionScroll   = "scroll"
	ActionExtract  = "extract"
	ActionDone     = "done"
)

const plannerSystemPrompt = `You control a web browser to complete a news clipping task.
Each turn you receive the task, the current page and the steps taken so far.
Answer with exactly one JSON object:
{"thinking": "<short reasoning>",
 "action": "navigate" | "click" | "type" | "scroll" | "extract" | "done",
 "url": "<absolute url, for navigate>",
 "selector": "<CSS selector, for click and type>",
 "text": "<text to type>",
 "payload": <final JSON result, for done>}
Use "extract" to keep the current page content in your notes.
Use "done" once you have the final result; its payload must follow the format requested by the task.`

// Action is one planner decision
type Action struct {
	Thinking string          `json:"thinking"`
	Type     string          `json:"action"`
	URL      string          `json:"url,omitempty"`
	Selector string          `json:"selector,omitempty"`
	Text     string          `json:"text,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// ParseAction decodes a planner answer, tolerating code fences and prose around the object
func ParseAction(text string) (Action, error) {
	raw := llm.StripCodeFence(text)

	var a Action
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		start, end := strings.IndexByte(raw, '{'), strings.LastIndexByte(raw, '}')
		if start < 0 || end <= start {
			return Action{}, fmt.Errorf("planner answer is not a JSON object: %w", err)
		}
		if err := json.Unmarshal([]byte(raw[start:end+1]), &a); err != nil {
			return Action{}, fmt.Errorf("planner answer is not a JSON object: %w", err)
		}
	}

	a.Type = strings.ToLower(strings.TrimSpace(a.Type))
	switch a.Type {
	case ActionNavigate:
		if a.URL == "" {
			return Action{}, fmt.Errorf("navigate action without url")
		}
	case ActionClick, ActionType:
		if a.Selector == "" {
			return Action{}, fmt.Errorf("%s action without selector", a.Type)
		}
	case ActionScroll, ActionExtract, ActionDone:
	default:
		return Action{}, fmt.Errorf("unknown action %q", a.Type)
	}
	return a, nil
}

// FinalPayload returns the done payload as text. A JSON string payload is unquoted.
func (a Action) FinalPayload() string {
	if len(a.Payload) == 0 || string(a.Payload) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(a.Payload, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, a.Payload); err != nil {
		return string(a.Payload)
	}
	return buf.String()
}

// Describe renders the action for step history
func (a Action) Describe() string {
	switch a.Type {
	case ActionNavigate:
		return "navigate " + a.URL
	case ActionClick:
		return "click " + a.Selector
	case ActionType:
		return fmt.Sprintf("type %q into %s", a.Text, a.Selector)
	default:
		return a.Type
	}
}

const (
	historyWindow = 10
	notesWindow   = 6
	noteChars     = 4000
)

func buildPlannerPrompt(task string, page *Page, history []Step, notes []string) string {
	var b strings.Builder

	b.WriteString("## Task\n")
	b.WriteString(task)
	b.WriteString("\n\n## Steps so far\n")
	if len(history) == 0 {
		b.WriteString("(none)\n")
	}
	from := max(len(history)-historyWindow, 0)
	for _, s := range history[from:] {
		b.WriteString(s.Summary())
		b.WriteByte('\n')
	}

	if len(notes) > 0 {
		b.WriteString("\n## Notes\n")
		from := max(len(notes)-notesWindow, 0)
		for i, n := range notes[from:] {
			fmt.Fprintf(&b, "### Note %d\n%s\n", from+i+1, n)
		}
	}

	fmt.Fprintf(&b, "\n## Current page\nURL: %s\nTitle: %s\n", page.URL, page.Title)
	if len(page.Links) > 0 {
		b.WriteString("\nLinks:\n")
		for _, l := range page.Links {
			fmt.Fprintf(&b, "- [%s](%s)\n", l.Text, l.Href)
		}
	}
	b.WriteString("\nContent:\n")
	b.WriteString(page.Markdown)
	b.WriteByte('\n')

	return b.String()
}
