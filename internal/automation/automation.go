// Package automation runs browser automation attempts against a remote
// Chrome DevTools backend with bounded retries, a per-attempt watchdog and
// partial-result salvage.
package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/news-clipping/internal/worker/domain"
)

// Outcome is the resolution of one attempt or of the whole run
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomePartial         Outcome = "partial"
	OutcomeTimeout         Outcome = "timeout"
	OutcomeConnectionError Outcome = "connection_error"
	OutcomeFailed          Outcome = "failed"
	OutcomeExhausted       Outcome = "exhausted"
)

// HasPayload reports whether the outcome carries data for downstream stages
func (o Outcome) HasPayload() bool {
	return o == OutcomeSuccess || o == OutcomePartial || o == OutcomeTimeout
}

var (
	// ErrInvalidTask is returned before any attempt when the task cannot run
	ErrInvalidTask = errors.New("invalid automation task")

	// ErrAutomationExhausted is wrapped by ExhaustedError
	ErrAutomationExhausted = errors.New("automation attempts exhausted")

	// ErrAutomationFailed is returned when an attempt failed without a retryable cause
	ErrAutomationFailed = errors.New("automation failed")

	// ErrBackendUnavailable is returned when the backend health probe fails
	ErrBackendUnavailable = errors.New("automation backend unavailable")

	// ErrMaxSteps is returned by a session that used its whole step budget
	ErrMaxSteps = errors.New("max steps reached")

	// ErrSessionClosed is returned by a session closed while running
	ErrSessionClosed = errors.New("browser session closed")
)

// ConnectionError marks transport, probe and handshake failures. Retryable.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ExhaustedError aggregates the messages of every failed attempt
type ExhaustedError struct {
	Messages []string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("automation failed after %d attempts: %s", len(e.Messages), strings.Join(e.Messages, "; "))
}

func (e *ExhaustedError) Unwrap() error {
	return ErrAutomationExhausted
}

// IsRetryable reports whether err is a connection-level failure
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var connErr *ConnectionError
	return errors.As(err, &connErr) || errors.Is(err, ErrBackendUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// Step is one reasoning/action pair recorded by a session
type Step struct {
	Number   int       `json:"number"`
	Thinking string    `json:"thinking"`
	Action   string    `json:"action"`
	Result   string    `json:"result,omitempty"`
	URL      string    `json:"url,omitempty"`
	At       time.Time `json:"at"`
}

// Summary renders the step the way it appears in partial payloads
func (s Step) Summary() string {
	line := fmt.Sprintf("Passo %d: %s | %s", s.Number, s.Thinking, s.Action)
	if s.Result != "" {
		line += " -> " + s.Result
	}
	return line
}

// Attempt is one execution of the automation engine
type Attempt struct {
	Number       int           `json:"attempt_number"`
	StartedAt    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	Outcome      Outcome       `json:"outcome"`
	Steps        []Step        `json:"step_history"`
	FinalPayload string        `json:"final_payload,omitempty"`
	Error        string        `json:"error,omitempty"`

	retryable bool
}

// Result is what a run hands to the structuring stage
type Result struct {
	Outcome  Outcome
	Payload  string
	Steps    []Step
	Attempts []Attempt
	Usage    domain.Usage
}

// summarizeSteps builds the salvage payload from a step history
func summarizeSteps(steps []Step) string {
	lines := make([]string, len(steps))
	for i, s := range steps {
		lines[i] = s.Summary()
	}
	return strings.Join(lines, "\n")
}
