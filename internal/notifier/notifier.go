// Package notifier delivers job notifications over independent channels.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/news-clipping/internal/worker/domain"
)

// Overall dispatch status
const (
	StatusSent    = "sent"
	StatusPartial = domain.NotificationPartialError
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// ErrMisconfigured is returned by a channel that is enabled but cannot send
var ErrMisconfigured = errors.New("notification channel misconfigured")

// Notification is what every channel reports about a job
type Notification struct {
	JobID      string
	Client     string
	Status     string
	Outcome    string
	URL        string
	Items      int
	Summary    string
	Error      string
	Artifacts  []domain.Artifact
	Recipients []string
}

// Channel is one delivery mechanism
type Channel interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// ChannelResult is the outcome of one channel
type ChannelResult struct {
	Channel   string `json:"channel"`
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

// Result aggregates every channel
type Result struct {
	Status   string          `json:"status"`
	Channels []ChannelResult `json:"channels"`
}

// Dispatcher fans a notification out to its channels
type Dispatcher struct {
	channels []Channel
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher over channels
func NewDispatcher(logger *slog.Logger, channels ...Channel) *Dispatcher {
	return &Dispatcher{channels: channels, logger: logger}
}

// Dispatch tries every channel independently. It never fails; problems are
// reported through the result status.
func (d *Dispatcher) Dispatch(ctx context.Context, n *Notification) Result {
	result := Result{Status: StatusSkipped, Channels: []ChannelResult{}}
	if len(d.channels) == 0 {
		return result
	}

	delivered := 0
	for _, ch := range d.channels {
		cr := ChannelResult{Channel: ch.Name()}
		if err := d.send(ctx, ch, n); err != nil {
			cr.Error = err.Error()
			d.logger.Warn("Notification channel failed",
				slog.String("job_id", n.JobID),
				slog.String("channel", ch.Name()),
				slog.Any("error", err),
			)
		} else {
			cr.Delivered = true
			delivered++
		}
		result.Channels = append(result.Channels, cr)
	}

	switch delivered {
	case len(d.channels):
		result.Status = StatusSent
	case 0:
		result.Status = StatusFailed
	default:
		result.Status = StatusPartial
	}
	return result
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, n *Notification) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("channel panicked: %v", p)
		}
	}()
	return ch.Send(ctx, n)
}

func displayStatus(n *Notification) string {
	s := strings.ToUpper(n.Status)
	if n.Outcome != "" && n.Outcome != "success" {
		s += " (" + n.Outcome + ")"
	}
	return s
}
