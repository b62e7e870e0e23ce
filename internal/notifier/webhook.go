package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Webhook posts Slack style messages
type Webhook struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewWebhook creates a webhook channel limited to one message per second
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (w *Webhook) Name() string { return "webhook" }

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type string    `json:"type"`
	Text slackText `json:"text"`
}

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

func webhookMessage(n *Notification) slackMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "*Job de Clipping*\n*ID:* %s\n*Status:* %s", n.JobID, displayStatus(n))
	if n.Client != "" {
		fmt.Fprintf(&b, "\n*Cliente:* %s", n.Client)
	}
	if n.URL != "" {
		fmt.Fprintf(&b, "\n*URL:* %s", n.URL)
	}
	fmt.Fprintf(&b, "\n*Itens:* %d", n.Items)
	if n.Error != "" {
		fmt.Fprintf(&b, "\n*Erro:* %s", n.Error)
	}
	for _, a := range n.Artifacts {
		fmt.Fprintf(&b, "\n• %s: %s", a.Format, a.URI)
	}

	return slackMessage{
		Text: "Job de Clipping " + n.JobID,
		Blocks: []slackBlock{{
			Type: "section",
			Text: slackText{Type: "mrkdwn", Text: b.String()},
		}},
	}
}

// Send posts the message. Non 2xx answers are errors.
func (w *Webhook) Send(ctx context.Context, n *Notification) error {
	if w.url == "" {
		return fmt.Errorf("%w: webhook url is empty", ErrMisconfigured)
	}
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(webhookMessage(n))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMisconfigured, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
