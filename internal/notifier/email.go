package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/news-clipping/internal/publisher"
	"github.com/emersion/go-message/mail"
)

// SMTPConfig configures the email channel
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	To       []string
}

// Email sends multipart text and HTML messages over SMTP
type Email struct {
	cfg SMTPConfig
	now func() time.Time
}

// NewEmail creates an email channel
func NewEmail(cfg SMTPConfig) *Email {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Email{cfg: cfg, now: time.Now}
}

func (e *Email) Name() string { return "email" }

func (e *Email) recipients(n *Notification) []string {
	if len(n.Recipients) > 0 {
		return n.Recipients
	}
	return e.cfg.To
}

func (e *Email) validate(to []string) error {
	switch {
	case e.cfg.Host == "":
		return fmt.Errorf("%w: smtp host is empty", ErrMisconfigured)
	case e.cfg.From == "":
		return fmt.Errorf("%w: sender address is empty", ErrMisconfigured)
	case len(to) == 0:
		return fmt.Errorf("%w: no recipients", ErrMisconfigured)
	}
	return nil
}

// Send composes and delivers the message
func (e *Email) Send(ctx context.Context, n *Notification) error {
	to := e.recipients(n)
	if err := e.validate(to); err != nil {
		return err
	}

	msg, err := e.compose(n, to)
	if err != nil {
		return err
	}
	return e.deliver(ctx, to, msg)
}

func subject(n *Notification) string {
	client := n.Client
	if client == "" {
		client = "LEAR"
	}
	return fmt.Sprintf("[Clipping %s] Job %s - %s", strings.ToUpper(client), n.JobID, strings.ToUpper(n.Status))
}

func emailMarkdown(n *Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Clipping %s\n\n", n.Client)
	fmt.Fprintf(&b, "**Job:** %s  \n**Status:** %s  \n**URL base:** %s  \n**Itens:** %d\n\n", n.JobID, displayStatus(n), n.URL, n.Items)
	if n.Error != "" {
		fmt.Fprintf(&b, "**Erro:** %s\n\n", n.Error)
	}

	summary := n.Summary
	if summary == "" {
		summary = "Não foi possível gerar resumo."
	}
	fmt.Fprintf(&b, "### Resumo\n\n%s\n\n", summary)

	if len(n.Artifacts) > 0 {
		b.WriteString("### Artefatos gerados\n\n")
		for _, a := range n.Artifacts {
			fmt.Fprintf(&b, "- %s: %s (%s)\n", a.Format, a.URI, a.Backend)
		}
	}
	return b.String()
}

func (e *Email) compose(n *Notification, to []string) ([]byte, error) {
	var h mail.Header
	h.SetDate(e.now())
	h.SetSubject(subject(n))
	h.SetAddressList("From", []*mail.Address{{Name: e.cfg.FromName, Address: e.cfg.From}})

	rcpts := make([]*mail.Address, 0, len(to))
	for _, addr := range to {
		rcpts = append(rcpts, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", rcpts)

	text := emailMarkdown(n)
	html, err := publisher.MarkdownToHTML([]byte(text))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("failed to create message body: %w", err)
	}
	if err := writePart(tw, "text/plain", text); err != nil {
		return nil, err
	}
	if err := writePart(tw, "text/html", "<html><body>"+html+"</body></html>"); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writePart(tw *mail.InlineWriter, contentType, body string) error {
	var h mail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	w, err := tw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return err
	}
	return w.Close()
}

// deliver speaks SMTP, upgrading with STARTTLS when the server offers it
func (e *Email) deliver(ctx context.Context, to []string, msg []byte) error {
	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))

	dialer := net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, e.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start SMTP session: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: e.cfg.Host}); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if e.cfg.Username != "" {
		auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(e.cfg.From); err != nil {
		return fmt.Errorf("failed to set mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}
	return client.Quit()
}
