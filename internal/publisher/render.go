package publisher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/news-clipping/internal/structurer"
	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Document is everything a job publishes
type Document struct {
	JobID       string
	URL         string
	Client      string
	Outcome     string
	GeneratedAt time.Time
	// Content is the raw automation payload
	Content string
	Result  *structurer.Structured
}

func (d *Document) items() int {
	if d.Result == nil {
		return 0
	}
	return len(d.Result.Items)
}

type jsonDocument struct {
	JobID            string         `json:"job_id"`
	URL              string         `json:"url"`
	Client           string         `json:"cliente,omitempty"`
	Outcome          string         `json:"outcome,omitempty"`
	GeneratedAt      time.Time      `json:"timestamp"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Items            any            `json:"itens"`
	EmailBody        string         `json:"email_body_ptbr,omitempty"`
	ExecutionLog     []string       `json:"log_execucao,omitempty"`
	ExtractionFailed bool           `json:"extraction_failed"`
	Content          string         `json:"conteudo,omitempty"`
}

// RenderJSON renders the canonical structure
func RenderJSON(d *Document) ([]byte, error) {
	out := jsonDocument{
		JobID:       d.JobID,
		URL:         d.URL,
		Client:      d.Client,
		Outcome:     d.Outcome,
		GeneratedAt: d.GeneratedAt,
		Items:       []any{},
	}
	if r := d.Result; r != nil {
		out.Metadata = r.Metadata
		out.Items = r.Items
		out.EmailBody = r.EmailBody
		out.ExecutionLog = r.ExecutionLog
		out.ExtractionFailed = r.ExtractionFailed
		if r.ExtractionFailed {
			out.Content = d.Content
		}
	}
	return json.MarshalIndent(out, "", "  ")
}

// RenderMarkdown renders the human readable clipping
func RenderMarkdown(d *Document) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "# Clipping - %s\n\n", d.JobID)
	fmt.Fprintf(&b, "**URL:** %s\n", d.URL)
	fmt.Fprintf(&b, "**Data:** %s\n", d.GeneratedAt.Format(time.RFC3339))
	if d.Client != "" {
		fmt.Fprintf(&b, "**Cliente:** %s\n", d.Client)
	}
	b.WriteString("\n---\n\n")

	r := d.Result
	if r != nil && r.EmailBody != "" {
		fmt.Fprintf(&b, "## Resumo\n\n%s\n\n", r.EmailBody)
	}

	if d.items() == 0 {
		content := d.Content
		if r != nil && r.Narrative != "" {
			content = r.Narrative
		}
		if content == "" {
			content = "Nenhum resultado coletado."
		}
		b.WriteString(content)
		b.WriteByte('\n')
		return []byte(b.String())
	}

	fmt.Fprintf(&b, "## Notícias (%d)\n\n", len(r.Items))
	for i, item := range r.Items {
		title := item.Title
		if title == "" {
			title = "Sem título"
		}
		if item.URL != "" {
			fmt.Fprintf(&b, "### %d. [%s](%s)\n\n", i+1, title, item.URL)
		} else {
			fmt.Fprintf(&b, "### %d. %s\n\n", i+1, title)
		}

		var meta []string
		for _, v := range []string{item.PublishedDate, item.Author, item.Section} {
			if v != "" {
				meta = append(meta, v)
			}
		}
		if len(meta) > 0 {
			fmt.Fprintf(&b, "*%s*\n\n", strings.Join(meta, " · "))
		}
		if item.Summary != "" {
			fmt.Fprintf(&b, "%s\n\n", item.Summary)
		}
		if len(item.MatchedTerms) > 0 {
			fmt.Fprintf(&b, "**Termos:** %s\n\n", strings.Join(item.MatchedTerms, ", "))
		}
	}
	return []byte(b.String())
}

const reportTemplate = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Clipping %s</title>
<style>body{font-family:Arial,sans-serif;max-width:860px;margin:24px auto;color:#222}h1{color:#0b3d91}a{color:#0b3d91}</style>
</head><body>
%s</body></html>
`

// RenderReport renders markdown as a standalone HTML report
func RenderReport(jobID string, markdown []byte) ([]byte, error) {
	body, err := MarkdownToHTML(markdown)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf(reportTemplate, jobID, body)), nil
}

// MarkdownToHTML converts GitHub flavored markdown to an HTML fragment
func MarkdownToHTML(markdown []byte) (string, error) {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	var buf bytes.Buffer
	if err := md.Convert(markdown, &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown to html: %w", err)
	}
	return buf.String(), nil
}

// RenderPDF renders a plain A4 document with one block per item
func RenderPDF(d *Document) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.SetTitle("Clipping "+d.JobID, true)
	pdf.AddPage()

	// core fonts are cp1252, which covers Portuguese accents
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Arial", "B", 16)
	pdf.MultiCell(0, 8, tr("Clipping - "+d.JobID), "", "L", false)
	pdf.SetFont("Arial", "", 9)
	pdf.MultiCell(0, 5, tr(fmt.Sprintf("URL: %s\nData: %s", d.URL, d.GeneratedAt.Format(time.RFC3339))), "", "L", false)
	pdf.Ln(4)

	if r := d.Result; r != nil && r.EmailBody != "" {
		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(0, 5, tr(r.EmailBody), "", "L", false)
		pdf.Ln(3)
	}

	if d.items() == 0 {
		pdf.SetFont("Arial", "", 10)
		content := d.Content
		if content == "" {
			content = "Nenhum resultado coletado."
		}
		pdf.MultiCell(0, 5, tr(content), "", "L", false)
	}

	if d.Result != nil {
		for i, item := range d.Result.Items {
			pdf.SetFont("Arial", "B", 11)
			pdf.MultiCell(0, 6, tr(fmt.Sprintf("%d. %s", i+1, item.Title)), "", "L", false)
			pdf.SetFont("Arial", "", 8)
			pdf.MultiCell(0, 4, tr(item.URL), "", "L", false)
			if item.Summary != "" {
				pdf.SetFont("Arial", "", 10)
				pdf.MultiCell(0, 5, tr(item.Summary), "", "L", false)
			}
			pdf.Ln(3)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate pdf: %w", err)
	}
	return buf.Bytes(), nil
}
