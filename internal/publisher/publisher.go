// Package publisher writes job results to the object store, falling back to
// the local workspace whenever the store is unavailable.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/news-clipping/internal/worker/domain"
)

type rendered struct {
	ext         string
	contentType string
	body        []byte
}

// Publisher renders and stores artifacts
type Publisher struct {
	store   ObjectStore
	local   ObjectStore
	formats []string
	logger  *slog.Logger
}

// New creates a Publisher. A nil store publishes locally only.
func New(store ObjectStore, local *LocalStore, formats []string, logger *slog.Logger) *Publisher {
	if len(formats) == 0 {
		formats = []string{domain.FormatJSON, domain.FormatMarkdown}
	}
	return &Publisher{store: store, local: local, formats: formats, logger: logger}
}

// Publish writes every configured format. Each artifact is tried on the object
// store first and then locally; the returned error lists formats that could
// not be written anywhere.
func (p *Publisher) Publish(ctx context.Context, doc *Document) ([]domain.Artifact, error) {
	log := p.logger.With(slog.String("job_id", doc.JobID))

	var markdown []byte
	var artifacts []domain.Artifact
	var errs []error

	for _, format := range p.formats {
		r, err := p.render(format, doc, &markdown)
		if err != nil {
			log.Error("Failed to render artifact", slog.String("format", format), slog.Any("error", err))
			errs = append(errs, err)
			continue
		}

		key := doc.JobID + "." + r.ext

		if p.store != nil {
			uri, err := p.store.Put(ctx, key, r.body, r.contentType)
			if err == nil {
				artifacts = append(artifacts, domain.Artifact{
					Format:    format,
					URI:       uri,
					SizeBytes: int64(len(r.body)),
					Backend:   domain.BackendObjectStore,
				})
				log.Info("Artifact stored", slog.String("format", format), slog.String("uri", uri))
				continue
			}
			log.Warn("Object store write failed, falling back to workspace",
				slog.String("format", format),
				slog.Any("error", err),
			)
		}

		uri, err := p.local.Put(ctx, key, r.body, r.contentType)
		if err != nil {
			log.Error("Failed to write artifact locally", slog.String("format", format), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", format, err))
			continue
		}
		artifacts = append(artifacts, domain.Artifact{
			Format:    format,
			URI:       uri,
			SizeBytes: int64(len(r.body)),
			Backend:   domain.BackendLocal,
		})
		log.Info("Artifact written to workspace", slog.String("format", format), slog.String("uri", uri))
	}

	return artifacts, errors.Join(errs...)
}

func (p *Publisher) render(format string, doc *Document, markdown *[]byte) (rendered, error) {
	md := func() []byte {
		if *markdown == nil {
			*markdown = RenderMarkdown(doc)
		}
		return *markdown
	}

	switch format {
	case domain.FormatJSON:
		body, err := RenderJSON(doc)
		if err != nil {
			return rendered{}, fmt.Errorf("json: %w", err)
		}
		return rendered{ext: "json", contentType: "application/json", body: body}, nil

	case domain.FormatMarkdown:
		return rendered{ext: "md", contentType: "text/markdown; charset=utf-8", body: md()}, nil

	case domain.FormatReport:
		body, err := RenderReport(doc.JobID, md())
		if err != nil {
			return rendered{}, fmt.Errorf("report: %w", err)
		}
		return rendered{ext: "html", contentType: "text/html; charset=utf-8", body: body}, nil

	case domain.FormatPDF:
		body, err := RenderPDF(doc)
		if err != nil {
			return rendered{}, fmt.Errorf("pdf: %w", err)
		}
		return rendered{ext: "pdf", contentType: "application/pdf", body: body}, nil
	}

	return rendered{}, fmt.Errorf("unsupported artifact format %q", format)
}
