package publisher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/news-clipping/internal/structurer"
	"github.com/cuongbtq/news-clipping/internal/worker/domain"
	"github.com/cuongbtq/news-clipping/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu   sync.Mutex
	err  error
	puts map[string][]byte
}

func (s *fakeStore) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	if s.puts == nil {
		s.puts = map[string][]byte{}
	}
	s.puts[key] = body
	return "s3://clippings/" + key, nil
}

var allFormats = []string{domain.FormatJSON, domain.FormatMarkdown, domain.FormatReport, domain.FormatPDF}

func testDocument() *Document {
	return &Document{
		JobID:       "job_0123456789ab",
		URL:         "https://example.com/",
		Client:      "LEAR",
		Outcome:     "success",
		GeneratedAt: time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC),
		Result: structurer.Structure(`{"itens":[
			{"titulo":"Lear amplia fábrica em Betim","url":"https://example.com/a","resumo":"Investimento de R$ 100 mi.","data_publicacao":"2026-09-30"},
			{"titulo":"Autopeças crescem","url":"https://example.com/b","termos_encontrados":["Lear"]}
		],"email_body_ptbr":"Duas notícias."}`),
	}
}

func newLocal(t *testing.T) (*LocalStore, string) {
	dir := t.TempDir()
	local, err := NewLocalStore(dir)
	require.NoError(t, err)
	return local, dir
}

func TestPublish_ObjectStore(t *testing.T) {
	store := &fakeStore{}
	local, dir := newLocal(t)
	p := New(store, local, allFormats, logger.Discard())

	artifacts, err := p.Publish(context.Background(), testDocument())
	require.NoError(t, err)
	require.Len(t, artifacts, len(allFormats))

	for _, a := range artifacts {
		assert.Equal(t, domain.BackendObjectStore, a.Backend)
		assert.True(t, strings.HasPrefix(a.URI, "s3://clippings/job_0123456789ab."))
		assert.Positive(t, a.SizeBytes)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing is written locally when the store works")
}

func TestPublish_StorageOutageFallsBackForEveryFormat(t *testing.T) {
	store := &fakeStore{err: errors.New("dial tcp minio:9000: connection refused")}
	local, dir := newLocal(t)
	p := New(store, local, allFormats, logger.Discard())

	artifacts, err := p.Publish(context.Background(), testDocument())
	require.NoError(t, err)
	require.Len(t, artifacts, len(allFormats))

	wantExt := map[string]string{
		domain.FormatJSON:     ".json",
		domain.FormatMarkdown: ".md",
		domain.FormatReport:   ".html",
		domain.FormatPDF:      ".pdf",
	}
	for i, a := range artifacts {
		assert.Equal(t, allFormats[i], a.Format)
		assert.Equal(t, domain.BackendLocal, a.Backend)
		require.True(t, strings.HasPrefix(a.URI, "file://"))

		path := strings.TrimPrefix(a.URI, "file://")
		assert.Equal(t, filepath.Join(dir, "job_0123456789ab"+wantExt[a.Format]), filepath.FromSlash(path))

		info, err := os.Stat(filepath.FromSlash(path))
		require.NoError(t, err)
		assert.Equal(t, a.SizeBytes, info.Size())
	}
}

func TestPublish_NoObjectStore(t *testing.T) {
	local, _ := newLocal(t)
	p := New(nil, local, nil, logger.Discard())

	artifacts, err := p.Publish(context.Background(), testDocument())
	require.NoError(t, err)
	require.Len(t, artifacts, 2, "json and markdown by default")
	for _, a := range artifacts {
		assert.Equal(t, domain.BackendLocal, a.Backend)
	}
}

func TestPublish_UnknownFormatIsReported(t *testing.T) {
	local, _ := newLocal(t)
	p := New(nil, local, []string{domain.FormatJSON, "docx"}, logger.Discard())

	artifacts, err := p.Publish(context.Background(), testDocument())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "docx")
	assert.Len(t, artifacts, 1)
}

func TestRenderMarkdown(t *testing.T) {
	md := string(RenderMarkdown(testDocument()))

	assert.True(t, strings.HasPrefix(md, "# Clipping - job_0123456789ab\n"))
	assert.Contains(t, md, "**URL:** https://example.com/")
	assert.Contains(t, md, "**Data:** 2026-10-01T08:00:00Z")
	assert.Contains(t, md, "## Resumo\n\nDuas notícias.")
	assert.Contains(t, md, "## Notícias (2)")
	assert.Contains(t, md, "### 1. [Lear amplia fábrica em Betim](https://example.com/a)")
	assert.Contains(t, md, "*2026-09-30*")
	assert.Contains(t, md, "**Termos:** Lear")
}

func TestRenderMarkdown_Narrative(t *testing.T) {
	doc := &Document{JobID: "job_x", Content: "Passo 1: abriu o site", Result: structurer.Structure("Passo 1: abriu o site")}

	md := string(RenderMarkdown(doc))
	assert.Contains(t, md, "Passo 1: abriu o site")
	assert.NotContains(t, md, "## Notícias")
}

func TestRenderReport(t *testing.T) {
	html, err := RenderReport("job_x", []byte("# Título\n\n| a | b |\n|---|---|\n| 1 | 2 |\n"))
	require.NoError(t, err)

	out := string(html)
	assert.Contains(t, out, "<title>Clipping job_x</title>")
	assert.Contains(t, out, "<h1>Título</h1>")
	assert.Contains(t, out, "<table>")
}

func TestRenderJSON(t *testing.T) {
	body, err := RenderJSON(testDocument())
	require.NoError(t, err)

	again := structurer.Structure(string(body))
	assert.Len(t, again.Items, 2)
	assert.Contains(t, string(body), `"job_id": "job_0123456789ab"`)
}

func TestRenderPDF(t *testing.T) {
	body, err := RenderPDF(testDocument())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "%PDF-"))
}
