package interpreter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/cuongbtq/news-clipping/internal/llm"
	"github.com/cuongbtq/news-clipping/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func respond(text string, err error) llm.ProviderFunc {
	return func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		if err != nil {
			return nil, err
		}
		return &llm.Response{Text: text, Model: "test-model", InputTokens: 1000, OutputTokens: 200}, nil
	}
}

func newInterpreter(p llm.Provider) *Interpreter {
	return New(p, Config{
		Temperature: 0.2,
		MaxTokens:   300,
		Pricing:     llm.Pricing{InputPer1K: 0.005, OutputPer1K: 0.015},
	}, logger.Discard())
}

func TestInterpret(t *testing.T) {
	const instruction = "Colete notícias sobre Lear em https://example.com/"

	tests := []struct {
		name       string
		provider   llm.Provider
		wantURL    string
		wantType   string
		wantSource string
		wantUsage  bool
	}{
		{
			name:       "model answer",
			provider:   respond(`{"url":"https://example.com/news","tipo":"news","parametros":{"max":5},"instrucoes_especificas":"collect"}`, nil),
			wantURL:    "https://example.com/news",
			wantType:   "news",
			wantSource: SourceLLM,
			wantUsage:  true,
		},
		{
			name:       "fenced model answer without url",
			provider:   respond("```json\n{\"url\":\"\",\"tipo\":\"\",\"parametros\":null}\n```", nil),
			wantURL:    "https://example.com/",
			wantType:   DefaultTaskType,
			wantSource: SourceLLM,
			wantUsage:  true,
		},
		{
			name:       "service error falls back",
			provider:   respond("", errors.New("503")),
			wantURL:    "https://example.com/",
			wantType:   "artigo",
			wantSource: SourceFallback,
		},
		{
			name:       "malformed answer falls back",
			provider:   respond("I think the url is example.com", nil),
			wantURL:    "https://example.com/",
			wantType:   "artigo",
			wantSource: SourceFallback,
		},
		{
			name:       "no provider",
			provider:   nil,
			wantURL:    "https://example.com/",
			wantType:   "artigo",
			wantSource: SourceFallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var in *Interpreter
			if tt.provider == nil {
				in = newInterpreter(nil)
			} else {
				in = newInterpreter(tt.provider)
			}

			res := in.Interpret(context.Background(), instruction)
			require.NotNil(t, res)

			assert.Equal(t, tt.wantURL, res.Task.URL)
			assert.Equal(t, tt.wantType, res.Task.Type)
			assert.Equal(t, tt.wantSource, res.Task.Source)
			if tt.wantUsage {
				require.NotNil(t, res.Usage)
				assert.Equal(t, int64(1200), res.Usage.TotalTokens)
				assert.InDelta(t, 0.008, res.Usage.CostUSD, 1e-9)
			} else {
				assert.Nil(t, res.Usage, "fallback path produces no usage record")
			}
		})
	}
}

func TestFallback_Baseline(t *testing.T) {
	task := Fallback("Colete notícias sem link")

	assert.Empty(t, task.URL)
	assert.Equal(t, "artigo", task.Type)
	assert.Equal(t, false, task.Parameters["extract_images"])
	assert.Equal(t, true, task.Parameters["extract_links"])
	assert.Equal(t, "both", task.Parameters["format"])
	assert.Equal(t, "Colete notícias sem link", task.Instructions)
}

func TestExtractURL(t *testing.T) {
	tests := map[string]string{
		"veja https://example.com/a?b=1.":             "https://example.com/a?b=1",
		"(http://foo.bar/x), depois https://second/": "http://foo.bar/x",
		"sem url aqui":                                "",
		`<a href="https://site.com/p">`:               "https://site.com/p",
	}
	for in, want := range tests {
		assert.Equal(t, want, ExtractURL(in), in)
	}
}

func TestTruncate_MultiByteText(t *testing.T) {
	s := truncate(strings.Repeat("ç", 199)+"ões", 200)

	assert.True(t, utf8.ValidString(s))
	assert.Equal(t, strings.Repeat("ç", 199)+"õ...", s)
	assert.Equal(t, "ação", truncate("ação", 200))
}
