// Package structurer turns raw automation output into a canonical list of
// clipping items. It is best effort and never fails.
package structurer

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/cuongbtq/news-clipping/internal/worker/domain"
)

// How the structure was obtained
const (
	SourceEmbedded  = "embedded"
	SourceDocument  = "document"
	SourceNarrative = "narrative"
)

const summaryChars = 600

// Structured is the normalized result of one job
type Structured struct {
	Items            []domain.ClippingItem `json:"itens"`
	Metadata         map[string]any        `json:"metadata,omitempty"`
	EmailBody        string                `json:"email_body_ptbr,omitempty"`
	ExecutionLog     []string              `json:"log_execucao,omitempty"`
	Narrative        string                `json:"narrativa,omitempty"`
	ExtractionFailed bool                  `json:"extraction_failed"`
	Source           string                `json:"source"`
}

// Summary is the short text used by notifications
func (s *Structured) Summary() string {
	if s.EmailBody != "" {
		return s.EmailBody
	}
	if s.Narrative != "" {
		return truncate(s.Narrative, summaryChars)
	}
	if len(s.Items) == 0 {
		return "Nenhum resultado coletado."
	}
	return fmt.Sprintf("%d notícias coletadas.", len(s.Items))
}

// Structure extracts items from raw, trying the whole text as one JSON
// document, then an embedded JSON object with the expected shape, then falling
// back to a narrative with no items
func Structure(raw string) *Structured {
	text := strings.TrimSpace(raw)

	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err == nil {
		switch v := doc.(type) {
		case map[string]any:
			s := fromObject(v)
			s.Source = SourceDocument
			return s
		case []any:
			return &Structured{Items: decodeItems(v), Source: SourceDocument}
		}
	}

	if obj, ok := findEmbedded(text); ok {
		s := fromObject(obj)
		s.Source = SourceEmbedded
		return s
	}

	return &Structured{
		Items:            []domain.ClippingItem{},
		Narrative:        text,
		ExtractionFailed: true,
		Source:           SourceNarrative,
		Metadata: map[string]any{
			"status":   "parcial",
			"mensagem": "Resultado não pôde ser estruturado como JSON",
		},
	}
}

// maxScanRestarts bounds how often the scan resumes after an unclosed brace
const maxScanRestarts = 8

// findEmbedded returns the first top-level JSON object in text that has the
// expected shape. Objects inside an enclosing array are never candidates.
func findEmbedded(text string) (map[string]any, bool) {
	from := 0
	for restarts := 0; restarts <= maxScanRestarts; restarts++ {
		obj, unclosed, ok := scanObjects(text, from)
		if ok {
			return obj, true
		}
		if unclosed < 0 {
			break
		}
		from = unclosed + 1
	}
	return nil, false
}

// scanObjects walks text once from offset, trying each top-level balanced
// object. It returns the start of a trailing unclosed object, or -1.
func scanObjects(text string, from int) (map[string]any, int, bool) {
	depth, arrays, start := 0, 0, -1
	inString, escaped := false, false

	for i := from; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch {
		case depth > 0 && c == '"':
			inString = true
		case c == '{':
			if depth == 0 {
				start = i
			}
			depth++
		case c == '}' && depth > 0:
			depth--
			if depth == 0 && arrays == 0 {
				var obj map[string]any
				if err := json.Unmarshal([]byte(text[start:i+1]), &obj); err == nil && hasShape(obj) {
					return obj, -1, true
				}
			}
		case depth == 0 && c == '[':
			arrays++
		case depth == 0 && c == ']' && arrays > 0:
			arrays--
		}
	}

	if depth > 0 {
		return nil, start, false
	}
	return nil, -1, false
}

// hasShape requires an item collection or the email body, the fields only a
// whole result carries
func hasShape(obj map[string]any) bool {
	if _, ok := first(obj, "itens", "items").([]any); ok {
		return true
	}
	body, ok := obj["email_body_ptbr"].(string)
	return ok && body != ""
}

func fromObject(obj map[string]any) *Structured {
	s := &Structured{Items: []domain.ClippingItem{}}

	if list, ok := first(obj, "itens", "items").([]any); ok {
		s.Items = decodeItems(list)
	}
	if meta, ok := obj["metadata"].(map[string]any); ok {
		s.Metadata = meta
	}
	s.EmailBody = str(first(obj, "email_body_ptbr", "email_body", "summary"))

	switch v := first(obj, "log_execucao", "execution_log").(type) {
	case []any:
		for _, e := range v {
			if line := str(e); line != "" {
				s.ExecutionLog = append(s.ExecutionLog, line)
			}
		}
	case string:
		if v != "" {
			s.ExecutionLog = []string{v}
		}
	}
	return s
}

// decodeItems maps loosely typed objects onto items, deduplicating by URL and
// keeping the first occurrence. Items without a URL are kept.
func decodeItems(list []any) []domain.ClippingItem {
	items := make([]domain.ClippingItem, 0, len(list))
	seen := map[string]bool{}

	for _, raw := range list {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		item := domain.ClippingItem{
			Title:          str(first(m, "titulo", "title")),
			URL:            str(first(m, "url", "link")),
			PublishedDate:  str(first(m, "data_publicacao", "published_date", "date")),
			Author:         str(first(m, "autor", "author")),
			Section:        str(first(m, "secao", "section")),
			Summary:        str(first(m, "resumo", "summary")),
			MatchedTerms:   terms(first(m, "termos_encontrados", "matched_terms")),
			RelevanceScore: number(first(m, "relevancia", "relevance_score")),
			MentionsClient: boolean(first(m, "menciona_cliente", "mentions_client")),
		}

		if key := normalizeURL(item.URL); key != "" {
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		items = append(items, item)
	}
	return items
}

func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(strings.ToLower(raw), "/")
	}
	u.Host = strings.ToLower(u.Host)
	u.Scheme = strings.ToLower(u.Scheme)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

func first(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func number(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	default:
		return 0
	}
}

func boolean(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "sim", "yes", "1":
			return true
		}
	case float64:
		return t != 0
	}
	return false
}

func terms(v any) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[strings.ToLower(s)] {
			seen[strings.ToLower(s)] = true
			out = append(out, s)
		}
	}

	switch t := v.(type) {
	case []any:
		for _, e := range t {
			add(str(e))
		}
	case string:
		for _, e := range strings.Split(t, ",") {
			add(e)
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
