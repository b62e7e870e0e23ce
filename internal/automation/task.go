package automation

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultTemplate is the natural-language task handed to the browser agent
const DefaultTemplate = `Você é um agente de clipping de notícias do setor automotivo para o cliente {cliente}.

Objetivo: acesse {site} e colete notícias publicadas nos {periodo}.
Palavras-chave: {palavras_chave}.
Colete no mínimo {min_noticias} e no máximo {max_itens} notícias relevantes para o cliente {cliente}.
Você tem até {timeout} segundos.
{instrucoes}

Ao terminar, responda com um único objeto JSON:
{"metadata": {"cliente": "{cliente}", "periodo": "{periodo}", "site": "{site}", "total_itens": <n>, "status": "completo"},
 "itens": [{"titulo": "", "url": "", "data_publicacao": "", "autor": "", "secao": "", "resumo": "",
            "termos_encontrados": [], "relevancia": 0.0, "menciona_cliente": false}],
 "email_body_ptbr": "<resumo em português para o e-mail>",
 "log_execucao": "<passos executados>"}`

// TaskSpec carries everything needed to render and validate a task
type TaskSpec struct {
	URL          string
	Type         string
	Client       string
	Period       string
	Site         string
	MaxItems     int
	MinItems     int
	Keywords     []string
	Timeout      time.Duration
	Instructions string
	Template     string
}

// Validate rejects specs that no attempt could run
func (t TaskSpec) Validate(allowed []string) error {
	if strings.TrimSpace(t.URL) == "" {
		return fmt.Errorf("%w: target url is empty", ErrInvalidTask)
	}

	u, err := url.Parse(t.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: target url %q is not an absolute http(s) url", ErrInvalidTask, t.URL)
	}

	if !DomainAllowed(u.Hostname(), allowed) {
		return fmt.Errorf("%w: domain %s is not in the allowlist", ErrInvalidTask, u.Hostname())
	}

	if t.MaxItems < 0 || t.MinItems < 0 || (t.MaxItems > 0 && t.MinItems > t.MaxItems) {
		return fmt.Errorf("%w: item bounds min=%d max=%d", ErrInvalidTask, t.MinItems, t.MaxItems)
	}

	return nil
}

// Render substitutes the spec into its template
func (t TaskSpec) Render() string {
	tmpl := t.Template
	if tmpl == "" {
		tmpl = DefaultTemplate
	}

	site := t.Site
	if site == "" {
		site = t.URL
	}

	keywords := strings.Join(t.Keywords, ", ")
	if keywords == "" {
		keywords = t.Client
	}

	return strings.NewReplacer(
		"{cliente}", t.Client,
		"{periodo}", t.Period,
		"{site}", site,
		"{max_itens}", strconv.Itoa(t.MaxItems),
		"{min_noticias}", strconv.Itoa(t.MinItems),
		"{timeout}", strconv.Itoa(int(t.Timeout.Seconds())),
		"{palavras_chave}", keywords,
		"{instrucoes}", t.Instructions,
	).Replace(tmpl)
}

// DomainAllowed reports whether host equals or is a subdomain of an allowlist
// entry. An empty allowlist allows everything.
func DomainAllowed(host string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, d := range allowed {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
