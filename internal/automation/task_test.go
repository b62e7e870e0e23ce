package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDomainAllowed(t *testing.T) {
	allowed := []string{"automotivebusiness.com.br"}

	tests := []struct {
		host    string
		allowed []string
		want    bool
	}{
		{host: "automotivebusiness.com.br", allowed: allowed, want: true},
		{host: "www.automotivebusiness.com.br", allowed: allowed, want: true},
		{host: "evilautomotivebusiness.com.br", allowed: allowed, want: false},
		{host: "example.com", allowed: allowed, want: false},
		{host: "example.com", allowed: nil, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, DomainAllowed(tt.host, tt.allowed))
		})
	}
}

func TestTaskSpec_Render(t *testing.T) {
	spec := TaskSpec{
		URL:          "https://www.automotivebusiness.com.br/",
		Client:       "LEAR",
		Period:       "últimos 30 dias",
		MaxItems:     15,
		MinItems:     3,
		Keywords:     []string{"Lear", "bancos automotivos"},
		Timeout:      time.Hour,
		Instructions: "Priorize notícias de fornecedores.",
	}

	out := spec.Render()
	assert.Contains(t, out, "cliente LEAR")
	assert.Contains(t, out, "https://www.automotivebusiness.com.br/")
	assert.Contains(t, out, "últimos 30 dias")
	assert.Contains(t, out, "Lear, bancos automotivos")
	assert.Contains(t, out, "3600 segundos")
	assert.Contains(t, out, "Priorize notícias de fornecedores.")
	assert.NotContains(t, out, "{cliente}")
}
