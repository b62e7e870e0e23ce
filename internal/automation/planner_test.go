package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantType string
		wantErr  bool
	}{
		{name: "navigate", text: `{"thinking":"open site","action":"navigate","url":"https://example.com/"}`, wantType: ActionNavigate},
		{name: "fenced", text: "```json\n{\"thinking\":\"\",\"action\":\"SCROLL\"}\n```", wantType: ActionScroll},
		{name: "prose around object", text: `Sure. {"action":"click","selector":"a.more"} Hope it helps`, wantType: ActionClick},
		{name: "navigate without url", text: `{"action":"navigate"}`, wantErr: true},
		{name: "type without selector", text: `{"action":"type","text":"lear"}`, wantErr: true},
		{name: "unknown action", text: `{"action":"hover"}`, wantErr: true},
		{name: "not json", text: "I cannot help", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseAction(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, a.Type)
		})
	}
}

func TestAction_FinalPayload(t *testing.T) {
	obj, err := ParseAction(`{"action":"done","payload":{"itens": [ {"titulo":"a"} ]}}`)
	require.NoError(t, err)
	assert.Equal(t, `{"itens":[{"titulo":"a"}]}`, obj.FinalPayload())

	str, err := ParseAction(`{"action":"done","payload":"{\"itens\":[]}"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"itens":[]}`, str.FinalPayload())

	empty, err := ParseAction(`{"action":"done"}`)
	require.NoError(t, err)
	assert.Empty(t, empty.FinalPayload())
}

func TestBuildPlannerPrompt(t *testing.T) {
	page := &Page{URL: "https://example.com/", Title: "Home", Markdown: "content", Links: []Link{{Text: "News", Href: "https://example.com/news"}}}
	history := []Step{{Number: 1, Thinking: "start", Action: "navigate https://example.com/", Result: "ok"}}

	out := buildPlannerPrompt("collect news", page, history, []string{"note body"})
	assert.Contains(t, out, "collect news")
	assert.Contains(t, out, "Passo 1: start | navigate https://example.com/ -> ok")
	assert.Contains(t, out, "### Note 1\nnote body")
	assert.Contains(t, out, "- [News](https://example.com/news)")
	assert.Contains(t, out, "Title: Home")
}
