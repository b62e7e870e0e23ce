package domain

// ClippingItem is one collected article
type ClippingItem struct {
	Title          string   `json:"titulo"`
	URL            string   `json:"url"`
	PublishedDate  string   `json:"data_publicacao,omitempty"`
	Author         string   `json:"autor,omitempty"`
	Section        string   `json:"secao,omitempty"`
	Summary        string   `json:"resumo,omitempty"`
	MatchedTerms   []string `json:"termos_encontrados,omitempty"`
	RelevanceScore float64  `json:"relevancia,omitempty"`
	MentionsClient bool     `json:"menciona_cliente"`
}

// Artifact is one published representation of a job's results
type Artifact struct {
	Format    string `json:"format"`
	URI       string `json:"uri"`
	SizeBytes int64  `json:"size_bytes"`
	Backend   string `json:"storage_backend"`
}

// Usage records tokens and derived cost of one language model call
type Usage struct {
	Component    string  `json:"component"`
	Model        string  `json:"model"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Add accumulates other into u, keeping u's component and model
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.CostUSD += other.CostUSD
}
