package models

// Enrichment holds the derived fields returned by the AI enrichment service
// for a note's content. The whole struct is replaced on each pass.
type Enrichment struct {
	Summary     string    `json:"summary,omitempty"`
	Bullets     []string  `json:"bullets,omitempty"`
	ActionItems []string  `json:"action_items,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

// IsZero reports whether no enrichment has been applied yet.
func (e Enrichment) IsZero() bool {
	return e.Summary == "" && len(e.Bullets) == 0 && len(e.ActionItems) == 0 &&
		len(e.Tags) == 0 && len(e.Embedding) == 0
}
