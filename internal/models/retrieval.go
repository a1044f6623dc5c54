package models

// Candidate is a retrieved chunk with its similarity to the query.
type Candidate struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// RetrievalResult is the ranked, deduplicated candidate list for one query.
// An empty list means no grounding was found.
type RetrievalResult struct {
	Query      string      `json:"query"`
	Candidates []Candidate `json:"candidates"`
}

// Grounded reports whether any candidate cleared the similarity threshold.
func (r *RetrievalResult) Grounded() bool {
	return r != nil && len(r.Candidates) > 0
}

// TopScore returns the best candidate score, or 0 when nothing was found.
func (r *RetrievalResult) TopScore() float64 {
	if !r.Grounded() {
		return 0
	}
	return r.Candidates[0].Score
}

// Passage is a candidate as it was placed into the prompt.
type Passage struct {
	Candidate Candidate `json:"candidate"`
	Text      string    `json:"text"`
	Tokens    int       `json:"tokens"`
	Truncated bool      `json:"truncated"`
}

// PromptContext is the token-bounded input handed to the generation capability.
type PromptContext struct {
	System     string    `json:"system"`
	Passages   []Passage `json:"passages"`
	History    []Turn    `json:"history"`
	Question   string    `json:"question,omitempty"`
	TokensUsed int       `json:"tokens_used"`
	Budget     int       `json:"budget"`
}

// ChunkIDs returns the ids of the passages that made it into the prompt.
func (p *PromptContext) ChunkIDs() []string {
	ids := make([]string, 0, len(p.Passages))
	for _, ps := range p.Passages {
		ids = append(ids, ps.Candidate.Chunk.ID)
	}
	return ids
}
