package models

// Citation points at a chunk that grounded an answer.
type Citation struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title,omitempty"`
	Source     string  `json:"source,omitempty"`
	Page       int     `json:"page,omitempty"`
	Score      float64 `json:"score"`
}

// AnsweredTurn is the orchestrator's reply to one user message.
type AnsweredTurn struct {
	SessionID string     `json:"session_id"`
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	Grounded  bool       `json:"grounded"`
	// Confidence is the top retrieval score capped at 1 and rounded to two decimals.
	Confidence float64 `json:"confidence"`
	// SessionRenewed is set when the previous session had expired and a fresh one was started.
	SessionRenewed bool `json:"session_renewed"`
	Turn           Turn `json:"-"`
}
