// Package keyword provides exact-term lookup over ingested passages.
package keyword

import (
	"context"

	"github.com/hyperjump/tanya/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// DocumentID restricts hits to the chunks of one document.
	DocumentID string
	// TitleBoost multiplies the score contribution from matches in the document title.
	// Values <= 1 disable title matching.
	TitleBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum edit distance for fuzzy matching (1 or 2, default 1).
	Fuzziness int
}

// KeywordIndex indexes chunk text for keyword search.
type KeywordIndex interface {
	// IndexChunks adds or replaces chunks, all belonging to the document titled title.
	IndexChunks(ctx context.Context, title string, chunks []*models.Chunk) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	// Delete removes chunks by id. Unknown ids are ignored.
	Delete(ctx context.Context, ids []string) error
	Close() error
	// DocCount returns the number of indexed chunks.
	DocCount() (uint64, error)
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ID         string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title,omitempty"`
	Page       int     `json:"page,omitempty"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}
