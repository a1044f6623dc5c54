// Package retrieval finds the chunks most relevant to a query.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hyperjump/tanya/internal/embedding"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/retry"
	"github.com/hyperjump/tanya/internal/vector"
	"go.uber.org/zap"
)

const (
	defaultOverFetch = 4
	minOverFetch     = 3
	maxOverFetch     = 5
)

// Engine embeds a query, over-fetches from the vector index and reduces the hits to a
// thresholded, deduplicated, ranked candidate list.
type Engine struct {
	embedder      embedding.Embedder
	index         vector.VectorIndex
	overFetch     int
	minSimilarity float64
	embedRetry    retry.Policy
	vectorRetry   retry.Policy
	logger        *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithOverFetch sets how many index hits are requested per wanted result, clamped to 3..5.
func WithOverFetch(n int) Option {
	return func(e *Engine) { e.overFetch = clampOverFetch(n) }
}

// WithMinSimilarity drops candidates scoring below s.
func WithMinSimilarity(s float64) Option {
	return func(e *Engine) { e.minSimilarity = s }
}

// WithRetry sets the retry policies for the query embedding and the index search.
func WithRetry(embed, vector retry.Policy) Option {
	return func(e *Engine) {
		e.embedRetry = embed
		e.vectorRetry = vector
	}
}

func clampOverFetch(n int) int {
	switch {
	case n <= 0:
		return defaultOverFetch
	case n < minOverFetch:
		return minOverFetch
	case n > maxOverFetch:
		return maxOverFetch
	}
	return n
}

// NewEngine creates a retrieval engine.
func NewEngine(embedder embedding.Embedder, index vector.VectorIndex, opts ...Option) *Engine {
	e := &Engine{
		embedder:    embedder,
		index:       index,
		overFetch:   defaultOverFetch,
		embedRetry:  retry.Policy{MaxAttempts: 1},
		vectorRetry: retry.Policy{MaxAttempts: 1},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve returns at most k candidates for query, best first. An empty candidate list
// means nothing cleared the similarity threshold; it is not an error.
func (e *Engine) Retrieve(ctx context.Context, query string, k int, filter vector.Filter) (*models.RetrievalResult, error) {
	result := &models.RetrievalResult{Query: query, Candidates: []models.Candidate{}}
	if k <= 0 || strings.TrimSpace(query) == "" {
		return result, nil
	}

	var qvec []float32
	err := retry.Do(ctx, e.embedRetry, func(ctx context.Context) error {
		var err error
		qvec, err = e.embedder.Embed(ctx, query)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingUnavailable, err)
	}

	m := k * e.overFetch
	var hits []*vector.VectorResult
	err = retry.Do(ctx, e.vectorRetry, func(ctx context.Context) error {
		var err error
		hits, err = e.index.Search(ctx, qvec, m, filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrVectorIndexUnavailable, err)
	}

	result.Candidates = e.rank(hits, k, filter)
	if e.logger != nil {
		e.logger.Debug("retrieval done",
			zap.Int("k", k),
			zap.Int("fetched", len(hits)),
			zap.Int("kept", len(result.Candidates)),
			zap.Float64("top_score", result.TopScore()))
	}
	return result, nil
}

// rank applies the threshold and the filter, orders the survivors and drops every
// candidate whose span overlaps a better one from the same document.
func (e *Engine) rank(hits []*vector.VectorResult, k int, filter vector.Filter) []models.Candidate {
	cands := make([]models.Candidate, 0, len(hits))
	for _, h := range hits {
		if h == nil || h.Score < e.minSimilarity || !filter.Match(h.Payload) {
			continue
		}
		cands = append(cands, models.Candidate{Chunk: models.ChunkFromPayload(h.ID, h.Payload), Score: h.Score})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.Offset != b.Chunk.Offset {
			return a.Chunk.Offset < b.Chunk.Offset
		}
		if a.Chunk.DocumentID != b.Chunk.DocumentID {
			return a.Chunk.DocumentID < b.Chunk.DocumentID
		}
		return a.Chunk.ID < b.Chunk.ID
	})

	out := make([]models.Candidate, 0, k)
	for _, c := range cands {
		if len(out) == k {
			break
		}
		if overlapsKept(out, &c.Chunk) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func overlapsKept(kept []models.Candidate, c *models.Chunk) bool {
	for i := range kept {
		if kept[i].Chunk.ID == c.ID || kept[i].Chunk.Overlaps(c) {
			return true
		}
	}
	return false
}
