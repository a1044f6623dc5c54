// Package vector provides the vector index adapter: an in-process index plus Qdrant and
// Postgres/pgvector backends behind one interface.
package vector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/retry"
)

// Point is one vector stored under a chunk id, with string payload used for filtering and
// for rebuilding the chunk on retrieval.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]string
}

// Filter restricts a search to points whose payload has every listed key with the listed value.
type Filter map[string]string

// Match reports whether payload satisfies every condition of f.
func (f Filter) Match(payload map[string]string) bool {
	for k, v := range f {
		if payload[k] != v {
			return false
		}
	}
	return true
}

// VectorResult is a single vector search hit. ID is the chunk id and Score the cosine
// similarity to the query.
type VectorResult struct {
	ID      string
	Score   float64
	Payload map[string]string
}

// VectorIndex stores chunk vectors and answers nearest-neighbor queries. Implementations are
// safe for concurrent use; failures wrap models.ErrVectorIndex.
type VectorIndex interface {
	// Upsert inserts or replaces points by id.
	Upsert(ctx context.Context, points []Point) error
	// Remove deletes points by id; unknown ids are ignored.
	Remove(ctx context.Context, ids []string) error
	// Search returns at most k points ordered by descending score.
	Search(ctx context.Context, query []float32, k int, filter Filter) ([]*VectorResult, error)
	// Count returns the number of stored points.
	Count(ctx context.Context) (int, error)
	// CountMatching returns the number of stored points whose payload matches filter.
	CountMatching(ctx context.Context, filter Filter) (int, error)
	Dimensions() int
	Backend() string
	Close() error
}

// Persistent is implemented by indexes that keep their state in a local snapshot file.
type Persistent interface {
	Save(path string) error
	Load(path string) error
}

// Option configures a remote index.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func checkDimensions(vec []float32, dims int, what string) error {
	if len(vec) != dims {
		return retry.Permanent(fmt.Errorf("%w: %s dimension mismatch: got %d, expected %d", models.ErrVectorIndex, what, len(vec), dims))
	}
	return nil
}

func copyPayload(p map[string]string) map[string]string {
	if p == nil {
		return nil
	}
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
