package vector

import (
	"context"
	"fmt"

	"github.com/hyperjump/tanya/internal/config"
)

// New creates the index selected by cfg.Backend. The memory backend is loaded from
// snapshot when the file exists.
func New(ctx context.Context, cfg config.VectorConfig, dimensions int, snapshot string, opts ...Option) (VectorIndex, error) {
	switch cfg.Backend {
	case "memory", "":
		idx, err := NewMemoryIndex(dimensions)
		if err != nil {
			return nil, err
		}
		if err := idx.Load(snapshot); err != nil {
			return nil, fmt.Errorf("failed to load vector index: %w", err)
		}
		return idx, nil
	case "qdrant":
		return NewQdrantIndex(ctx, cfg.URL, cfg.APIKey, cfg.Collection, dimensions, cfg.Timeout, opts...)
	case "pgvector":
		return NewPGVectorIndex(ctx, cfg.DSN, cfg.Collection, dimensions, opts...)
	default:
		return nil, fmt.Errorf("unknown vector backend: %s (supported: memory, qdrant, pgvector)", cfg.Backend)
	}
}
