// Package embedding turns text into fixed-dimension vectors through OpenAI, Gemini, a
// local ONNX model or a deterministic hashing embedder, with an optional LRU cache.
package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/retry"
)

// Embedder produces vector embeddings for text. EmbedBatch returns one vector per input,
// in input order. Failures wrap models.ErrEmbeddingService.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
	Close() error
}

// Option configures an embedder.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	tokenizer Tokenizer
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithTokenizer overrides the tokenizer a local model would otherwise pick from the
// files next to it.
func WithTokenizer(t Tokenizer) Option {
	return func(o *options) {
		o.tokenizer = t
	}
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// checkVectors verifies the provider returned one vector of the declared dimension per input.
// A mismatch will not fix itself on retry.
func checkVectors(vectors [][]float32, want, dims int) error {
	if len(vectors) != want {
		return retry.Permanent(fmt.Errorf("%w: got %d embeddings for %d inputs", models.ErrEmbeddingService, len(vectors), want))
	}
	for i, v := range vectors {
		if len(v) != dims {
			return retry.Permanent(fmt.Errorf("%w: embedding %d has dimension %d, want %d", models.ErrEmbeddingService, i, len(v), dims))
		}
	}
	return nil
}
