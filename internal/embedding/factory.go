package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/tanya/internal/config"
)

// New builds the embedder selected by cfg.Provider and wraps it in an LRU cache when
// cfg.CacheSize is positive.
func New(ctx context.Context, cfg config.EmbeddingConfig, opts ...Option) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch cfg.Provider {
	case "openai":
		e, err = NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimensions, cfg.RequestsPerSecond, opts...)
	case "gemini":
		e, err = NewGeminiEmbedder(ctx, cfg.APIKey, cfg.Model, cfg.Dimensions, cfg.RequestsPerSecond, opts...)
	case "onnx":
		e, err = NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens, opts...)
	case "hash":
		return NewHashEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (supported: openai, gemini, onnx, hash)", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(e, cfg.CacheSize), nil
	}
	return e, nil
}
