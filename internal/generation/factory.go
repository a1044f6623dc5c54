package generation

import (
	"context"
	"fmt"

	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/internal/tokens"
)

// New builds the generator selected by cfg.Provider. counter is used by the extractive
// generator to honor max tokens.
func New(ctx context.Context, cfg config.GenerationConfig, counter tokens.Counter, opts ...Option) (Generator, error) {
	var (
		g   Generator
		err error
	)
	switch cfg.Provider {
	case "openai":
		g, err = NewOpenAIGenerator(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.RequestsPerSecond, opts...)
	case "gemini":
		g, err = NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model, cfg.Temperature, cfg.RequestsPerSecond, opts...)
	case "extractive":
		return NewExtractiveGenerator(counter), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q (supported: openai, gemini, extractive)", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}
