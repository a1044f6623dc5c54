package embedding

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/provider"
)

// GeminiEmbedder calls the Gemini batch embedding API.
type GeminiEmbedder struct {
	client     *genai.Client
	model      *genai.EmbeddingModel
	name       string
	dimensions int
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewGeminiEmbedder returns an embedder for model (e.g. text-embedding-004).
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dimensions int, rps float64, opts ...Option) (*GeminiEmbedder, error) {
	client, err := provider.NewGeminiClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	return &GeminiEmbedder{
		client:     client,
		model:      client.EmbeddingModel(model),
		name:       model,
		dimensions: dimensions,
		limiter:    provider.NewLimiter(rps),
		logger:     o.logger,
	}, nil
}

// Embed returns the embedding for a single text.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one BatchEmbedContents call.
func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := provider.Wait(ctx, e.limiter); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingService, err)
	}
	batch := e.model.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	res, err := e.model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, provider.Classify(err, models.ErrEmbeddingService)
	}
	vecs := make([][]float32, 0, len(res.Embeddings))
	for _, emb := range res.Embeddings {
		vecs = append(vecs, emb.Values)
	}
	if err := checkVectors(vecs, len(texts), e.dimensions); err != nil {
		return nil, err
	}
	if e.logger != nil {
		e.logger.Debug("gemini embeddings", zap.String("model", e.name), zap.Int("inputs", len(texts)))
	}
	return vecs, nil
}

// Dimensions returns the embedding dimension.
func (e *GeminiEmbedder) Dimensions() int {
	return e.dimensions
}

// Name returns "gemini/<model>".
func (e *GeminiEmbedder) Name() string {
	return "gemini/" + e.name
}

// Close releases the Gemini client.
func (e *GeminiEmbedder) Close() error {
	return e.client.Close()
}
