package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/provider"
)

// OpenAIEmbedder calls the embeddings endpoint of an OpenAI-compatible API.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewOpenAIEmbedder returns an embedder for model producing vectors of the given dimension.
// rps throttles outgoing requests; zero disables throttling.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dimensions int, rps float64, opts ...Option) (*OpenAIEmbedder, error) {
	if apiKey == "" && baseURL == "" {
		return nil, fmt.Errorf("openai embedder: api key is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("openai embedder: dimensions must be positive")
	}
	o := applyOptions(opts)
	return &OpenAIEmbedder{
		client:     provider.NewOpenAIClient(apiKey, baseURL),
		model:      model,
		dimensions: dimensions,
		limiter:    provider.NewLimiter(rps),
		logger:     o.logger,
	}, nil
}

// Embed returns the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := provider.Wait(ctx, e.limiter); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingService, err)
	}
	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, provider.Classify(err, models.ErrEmbeddingService)
	}
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			continue
		}
		vecs[d.Index] = d.Embedding
	}
	if err := checkVectors(compact(vecs), len(texts), e.dimensions); err != nil {
		return nil, err
	}
	if e.logger != nil {
		e.logger.Debug("openai embeddings",
			zap.String("model", e.model),
			zap.Int("inputs", len(texts)),
			zap.Int("total_tokens", resp.Usage.TotalTokens),
			zap.Duration("took", time.Since(start)))
	}
	return vecs, nil
}

// compact drops nil entries so a missing index shows up as a count mismatch.
func compact(vecs [][]float32) [][]float32 {
	out := vecs[:0:0]
	for _, v := range vecs {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Name returns "openai/<model>".
func (e *OpenAIEmbedder) Name() string {
	return "openai/" + e.model
}

// Close is a no-op; the HTTP client holds no resources that need releasing.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
