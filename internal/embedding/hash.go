package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/hyperjump/tanya/pkg/utils"
)

// HashEmbedder is a deterministic, offline embedder based on feature hashing. Each word and
// its first five letters are hashed into a bucket, so texts sharing vocabulary (including
// inflections such as "diabetes" and "diabetic") get a positive cosine similarity.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a hashing embedder of the given dimension (default 256).
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed returns the L2-normalized feature-hash vector of text.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, e.dimensions)
	for _, f := range Features(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(f))
		vec[h.Sum32()%uint32(e.dimensions)]++
	}
	utils.NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch calls Embed for each text.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// Name returns "hash".
func (e *HashEmbedder) Name() string {
	return "hash"
}

// Close is a no-op.
func (e *HashEmbedder) Close() error {
	return nil
}

// Features returns the lower-cased words of text with at least three letters, each followed
// by its five-letter prefix when the word is longer than that.
func Features(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(words)*2)
	for _, w := range words {
		runes := []rune(w)
		if len(runes) < 3 {
			continue
		}
		out = append(out, w)
		if len(runes) > 5 {
			out = append(out, "~"+string(runes[:5]))
		}
	}
	return out
}
