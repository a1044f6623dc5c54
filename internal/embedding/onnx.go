//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/retry"
	"github.com/hyperjump/tanya/pkg/utils"
)

// Feed names of a BERT-style encoder. Only the ones the model declares are bound.
const (
	feedInputIDs      = "input_ids"
	feedAttentionMask = "attention_mask"
	feedTokenTypeIDs  = "token_type_ids"
)

// ONNXEmbedder runs a sentence-embedding model in-process through ONNX Runtime (CGO and
// the onnxruntime shared library). The model's declared inputs and first output decide
// what gets bound; a per-token output is mean-pooled over the attention mask.
type ONNXEmbedder struct {
	model     string
	dims      int
	seqLen    int
	tokenizer Tokenizer
	logger    *zap.Logger

	mu      sync.Mutex
	session *ort.AdvancedSession
	feeds   map[string]*ort.Tensor[int64]
	output  *ort.Tensor[float32]
	pooled  bool
}

// NewONNXEmbedder loads modelPath. The tokenizer comes from WithTokenizer, or from a
// vocab.txt next to the model.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int, opts ...Option) (*ONNXEmbedder, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("onnx embedder: model_path is required")
	}
	if dimensions <= 0 || maxTokens <= 0 {
		return nil, fmt.Errorf("onnx embedder: dimensions and max_tokens must be positive")
	}
	o := applyOptions(opts)
	tok, err := o.tokenizerFor(modelPath)
	if err != nil {
		return nil, err
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize onnx runtime: %w", err)
		}
	}
	ins, outs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read onnx model %s: %w", modelPath, err)
	}

	e := &ONNXEmbedder{
		model:     modelPath,
		dims:      dimensions,
		seqLen:    maxTokens,
		tokenizer: tok,
		logger:    o.logger,
		feeds:     make(map[string]*ort.Tensor[int64], 3),
	}
	if err := e.bind(ins, outs); err != nil {
		_ = e.Close()
		return nil, err
	}
	if e.logger != nil {
		e.logger.Info("onnx embedder loaded",
			zap.String("model", modelPath),
			zap.Int("dimensions", dimensions),
			zap.Int("max_tokens", maxTokens),
			zap.Bool("mean_pooling", e.pooled),
			zap.String("tokenizer", fmt.Sprintf("%T", tok)))
	}
	return e, nil
}

func (e *ONNXEmbedder) bind(ins, outs []ort.InputOutputInfo) error {
	declared := make(map[string]bool, len(ins))
	for _, in := range ins {
		declared[in.Name] = true
	}
	if !declared[feedInputIDs] {
		return fmt.Errorf("onnx model %s has no %s input", e.model, feedInputIDs)
	}
	var (
		names  []string
		inputs []ort.ArbitraryTensor
	)
	for _, name := range []string{feedInputIDs, feedAttentionMask, feedTokenTypeIDs} {
		if !declared[name] {
			continue
		}
		t, err := ort.NewEmptyTensor[int64](ort.NewShape(1, int64(e.seqLen)))
		if err != nil {
			return fmt.Errorf("failed to allocate %s tensor: %w", name, err)
		}
		e.feeds[name] = t
		names = append(names, name)
		inputs = append(inputs, t)
	}

	if len(outs) == 0 {
		return fmt.Errorf("onnx model %s declares no outputs", e.model)
	}
	out := outs[0]
	shape := ort.NewShape(1, int64(e.dims))
	if len(out.Dimensions) == 3 {
		e.pooled = true
		shape = ort.NewShape(1, int64(e.seqLen), int64(e.dims))
	}
	if n := len(out.Dimensions); n > 0 && out.Dimensions[n-1] > 0 && int(out.Dimensions[n-1]) != e.dims {
		return fmt.Errorf("onnx model %s produces dimension %d, configured %d", e.model, out.Dimensions[n-1], e.dims)
	}
	output, err := ort.NewEmptyTensor[float32](shape)
	if err != nil {
		return fmt.Errorf("failed to allocate output tensor: %w", err)
	}
	e.output = output

	session, err := ort.NewAdvancedSession(e.model, names, []string{out.Name}, inputs, []ort.ArbitraryTensor{output}, nil)
	if err != nil {
		return fmt.Errorf("failed to create onnx session: %w", err)
	}
	e.session = session
	return nil
}

// run embeds one text. The caller holds e.mu.
func (e *ONNXEmbedder) run(text string) ([]float32, error) {
	ids, mask, types := e.tokenizer.Tokenize(text, e.seqLen)
	for name, src := range map[string][]int64{
		feedInputIDs:      ids,
		feedAttentionMask: mask,
		feedTokenTypeIDs:  types,
	} {
		if t, ok := e.feeds[name]; ok {
			copy(t.GetData(), src)
		}
	}
	if err := e.session.Run(); err != nil {
		return nil, retry.Permanent(fmt.Errorf("%w: onnx inference failed: %w", models.ErrEmbeddingService, err))
	}
	var vec []float32
	if e.pooled {
		vec = meanPool(e.output.GetData(), mask, e.dims)
	} else {
		vec = make([]float32, e.dims)
		copy(vec, e.output.GetData())
	}
	utils.NormalizeL2(vec)
	return vec, nil
}

// Embed returns the normalized embedding for text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch runs the texts one at a time under a single lock, stopping early when ctx ends.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, retry.Permanent(fmt.Errorf("%w: onnx embedder is closed", models.ErrEmbeddingService))
	}
	start := time.Now()
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingService, err)
		}
		vec, err := e.run(text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	if e.logger != nil {
		e.logger.Debug("onnx embed", zap.Int("texts", len(texts)), zap.Duration("took", time.Since(start)))
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dims
}

// Name returns "onnx".
func (e *ONNXEmbedder) Name() string {
	return "onnx"
}

// Close releases the session and its tensors. It is safe to call more than once.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	for name, t := range e.feeds {
		_ = t.Destroy()
		delete(e.feeds, name)
	}
	if e.output != nil {
		_ = e.output.Destroy()
		e.output = nil
	}
	return err
}
