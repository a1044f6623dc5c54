// Package ingest turns documents into embedded, indexed chunks.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/tanya/internal/embedding"
	"github.com/hyperjump/tanya/internal/extract"
	"github.com/hyperjump/tanya/internal/fileid"
	"github.com/hyperjump/tanya/internal/keylock"
	"github.com/hyperjump/tanya/internal/keyword"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/retry"
	"github.com/hyperjump/tanya/internal/storage"
	"github.com/hyperjump/tanya/internal/vector"
	"go.uber.org/zap"
)

const (
	defaultEmbedBatch  = 50
	defaultUpsertBatch = 100

	metaKeySourcePath  = "source_path"
	metaKeySourceMtime = "source_mtime"
	metaKeySourceSize  = "source_size"
)

// Pipeline ingests documents into the registry, the vector index and the keyword index.
// Ingestion of one document id is serialized; different ids run concurrently.
type Pipeline struct {
	store       storage.Storage
	embedder    embedding.Embedder
	index       vector.VectorIndex
	keywords    keyword.KeywordIndex
	extractor   *extract.Extractor
	chunker     *Chunker
	locks       *keylock.Locker
	embedBatch  int
	upsertBatch int
	embedRetry  retry.Policy
	vectorRetry retry.Policy
	logger      *zap.Logger
	now         func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a logger for debug output (document ingested, batch failed, etc.).
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithKeywordIndex mirrors ingested chunks into a keyword index.
func WithKeywordIndex(k keyword.KeywordIndex) Option {
	return func(p *Pipeline) { p.keywords = k }
}

// WithExtractor sets the text extractor for raw uploads and files.
func WithExtractor(e *extract.Extractor) Option {
	return func(p *Pipeline) { p.extractor = e }
}

// WithBatchSizes sets how many chunks go into one embedding call and one upsert.
func WithBatchSizes(embed, upsert int) Option {
	return func(p *Pipeline) {
		if embed > 0 {
			p.embedBatch = embed
		}
		if upsert > 0 {
			p.upsertBatch = upsert
		}
	}
}

// WithRetry sets the retry policies for embedding calls and vector index writes.
func WithRetry(embed, vector retry.Policy) Option {
	return func(p *Pipeline) {
		p.embedRetry = embed
		p.vectorRetry = vector
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a pipeline with the given dependencies.
func NewPipeline(store storage.Storage, embedder embedding.Embedder, index vector.VectorIndex, chunker *Chunker, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       store,
		embedder:    embedder,
		index:       index,
		chunker:     chunker,
		extractor:   extract.NewExtractor(),
		locks:       keylock.New(),
		embedBatch:  defaultEmbedBatch,
		upsertBatch: defaultUpsertBatch,
		embedRetry:  retry.Policy{MaxAttempts: 1},
		vectorRetry: retry.Policy{MaxAttempts: 1},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest extracts, chunks, embeds and indexes one document. Re-ingesting an id replaces
// its previous chunks; re-ingesting unchanged content is a no-op.
func (p *Pipeline) Ingest(ctx context.Context, in *models.DocumentInput) (*models.IngestResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	text, pages := in.Content, []models.PageMarker(nil)
	if len(in.Raw) > 0 {
		res, err := p.extractor.ExtractBytes(in.Raw, filepath.Ext(in.Filename))
		if err != nil {
			return nil, fmt.Errorf("failed to extract %s: %w", in.Filename, err)
		}
		text, pages = res.Text, res.Pages
	}
	doc := &models.Document{
		ID:       in.ID,
		Title:    in.Title,
		Source:   in.Source,
		Metadata: copyMetadata(in.Metadata),
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	return p.ingest(ctx, doc, text, pages)
}

// IngestFile reads a file and ingests it under an id derived from its absolute path.
// A file whose size and modification time match the registry is skipped without
// extraction.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*models.IngestResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	if !extract.Supported(filepath.Ext(absPath)) {
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedFormat, filepath.Ext(absPath))
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	docID := fileid.ForPath(absPath)
	if prior, err := p.store.GetDocument(ctx, docID); err == nil && fileUnchanged(prior, absPath, info) && p.vectorsPresent(ctx, prior) {
		if p.logger != nil {
			p.logger.Debug("ingest skipping unchanged file", zap.String("path", absPath))
		}
		return &models.IngestResult{DocumentID: docID, Status: models.StatusUnchanged, Chunks: prior.ChunkCount}, nil
	}
	res, err := p.extractor.Extract(absPath)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}
	doc := &models.Document{
		ID:     docID,
		Title:  filepath.Base(absPath),
		Source: absPath,
		Metadata: map[string]string{
			metaKeySourcePath:  absPath,
			metaKeySourceMtime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
			metaKeySourceSize:  strconv.FormatInt(info.Size(), 10),
		},
	}
	return p.ingest(ctx, doc, res.Text, res.Pages)
}

// fileUnchanged reports whether prior was fully indexed from the same path, size and mtime.
func fileUnchanged(prior *models.Document, absPath string, info os.FileInfo) bool {
	if prior.Status != models.StatusIndexed || prior.Metadata == nil {
		return false
	}
	return prior.Metadata[metaKeySourcePath] == absPath &&
		prior.Metadata[metaKeySourceMtime] == strconv.FormatInt(info.ModTime().UnixNano(), 10) &&
		prior.Metadata[metaKeySourceSize] == strconv.FormatInt(info.Size(), 10)
}

// vectorsPresent reports whether the vector index still holds every chunk the registry
// recorded for prior. A snapshot older than the registry fails this check.
func (p *Pipeline) vectorsPresent(ctx context.Context, prior *models.Document) bool {
	n, err := p.index.CountMatching(ctx, vector.Filter{models.PayloadDocumentID: prior.ID})
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("ingest could not verify indexed vectors", zap.String("id", prior.ID), zap.Error(err))
		}
		return false
	}
	if n != prior.ChunkCount {
		if p.logger != nil {
			p.logger.Info("ingest reindexing document missing from vector index",
				zap.String("id", prior.ID), zap.Int("registered", prior.ChunkCount), zap.Int("indexed", n))
		}
		return false
	}
	return true
}

func (p *Pipeline) ingest(ctx context.Context, doc *models.Document, text string, pages []models.PageMarker) (*models.IngestResult, error) {
	text, pages = Preprocess(text, pages)
	if text == "" {
		return nil, fmt.Errorf("%w: %s", models.ErrEmptyDocument, doc.ID)
	}
	doc.Content = text
	doc.Pages = pages
	doc.ContentHash = contentHash(doc)

	unlock, err := p.locks.Lock(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	result := &models.IngestResult{DocumentID: doc.ID}
	prior, err := p.store.GetDocument(ctx, doc.ID)
	switch {
	case err == nil:
		if prior.ContentHash == doc.ContentHash && prior.Status == models.StatusIndexed && p.vectorsPresent(ctx, prior) {
			result.Status = models.StatusUnchanged
			result.Chunks = prior.ChunkCount
			return result, nil
		}
	case !errors.Is(err, models.ErrDocumentNotFound):
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	replaced, err := p.removeChunks(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	result.Replaced = replaced

	chunks := p.buildChunks(doc)
	result.Chunks = len(chunks)

	doc.Status = models.StatusPartial
	doc.ChunkCount = 0
	if err := p.store.UpsertDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	failErr := p.indexChunks(ctx, doc, chunks, result)

	doc.ChunkCount = len(result.Succeeded)
	doc.Status = models.StatusIndexed
	if failErr != nil {
		doc.Status = models.StatusPartial
	}
	if err := p.store.UpsertDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	switch {
	case failErr == nil:
		result.Status = models.StatusIndexed
	case len(result.Succeeded) == 0:
		result.Status = models.StatusFailed
		result.Error = failErr.Error()
		return result, failErr
	default:
		result.Status = models.StatusPartial
		result.Error = failErr.Error()
	}
	if p.logger != nil {
		p.logger.Debug("ingest document done",
			zap.String("id", doc.ID),
			zap.String("status", result.Status),
			zap.Int("chunks", len(chunks)),
			zap.Int("failed", len(result.Failed)))
	}
	return result, nil
}

// indexChunks embeds and upserts chunks batch by batch, recording progress in result.
// The first exhausted or permanent failure stops the remaining batches.
func (p *Pipeline) indexChunks(ctx context.Context, doc *models.Document, chunks []*models.Chunk, result *models.IngestResult) error {
	for start := 0; start < len(chunks); start += p.embedBatch {
		batch := chunks[start:min(start+p.embedBatch, len(chunks))]
		if err := p.embedChunks(ctx, batch); err != nil {
			markFailed(result, chunks[start:])
			return err
		}
		for up := 0; up < len(batch); up += p.upsertBatch {
			sub := batch[up:min(up+p.upsertBatch, len(batch))]
			if err := p.upsertChunks(ctx, doc, sub); err != nil {
				markFailed(result, chunks[start+up:])
				return err
			}
			for _, c := range sub {
				result.Succeeded = append(result.Succeeded, c.ID)
			}
		}
	}
	return nil
}

func (p *Pipeline) embedChunks(ctx context.Context, batch []*models.Chunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}
	var vectors [][]float32
	err := retry.Do(ctx, p.embedRetry, func(ctx context.Context) error {
		var err error
		vectors, err = p.embedder.EmbedBatch(ctx, texts)
		return err
	})
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("ingest embedding batch failed", zap.Int("size", len(batch)), zap.Error(err))
		}
		return fmt.Errorf("%w: %w", models.ErrEmbeddingUnavailable, err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("%w: %w: got %d vectors for %d chunks", models.ErrEmbeddingUnavailable, models.ErrEmbeddingService, len(vectors), len(batch))
	}
	dims := p.index.Dimensions()
	for i, v := range vectors {
		if len(v) != dims {
			return fmt.Errorf("%w: %w: vector dimension %d, index expects %d", models.ErrEmbeddingUnavailable, models.ErrEmbeddingService, len(v), dims)
		}
		batch[i].Embedding = v
	}
	return nil
}

// upsertChunks writes one batch to the vector index and, once that succeeded, to the
// registry and the keyword index.
func (p *Pipeline) upsertChunks(ctx context.Context, doc *models.Document, sub []*models.Chunk) error {
	points := make([]vector.Point, len(sub))
	for i, c := range sub {
		points[i] = vector.Point{ID: c.ID, Vector: c.Embedding, Payload: c.Payload()}
	}
	err := retry.Do(ctx, p.vectorRetry, func(ctx context.Context) error {
		return p.index.Upsert(ctx, points)
	})
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("ingest upsert failed", zap.Int("size", len(sub)), zap.Error(err))
		}
		return fmt.Errorf("%w: %w", models.ErrVectorIndexUnavailable, err)
	}
	if err := p.store.BatchCreateChunks(ctx, sub); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	if p.keywords != nil {
		if err := p.keywords.IndexChunks(ctx, doc.Title, sub); err != nil && p.logger != nil {
			p.logger.Warn("ingest keyword indexing failed", zap.String("id", doc.ID), zap.Error(err))
		}
	}
	return nil
}

func markFailed(result *models.IngestResult, rest []*models.Chunk) {
	for _, c := range rest {
		result.Failed = append(result.Failed, c.ID)
	}
}

func (p *Pipeline) buildChunks(doc *models.Document) []*models.Chunk {
	spans := p.chunker.Split(doc.Content, doc.Pages)
	now := p.now()
	chunks := make([]*models.Chunk, len(spans))
	for i, sp := range spans {
		meta := copyMetadata(doc.Metadata)
		meta[models.PayloadTitle] = doc.Title
		meta[models.PayloadSource] = doc.Source
		if sp.Page > 0 {
			meta[models.PayloadPage] = strconv.Itoa(sp.Page)
		}
		chunks[i] = &models.Chunk{
			ID:         models.ChunkID(doc.ID, sp.Offset),
			DocumentID: doc.ID,
			Ordinal:    i,
			Offset:     sp.Offset,
			Length:     sp.Length,
			Text:       sp.Text,
			TokenCount: sp.Tokens,
			Page:       sp.Page,
			Metadata:   meta,
			CreatedAt:  now,
		}
	}
	return chunks
}

// removeChunks deletes every chunk the registry holds for id from the vector index, the
// keyword index and the registry. It returns how many were removed.
func (p *Pipeline) removeChunks(ctx context.Context, id string) (int, error) {
	prior, err := p.store.GetChunksByDocumentID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to get chunks: %w", err)
	}
	if len(prior) == 0 {
		return 0, nil
	}
	ids := make([]string, len(prior))
	for i, c := range prior {
		ids[i] = c.ID
	}
	err = retry.Do(ctx, p.vectorRetry, func(ctx context.Context) error {
		return p.index.Remove(ctx, ids)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: failed to delete from vector index: %w", models.ErrVectorIndexUnavailable, err)
	}
	if p.keywords != nil {
		if err := p.keywords.Delete(ctx, ids); err != nil {
			return 0, fmt.Errorf("failed to delete from keyword index: %w", err)
		}
	}
	if err := p.store.DeleteChunksByDocumentID(ctx, id); err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return len(ids), nil
}

// DeleteDocument removes a document from all indices and the registry.
func (p *Pipeline) DeleteDocument(ctx context.Context, id string) error {
	unlock, err := p.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := p.store.GetDocument(ctx, id); err != nil {
		return err
	}
	if _, err := p.removeChunks(ctx, id); err != nil {
		return err
	}
	if err := p.store.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if p.logger != nil {
		p.logger.Debug("ingest document deleted", zap.String("id", id))
	}
	return nil
}

// DeleteFile removes the document ingested from path, if any.
func (p *Pipeline) DeleteFile(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	err = p.DeleteDocument(ctx, fileid.ForPath(absPath))
	if errors.Is(err, models.ErrDocumentNotFound) {
		return nil
	}
	return err
}

// IngestDirectory walks dir and ingests each regular file whose extension is in
// allowedExts (any supported extension when empty). It returns the number of files
// ingested or found unchanged and the errors of the files that failed.
func (p *Pipeline) IngestDirectory(ctx context.Context, dir string, allowedExts []string) (int, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	n := 0
	var errs []error
	walkErr := filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if !extract.Supported(ext) || (len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts)) {
			return nil
		}
		if _, err := p.IngestFile(ctx, path); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			return nil
		}
		n++
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}
	return n, errors.Join(errs...)
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// Stats summarizes what has been ingested.
type Stats struct {
	Documents     int64  `json:"documents"`
	Chunks        int64  `json:"chunks"`
	Vectors       int    `json:"vectors"`
	KeywordChunks uint64 `json:"keyword_chunks"`
}

// Stats counts documents and chunks in the registry and the indices.
func (p *Pipeline) Stats(ctx context.Context) (*Stats, error) {
	docs, err := p.store.CountDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	chunks, err := p.store.CountChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	vectors, err := p.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrVectorIndexUnavailable, err)
	}
	st := &Stats{Documents: docs, Chunks: chunks, Vectors: vectors}
	if p.keywords != nil {
		if n, err := p.keywords.DocCount(); err == nil {
			st.KeywordChunks = n
		}
	}
	return st, nil
}

func contentHash(doc *models.Document) string {
	h := sha256.New()
	h.Write([]byte(doc.Title))
	h.Write([]byte{0})
	h.Write([]byte(doc.Source))
	h.Write([]byte{0})
	h.Write([]byte(doc.Content))
	return hex.EncodeToString(h.Sum(nil))
}

func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+3)
	for k, v := range m {
		out[k] = v
	}
	return out
}
