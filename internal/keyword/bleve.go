package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/tanya/internal/models"
	"go.uber.org/zap"
)

const defaultFuzziness = 1

// passageDoc is the shape stored in Bleve; field names follow the json tags.
type passageDoc struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Page       float64 `json:"page"`
}

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index  bleve.Index
	logger *zap.Logger
}

// Option configures a BleveIndex.
type Option func(*BleveIndex)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *BleveIndex) {
		b.logger = l
	}
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so drug and condition names
	// match exactly.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	docMapping.AddFieldMappingsAt("document_id", bleve.NewKeywordFieldMapping())
	docMapping.AddFieldMappingsAt("page", bleve.NewNumericFieldMapping())
	im.AddDocumentMapping("passage", docMapping)
	im.DefaultType = "passage"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path keeps the index
// in memory. If the mapping changes, remove the index directory to force a rebuild.
func NewBleveIndex(path string, opts ...Option) (*BleveIndex, error) {
	b := &BleveIndex{}
	for _, opt := range opts {
		opt(b)
	}

	if path == "" {
		index, err := bleve.NewMemOnly(newMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create Bleve index: %w", err)
		}
		b.index = index
		return b, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		b.index = index
		return b, nil
	}

	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	b.index = index
	return b, nil
}

// IndexChunks indexes chunks in one batch.
func (b *BleveIndex) IndexChunks(ctx context.Context, title string, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := b.index.NewBatch()
	for _, c := range chunks {
		doc := passageDoc{
			DocumentID: c.DocumentID,
			Title:      title,
			Content:    c.Text,
			Page:       float64(c.Page),
		}
		if err := batch.Index(c.ID, doc); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", c.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to write keyword batch: %w", err)
	}
	if b.logger != nil {
		b.logger.Debug("keyword chunks indexed", zap.Int("count", len(chunks)))
	}
	return nil
}

// Search runs a match query over chunk text (and title when boosted) and returns up to
// limit results, best first.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return []*KeywordResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &SearchOptions{}
	}
	fuzziness := opts.Fuzziness
	if fuzziness <= 0 {
		fuzziness = defaultFuzziness
	}

	var q blevequery.Query
	if opts.FuzzyEnabled {
		q = buildFuzzyQuery(query, fuzziness, "content")
	} else {
		cq := bleve.NewMatchQuery(query)
		cq.SetField("content")
		q = cq
	}
	if opts.TitleBoost > 1 {
		tq := bleve.NewMatchQuery(query)
		tq.SetField("title")
		tq.SetBoost(opts.TitleBoost)
		q = bleve.NewDisjunctionQuery(q, tq)
	}
	if opts.DocumentID != "" {
		dq := bleve.NewTermQuery(opts.DocumentID)
		dq.SetField("document_id")
		q = bleve.NewConjunctionQuery(q, dq)
	}

	search := bleve.NewSearchRequest(q)
	search.Size = limit
	search.Fields = []string{"document_id", "title", "content", "page"}
	results, err := b.index.SearchInContext(ctx, search)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, len(results.Hits))
	for i, hit := range results.Hits {
		r := &KeywordResult{ID: hit.ID, Score: hit.Score}
		r.DocumentID, _ = hit.Fields["document_id"].(string)
		r.Title, _ = hit.Fields["title"].(string)
		r.Text, _ = hit.Fields["content"].(string)
		if page, ok := hit.Fields["page"].(float64); ok {
			r.Page = int(page)
		}
		out[i] = r
	}
	return out, nil
}

// tokenizeQuery splits query into lowercase terms, filtering out empty strings.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries for each term in the query,
// restricted to field.
func buildFuzzyQuery(queryStr string, fuzziness int, field string) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		mq.SetField(field)
		return mq
	}

	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Delete removes chunks from the index.
func (b *BleveIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete keyword chunks: %w", err)
	}
	return nil
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// DocCount returns the total number of chunks in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}
