// Package models defines core data structures for documents, chunks, sessions and answers.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Document ingestion states.
const (
	StatusIndexed   = "indexed"
	StatusUnchanged = "unchanged"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// Document represents an ingested source document. It is replaced, never merged,
// when the same ID is ingested again.
type Document struct {
	ID          string            `json:"id" db:"id"`
	Title       string            `json:"title" db:"title"`
	Source      string            `json:"source" db:"source"`
	Content     string            `json:"content,omitempty" db:"content"`
	Pages       []PageMarker      `json:"pages,omitempty" db:"pages"`
	Metadata    map[string]string `json:"metadata" db:"metadata"`
	ContentHash string            `json:"content_hash" db:"content_hash"`
	Status      string            `json:"status" db:"status"`
	ChunkCount  int               `json:"chunk_count" db:"chunk_count"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}

// PageMarker records where a page starts inside the document text.
type PageMarker struct {
	Number int `json:"number"`
	Offset int `json:"offset"`
}

// PageAt returns the page number containing byte offset, or 0 when the document has no pages.
func (d *Document) PageAt(offset int) int {
	page := 0
	for _, p := range d.Pages {
		if p.Offset > offset {
			break
		}
		page = p.Number
	}
	return page
}

// Chunk is a bounded span of a document's text, the unit of indexing and retrieval.
type Chunk struct {
	ID         string            `json:"id" db:"id"`
	DocumentID string            `json:"document_id" db:"document_id"`
	Ordinal    int               `json:"ordinal" db:"ordinal"`
	Offset     int               `json:"offset" db:"offset"`
	Length     int               `json:"length" db:"length"`
	Text       string            `json:"text" db:"text"`
	TokenCount int               `json:"token_count" db:"token_count"`
	Page       int               `json:"page,omitempty" db:"page"`
	Embedding  []float32         `json:"-" db:"-"`
	Metadata   map[string]string `json:"metadata,omitempty" db:"-"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
}

// End returns the byte offset just past the chunk.
func (c *Chunk) End() int {
	return c.Offset + c.Length
}

// Overlaps reports whether two chunks of the same document share any byte.
func (c *Chunk) Overlaps(other *Chunk) bool {
	if c.DocumentID != other.DocumentID {
		return false
	}
	return c.Offset < other.End() && other.Offset < c.End()
}

// ChunkID returns the deterministic chunk id for a document and byte offset.
func ChunkID(documentID string, offset int) string {
	return fmt.Sprintf("%s#%d", documentID, offset)
}

// DocumentInput is the input for ingesting a document. Either Content or Raw must be set;
// Raw is run through text extraction using the extension of Filename.
type DocumentInput struct {
	ID       string            `json:"id,omitempty"`
	Title    string            `json:"title,omitempty"`
	Source   string            `json:"source,omitempty"`
	Content  string            `json:"content,omitempty"`
	Raw      []byte            `json:"-"`
	Filename string            `json:"filename,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate checks that the input carries something to ingest and fills the title.
func (in *DocumentInput) Validate() error {
	if strings.TrimSpace(in.Content) == "" && len(in.Raw) == 0 {
		return fmt.Errorf("%w: content or file is required", ErrEmptyDocument)
	}
	if len(in.Raw) > 0 && in.Filename == "" {
		return fmt.Errorf("%w: filename is required for raw documents", ErrUnsupportedFormat)
	}
	if in.Title == "" {
		in.Title = in.Filename
	}
	if in.Source == "" {
		in.Source = in.Filename
	}
	return nil
}

// IngestResult reports the outcome of ingesting one document, including partial progress.
type IngestResult struct {
	DocumentID string   `json:"document_id"`
	Status     string   `json:"status"`
	Chunks     int      `json:"chunks"`
	Succeeded  []string `json:"succeeded,omitempty"`
	Failed     []string `json:"failed,omitempty"`
	Replaced   int      `json:"replaced"`
	Error      string   `json:"error,omitempty"`
}
