// Package storage keeps the document registry: every ingested document with its chunk
// spans, so a re-ingestion or delete knows which vector ids to remove.
package storage

import (
	"context"

	"github.com/hyperjump/tanya/internal/models"
)

// Storage defines document and chunk persistence operations.
type Storage interface {
	// UpsertDocument inserts doc or replaces the stored row with the same id, keeping
	// the original creation time.
	UpsertDocument(ctx context.Context, doc *models.Document) error
	// GetDocument returns models.ErrDocumentNotFound for unknown ids.
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)

	BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error
	GetChunk(ctx context.Context, id string) (*models.Chunk, error)
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error)
	DeleteChunksByDocumentID(ctx context.Context, docID string) error

	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
