package models

import "errors"

// Failures surfaced by the answering pipeline. Service errors are transient and retried;
// the Unavailable variants are returned once retries are exhausted.
var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrEmptyDocument     = errors.New("document has no text")

	ErrEmbeddingService  = errors.New("embedding service error")
	ErrGenerationService = errors.New("generation service error")
	ErrVectorIndex       = errors.New("vector index error")

	ErrEmbeddingUnavailable   = errors.New("embedding service unavailable")
	ErrGenerationUnavailable  = errors.New("generation service unavailable")
	ErrVectorIndexUnavailable = errors.New("vector index unavailable")

	ErrInvalidInput     = errors.New("invalid input")
	ErrDocumentNotFound = errors.New("document not found")
	ErrSessionNotFound  = errors.New("session not found")
)
