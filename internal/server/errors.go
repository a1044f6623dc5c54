package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/models"
)

// Error codes returned in the error_code field.
const (
	CodeInvalidRequest         = "INVALID_REQUEST"
	CodeUnsupportedFormat      = "UNSUPPORTED_FORMAT"
	CodeEmptyDocument          = "EMPTY_DOCUMENT"
	CodeNotFound               = "NOT_FOUND"
	CodeEmbeddingUnavailable   = "EMBEDDING_UNAVAILABLE"
	CodeVectorIndexUnavailable = "VECTOR_INDEX_UNAVAILABLE"
	CodeGenerationUnavailable  = "GENERATION_UNAVAILABLE"
	CodeNotImplemented         = "NOT_IMPLEMENTED"
	CodeTimeout                = "TIMEOUT"
	CodeInternal               = "INTERNAL_ERROR"
)

type errorResponse struct {
	Success   bool                 `json:"success"`
	Error     string               `json:"error"`
	ErrorCode string               `json:"error_code"`
	Result    *models.IngestResult `json:"result,omitempty"`
}

// classify maps an error to its HTTP status and error code.
func classify(err error) (int, string) {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, models.ErrInvalidInput), errors.As(err, &verrs):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, models.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, CodeUnsupportedFormat
	case errors.Is(err, models.ErrEmptyDocument):
		return http.StatusUnprocessableEntity, CodeEmptyDocument
	case errors.Is(err, models.ErrDocumentNotFound), errors.Is(err, models.ErrSessionNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, models.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable, CodeEmbeddingUnavailable
	case errors.Is(err, models.ErrVectorIndexUnavailable):
		return http.StatusServiceUnavailable, CodeVectorIndexUnavailable
	case errors.Is(err, models.ErrGenerationUnavailable):
		return http.StatusServiceUnavailable, CodeGenerationUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeTimeout
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// validationMessage lists the failed fields of a validator error.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msg := "invalid request"
	for i, e := range verrs {
		sep := ", "
		if i == 0 {
			sep = ": "
		}
		msg += fmt.Sprintf("%s%s failed on '%s'", sep, e.Field(), e.Tag())
	}
	return msg
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, errorResponse{Success: false, Error: message, ErrorCode: code})
}

// respondErr writes err with the status and code it maps to. Server errors are logged.
func (s *Server) respondErr(w http.ResponseWriter, op string, err error) {
	s.respondIngestErr(w, op, err, nil)
}

// respondIngestErr is respondErr carrying the per-chunk report of a failed ingestion.
func (s *Server) respondIngestErr(w http.ResponseWriter, op string, err error, result *models.IngestResult) {
	status, code := classify(err)
	if status >= 500 {
		s.logger.Error(op+" failed", zap.Error(err))
	} else {
		s.logger.Debug(op+" rejected", zap.Error(err))
	}
	s.respondJSON(w, status, errorResponse{Success: false, Error: validationMessage(err), ErrorCode: code, Result: result})
}
