package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/answer"
	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/internal/keyword"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/storage"
)

const (
	defaultListLimit    = 50
	maxListLimit        = 500
	defaultPassageLimit = 10
	maxPassageLimit     = 50
)

type chatRequest struct {
	SessionID string `json:"session_id" validate:"omitempty,max=128"`
	Message   string `json:"message" validate:"required,max=4000"`
}

type ingestRequest struct {
	ID       string            `json:"id" validate:"omitempty,max=256"`
	Title    string            `json:"title" validate:"max=512"`
	Source   string            `json:"source" validate:"max=2048"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// decodeChat reads and validates a chat request. It writes the error response itself
// and returns false when the request is rejected.
func (s *Server) decodeChat(w http.ResponseWriter, r *http.Request) (*chatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body")
		return nil, false
	}
	if err := s.validate.Struct(&req); err != nil {
		s.respondErr(w, "chat", err)
		return nil, false
	}
	if err := answer.CheckMessage(req.Message); err != nil {
		s.respondErr(w, "chat", err)
		return nil, false
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	return &req, true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}
	s.logger.Debug("chat request", zap.String("session", req.SessionID), zap.Int("message_chars", len(req.Message)))
	turn, err := s.deps.Answerer.Answer(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.respondErr(w, "chat", err)
		return
	}
	s.respondJSON(w, http.StatusOK, turn)
}

func (s *Server) handleIngestDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())
	var (
		in  *models.DocumentInput
		err error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		in, err = s.readUpload(r)
	} else {
		in, err = s.readDocumentJSON(r)
	}
	if err != nil {
		s.respondErr(w, "ingest", err)
		return
	}

	s.logger.Debug("ingest document request", zap.String("id", in.ID), zap.String("title", in.Title))
	result, err := s.deps.Ingester.Ingest(r.Context(), in)
	if err != nil {
		s.respondIngestErr(w, "ingest", err, result)
		return
	}
	status := http.StatusCreated
	switch result.Status {
	case models.StatusUnchanged:
		status = http.StatusOK
	case models.StatusPartial:
		status = http.StatusMultiStatus
	}
	s.respondJSON(w, status, result)
}

func (s *Server) readDocumentJSON(r *http.Request) (*models.DocumentInput, error) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: invalid request body", models.ErrInvalidInput)
	}
	if err := s.validate.Struct(&req); err != nil {
		return nil, err
	}
	return &models.DocumentInput{
		ID:       req.ID,
		Title:    req.Title,
		Source:   req.Source,
		Content:  req.Content,
		Metadata: req.Metadata,
	}, nil
}

// readUpload reads a multipart upload with the document in the "file" field. Optional
// form fields id, title and source override the defaults taken from the file name.
func (s *Server) readUpload(r *http.Request) (*models.DocumentInput, error) {
	if err := r.ParseMultipartForm(s.maxUploadBytes()); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: file field is required", models.ErrInvalidInput)
	}
	defer file.Close()
	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	in := &models.DocumentInput{
		ID:       r.FormValue("id"),
		Title:    r.FormValue("title"),
		Source:   r.FormValue("source"),
		Raw:      raw,
		Filename: filepath.Base(header.Filename),
	}
	if meta := r.FormValue("metadata"); meta != "" {
		if err := json.Unmarshal([]byte(meta), &in.Metadata); err != nil {
			return nil, fmt.Errorf("%w: metadata must be a JSON object of strings", models.ErrInvalidInput)
		}
	}
	return in, nil
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	offset, err := intParam(r, "offset", 0, 0, -1)
	if err != nil {
		s.respondErr(w, "list documents", err)
		return
	}
	limit, err := intParam(r, "limit", defaultListLimit, 1, maxListLimit)
	if err != nil {
		s.respondErr(w, "list documents", err)
		return
	}
	docs, err := s.deps.Documents.ListDocuments(r.Context(), offset, limit)
	if err != nil {
		s.respondErr(w, "list documents", err)
		return
	}
	total, err := s.deps.Documents.CountDocuments(r.Context())
	if err != nil {
		s.respondErr(w, "list documents", err)
		return
	}
	for _, d := range docs {
		d.Content = ""
		d.Pages = nil
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"total":     total,
		"offset":    offset,
		"limit":     limit,
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.deps.Documents.GetDocument(r.Context(), id)
	if err != nil {
		s.respondErr(w, "get document", err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.deps.Ingester.DeleteDocument(r.Context(), id); err != nil {
		s.respondErr(w, "delete document", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handlePassages(w http.ResponseWriter, r *http.Request) {
	if s.deps.Keywords == nil {
		s.respondError(w, http.StatusNotImplemented, CodeNotImplemented, "keyword index not enabled")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.respondError(w, http.StatusBadRequest, CodeInvalidRequest, "q is required")
		return
	}
	limit, err := intParam(r, "limit", defaultPassageLimit, 1, maxPassageLimit)
	if err != nil {
		s.respondErr(w, "passages", err)
		return
	}
	opts := keyword.SearchOptions{
		DocumentID:   r.URL.Query().Get("document_id"),
		TitleBoost:   2,
		FuzzyEnabled: r.URL.Query().Get("fuzzy") == "true",
	}
	results, err := s.deps.Keywords.Search(r.Context(), q, limit, &opts)
	if err != nil {
		s.respondErr(w, "passages", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"query": q, "passages": results})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		s.respondError(w, http.StatusNotImplemented, CodeNotImplemented, "sessions not enabled")
		return
	}
	sess, err := s.deps.Sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, "get session", err)
		return
	}
	s.respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		s.respondError(w, http.StatusNotImplemented, CodeNotImplemented, "sessions not enabled")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.deps.Sessions.Delete(r.Context(), id); err != nil {
		s.respondErr(w, "delete session", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": "tanya",
		"version": s.deps.Info.Version,
		"endpoints": []string{
			"POST /api/v1/chat",
			"POST /api/v1/chat/stream",
			"POST /api/v1/documents",
			"GET /api/v1/documents",
			"GET /api/v1/passages",
			"GET /api/v1/status",
			"GET /health",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus reports what is loaded. The service is degraded when no document is
// indexed or the vector index cannot be reached.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := map[string]interface{}{
		"embedder":       s.deps.Info.Embedder,
		"generator":      s.deps.Info.Generator,
		"vector_backend": s.deps.Info.VectorBackend,
		"version":        s.deps.Info.Version,
	}
	health := "healthy"
	st, err := s.deps.Ingester.Stats(ctx)
	if err != nil {
		s.logger.Warn("status: stats failed", zap.Error(err))
		health = "degraded"
		resp["error"] = err.Error()
	} else {
		resp["documents"] = st.Documents
		resp["chunks"] = st.Chunks
		resp["vector_index_size"] = st.Vectors
		resp["keyword_chunks"] = st.KeywordChunks
		if st.Documents == 0 {
			health = "degraded"
		}
	}
	resp["status"] = health
	if s.deps.Sessions != nil {
		if n, err := s.deps.Sessions.Len(ctx); err == nil {
			resp["sessions"] = n
		}
	}

	if s.cfg != nil {
		resp["config"] = map[string]interface{}{
			"embedding_dimensions": s.cfg.Embedding.Dimensions,
			"chunk_tokens":         s.cfg.Ingest.ChunkTokens,
			"chunk_overlap":        s.cfg.Ingest.ChunkOverlap,
			"top_k":                s.cfg.Retrieval.TopK,
			"min_similarity":       s.cfg.Retrieval.MinSimilarity,
			"token_budget":         s.cfg.Context.TokenBudget,
			"session_store":        s.cfg.Session.Store,
		}
		usage, err := storage.DiskUsage(map[string]string{
			"database":      s.cfg.Storage.DatabasePath,
			"keyword_index": s.cfg.Storage.BleveIndexPath,
			"vector_index":  s.cfg.Storage.VectorIndexPath,
		})
		if err == nil {
			resp["disk_usage_bytes"] = usage.TotalBytes
			resp["disk_usage"] = usage.Paths
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Watch == nil {
		s.respondError(w, http.StatusNotImplemented, CodeNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.deps.Watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path" validate:"required"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.deps.Watch == nil {
		s.respondError(w, http.StatusNotImplemented, CodeNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.respondErr(w, "watch add", err)
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.respondError(w, http.StatusNotFound, CodeNotFound, "directory not found")
			return
		}
		s.respondErr(w, "watch add", err)
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, CodeInvalidRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.deps.Watch.AddDirectory(abs, syncExisting); err != nil {
		s.respondErr(w, "watch add", err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.deps.Watch == nil {
		s.respondError(w, http.StatusNotImplemented, CodeNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, CodeInvalidRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.deps.Watch.RemoveDirectory(abs); err != nil {
		s.respondErr(w, "watch remove", err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// persistWatchDirectories writes the current watch roots back to the config file.
func (s *Server) persistWatchDirectories() {
	if s.configPath == "" || s.cfg == nil {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.cfg.Watch.Directories = s.deps.Watch.Directories()
	if err := config.Save(s.configPath, s.cfg); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// intParam parses an integer query parameter within [min, max]; max < 0 means unbounded.
func intParam(r *http.Request, name string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min {
		return 0, fmt.Errorf("%w: %s must be an integer >= %d", models.ErrInvalidInput, name, min)
	}
	if max >= 0 && n > max {
		n = max
	}
	return n, nil
}
