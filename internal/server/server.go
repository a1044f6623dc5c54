// Package server provides the HTTP API for Tanya.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/internal/ingest"
	"github.com/hyperjump/tanya/internal/keyword"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/session"
	"github.com/hyperjump/tanya/internal/storage"
)

// Answerer answers chat messages. It is implemented by *answer.Orchestrator.
type Answerer interface {
	Answer(ctx context.Context, sessionID, message string) (*models.AnsweredTurn, error)
	AnswerStream(ctx context.Context, sessionID, message string, onDelta func(string) error) (*models.AnsweredTurn, error)
}

// Ingester adds and removes documents. It is implemented by *ingest.Pipeline.
type Ingester interface {
	Ingest(ctx context.Context, in *models.DocumentInput) (*models.IngestResult, error)
	DeleteDocument(ctx context.Context, id string) error
	Stats(ctx context.Context) (*ingest.Stats, error)
}

// WatchService manages watched directories (optional; nil if watch not enabled).
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Info names the running backends for the status endpoints.
type Info struct {
	Version       string `json:"version"`
	Embedder      string `json:"embedder"`
	Generator     string `json:"generator"`
	VectorBackend string `json:"vector_backend"`
}

// Deps are the components the HTTP handlers call into. Keywords, Sessions and Watch
// may be nil; their routes then answer 501.
type Deps struct {
	Answerer  Answerer
	Ingester  Ingester
	Documents storage.Storage
	Keywords  keyword.KeywordIndex
	Sessions  *session.Manager
	Watch     WatchService
	Info      Info
}

// Server is the HTTP server for the Tanya API.
type Server struct {
	deps       Deps
	cfg        *config.Config
	configPath string
	configMu   sync.Mutex
	validate   *validator.Validate
	logger     *zap.Logger
	server     *http.Server
}

// NewServer creates a server. configPath, when set, is where watch directory changes
// are persisted.
func NewServer(deps Deps, cfg *config.Config, configPath string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		deps:       deps,
		cfg:        cfg,
		configPath: configPath,
		validate:   validator.New(),
		logger:     logger,
	}
}

// Handler returns the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout()))
	r.Use(middleware.Compress(5))

	r.Get("/", s.handleInfo)
	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Post("/chat", s.handleChat)
		r.Post("/chat/stream", s.handleChatStream)

		r.Post("/documents", s.handleIngestDocument)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)

		r.Get("/passages", s.handlePassages)

		r.Get("/sessions/{id}", s.handleGetSession)
		r.Delete("/sessions/{id}", s.handleDeleteSession)

		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	return r
}

func (s *Server) requestTimeout() time.Duration {
	if s.cfg != nil && s.cfg.Server.RequestTimeout > 0 {
		return s.cfg.Server.RequestTimeout
	}
	return 120 * time.Second
}

func (s *Server) maxUploadBytes() int64 {
	if s.cfg != nil && s.cfg.Server.MaxUploadBytes > 0 {
		return s.cfg.Server.MaxUploadBytes
	}
	return 32 << 20
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	host, port := "localhost", 8080
	if s.cfg != nil {
		host, port = s.cfg.Server.Host, s.cfg.Server.Port
	}
	addr := fmt.Sprintf("%s:%d", host, port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
