// Package main is the Tanya CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/answer"
	"github.com/hyperjump/tanya/internal/cli"
	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/internal/embedding"
	"github.com/hyperjump/tanya/internal/extract"
	"github.com/hyperjump/tanya/internal/fileid"
	"github.com/hyperjump/tanya/internal/generation"
	"github.com/hyperjump/tanya/internal/ingest"
	"github.com/hyperjump/tanya/internal/keyword"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/prompt"
	"github.com/hyperjump/tanya/internal/retrieval"
	"github.com/hyperjump/tanya/internal/retry"
	"github.com/hyperjump/tanya/internal/server"
	"github.com/hyperjump/tanya/internal/session"
	"github.com/hyperjump/tanya/internal/storage"
	"github.com/hyperjump/tanya/internal/tokens"
	"github.com/hyperjump/tanya/internal/tui"
	"github.com/hyperjump/tanya/internal/vector"
	"github.com/hyperjump/tanya/internal/watcher"
	"github.com/hyperjump/tanya/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/tanya/config.yaml"

// loadConfig loads .env, then the config at path. When path is the default, config.yaml
// in the current directory wins if it exists, so "tanya server" from a project dir uses
// the project's config. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	config.LoadDotEnv()
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "delete":
		runDelete()
	case "ask":
		runAsk()
	case "chat":
		runChat()
	case "status":
		runStatus()
	case "watch":
		runWatch()
	case "version", "--version", "-v":
		fmt.Printf("tanya version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (retrieval, ingestion, watcher events)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	generator, err := generation.New(ctx, cfg.Generation, components.Counter, generation.WithLogger(logger))
	if err != nil {
		logger.Fatal("Failed to initialize generator", zap.Error(err))
	}
	defer generator.Close()

	sessions, err := newSessionManager(cfg, components.Counter, logger)
	if err != nil {
		logger.Fatal("Failed to initialize sessions", zap.Error(err))
	}
	defer sessions.Close()
	go sessions.Run(ctx)

	orchestrator := answer.New(
		sessions,
		components.Retriever,
		prompt.NewAssembler(components.Counter, cfg.Generation.SystemPrompt, cfg.Context.PassageShare),
		generator,
		answer.WithLogger(logger),
		answer.WithTopK(cfg.Retrieval.TopK),
		answer.WithTokenBudget(cfg.Context.TokenBudget),
		answer.WithMaxTokens(cfg.Generation.MaxTokens),
		answer.WithGenerationRetry(retryPolicy(cfg.Retry, cfg.Generation.Timeout, logger, "generation")),
	)

	watchSvc := watcher.New(components.Pipeline, cfg.Watch.Directories,
		watcher.WithExtensions(cfg.Watch.Extensions),
		watcher.WithRecursive(cfg.Watch.RecursiveOrDefault()),
		watcher.WithLogger(logger),
	)
	if err := watchSvc.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	defer watchSvc.Stop()
	if n := watchSvc.Sync(ctx); n > 0 {
		logger.Info("startup ingestion finished", zap.Int("files", n))
	}

	srv := server.NewServer(server.Deps{
		Answerer:  orchestrator,
		Ingester:  components.Pipeline,
		Documents: components.Storage,
		Keywords:  components.Keywords,
		Sessions:  sessions,
		Watch:     watchSvc,
		Info: server.Info{
			Version:       version,
			Embedder:      components.Embedder.Name(),
			Generator:     generator.Name(),
			VectorBackend: components.VectorIndex.Backend(),
		},
	}, cfg, resolvedConfigPath, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("Server failed", zap.Error(err))
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	stop()
	watchSvc.Stop()
	components.SaveVectors()
}

func retryPolicy(rc config.RetryConfig, timeout time.Duration, logger *zap.Logger, what string) retry.Policy {
	return retry.Policy{
		MaxAttempts: rc.MaxAttempts,
		BaseDelay:   rc.BaseDelay,
		MaxDelay:    rc.MaxDelay,
		Timeout:     timeout,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			logger.Warn("retrying "+what,
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
		},
	}
}

func newSessionManager(cfg *config.Config, counter tokens.Counter, logger *zap.Logger) (*session.Manager, error) {
	var store session.Store
	switch cfg.Session.Store {
	case "sqlite":
		s, err := session.NewSQLiteStore(cfg.Storage.DatabasePath)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		store = session.NewMemoryStore()
	}
	return session.NewManager(store,
		session.WithLogger(logger),
		session.WithTTL(cfg.Session.TTL),
		session.WithLimits(cfg.Session.MaxTurns, cfg.Session.MaxHistoryTokens),
		session.WithSweepInterval(cfg.Session.SweepInterval),
		session.WithCounter(counter),
	), nil
}

// localComponents loads config and opens the local stores for the offline commands.
func localComponents(configPath string) (*config.Config, *Components, *zap.Logger) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	logger, err := utils.NewCLILogger(cfg.Debug)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		fatalf("Failed to initialize: %v", err)
	}
	return cfg, components, logger
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (local mode)")
	serverURL := fs.String("server", "", "server URL; empty ingests directly into the local stores")
	id := fs.String("id", "", "document id for a single file (default: derived from the path)")
	title := fs.String("title", "", "document title for a single file (default: file name)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fatalf("Usage: tanya ingest [flags] <file-or-directory>...")
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fatalf("%v", err)
	}
	if (*id != "" || *title != "") && fs.NArg() > 1 {
		fatalf("--id and --title apply to a single file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *serverURL != "" {
		client := cli.NewClient(*serverURL, 0)
		failed := 0
		for _, arg := range fs.Args() {
			paths, err := uploadablePaths(arg)
			if err != nil {
				fatalf("Failed to read %s: %v", arg, err)
			}
			for _, p := range paths {
				docID := *id
				if docID == "" {
					docID = fileid.ForPath(p)
				}
				res, err := client.Upload(ctx, p, docID, *title)
				if err != nil {
					fmt.Fprintf(os.Stderr, "failed     %s: %v\n", p, err)
					failed++
					continue
				}
				_ = cli.WriteIngestResult(os.Stdout, p, res, format)
			}
		}
		if failed > 0 {
			os.Exit(1)
		}
		return
	}

	cfg, components, logger := localComponents(*configPath)
	defer logger.Sync()
	defer components.Close()
	defer components.SaveVectors()

	for _, arg := range fs.Args() {
		info, err := os.Stat(arg)
		if err != nil {
			fatalf("Failed to stat path: %v", err)
		}
		if info.IsDir() {
			n, err := components.Pipeline.IngestDirectory(ctx, arg, cfg.Watch.Extensions)
			if err != nil {
				fatalf("Ingesting directory failed: %v", err)
			}
			fmt.Printf("Ingested %d file(s) from %s\n", n, arg)
			continue
		}
		res, err := ingestLocalFile(ctx, components.Pipeline, arg, *id, *title)
		if err != nil {
			fatalf("Ingestion failed: %v", err)
		}
		_ = cli.WriteIngestResult(os.Stdout, arg, res, format)
	}
}

// ingestLocalFile ingests one file. An explicit id or title goes through the document
// path so the caller's values are kept.
func ingestLocalFile(ctx context.Context, p *ingest.Pipeline, path, id, title string) (*models.IngestResult, error) {
	if id == "" && title == "" {
		return p.IngestFile(ctx, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", abs, err)
	}
	if id == "" {
		id = fileid.ForPath(abs)
	}
	return p.Ingest(ctx, &models.DocumentInput{
		ID:       id,
		Title:    title,
		Source:   abs,
		Raw:      raw,
		Filename: filepath.Base(abs),
	})
}

// uploadablePaths expands a directory argument into the supported files under it.
func uploadablePaths(arg string) ([]string, error) {
	abs, err := filepath.Abs(arg)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{abs}, nil
	}
	var paths []string
	err = filepath.WalkDir(abs, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != abs && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasPrefix(d.Name(), ".") && extract.Supported(filepath.Ext(p)) {
			paths = append(paths, p)
		}
		return nil
	})
	return paths, err
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (local mode)")
	serverURL := fs.String("server", "", "server URL; empty deletes directly from the local stores")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fatalf("Usage: tanya delete [flags] <document-id>")
	}
	docID := fs.Arg(0)
	ctx := context.Background()

	if *serverURL != "" {
		if err := cli.NewClient(*serverURL, 30*time.Second).DeleteDocument(ctx, docID); err != nil {
			fatalf("Deletion failed: %v", err)
		}
		fmt.Printf("Document deleted: %s\n", docID)
		return
	}

	_, components, logger := localComponents(*configPath)
	defer logger.Sync()
	defer components.Close()

	if err := components.Pipeline.DeleteDocument(ctx, docID); err != nil {
		fatalf("Deletion failed: %v", err)
	}
	components.SaveVectors()
	fmt.Printf("Document deleted: %s\n", docID)
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	serverURL := fs.String("server", cli.DefaultServerURL, "server URL")
	sessionID := fs.String("session", "", "continue an existing session")
	stream := fs.Bool("stream", true, "print the answer as it is generated")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		fatalf("Usage: tanya ask [flags] <question>")
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := cli.NewClient(*serverURL, 0)
	var turn *models.AnsweredTurn
	streamed := *stream && format == cli.OutputText
	if streamed {
		turn, err = client.ChatStream(ctx, *sessionID, question, func(d string) {
			fmt.Print(d)
		})
		fmt.Println()
	} else {
		turn, err = client.Chat(ctx, *sessionID, question)
	}
	if err != nil {
		fatalf("Ask failed: %v", err)
	}
	if err := cli.WriteAnswer(os.Stdout, turn, format, streamed); err != nil {
		fatalf("Output failed: %v", err)
	}
	if format == cli.OutputText {
		fmt.Fprintf(os.Stderr, "\nsession %s (continue with --session %s)\n", turn.SessionID, turn.SessionID)
	}
}

func runChat() {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	serverURL := fs.String("server", cli.DefaultServerURL, "server URL")
	sessionID := fs.String("session", "", "continue an existing session")
	_ = fs.Parse(os.Args[2:])

	client := cli.NewClient(*serverURL, 0)
	if _, err := client.Status(context.Background()); err != nil {
		fatalf("Cannot reach server at %s: %v", *serverURL, err)
	}
	final, err := tea.NewProgram(tui.New(client, *sessionID, *serverURL), tea.WithAltScreen()).Run()
	if err != nil {
		fatalf("Chat failed: %v", err)
	}
	if m, ok := final.(tui.Model); ok && m.SessionID() != "" {
		fmt.Printf("session %s\n", m.SessionID())
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (local mode)")
	serverURL := fs.String("server", cli.DefaultServerURL, "server URL (empty = read the local stores)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fatalf("%v", err)
	}
	ctx := context.Background()

	var status *cli.Status
	if *serverURL != "" {
		status, err = cli.NewClient(*serverURL, 30*time.Second).Status(ctx)
		if err != nil {
			fatalf("Status failed: %v", err)
		}
	} else {
		cfg, components, logger := localComponents(*configPath)
		defer logger.Sync()
		defer components.Close()
		status = localStatus(ctx, cfg, components)
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func localStatus(ctx context.Context, cfg *config.Config, c *Components) *cli.Status {
	status := &cli.Status{
		Status:        "healthy",
		Version:       version,
		Embedder:      c.Embedder.Name(),
		Generator:     cfg.Generation.Provider,
		VectorBackend: c.VectorIndex.Backend(),
		Config: map[string]interface{}{
			"embedding_dimensions": cfg.Embedding.Dimensions,
			"chunk_tokens":         cfg.Ingest.ChunkTokens,
			"chunk_overlap":        cfg.Ingest.ChunkOverlap,
			"top_k":                cfg.Retrieval.TopK,
			"min_similarity":       cfg.Retrieval.MinSimilarity,
			"token_budget":         cfg.Context.TokenBudget,
			"session_store":        cfg.Session.Store,
		},
	}
	st, err := c.Pipeline.Stats(ctx)
	if err != nil {
		status.Status = "degraded"
		status.Error = err.Error()
	} else {
		status.Documents = st.Documents
		status.Chunks = st.Chunks
		status.VectorIndexSize = st.Vectors
		status.KeywordChunks = st.KeywordChunks
		if st.Documents == 0 {
			status.Status = "degraded"
		}
	}
	usage, err := storage.DiskUsage(map[string]string{
		"database":      cfg.Storage.DatabasePath,
		"keyword_index": cfg.Storage.BleveIndexPath,
		"vector_index":  cfg.Storage.VectorIndexPath,
	})
	if err == nil {
		status.DiskUsageBytes = &usage.TotalBytes
	}
	return status
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: tanya watch <add|remove|list> [path]")
		fmt.Println("  tanya watch add <path>     Add directory to watch")
		fmt.Println("  tanya watch remove <path>  Remove directory from watch")
		fmt.Println("  tanya watch list           List watched directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", cli.DefaultServerURL, "server URL")
	_ = fs.Parse(os.Args[3:])

	client := cli.NewClient(*serverURL, 5*time.Minute)
	ctx := context.Background()
	switch sub {
	case "add", "remove":
		if fs.NArg() < 1 {
			fatalf("Usage: tanya watch %s <path>", sub)
		}
		path, err := filepath.Abs(fs.Arg(0))
		if err != nil {
			fatalf("Invalid path: %v", err)
		}
		if sub == "add" {
			if err := client.WatchAdd(ctx, path); err != nil {
				fatalf("Add failed: %v", err)
			}
			fmt.Printf("Added: %s\n", path)
			return
		}
		if err := client.WatchRemove(ctx, path); err != nil {
			fatalf("Remove failed: %v", err)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		dirs, err := client.WatchList(ctx)
		if err != nil {
			fatalf("List failed: %v", err)
		}
		for _, d := range dirs {
			fmt.Println(d)
		}
	default:
		fatalf("Unknown watch subcommand: %s", sub)
	}
}

// Components holds the initialized stores and the services built on them.
type Components struct {
	Storage     storage.Storage
	Keywords    *keyword.BleveIndex
	Counter     tokens.Counter
	Embedder    embedding.Embedder
	VectorIndex vector.VectorIndex
	Retriever   *retrieval.Engine
	Pipeline    *ingest.Pipeline

	snapshot string
	logger   *zap.Logger
}

// SaveVectors writes the in-process vector index to its snapshot file. Remote backends
// persist on their own.
func (c *Components) SaveVectors() {
	p, ok := c.VectorIndex.(vector.Persistent)
	if !ok || c.snapshot == "" {
		return
	}
	if err := p.Save(c.snapshot); err != nil {
		c.logger.Warn("vector index save failed", zap.String("path", c.snapshot), zap.Error(err))
	}
}

// Close releases every component that was opened.
func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.VectorIndex != nil {
		_ = c.VectorIndex.Close()
	}
	if c.Keywords != nil {
		_ = c.Keywords.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Components, err error) {
	c := &Components{snapshot: cfg.Storage.VectorIndexPath, logger: logger}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	if c.Storage, err = storage.NewSQLiteStorage(cfg.Storage.DatabasePath); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if c.Keywords, err = keyword.NewBleveIndex(cfg.Storage.BleveIndexPath, keyword.WithLogger(logger)); err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	if c.Counter, err = tokens.New(cfg.Tokenizer.Encoding); err != nil {
		return nil, fmt.Errorf("failed to initialize tokenizer: %w", err)
	}
	if c.Embedder, err = embedding.New(ctx, cfg.Embedding, embedding.WithLogger(logger)); err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	if c.VectorIndex, err = vector.New(ctx, cfg.Vector, cfg.Embedding.Dimensions, cfg.Storage.VectorIndexPath, vector.WithLogger(logger)); err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	logger.Info("components initialized",
		zap.String("embedder", c.Embedder.Name()),
		zap.String("vector_backend", c.VectorIndex.Backend()),
		zap.Int("dimensions", cfg.Embedding.Dimensions))

	embedRetry := retryPolicy(cfg.Retry, cfg.Embedding.Timeout, logger, "embedding")
	vectorRetry := retryPolicy(cfg.Retry, cfg.Vector.Timeout, logger, "vector index")

	c.Retriever = retrieval.NewEngine(c.Embedder, c.VectorIndex,
		retrieval.WithLogger(logger),
		retrieval.WithOverFetch(cfg.Retrieval.OverFetch),
		retrieval.WithMinSimilarity(cfg.Retrieval.MinSimilarity),
		retrieval.WithRetry(embedRetry, vectorRetry),
	)
	c.Pipeline = ingest.NewPipeline(c.Storage, c.Embedder, c.VectorIndex,
		ingest.NewChunker(c.Counter, cfg.Ingest.ChunkTokens, cfg.Ingest.ChunkOverlap),
		ingest.WithLogger(logger),
		ingest.WithKeywordIndex(c.Keywords),
		ingest.WithBatchSizes(cfg.Embedding.BatchSize, cfg.Vector.UpsertSize),
		ingest.WithRetry(embedRetry, vectorRetry),
	)
	return c, nil
}

func printUsage() {
	fmt.Println(`tanya - Conversational answers grounded in your reference documents

Usage:
  tanya server [flags]                 Start the HTTP server
  tanya ingest [flags] <path>...       Ingest files or directories
  tanya delete [flags] <id>            Delete a document
  tanya ask [flags] <question>         Ask one question
  tanya chat [flags]                   Interactive chat in the terminal
  tanya status [flags]                 Show backends, counts and disk usage
  tanya watch <add|remove|list>        Manage watched directories
  tanya version                        Show version
  tanya help                           Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/tanya/config.yaml)
  --debug            Enable debug logging

Ingest Flags:
  --config string    Config file path (local mode)
  --server string    Upload to a running server instead of the local stores
  --id string        Document id (single file)
  --title string     Document title (single file)
  --output string    Output format: text or json (default: text)

Delete Flags:
  --config string    Config file path (local mode)
  --server string    Delete through a running server

Ask Flags:
  --server string    Server URL (default: http://localhost:8080)
  --session string   Continue an existing session
  --stream           Print the answer as it is generated (default: true)
  --output string    Output format: text or json (default: text)

Chat Flags:
  --server string    Server URL (default: http://localhost:8080)
  --session string   Continue an existing session

Status Flags:
  --config string    Config file path (for local mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to read the local stores.
  --output string    Output format: text or json (default: text)

Watch Flags:
  --server string    Server URL (default: http://localhost:8080)

Environment:
  OPENAI_API_KEY, GEMINI_API_KEY and the TANYA_* overrides are read from the
  environment and from .env in the current directory.

Examples:
  tanya server
  tanya ingest ./guides
  tanya ingest --server http://localhost:8080 --title "Diabetes guide" diabetes.pdf
  tanya ask "How often should blood glucose be checked?"
  tanya ask --session 3f2c... "And at night?"
  tanya chat
  tanya status --output json
  tanya watch add /path/to/docs`)
}
