package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/phuslu/log"
	"github.com/timshannon/badgerhold/v4"

	"github.com/markdave123-py/pdfchat/internal/api/handlers"
	"github.com/markdave123-py/pdfchat/internal/config"
	"github.com/markdave123-py/pdfchat/internal/core"
	db "github.com/markdave123-py/pdfchat/internal/core/database"
	"github.com/markdave123-py/pdfchat/internal/core/ingestion_engine"
	"github.com/markdave123-py/pdfchat/internal/core/llm"
	objectclient "github.com/markdave123-py/pdfchat/internal/core/object-client"
	"github.com/markdave123-py/pdfchat/internal/core/queue"
	"github.com/markdave123-py/pdfchat/internal/core/store"
	"github.com/markdave123-py/pdfchat/internal/services"
)

// App holds the backends shared by the API and the workers. Which of them a
// process actually uses depends on the command it runs.
type App struct {
	cfg    *config.Config
	logger *log.Logger

	DB      *sql.DB
	Badger  *badgerhold.Store
	Objects core.ObjectClient
	Queue   core.JobQueue
	Index   core.VectorStore
	Tracker *services.StatusService

	Embedder *llm.GeminiEmbedder
	LLM      *llm.GeminiLLM

	closers []func() error
}

func NewApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	if err := a.init(appCtx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.cfg

	sqlDB, err := db.Open(ctx, cfg.DatabaseURL, db.Schema{Collection: cfg.VectorCollection, EmbedDim: cfg.EmbedDim})
	if err != nil {
		return err
	}
	a.DB = sqlDB
	a.closers = append(a.closers, sqlDB.Close)
	a.logger.Info().Str("collection", cfg.VectorCollection).Msg("Database initialized and ready.")

	if cfg.QueueBackend == config.BackendBadger || cfg.StatusBackend == config.BackendBadger {
		bs, err := store.OpenBadger(cfg.BadgerPath, a.logger)
		if err != nil {
			return err
		}
		a.Badger = bs
		a.closers = append(a.closers, bs.Close)
	}

	index, err := db.NewDatabaseClient(sqlDB, cfg.VectorCollection)
	if err != nil {
		return err
	}
	a.Index = index

	statusStore, err := a.statusStore()
	if err != nil {
		return err
	}
	a.Tracker = services.NewStatusService(statusStore, a.logger)

	if a.Queue, err = a.jobQueue(); err != nil {
		return err
	}
	a.closers = append(a.closers, a.Queue.Close)

	if a.Objects, err = objectclient.New(ctx, cfg, a.logger); err != nil {
		return err
	}
	a.logger.Info().Str("backend", cfg.BlobBackend).Msg("Object client initialized and ready.")

	if a.Embedder, err = llm.NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel, cfg.EmbedRPS); err != nil {
		return fmt.Errorf("couldn't initialize the embedder, %w", err)
	}
	a.closers = append(a.closers, a.Embedder.Close)

	if a.LLM, err = llm.NewGeminiLLM(ctx, cfg.AIAPIKey, cfg.GenModel); err != nil {
		return fmt.Errorf("couldn't initialize the llm, %w", err)
	}
	a.closers = append(a.closers, a.LLM.Close)

	return nil
}

func (a *App) statusStore() (core.StatusStore, error) {
	switch a.cfg.StatusBackend {
	case config.BackendMemory, "":
		return store.NewMemoryStatusStore(), nil
	case config.BackendBadger:
		return store.NewBadgerStatusStore(a.Badger), nil
	case config.BackendPostgres:
		return db.NewStatusStore(a.DB), nil
	default:
		return nil, fmt.Errorf("unknown status backend %q", a.cfg.StatusBackend)
	}
}

func (a *App) jobQueue() (core.JobQueue, error) {
	switch a.cfg.QueueBackend {
	case config.BackendPostgres, "":
		return db.NewJobQueue(a.DB, a.cfg.QueueName, a.cfg.QueueVisibilityTimeout)
	case config.BackendBadger:
		return queue.NewBadgerQueue(a.Badger.Badger(), a.cfg.QueueName, a.cfg.QueueVisibilityTimeout)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", a.cfg.QueueBackend)
	}
}

// Handlers builds the API handlers on top of the app's backends.
func (a *App) Handlers() *Handlers {
	uploads := services.NewUploadService(a.Objects, a.Queue, a.Tracker, a.cfg.MaxFilesPerUpload, a.logger)
	chat := services.NewChatService(a.Tracker, a.Embedder, a.Index, a.LLM, services.ChatConfigFrom(a.cfg), a.logger)
	return &Handlers{
		Documents: handlers.NewDocumentHandler(uploads, a.Tracker, a.cfg.MaxUploadMB, a.logger),
		Chat:      handlers.NewChatHandler(chat, a.logger),
	}
}

// Ingestor builds the worker pool. notifier decides where completions go.
func (a *App) Ingestor(notifier core.CompletionNotifier) *ingestion_engine.DocumentIngestor {
	return ingestion_engine.NewDocumentIngestor(ingestion_engine.Deps{
		Queue:     a.Queue,
		Objects:   a.Objects,
		Extractor: ingestion_engine.NewDocconvExtractor(a.cfg.MaxUploadMB<<20, a.logger),
		Embedder:  a.Embedder,
		Index:     a.Index,
		Notifier:  notifier,
		Splitter: ingestion_engine.NewSplitter(
			ingestion_engine.WithChunkSize(a.cfg.ChunkSize),
			ingestion_engine.WithOverlap(a.cfg.ChunkOverlap),
		),
		Logger: a.logger,
	}, ingestion_engine.IngestConfigFrom(a.cfg))
}

func (a *App) Sweeper() *services.StatusSweeper {
	return services.NewStatusSweeper(a.Tracker, a.cfg.StatusTTL, a.logger)
}

// Close releases backends in reverse order of creation.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn().Err(err).Msg("error while closing backends")
	}
}
