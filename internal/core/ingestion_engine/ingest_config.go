package ingestion_engine

import (
	"time"

	"github.com/phuslu/log"

	"github.com/markdave123-py/pdfchat/internal/config"
	"github.com/markdave123-py/pdfchat/internal/core"
)

// IngestConfig tunes the worker pool.
//
// Concurrency:    number of worker goroutines polling the queue.
// PollInterval:   sleep between polls when the queue is empty.
// MaxReceive:     deliveries after which a job is reported as failed and dropped.
// BatchSize:      chunks per embedding request and per index insert.
// *Timeout:       bound on each external call of that kind.
type IngestConfig struct {
	Concurrency    int
	PollInterval   time.Duration
	MaxReceive     int
	BatchSize      int
	ExtractTimeout time.Duration
	EmbedTimeout   time.Duration
	IndexTimeout   time.Duration
}

// IngestConfigFrom picks the worker settings out of the service config.
func IngestConfigFrom(cfg *config.Config) *IngestConfig {
	return &IngestConfig{
		Concurrency:    cfg.WorkerConcurrency,
		PollInterval:   cfg.QueuePollInterval,
		MaxReceive:     cfg.QueueMaxReceive,
		BatchSize:      cfg.EmbedBatchSize,
		ExtractTimeout: cfg.ExtractTimeout,
		EmbedTimeout:   cfg.EmbedTimeout,
		IndexTimeout:   cfg.IndexTimeout,
	}
}

func (c *IngestConfig) withDefaults() *IngestConfig {
	out := *c
	if out.Concurrency <= 0 {
		out.Concurrency = 1
	}
	if out.PollInterval <= 0 {
		out.PollInterval = 500 * time.Millisecond
	}
	if out.MaxReceive <= 0 {
		out.MaxReceive = 3
	}
	if out.BatchSize <= 0 {
		out.BatchSize = 16
	}
	if out.ExtractTimeout <= 0 {
		out.ExtractTimeout = 2 * time.Minute
	}
	if out.EmbedTimeout <= 0 {
		out.EmbedTimeout = 30 * time.Second
	}
	if out.IndexTimeout <= 0 {
		out.IndexTimeout = 30 * time.Second
	}
	return &out
}

// Deps are the collaborators of a DocumentIngestor.
type Deps struct {
	Queue     core.JobQueue
	Objects   core.ObjectClient
	Extractor core.DocumentExtractor
	Embedder  core.EmbeddingProvider
	Index     core.VectorStore
	Notifier  core.CompletionNotifier
	Splitter  *Splitter
	Logger    *log.Logger
}

// DocumentIngestor drains the job queue:
//
// queue:      source of ingestion jobs.
// obj:        object storage holding the uploaded files.
// extractor:  PDF to page text.
// splitter:   page text to overlapping chunks.
// embedder:   embedding provider (Gemini).
// index:      vector store the chunks land in.
// notifier:   reports every finished job, successful or not.
type DocumentIngestor struct {
	queue     core.JobQueue
	obj       core.ObjectClient
	extractor core.DocumentExtractor
	splitter  *Splitter
	embedder  core.EmbeddingProvider
	index     core.VectorStore
	notifier  core.CompletionNotifier
	cfg       *IngestConfig
	logger    *log.Logger
}

// chunk is the internal representation passed from the splitter stage to
// the embed stage.
type chunk struct {
	Page   int
	Offset int
	Text   string
}
