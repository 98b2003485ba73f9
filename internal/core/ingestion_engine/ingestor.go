package ingestion_engine

import (
	"context"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/models"
)

type Ingestor interface {
	// Run polls the queue until ctx is cancelled, then waits for in-flight
	// jobs to finish.
	Run(ctx context.Context) error
	// Ingest runs extraction, chunking, embedding and indexing for one job.
	Ingest(ctx context.Context, job models.IngestionJob) error
	// Handle processes one delivery end to end: ingest, notify, ack.
	Handle(ctx context.Context, d *core.Delivery)
}

var _ Ingestor = (*DocumentIngestor)(nil)
