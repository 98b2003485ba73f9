package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/models"
)

// chunkNamespace scopes chunk ids so a redelivered job maps to the same rows.
var chunkNamespace = uuid.MustParse("8f1c7a52-3e0b-4c55-9d7e-2b6f0e9a4c13")

// ErrNoText is reported for documents without extractable text.
var ErrNoText = errors.New("no text could be extracted from the document")

// ChunkID is the stable id of the chunk at position within a job.
func ChunkID(jobID string, position int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(jobID+":"+strconv.Itoa(position))).String()
}

func NewDocumentIngestor(d Deps, cfg *IngestConfig) *DocumentIngestor {
	splitter := d.Splitter
	if splitter == nil {
		splitter = NewSplitter()
	}
	return &DocumentIngestor{
		queue:     d.Queue,
		obj:       d.Objects,
		extractor: d.Extractor,
		splitter:  splitter,
		embedder:  d.Embedder,
		index:     d.Index,
		notifier:  d.Notifier,
		cfg:       cfg.withDefaults(),
		logger:    d.Logger,
	}
}

// Run starts cfg.Concurrency workers. In-flight jobs are not cancelled on
// shutdown; they finish within their stage timeouts.
func (i *DocumentIngestor) Run(ctx context.Context) error {
	i.logger.Info().Int("workers", i.cfg.Concurrency).Dur("poll_interval", i.cfg.PollInterval).Msg("ingestion workers starting")

	g, gctx := errgroup.WithContext(ctx)
	for w := 1; w <= i.cfg.Concurrency; w++ {
		g.Go(func() error {
			i.work(gctx, w)
			return nil
		})
	}
	err := g.Wait()
	i.logger.Info().Msg("ingestion workers stopped")
	return err
}

func (i *DocumentIngestor) work(ctx context.Context, worker int) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		d, err := i.queue.Receive(ctx)
		switch {
		case err == nil:
			i.logger.Debug().Int("worker", worker).Str("job_id", d.Job.JobID).Msg("job received")
			i.Handle(context.WithoutCancel(ctx), d)
			timer.Reset(0)
			continue
		case errors.Is(err, core.ErrNoMessage), ctx.Err() != nil:
		default:
			i.logger.Error().Err(err).Int("worker", worker).Msg("queue receive failed")
		}
		timer.Reset(i.cfg.PollInterval)
	}
}

// Handle always reports completion, even when ingestion fails or panics.
// The delivery is acked only once the completion has been delivered, so a
// lost notification leads to a redelivery instead of a job stuck in
// processing.
func (i *DocumentIngestor) Handle(ctx context.Context, d *core.Delivery) {
	job := d.Job

	if d.Attempt > i.cfg.MaxReceive {
		err := fmt.Errorf("giving up after %d deliveries", d.Attempt-1)
		i.logger.Warn().Str("job_id", job.JobID).Int("attempt", d.Attempt).Msg("dropping poison job")
		_ = i.notify(ctx, job, err)
		i.ack(d)
		return
	}

	var ingestErr error
	defer func() {
		if r := recover(); r != nil {
			ingestErr = fmt.Errorf("panic during ingestion: %v", r)
			i.logger.Error().Str("job_id", job.JobID).Str("stack", string(debug.Stack())).Msg("ingestion panicked")
		}
		if err := i.notify(ctx, job, ingestErr); err != nil {
			return
		}
		i.ack(d)
	}()

	ingestErr = i.Ingest(ctx, job)
}

func (i *DocumentIngestor) notify(ctx context.Context, job models.IngestionJob, ingestErr error) error {
	completion := models.JobCompletion{JobID: job.JobID}
	if ingestErr != nil {
		completion.Error = ingestErr.Error()
		i.logger.Error().Err(ingestErr).Str("job_id", job.JobID).Str("filename", job.Filename).Msg("ingestion failed")
	}
	if err := i.notifier.NotifyCompletion(ctx, completion); err != nil {
		i.logger.Error().Err(err).Str("job_id", job.JobID).Msg("failed to notify job completion")
		return err
	}
	return nil
}

func (i *DocumentIngestor) ack(d *core.Delivery) {
	if err := d.Ack(); err != nil {
		i.logger.Error().Err(err).Str("job_id", d.Job.JobID).Msg("failed to ack job")
	}
}

// Ingest extracts, tags, chunks, embeds and indexes one uploaded file.
func (i *DocumentIngestor) Ingest(ctx context.Context, job models.IngestionJob) error {
	started := time.Now()

	pages, err := i.extract(ctx, job)
	if err != nil {
		return err
	}

	meta := models.ChunkMetadata{
		Source:           job.SourcePath,
		OriginalFilename: filepath.Base(job.Filename),
		SessionID:        job.SessionID,
		JobID:            job.JobID,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	chunkCh := i.streamChunk(gctx, g, pages)

	// Embedding runs on this goroutine so a panic in a provider reaches
	// Handle's recover.
	n, err := i.embedAndPersist(gctx, meta, chunkCh)
	if err != nil {
		cancel()
		_ = g.Wait()
		return err
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if n == 0 {
		return ErrNoText
	}

	i.logger.Info().
		Str("job_id", job.JobID).
		Str("filename", meta.OriginalFilename).
		Str("chat_id", job.SessionID).
		Int("pages", len(pages)).
		Int("chunks", n).
		Dur("took", time.Since(started)).
		Msg("document ingested")
	return nil
}

func (i *DocumentIngestor) extract(ctx context.Context, job models.IngestionJob) ([]models.PageBlock, error) {
	ctx, cancel := context.WithTimeout(ctx, i.cfg.ExtractTimeout)
	defer cancel()

	rc, err := i.obj.GetObjectReader(ctx, job.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", job.SourcePath, err)
	}
	defer rc.Close()

	pages, err := i.extractor.ExtractPages(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return pages, nil
}

// embedAndPersist consumes chunks, embeds them in batches and writes each
// batch to the index. It returns the number of chunks written.
func (i *DocumentIngestor) embedAndPersist(ctx context.Context, meta models.ChunkMetadata, in <-chan chunk) (int, error) {
	batch := make([]chunk, 0, i.cfg.BatchSize)
	written := 0

	flush := func(items []chunk) error {
		if len(items) == 0 {
			return nil
		}

		texts := make([]string, len(items))
		for k := range items {
			texts[k] = items[k].Text
		}

		embedCtx, cancel := context.WithTimeout(ctx, i.cfg.EmbedTimeout)
		vecs, err := i.embedder.EmbedTexts(embedCtx, texts)
		cancel()
		if err != nil {
			return fmt.Errorf("embed: %w", err)
		}
		if len(vecs) != len(items) {
			return fmt.Errorf("embed size mismatch: got %d want %d", len(vecs), len(items))
		}

		rows := make([]models.Chunk, len(items))
		for k := range items {
			pos := written + k
			m := meta
			m.PageNumber = items[k].Page
			rows[k] = models.Chunk{
				ID:          ChunkID(meta.JobID, pos),
				PageContent: items[k].Text,
				Metadata:    m,
				Offset:      items[k].Offset,
				Position:    pos,
				Embedding:   vecs[k],
			}
		}

		indexCtx, cancel := context.WithTimeout(ctx, i.cfg.IndexTimeout)
		err = i.index.InsertChunks(indexCtx, rows)
		cancel()
		if err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
		written += len(rows)
		return nil
	}

	for c := range in {
		batch = append(batch, c)
		if len(batch) == i.cfg.BatchSize {
			if err := flush(batch); err != nil {
				return written, err
			}
			batch = batch[:0]
		}
	}
	if err := ctx.Err(); err != nil {
		return written, err
	}
	if err := flush(batch); err != nil {
		return written, err
	}
	return written, nil
}
