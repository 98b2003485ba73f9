package core

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/markdave123-py/pdfchat/internal/models"
)

var (
	// ErrNoMessage is returned by JobQueue.Receive when nothing is visible.
	ErrNoMessage = errors.New("no messages in queue")
	// ErrNotFound is returned by stores for missing keys.
	ErrNotFound = errors.New("not found")
)

// ObjectClient stores uploaded files until a worker picks them up.
// It's abstract so the local disk can be swapped for S3 or any object storage.
type ObjectClient interface {
	// UploadFile stores data under key and returns the reference a worker
	// later passes to GetObjectReader.
	UploadFile(ctx context.Context, key string, data io.Reader, contentType string) (ref string, err error)
	GetObjectReader(ctx context.Context, ref string) (io.ReadCloser, error)
	DeleteFile(ctx context.Context, ref string) error
}

// VectorStore is the shared similarity index. Every chunk carries its
// session id and searches only ever see one session.
type VectorStore interface {
	InsertChunks(ctx context.Context, chunks []models.Chunk) error
	SearchChunks(ctx context.Context, sessionID string, queryVec []float32, limit int) ([]models.RetrievedDocument, error)
}

// StatusStore is the key-value backend of the status tracker.
// Implementations must be safe for concurrent use.
type StatusStore interface {
	Get(ctx context.Context, jobID string) (models.FileStatus, error)
	Set(ctx context.Context, status models.FileStatus) error
	Delete(ctx context.Context, jobID string) error
	// Update applies fn to the stored record atomically. fn returns false to
	// leave the record untouched.
	Update(ctx context.Context, jobID string, fn func(*models.FileStatus) bool) (models.FileStatus, error)
	ScanBySession(ctx context.Context, sessionID string) ([]models.FileStatus, error)
	// DeleteCreatedBefore removes records created before t and reports how many.
	DeleteCreatedBefore(ctx context.Context, t time.Time) (int, error)
}

// Delivery is a received job. Ack removes it from the queue; a delivery that
// is never acked becomes visible again after the visibility timeout.
type Delivery struct {
	Job     models.IngestionJob
	Attempt int
	Ack     func() error
}

// JobQueue decouples upload acceptance from ingestion.
type JobQueue interface {
	// Enqueue assigns the job id and calls onAssigned with it before the job
	// becomes visible to consumers. An error from onAssigned aborts the enqueue.
	// Writes made in onAssigned should use the ctx it is given: a transactional
	// queue carries its transaction there.
	Enqueue(ctx context.Context, job models.IngestionJob, onAssigned func(ctx context.Context, jobID string) error) (string, error)
	Receive(ctx context.Context) (*Delivery, error)
	Close() error
}

// CompletionNotifier carries "job finished" messages from the worker to the
// status tracker.
type CompletionNotifier interface {
	NotifyCompletion(ctx context.Context, completion models.JobCompletion) error
}
