package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/models"
)

// JobQueue is a Postgres-backed queue usable from any number of producer
// and consumer processes. Consumers claim rows with FOR UPDATE SKIP LOCKED.
type JobQueue struct {
	db                *sql.DB
	queueName         string
	visibilityTimeout time.Duration
}

func NewJobQueue(db *sql.DB, queueName string, visibilityTimeout time.Duration) (*JobQueue, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	return &JobQueue{db: db, queueName: queueName, visibilityTimeout: visibilityTimeout}, nil
}

// Enqueue inserts the job and calls onAssigned inside the same transaction,
// so consumers cannot see the row until onAssigned has returned. The ctx
// passed to onAssigned carries the transaction; stores in this package use
// it instead of taking a second connection from the pool.
func (q *JobQueue) Enqueue(ctx context.Context, job models.IngestionJob, onAssigned func(ctx context.Context, jobID string) error) (string, error) {
	job.JobID = ""
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin enqueue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	if err := tx.QueryRowContext(ctx,
		`INSERT INTO ingestion_jobs (queue, payload) VALUES ($1, $2) RETURNING id`,
		q.queueName, payload,
	).Scan(&id); err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}

	jobID := strconv.FormatInt(id, 10)
	if onAssigned != nil {
		if err := onAssigned(withTx(ctx, tx), jobID); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit enqueue: %w", err)
	}
	return jobID, nil
}

// Receive claims the oldest visible job and hides it for the visibility
// timeout.
func (q *JobQueue) Receive(ctx context.Context) (*core.Delivery, error) {
	const claim = `
		UPDATE ingestion_jobs
		SET receive_count = receive_count + 1,
		    visible_at = now() + make_interval(secs => $2)
		WHERE id = (
			SELECT id FROM ingestion_jobs
			WHERE queue = $1 AND visible_at <= now()
			ORDER BY id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, payload, receive_count
	`
	var (
		id      int64
		payload []byte
		attempt int
	)
	err := q.db.QueryRowContext(ctx, claim, q.queueName, q.visibilityTimeout.Seconds()).Scan(&id, &payload, &attempt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNoMessage
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	var job models.IngestionJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("decode job %d: %w", id, err)
	}
	job.JobID = strconv.FormatInt(id, 10)

	return &core.Delivery{
		Job:     job,
		Attempt: attempt,
		Ack: func() error {
			_, err := q.db.ExecContext(context.Background(), `DELETE FROM ingestion_jobs WHERE id = $1`, id)
			return err
		},
	}, nil
}

// Close is a no-op; the connection pool is owned by the caller.
func (q *JobQueue) Close() error {
	return nil
}

var _ core.JobQueue = (*JobQueue)(nil)
