package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/models"
)

// StatusStore keeps file statuses in the file_statuses table, so several API
// instances can share one view of ingestion progress. Calls made with a ctx
// from JobQueue.Enqueue's hook join the enqueue transaction.
type StatusStore struct {
	db *sql.DB
}

func NewStatusStore(db *sql.DB) *StatusStore {
	return &StatusStore{db: db}
}

const statusColumns = `job_id, filename, session_id, status, created_at, completed_at, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatus(row rowScanner) (models.FileStatus, error) {
	var (
		s           models.FileStatus
		completedAt sql.NullTime
	)
	if err := row.Scan(&s.JobID, &s.Filename, &s.SessionID, &s.Status, &s.CreatedAt, &completedAt, &s.Error); err != nil {
		return models.FileStatus{}, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		s.CompletedAt = &t
	}
	return s, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (s *StatusStore) Get(ctx context.Context, jobID string) (models.FileStatus, error) {
	row := conn(ctx, s.db).QueryRowContext(ctx, `SELECT `+statusColumns+` FROM file_statuses WHERE job_id = $1`, jobID)
	st, err := scanStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FileStatus{}, core.ErrNotFound
	}
	return st, err
}

func (s *StatusStore) Set(ctx context.Context, st models.FileStatus) error {
	const q = `
		INSERT INTO file_statuses (` + statusColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id) DO UPDATE SET
			filename = EXCLUDED.filename,
			session_id = EXCLUDED.session_id,
			status = EXCLUDED.status,
			created_at = EXCLUDED.created_at,
			completed_at = EXCLUDED.completed_at,
			error = EXCLUDED.error
	`
	_, err := conn(ctx, s.db).ExecContext(ctx, q,
		st.JobID, st.Filename, st.SessionID, st.Status, st.CreatedAt, nullTime(st.CompletedAt), st.Error)
	return err
}

func (s *StatusStore) Delete(ctx context.Context, jobID string) error {
	_, err := conn(ctx, s.db).ExecContext(ctx, `DELETE FROM file_statuses WHERE job_id = $1`, jobID)
	return err
}

// Update locks the row for the duration of fn. Inside an enqueue
// transaction it runs on that transaction and leaves the commit to it.
func (s *StatusStore) Update(ctx context.Context, jobID string, fn func(*models.FileStatus) bool) (models.FileStatus, error) {
	tx, joined := txFrom(ctx)
	if !joined {
		var err error
		if tx, err = s.db.BeginTx(ctx, nil); err != nil {
			return models.FileStatus{}, err
		}
		defer func() { _ = tx.Rollback() }()
	}

	row := tx.QueryRowContext(ctx, `SELECT `+statusColumns+` FROM file_statuses WHERE job_id = $1 FOR UPDATE`, jobID)
	st, err := scanStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FileStatus{}, core.ErrNotFound
	}
	if err != nil {
		return models.FileStatus{}, err
	}

	if !fn(&st) {
		return st, nil
	}

	const q = `
		UPDATE file_statuses
		SET status = $2, completed_at = $3, error = $4
		WHERE job_id = $1
	`
	if _, err := tx.ExecContext(ctx, q, st.JobID, st.Status, nullTime(st.CompletedAt), st.Error); err != nil {
		return models.FileStatus{}, err
	}
	if joined {
		return st, nil
	}
	if err := tx.Commit(); err != nil {
		return models.FileStatus{}, fmt.Errorf("commit status update: %w", err)
	}
	return st, nil
}

func (s *StatusStore) ScanBySession(ctx context.Context, sessionID string) ([]models.FileStatus, error) {
	rows, err := conn(ctx, s.db).QueryContext(ctx,
		`SELECT `+statusColumns+` FROM file_statuses WHERE session_id = $1 ORDER BY created_at, job_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FileStatus
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *StatusStore) DeleteCreatedBefore(ctx context.Context, t time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM file_statuses WHERE created_at < $1`, t)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

var _ core.StatusStore = (*StatusStore)(nil)
