package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phuslu/log"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/models"
)

// StatusService tracks the processing status of every uploaded file, keyed
// by job id and grouped by chat session.
type StatusService struct {
	store  core.StatusStore
	logger *log.Logger
	now    func() time.Time
}

func NewStatusService(store core.StatusStore, logger *log.Logger) *StatusService {
	return &StatusService{store: store, logger: logger, now: time.Now}
}

// Track records a freshly enqueued job as processing.
func (s *StatusService) Track(ctx context.Context, jobID, filename, sessionID string) error {
	st := models.FileStatus{
		JobID:     jobID,
		Filename:  filename,
		SessionID: sessionID,
		Status:    models.StatusProcessing,
		CreatedAt: s.now(),
	}
	if err := s.store.Set(ctx, st); err != nil {
		return fmt.Errorf("track job %s: %w", jobID, err)
	}
	return nil
}

// Complete marks a job completed. A failed ingestion still completes, with
// its error kept on the record. Completing an already completed job returns
// the stored record unchanged.
func (s *StatusService) Complete(ctx context.Context, c models.JobCompletion) (models.FileStatus, error) {
	st, err := s.store.Update(ctx, c.JobID, func(st *models.FileStatus) bool {
		if st.IsCompleted() {
			return false
		}
		now := s.now()
		st.Status = models.StatusCompleted
		st.CompletedAt = &now
		st.Error = c.Error
		return true
	})
	if errors.Is(err, core.ErrNotFound) {
		return models.FileStatus{}, ErrJobNotFound
	}
	if err != nil {
		return models.FileStatus{}, fmt.Errorf("complete job %s: %w", c.JobID, err)
	}

	s.logger.Info().Str("job_id", st.JobID).Str("chat_id", st.SessionID).Str("error", st.Error).Msg("job completed")
	return st, nil
}

// QueryByJobIDs returns one record per id, in order. Ids without a record
// yield an unknown status.
func (s *StatusService) QueryByJobIDs(ctx context.Context, jobIDs []string) ([]models.FileStatus, error) {
	out := make([]models.FileStatus, 0, len(jobIDs))
	for _, id := range jobIDs {
		st, err := s.store.Get(ctx, id)
		switch {
		case errors.Is(err, core.ErrNotFound):
			out = append(out, models.UnknownStatus(id))
		case err != nil:
			return nil, fmt.Errorf("query job %s: %w", id, err)
		default:
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *StatusService) QueryBySession(ctx context.Context, sessionID string) ([]models.FileStatus, error) {
	out, err := s.store.ScanBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query chat %s: %w", sessionID, err)
	}
	if out == nil {
		out = []models.FileStatus{}
	}
	return out, nil
}

// AllCompleted is false for an empty list.
func AllCompleted(statuses []models.FileStatus) bool {
	if len(statuses) == 0 {
		return false
	}
	for _, st := range statuses {
		if !st.IsCompleted() {
			return false
		}
	}
	return true
}

// Forget drops a record. Used to roll back a failed enqueue.
func (s *StatusService) Forget(ctx context.Context, jobID string) error {
	return s.store.Delete(ctx, jobID)
}

// Evict removes records created more than olderThan ago.
func (s *StatusService) Evict(ctx context.Context, olderThan time.Duration) (int, error) {
	return s.store.DeleteCreatedBefore(ctx, s.now().Add(-olderThan))
}
