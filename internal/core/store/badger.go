package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/phuslu/log"
	"github.com/timshannon/badgerhold/v4"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/models"
)

// OpenBadger opens the local badgerhold store shared by the Badger queue and
// the Badger status store. An empty path opens an in-memory database.
func OpenBadger(path string, logger *log.Logger) (*badgerhold.Store, error) {
	options := badgerhold.DefaultOptions
	options.Logger = nil
	if path == "" {
		options.InMemory = true
		options.Dir = ""
		options.ValueDir = ""
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		options.Dir = path
		options.ValueDir = path
	}

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	if logger != nil {
		logger.Debug().Str("path", path).Bool("in_memory", path == "").Msg("Badger database initialized")
	}
	return store, nil
}

const maxConflictRetries = 5

// BadgerStatusStore keeps file statuses in badgerhold, indexed by session.
type BadgerStatusStore struct {
	store *badgerhold.Store
}

func NewBadgerStatusStore(store *badgerhold.Store) *BadgerStatusStore {
	return &BadgerStatusStore{store: store}
}

func (s *BadgerStatusStore) Get(_ context.Context, jobID string) (models.FileStatus, error) {
	var st models.FileStatus
	err := s.store.Get(jobID, &st)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return models.FileStatus{}, core.ErrNotFound
	}
	if err != nil {
		return models.FileStatus{}, fmt.Errorf("failed to get status: %w", err)
	}
	return st, nil
}

func (s *BadgerStatusStore) Set(_ context.Context, st models.FileStatus) error {
	if err := s.store.Upsert(st.JobID, st); err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}
	return nil
}

func (s *BadgerStatusStore) Delete(_ context.Context, jobID string) error {
	err := s.store.Delete(jobID, models.FileStatus{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete status: %w", err)
	}
	return nil
}

// Update runs fn inside a badger transaction and retries on write conflicts.
func (s *BadgerStatusStore) Update(_ context.Context, jobID string, fn func(*models.FileStatus) bool) (models.FileStatus, error) {
	var result models.FileStatus
	for attempt := 0; ; attempt++ {
		err := s.store.Badger().Update(func(tx *badger.Txn) error {
			var st models.FileStatus
			if err := s.store.TxGet(tx, jobID, &st); err != nil {
				return err
			}
			result = st
			if !fn(&result) {
				return nil
			}
			return s.store.TxUpsert(tx, jobID, result)
		})
		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, badgerhold.ErrNotFound):
			return models.FileStatus{}, core.ErrNotFound
		case errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries:
			continue
		default:
			return models.FileStatus{}, fmt.Errorf("failed to update status: %w", err)
		}
	}
}

func (s *BadgerStatusStore) ScanBySession(_ context.Context, sessionID string) ([]models.FileStatus, error) {
	var out []models.FileStatus
	if err := s.store.Find(&out, badgerhold.Where("SessionID").Eq(sessionID).Index("SessionID")); err != nil {
		return nil, fmt.Errorf("failed to scan statuses: %w", err)
	}
	sortStatuses(out)
	return out, nil
}

func (s *BadgerStatusStore) DeleteCreatedBefore(_ context.Context, t time.Time) (int, error) {
	n := 0
	err := s.store.Badger().Update(func(tx *badger.Txn) error {
		var old []models.FileStatus
		if err := s.store.TxFind(tx, &old, badgerhold.Where("CreatedAt").Lt(t)); err != nil {
			return err
		}
		for _, st := range old {
			if err := s.store.TxDelete(tx, st.JobID, models.FileStatus{}); err != nil {
				return err
			}
		}
		n = len(old)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to evict statuses: %w", err)
	}
	return n, nil
}

var _ core.StatusStore = (*BadgerStatusStore)(nil)
