package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/models"
)

// MemoryStatusStore is the default status backend. Records live as long as
// the process.
type MemoryStatusStore struct {
	mu      sync.RWMutex
	records map[string]models.FileStatus
}

func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{records: make(map[string]models.FileStatus)}
}

func (m *MemoryStatusStore) Get(_ context.Context, jobID string) (models.FileStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.records[jobID]
	if !ok {
		return models.FileStatus{}, core.ErrNotFound
	}
	return cloneStatus(st), nil
}

func (m *MemoryStatusStore) Set(_ context.Context, st models.FileStatus) error {
	m.mu.Lock()
	m.records[st.JobID] = cloneStatus(st)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStatusStore) Delete(_ context.Context, jobID string) error {
	m.mu.Lock()
	delete(m.records, jobID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStatusStore) Update(_ context.Context, jobID string, fn func(*models.FileStatus) bool) (models.FileStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.records[jobID]
	if !ok {
		return models.FileStatus{}, core.ErrNotFound
	}
	st = cloneStatus(st)
	if fn(&st) {
		m.records[jobID] = cloneStatus(st)
	}
	return st, nil
}

func (m *MemoryStatusStore) ScanBySession(_ context.Context, sessionID string) ([]models.FileStatus, error) {
	m.mu.RLock()
	var out []models.FileStatus
	for _, st := range m.records {
		if st.SessionID == sessionID {
			out = append(out, cloneStatus(st))
		}
	}
	m.mu.RUnlock()
	sortStatuses(out)
	return out, nil
}

func (m *MemoryStatusStore) DeleteCreatedBefore(_ context.Context, t time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, st := range m.records {
		if st.CreatedAt.Before(t) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

// cloneStatus copies the CompletedAt pointer so callers never share state
// with the map.
func cloneStatus(st models.FileStatus) models.FileStatus {
	if st.CompletedAt != nil {
		t := *st.CompletedAt
		st.CompletedAt = &t
	}
	return st
}

func sortStatuses(s []models.FileStatus) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].CreatedAt.Before(s[j].CreatedAt)
		}
		return s[i].JobID < s[j].JobID
	})
}

var _ core.StatusStore = (*MemoryStatusStore)(nil)
