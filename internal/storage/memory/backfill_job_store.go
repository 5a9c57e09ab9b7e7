package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"candlewatch/internal/domain"
	"candlewatch/internal/storage"
)

// BackfillJobStore is an in-memory implementation of storage.BackfillJobStore.
type BackfillJobStore struct {
	mu   sync.RWMutex
	data map[string]*domain.BackfillJob // keyed by job id
}

// NewBackfillJobStore creates a new in-memory backfill job store.
func NewBackfillJobStore() *BackfillJobStore {
	return &BackfillJobStore{
		data: make(map[string]*domain.BackfillJob),
	}
}

// Compile-time interface check.
var _ storage.BackfillJobStore = (*BackfillJobStore)(nil)

// Insert adds a new job. Returns ErrDuplicateKey if the id exists.
func (s *BackfillJobStore) Insert(_ context.Context, j *domain.BackfillJob) error {
	if j == nil || j.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[j.ID]; exists {
		return storage.ErrDuplicateKey
	}

	jobCopy := *j
	s.data[j.ID] = &jobCopy
	return nil
}

// GetByID retrieves a job. Returns ErrNotFound if not exists.
func (s *BackfillJobStore) GetByID(_ context.Context, id string) (*domain.BackfillJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	jobCopy := *j
	return &jobCopy, nil
}

// ListByStatus retrieves jobs in the given status, ordered by created_at ASC.
func (s *BackfillJobStore) ListByStatus(_ context.Context, status domain.JobStatus) ([]*domain.BackfillJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.BackfillJob
	for _, j := range s.data {
		if j.Status == status {
			jobCopy := *j
			out = append(out, &jobCopy)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SetStatus transitions a job's status. Terminal states are final.
func (s *BackfillJobStore) SetStatus(_ context.Context, id string, status domain.JobStatus, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if j.Status.Terminal() {
		return storage.ErrTerminalStatus
	}

	j.Status = status
	j.ErrorMessage = errorMessage
	j.UpdatedAt = time.Now().UTC()
	return nil
}
