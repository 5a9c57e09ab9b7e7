package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"candlewatch/internal/domain"
	"candlewatch/internal/storage"
)

// TriggerStore is an in-memory implementation of storage.TriggerStore.
type TriggerStore struct {
	mu   sync.RWMutex
	data map[string]*domain.AlertTrigger // keyed by trigger id
	seq  map[string]int                  // insertion order, for stable listing
	next int
}

// NewTriggerStore creates a new in-memory trigger store.
func NewTriggerStore() *TriggerStore {
	return &TriggerStore{
		data: make(map[string]*domain.AlertTrigger),
		seq:  make(map[string]int),
	}
}

// Compile-time interface check.
var _ storage.TriggerStore = (*TriggerStore)(nil)

// Insert adds a new trigger record. Returns ErrDuplicateKey if the id exists.
func (s *TriggerStore) Insert(_ context.Context, t *domain.AlertTrigger) error {
	if t == nil || t.ID == "" || t.AlertID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.ID]; exists {
		return storage.ErrDuplicateKey
	}

	triggerCopy := copyTrigger(t)
	s.data[t.ID] = triggerCopy
	s.seq[t.ID] = s.next
	s.next++
	return nil
}

// GetByAlertID retrieves all triggers for an alert, ordered by triggered_at ASC.
func (s *TriggerStore) GetByAlertID(_ context.Context, alertID string) ([]*domain.AlertTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.AlertTrigger
	for _, t := range s.data {
		if t.AlertID == alertID {
			out = append(out, copyTrigger(t))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].TriggeredAt.Before(out[j].TriggeredAt)
	})
	return out, nil
}

// ListUndelivered retrieves triggers in pending or retrying status, oldest
// first, up to limit.
func (s *TriggerStore) ListUndelivered(_ context.Context, limit int) ([]*domain.AlertTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.AlertTrigger
	for _, t := range s.data {
		if t.DeliveryStatus == domain.DeliveryPending || t.DeliveryStatus == domain.DeliveryRetrying {
			out = append(out, copyTrigger(t))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateDelivery advances delivery bookkeeping for a trigger.
func (s *TriggerStore) UpdateDelivery(_ context.Context, id string, status domain.DeliveryStatus, retryCount int, lastRetryAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}

	t.DeliveryStatus = status
	t.RetryCount = retryCount
	if lastRetryAt != nil {
		at := *lastRetryAt
		t.LastRetryAt = &at
	}
	return nil
}

// copyTrigger deep-copies a trigger record.
func copyTrigger(t *domain.AlertTrigger) *domain.AlertTrigger {
	triggerCopy := *t
	if t.LastRetryAt != nil {
		at := *t.LastRetryAt
		triggerCopy.LastRetryAt = &at
	}
	return &triggerCopy
}
