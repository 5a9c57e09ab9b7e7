package memory

import (
	"context"
	"sort"
	"sync"

	"candlewatch/internal/domain"
	"candlewatch/internal/storage"
)

// AlertStore is an in-memory implementation of storage.AlertStore.
type AlertStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Alert // keyed by alert id
}

// NewAlertStore creates a new in-memory alert store.
func NewAlertStore() *AlertStore {
	return &AlertStore{
		data: make(map[string]*domain.Alert),
	}
}

// Compile-time interface check.
var _ storage.AlertStore = (*AlertStore)(nil)

// Insert adds a new alert. Returns ErrDuplicateKey if the id exists.
func (s *AlertStore) Insert(_ context.Context, a *domain.Alert) error {
	if a == nil || a.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[a.ID]; exists {
		return storage.ErrDuplicateKey
	}

	alertCopy := copyAlert(a)
	s.data[a.ID] = alertCopy
	return nil
}

// GetByID retrieves an alert. Returns ErrNotFound if not exists.
func (s *AlertStore) GetByID(_ context.Context, id string) (*domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyAlert(a), nil
}

// GetActiveBySymbol retrieves all active alerts for a symbol, ordered by
// created_at ASC.
func (s *AlertStore) GetActiveBySymbol(_ context.Context, symbolID int64) ([]*domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Alert
	for _, a := range s.data {
		if a.SymbolID == symbolID && a.IsActive {
			out = append(out, copyAlert(a))
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

// Update persists changed alert fields. Returns ErrNotFound if not exists.
func (s *AlertStore) Update(_ context.Context, a *domain.Alert) error {
	if a == nil || a.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[a.ID]; !exists {
		return storage.ErrNotFound
	}
	s.data[a.ID] = copyAlert(a)
	return nil
}

// Deactivate flips is_active to false. Returns ErrNotFound if not exists.
func (s *AlertStore) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	a.IsActive = false
	return nil
}

// copyAlert deep-copies an alert, including its params map and time pointers.
func copyAlert(a *domain.Alert) *domain.Alert {
	alertCopy := *a
	if a.IndicatorParams != nil {
		alertCopy.IndicatorParams = make(map[string]float64, len(a.IndicatorParams))
		for k, v := range a.IndicatorParams {
			alertCopy.IndicatorParams[k] = v
		}
	}
	if a.LastTriggeredAt != nil {
		t := *a.LastTriggeredAt
		alertCopy.LastTriggeredAt = &t
	}
	if a.LastTriggeredBarTs != nil {
		t := *a.LastTriggeredBarTs
		alertCopy.LastTriggeredBarTs = &t
	}
	return &alertCopy
}
