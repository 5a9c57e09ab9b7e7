package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"candlewatch/internal/domain"
	"candlewatch/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Candle // keyed by (symbol_id, interval, ts)
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[string]*domain.Candle),
	}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// candleKey generates the unique key for a candle.
func candleKey(symbolID int64, interval string, ts time.Time) string {
	return fmt.Sprintf("%d|%s|%d", symbolID, interval, ts.UTC().Unix())
}

// UpsertBulk inserts or replaces candles atomically. On key conflict the
// O/H/L/C/V fields are overwritten (last-write-wins). No-op on empty input.
func (s *CandleStore) UpsertBulk(_ context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	for _, c := range candles {
		if c == nil || c.SymbolID == 0 || c.Interval == "" || c.Ts.IsZero() {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range candles {
		candleCopy := *c
		candleCopy.Ts = c.Ts.UTC()
		s.data[candleKey(c.SymbolID, c.Interval, c.Ts)] = &candleCopy
	}

	return nil
}

// GetTimestamps returns stored bar timestamps within [start, end], ordered ASC.
func (s *CandleStore) GetTimestamps(_ context.Context, symbolID int64, interval string, start, end time.Time) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []time.Time
	for _, c := range s.data {
		if c.SymbolID == symbolID && c.Interval == interval && inRange(c.Ts, start, end) {
			out = append(out, c.Ts)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// GetByTimeRange returns candles within [start, end], ordered by ts ASC.
func (s *CandleStore) GetByTimeRange(_ context.Context, symbolID int64, interval string, start, end time.Time) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Candle
	for _, c := range s.data {
		if c.SymbolID == symbolID && c.Interval == interval && inRange(c.Ts, start, end) {
			candleCopy := *c
			out = append(out, &candleCopy)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Ts.Before(out[j].Ts) })
	return out, nil
}

// Count returns the number of stored candles for a series.
func (s *CandleStore) Count(_ context.Context, symbolID int64, interval string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, c := range s.data {
		if c.SymbolID == symbolID && c.Interval == interval {
			n++
		}
	}
	return n, nil
}

// inRange reports start <= ts <= end.
func inRange(ts, start, end time.Time) bool {
	return !ts.Before(start.UTC()) && !ts.After(end.UTC())
}
