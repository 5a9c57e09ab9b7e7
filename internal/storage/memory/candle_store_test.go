package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"candlewatch/internal/domain"
	"candlewatch/internal/storage"
)

func bar(symbolID int64, iv string, ts time.Time, close float64) *domain.Candle {
	return &domain.Candle{
		SymbolID: symbolID,
		Interval: iv,
		Ts:       ts,
		Open:     close - 1,
		High:     close + 1,
		Low:      close - 2,
		Close:    close,
		Volume:   100,
	}
}

func TestCandleStore_UpsertLastWriteWins(t *testing.T) {
	store := NewCandleStore()
	ctx := context.Background()
	ts := time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC)

	if err := store.UpsertBulk(ctx, []*domain.Candle{bar(1, "1d", ts, 105)}); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if err := store.UpsertBulk(ctx, []*domain.Candle{bar(1, "1d", ts, 115)}); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	got, err := store.GetByTimeRange(ctx, 1, "1d", ts, ts)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 row after re-upsert, got %d", len(got))
	}
	if got[0].Close != 115 {
		t.Errorf("Close = %v, want 115 (last write wins)", got[0].Close)
	}

	n, err := store.Count(ctx, 1, "1d")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestCandleStore_UpsertEmptyIsNoop(t *testing.T) {
	store := NewCandleStore()

	if err := store.UpsertBulk(context.Background(), nil); err != nil {
		t.Errorf("empty upsert should be a no-op, got %v", err)
	}
}

func TestCandleStore_UpsertInvalidInput(t *testing.T) {
	store := NewCandleStore()

	err := store.UpsertBulk(context.Background(), []*domain.Candle{{SymbolID: 0}})
	if err != storage.ErrInvalidInput {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCandleStore_ConcurrentUpsertSameKey(t *testing.T) {
	store := NewCandleStore()
	ctx := context.Background()
	ts := time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(close float64) {
			defer wg.Done()
			_ = store.UpsertBulk(ctx, []*domain.Candle{bar(1, "1h", ts, close)})
		}(float64(100 + i))
	}
	wg.Wait()

	n, err := store.Count(ctx, 1, "1h")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("concurrent upserts produced %d rows, want 1", n)
	}
}

func TestCandleStore_GetTimestampsOrdered(t *testing.T) {
	store := NewCandleStore()
	ctx := context.Background()
	base := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

	batch := []*domain.Candle{
		bar(1, "1d", base.AddDate(0, 0, 2), 3),
		bar(1, "1d", base, 1),
		bar(1, "1d", base.AddDate(0, 0, 1), 2),
		bar(2, "1d", base, 9), // other series excluded
	}
	if err := store.UpsertBulk(ctx, batch); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := store.GetTimestamps(ctx, 1, "1d", base, base.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("GetTimestamps failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 timestamps, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Before(got[i]) {
			t.Errorf("timestamps not ascending: %v", got)
		}
	}
}
