package clickhouse

import (
	"context"
	"fmt"
	"time"

	"candlewatch/internal/domain"
	"candlewatch/internal/observability"
	"candlewatch/internal/storage"
)

// CandleArchiveStore implements storage.CandleArchive using ClickHouse.
// The candle_archive table is a ReplacingMergeTree ordered by
// (symbol_id, interval, ts): re-written bars collapse to the newest row on
// merge, and reads use FINAL so callers never observe duplicates.
type CandleArchiveStore struct {
	conn *Conn
}

// NewCandleArchiveStore creates a new CandleArchiveStore.
func NewCandleArchiveStore(conn *Conn) *CandleArchiveStore {
	return &CandleArchiveStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleArchive = (*CandleArchiveStore)(nil)

// WriteBatch appends candles to the archive.
func (s *CandleArchiveStore) WriteBatch(ctx context.Context, candles []*domain.Candle) (err error) {
	if len(candles) == 0 {
		return nil
	}

	defer func(startedAt time.Time) {
		observability.RecordDBQuery("clickhouse", "archive_write", time.Since(startedAt).Seconds(), err)
	}(time.Now())

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candle_archive (
			symbol_id, ticker, interval, ts, open, high, low, close, volume
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range candles {
		err = batch.Append(
			uint64(c.SymbolID), c.Ticker, c.Interval, c.Ts.UTC(),
			c.Open, c.High, c.Low, c.Close, c.Volume,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// ReadRange returns archived candles for a series within [start, end],
// ordered by ts ASC, deduplicated.
func (s *CandleArchiveStore) ReadRange(ctx context.Context, symbolID int64, interval string, start, end time.Time) (_ []*domain.Candle, err error) {
	defer func(startedAt time.Time) {
		observability.RecordDBQuery("clickhouse", "archive_range", time.Since(startedAt).Seconds(), err)
	}(time.Now())

	query := `
		SELECT symbol_id, ticker, interval, ts, open, high, low, close, volume
		FROM candle_archive FINAL
		WHERE symbol_id = ? AND interval = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`

	rows, err := s.conn.Query(ctx, query, uint64(symbolID), interval, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query candle archive: %w", err)
	}
	defer rows.Close()

	var out []*domain.Candle
	for rows.Next() {
		var c domain.Candle
		var symID uint64

		err := rows.Scan(
			&symID, &c.Ticker, &c.Interval, &c.Ts,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}

		c.SymbolID = int64(symID)
		c.Ts = c.Ts.UTC()
		out = append(out, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archive rows: %w", err)
	}

	return out, nil
}
