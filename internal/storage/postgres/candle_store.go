package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"candlewatch/internal/domain"
	"candlewatch/internal/observability"
	"candlewatch/internal/storage"
)

// CandleStore implements storage.CandleStore using PostgreSQL. The
// candles_symbol_interval_ts_key unique index plus ON CONFLICT DO UPDATE is
// the real idempotency guarantee: two processes racing on the same bar end up
// with one row carrying the last write.
type CandleStore struct {
	pool *Pool
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(pool *Pool) *CandleStore {
	return &CandleStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// UpsertBulk inserts or replaces candles atomically. On key conflict the
// O/H/L/C/V fields are overwritten (last-write-wins). No-op on empty input.
func (s *CandleStore) UpsertBulk(ctx context.Context, candles []*domain.Candle) (err error) {
	if len(candles) == 0 {
		return nil
	}
	for _, c := range candles {
		if c == nil || c.SymbolID == 0 || c.Interval == "" || c.Ts.IsZero() {
			return storage.ErrInvalidInput
		}
	}

	defer func(startedAt time.Time) {
		observability.RecordDBQuery("postgres", "candles_upsert", time.Since(startedAt).Seconds(), err)
	}(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO candles (symbol_id, ticker, interval, ts, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol_id, interval, ts) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`

	for _, c := range candles {
		_, err := tx.Exec(ctx, query,
			c.SymbolID,
			c.Ticker,
			c.Interval,
			c.Ts.UTC(),
			c.Open,
			c.High,
			c.Low,
			c.Close,
			c.Volume,
		)
		if err != nil {
			return fmt.Errorf("upsert candle: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetTimestamps returns stored bar timestamps within [start, end], ordered ASC.
func (s *CandleStore) GetTimestamps(ctx context.Context, symbolID int64, interval string, start, end time.Time) (_ []time.Time, err error) {
	defer func(startedAt time.Time) {
		observability.RecordDBQuery("postgres", "candles_timestamps", time.Since(startedAt).Seconds(), err)
	}(time.Now())

	query := `
		SELECT ts FROM candles
		WHERE symbol_id = $1 AND interval = $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts ASC
	`

	rows, err := s.pool.Query(ctx, query, symbolID, interval, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("get candle timestamps: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("scan timestamp row: %w", err)
		}
		out = append(out, ts.UTC())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timestamp rows: %w", err)
	}

	return out, nil
}

// GetByTimeRange returns candles within [start, end], ordered by ts ASC.
func (s *CandleStore) GetByTimeRange(ctx context.Context, symbolID int64, interval string, start, end time.Time) (_ []*domain.Candle, err error) {
	defer func(startedAt time.Time) {
		observability.RecordDBQuery("postgres", "candles_range", time.Since(startedAt).Seconds(), err)
	}(time.Now())

	query := `
		SELECT id, symbol_id, ticker, interval, ts, open, high, low, close, volume
		FROM candles
		WHERE symbol_id = $1 AND interval = $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts ASC
	`

	rows, err := s.pool.Query(ctx, query, symbolID, interval, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("get candles by time range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// Count returns the number of stored candles for a series.
func (s *CandleStore) Count(ctx context.Context, symbolID int64, interval string) (_ int, err error) {
	defer func(startedAt time.Time) {
		observability.RecordDBQuery("postgres", "candles_count", time.Since(startedAt).Seconds(), err)
	}(time.Now())

	var n int
	err = s.pool.QueryRow(ctx,
		`SELECT count(*) FROM candles WHERE symbol_id = $1 AND interval = $2`,
		symbolID, interval,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count candles: %w", err)
	}
	return n, nil
}

// scanCandles scans multiple rows into a slice of Candle.
func scanCandles(rows pgx.Rows) ([]*domain.Candle, error) {
	var out []*domain.Candle

	for rows.Next() {
		var c domain.Candle
		err := rows.Scan(
			&c.ID,
			&c.SymbolID,
			&c.Ticker,
			&c.Interval,
			&c.Ts,
			&c.Open,
			&c.High,
			&c.Low,
			&c.Close,
			&c.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		c.Ts = c.Ts.UTC()
		out = append(out, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}

	return out, nil
}
