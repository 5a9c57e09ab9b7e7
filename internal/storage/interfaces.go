package storage

import (
	"context"
	"time"

	"candlewatch/internal/domain"
)

// CandleStore provides access to candles storage. Candles are unique on
// (symbol_id, interval, ts); writes are conflict-replacing upserts, so
// repeated delivery of the same bar never creates duplicate rows.
type CandleStore interface {
	// UpsertBulk inserts or replaces candles atomically. On key conflict the
	// O/H/L/C/V fields are overwritten (last-write-wins). No-op on empty input.
	UpsertBulk(ctx context.Context, candles []*domain.Candle) error

	// GetTimestamps returns stored bar timestamps for a series within
	// [start, end] inclusive, ordered ASC.
	GetTimestamps(ctx context.Context, symbolID int64, interval string, start, end time.Time) ([]time.Time, error)

	// GetByTimeRange returns candles for a series within [start, end]
	// inclusive, ordered by ts ASC.
	GetByTimeRange(ctx context.Context, symbolID int64, interval string, start, end time.Time) ([]*domain.Candle, error)

	// Count returns the number of stored candles for a series.
	Count(ctx context.Context, symbolID int64, interval string) (int, error)
}

// AlertStore provides access to alerts storage.
type AlertStore interface {
	// Insert adds a new alert. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, a *domain.Alert) error

	// GetByID retrieves an alert. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Alert, error)

	// GetActiveBySymbol retrieves all active alerts for a symbol.
	GetActiveBySymbol(ctx context.Context, symbolID int64) ([]*domain.Alert, error)

	// Update persists changed alert fields, including trigger bookkeeping.
	// Returns ErrNotFound if the alert does not exist.
	Update(ctx context.Context, a *domain.Alert) error

	// Deactivate flips is_active to false. Returns ErrNotFound if not exists.
	Deactivate(ctx context.Context, id string) error
}

// TriggerStore provides access to alert_triggers storage.
type TriggerStore interface {
	// Insert adds a new trigger record. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, t *domain.AlertTrigger) error

	// GetByAlertID retrieves all triggers for an alert, ordered by triggered_at ASC.
	GetByAlertID(ctx context.Context, alertID string) ([]*domain.AlertTrigger, error)

	// ListUndelivered retrieves triggers in pending or retrying status, up to limit.
	ListUndelivered(ctx context.Context, limit int) ([]*domain.AlertTrigger, error)

	// UpdateDelivery advances delivery bookkeeping for a trigger.
	UpdateDelivery(ctx context.Context, id string, status domain.DeliveryStatus, retryCount int, lastRetryAt *time.Time) error
}

// BackfillJobStore provides access to backfill_jobs storage.
type BackfillJobStore interface {
	// Insert adds a new job. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, j *domain.BackfillJob) error

	// GetByID retrieves a job. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.BackfillJob, error)

	// ListByStatus retrieves jobs in the given status, ordered by created_at ASC.
	ListByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.BackfillJob, error)

	// SetStatus transitions a job's status, recording errorMessage for
	// failures. Returns ErrTerminalStatus if the job is already terminal.
	SetStatus(ctx context.Context, id string, status domain.JobStatus, errorMessage string) error
}

// CandleArchive is a long-horizon, analytics-oriented candle sink. Writes are
// eventually deduplicated by the storage engine; reads may observe a short
// window of duplicate rows before merges settle.
type CandleArchive interface {
	// WriteBatch appends candles to the archive.
	WriteBatch(ctx context.Context, candles []*domain.Candle) error

	// ReadRange returns archived candles for a series within [start, end],
	// ordered by ts ASC, deduplicated.
	ReadRange(ctx context.Context, symbolID int64, interval string, start, end time.Time) ([]*domain.Candle, error)
}
