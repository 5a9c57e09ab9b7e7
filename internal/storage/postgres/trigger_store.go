package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"candlewatch/internal/domain"
	"candlewatch/internal/storage"
)

// TriggerStore implements storage.TriggerStore using PostgreSQL.
type TriggerStore struct {
	pool *Pool
}

// NewTriggerStore creates a new TriggerStore.
func NewTriggerStore(pool *Pool) *TriggerStore {
	return &TriggerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TriggerStore = (*TriggerStore)(nil)

// Insert adds a new trigger record. Returns ErrDuplicateKey if the id exists.
func (s *TriggerStore) Insert(ctx context.Context, t *domain.AlertTrigger) error {
	if t == nil || t.ID == "" || t.AlertID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO alert_triggers (
			id, alert_id, triggered_at, observed_value, trigger_type, message,
			delivery_status, retry_count, last_retry_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.AlertID, t.TriggeredAt.UTC(), t.ObservedValue,
		t.TriggerType, t.Message, string(t.DeliveryStatus),
		t.RetryCount, t.LastRetryAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trigger: %w", err)
	}
	return nil
}

// GetByAlertID retrieves all triggers for an alert, ordered by triggered_at ASC.
func (s *TriggerStore) GetByAlertID(ctx context.Context, alertID string) ([]*domain.AlertTrigger, error) {
	query := `
		SELECT id, alert_id, triggered_at, observed_value, trigger_type, message,
		       delivery_status, retry_count, last_retry_at
		FROM alert_triggers
		WHERE alert_id = $1
		ORDER BY triggered_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, alertID)
	if err != nil {
		return nil, fmt.Errorf("get triggers by alert id: %w", err)
	}
	defer rows.Close()

	return scanTriggers(rows)
}

// ListUndelivered retrieves triggers in pending or retrying status, oldest
// first, up to limit.
func (s *TriggerStore) ListUndelivered(ctx context.Context, limit int) ([]*domain.AlertTrigger, error) {
	query := `
		SELECT id, alert_id, triggered_at, observed_value, trigger_type, message,
		       delivery_status, retry_count, last_retry_at
		FROM alert_triggers
		WHERE delivery_status IN ('pending', 'retrying')
		ORDER BY triggered_at ASC, id ASC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list undelivered triggers: %w", err)
	}
	defer rows.Close()

	return scanTriggers(rows)
}

// UpdateDelivery advances delivery bookkeeping for a trigger.
func (s *TriggerStore) UpdateDelivery(ctx context.Context, id string, status domain.DeliveryStatus, retryCount int, lastRetryAt *time.Time) error {
	query := `
		UPDATE alert_triggers
		SET delivery_status = $2, retry_count = $3, last_retry_at = $4
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query, id, string(status), retryCount, lastRetryAt)
	if err != nil {
		return fmt.Errorf("update trigger delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanTriggers scans multiple rows into a slice of AlertTrigger.
func scanTriggers(rows pgx.Rows) ([]*domain.AlertTrigger, error) {
	var out []*domain.AlertTrigger

	for rows.Next() {
		var t domain.AlertTrigger
		var status string

		err := rows.Scan(
			&t.ID, &t.AlertID, &t.TriggeredAt, &t.ObservedValue,
			&t.TriggerType, &t.Message, &status,
			&t.RetryCount, &t.LastRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trigger row: %w", err)
		}

		t.TriggeredAt = t.TriggeredAt.UTC()
		t.DeliveryStatus = domain.DeliveryStatus(status)
		out = append(out, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trigger rows: %w", err)
	}

	return out, nil
}
