package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"candlewatch/internal/domain"
	"candlewatch/internal/storage"
)

// AlertStore implements storage.AlertStore using PostgreSQL.
type AlertStore struct {
	pool *Pool
}

// NewAlertStore creates a new AlertStore.
func NewAlertStore(pool *Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AlertStore = (*AlertStore)(nil)

const alertColumns = `
	id, symbol_id, condition, threshold, indicator_name, indicator_field,
	indicator_params, cooldown_minutes, trigger_mode, is_active,
	last_triggered_at, last_triggered_bar_ts, message_up, message_down,
	created_at, updated_at
`

// Insert adds a new alert. Returns ErrDuplicateKey if the id exists.
func (s *AlertStore) Insert(ctx context.Context, a *domain.Alert) error {
	if a == nil || a.ID == "" {
		return storage.ErrInvalidInput
	}

	params, err := marshalParams(a.IndicatorParams)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err = s.pool.Exec(ctx, query,
		a.ID, a.SymbolID, string(a.Condition), a.Threshold,
		a.IndicatorName, a.IndicatorField, params,
		a.CooldownMinutes, string(a.Mode), a.IsActive,
		a.LastTriggeredAt, a.LastTriggeredBarTs,
		a.MessageUp, a.MessageDown,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// GetByID retrieves an alert. Returns ErrNotFound if not exists.
func (s *AlertStore) GetByID(ctx context.Context, id string) (*domain.Alert, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)

	a, err := scanAlert(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get alert by id: %w", err)
	}
	return a, nil
}

// GetActiveBySymbol retrieves all active alerts for a symbol, ordered by
// created_at ASC.
func (s *AlertStore) GetActiveBySymbol(ctx context.Context, symbolID int64) ([]*domain.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE symbol_id = $1 AND is_active = true
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, symbolID)
	if err != nil {
		return nil, fmt.Errorf("get active alerts: %w", err)
	}
	defer rows.Close()

	var out []*domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alert rows: %w", err)
	}

	return out, nil
}

// Update persists changed alert fields. Returns ErrNotFound if not exists.
func (s *AlertStore) Update(ctx context.Context, a *domain.Alert) error {
	if a == nil || a.ID == "" {
		return storage.ErrInvalidInput
	}

	params, err := marshalParams(a.IndicatorParams)
	if err != nil {
		return err
	}

	query := `
		UPDATE alerts SET
			condition = $2, threshold = $3, indicator_name = $4,
			indicator_field = $5, indicator_params = $6, cooldown_minutes = $7,
			trigger_mode = $8, is_active = $9, last_triggered_at = $10,
			last_triggered_bar_ts = $11, message_up = $12, message_down = $13,
			updated_at = now()
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		a.ID, string(a.Condition), a.Threshold, a.IndicatorName,
		a.IndicatorField, params, a.CooldownMinutes,
		string(a.Mode), a.IsActive, a.LastTriggeredAt,
		a.LastTriggeredBarTs, a.MessageUp, a.MessageDown,
	)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Deactivate flips is_active to false. Returns ErrNotFound if not exists.
func (s *AlertStore) Deactivate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET is_active = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanAlert scans one alert row.
func scanAlert(row pgx.Row) (*domain.Alert, error) {
	var a domain.Alert
	var condition, mode string
	var params []byte

	err := row.Scan(
		&a.ID, &a.SymbolID, &condition, &a.Threshold,
		&a.IndicatorName, &a.IndicatorField, &params,
		&a.CooldownMinutes, &mode, &a.IsActive,
		&a.LastTriggeredAt, &a.LastTriggeredBarTs,
		&a.MessageUp, &a.MessageDown,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Condition = domain.AlertCondition(condition)
	a.Mode = domain.TriggerMode(mode)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &a.IndicatorParams); err != nil {
			return nil, fmt.Errorf("unmarshal indicator params: %w", err)
		}
	}
	return &a, nil
}

// marshalParams encodes indicator params as JSONB, nil for empty.
func marshalParams(params map[string]float64) ([]byte, error) {
	if len(params) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal indicator params: %w", err)
	}
	return data, nil
}
