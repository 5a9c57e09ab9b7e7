package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"candlewatch/internal/domain"
	"candlewatch/internal/storage"
)

// BackfillJobStore implements storage.BackfillJobStore using PostgreSQL.
type BackfillJobStore struct {
	pool *Pool
}

// NewBackfillJobStore creates a new BackfillJobStore.
func NewBackfillJobStore(pool *Pool) *BackfillJobStore {
	return &BackfillJobStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BackfillJobStore = (*BackfillJobStore)(nil)

const jobColumns = `
	id, symbol_id, ticker, interval, range_start, range_end, status,
	error_message, created_at, updated_at
`

// Insert adds a new job. Returns ErrDuplicateKey if the id exists.
func (s *BackfillJobStore) Insert(ctx context.Context, j *domain.BackfillJob) error {
	if j == nil || j.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO backfill_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.pool.Exec(ctx, query,
		j.ID, j.SymbolID, j.Ticker, j.Interval,
		j.Start.UTC(), j.End.UTC(), string(j.Status),
		j.ErrorMessage, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert backfill job: %w", err)
	}
	return nil
}

// GetByID retrieves a job. Returns ErrNotFound if not exists.
func (s *BackfillJobStore) GetByID(ctx context.Context, id string) (*domain.BackfillJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM backfill_jobs WHERE id = $1`, id)

	j, err := scanJob(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get backfill job: %w", err)
	}
	return j, nil
}

// ListByStatus retrieves jobs in the given status, ordered by created_at ASC.
func (s *BackfillJobStore) ListByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.BackfillJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM backfill_jobs
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list backfill jobs: %w", err)
	}
	defer rows.Close()

	var out []*domain.BackfillJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backfill job row: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backfill job rows: %w", err)
	}

	return out, nil
}

// SetStatus transitions a job's status. Terminal states are final: the WHERE
// clause refuses to touch completed or failed rows, so a lost race surfaces
// as ErrTerminalStatus rather than a reopened job.
func (s *BackfillJobStore) SetStatus(ctx context.Context, id string, status domain.JobStatus, errorMessage string) error {
	query := `
		UPDATE backfill_jobs
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'failed')
	`

	tag, err := s.pool.Exec(ctx, query, id, string(status), errorMessage)
	if err != nil {
		return fmt.Errorf("set backfill job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing job from terminal job.
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return storage.ErrTerminalStatus
	}
	return nil
}

// scanJob scans one backfill job row.
func scanJob(row pgx.Row) (*domain.BackfillJob, error) {
	var j domain.BackfillJob
	var status string

	err := row.Scan(
		&j.ID, &j.SymbolID, &j.Ticker, &j.Interval,
		&j.Start, &j.End, &status,
		&j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Start = j.Start.UTC()
	j.End = j.End.UTC()
	j.Status = domain.JobStatus(status)
	return &j, nil
}
