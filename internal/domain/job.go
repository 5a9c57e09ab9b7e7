package domain

import "time"

// JobStatus is the lifecycle state of a backfill job.
type JobStatus string

// Job status constants. Completed and failed are terminal: a job id is never
// reopened once it reaches either.
const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// BackfillJob is a request to proactively fill candle history for a series.
// Corresponds to backfill_jobs table in PostgreSQL.
type BackfillJob struct {
	ID           string    // UUID primary key
	SymbolID     int64     // FK to symbols
	Ticker       string    //
	Interval     string    // canonical interval string
	Start        time.Time // range start, UTC
	End          time.Time // range end, UTC
	Status       JobStatus //
	ErrorMessage string    // populated when Status == failed
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
