package workers

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"candlewatch/internal/domain"
	"candlewatch/internal/observability"
	"candlewatch/internal/orchestrator"
	"candlewatch/internal/storage"
)

// BackfillWorker executes backfill jobs: pending -> in_progress -> completed
// or failed with the error text captured on the job record.
type BackfillWorker struct {
	jobs storage.BackfillJobStore
	orch *orchestrator.Orchestrator
	log  logrus.FieldLogger
}

// NewBackfillWorker creates a BackfillWorker.
func NewBackfillWorker(jobs storage.BackfillJobStore, orch *orchestrator.Orchestrator, log logrus.FieldLogger) *BackfillWorker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &BackfillWorker{
		jobs: jobs,
		orch: orch,
		log:  log.WithField("component", "backfill_worker"),
	}
}

// RunJob executes one job to a terminal state. The returned error reflects
// infrastructure failures only; a provider failure is captured on the job as
// status=failed and is not an error here.
func (w *BackfillWorker) RunJob(ctx context.Context, jobID string) error {
	job, err := w.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load backfill job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("backfill job %s already %s: %w", jobID, job.Status, storage.ErrTerminalStatus)
	}

	if err := w.jobs.SetStatus(ctx, job.ID, domain.JobInProgress, ""); err != nil {
		return fmt.Errorf("mark job %s in progress: %w", jobID, err)
	}

	logger := w.log.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"ticker":   job.Ticker,
		"interval": job.Interval,
	})
	logger.Info("backfill started")

	fetchErr := w.orch.FetchAndSave(ctx, orchestrator.Request{
		SymbolID: job.SymbolID,
		Ticker:   job.Ticker,
		Interval: job.Interval,
		Start:    job.Start,
		End:      job.End,
	})
	if fetchErr != nil {
		logger.WithError(fetchErr).Warn("backfill failed")
		if err := w.jobs.SetStatus(ctx, job.ID, domain.JobFailed, fetchErr.Error()); err != nil {
			return fmt.Errorf("mark job %s failed: %w", jobID, err)
		}
		observability.RecordBackfillJob(string(domain.JobFailed))
		return nil
	}

	if err := w.jobs.SetStatus(ctx, job.ID, domain.JobCompleted, ""); err != nil {
		return fmt.Errorf("mark job %s completed: %w", jobID, err)
	}
	observability.RecordBackfillJob(string(domain.JobCompleted))
	logger.Info("backfill completed")
	return nil
}

// RunPending executes every pending job once. Per-job failures are captured
// on the job record; a broken store stops the sweep.
func (w *BackfillWorker) RunPending(ctx context.Context) error {
	pending, err := w.jobs.ListByStatus(ctx, domain.JobPending)
	if err != nil {
		return fmt.Errorf("list pending backfill jobs: %w", err)
	}

	for _, job := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.RunJob(ctx, job.ID); err != nil {
			w.log.WithError(err).WithField("job_id", job.ID).Error("backfill job errored")
		}
	}
	return nil
}
