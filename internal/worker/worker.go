package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/redditextract/redditextract/internal/metrics"
	"github.com/redditextract/redditextract/internal/progress"
	"github.com/redditextract/redditextract/internal/scrape"
)

// Deliverer hands a terminal job snapshot to the webhook subsystem.
// Delivery happens on its own task pool; a slow callback never holds a
// worker slot.
type Deliverer interface {
	Deliver(ctx context.Context, job scrape.Job) error
}

// Worker consumes queued job IDs and executes the fetch pipeline. A worker
// claims a job with an atomic QUEUED to RUNNING transition, so two slots
// racing for the same ID resolve to exactly one owner.
type Worker struct {
	queue     scrape.Queue
	store     scrape.JobStore
	engine    *Engine
	deliverer Deliverer
	emitter   progress.Emitter
	clock     scrape.Clock
	logger    *zap.Logger
}

// New constructs a Worker. The emitter may be nil when no progress stream
// is wired.
func New(
	queue scrape.Queue,
	store scrape.JobStore,
	engine *Engine,
	deliverer Deliverer,
	emitter progress.Emitter,
	clock scrape.Clock,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		store:     store,
		engine:    engine,
		deliverer: deliverer,
		emitter:   emitter,
		clock:     clock,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		jobID, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.processJob(ctx, jobID)
	}
}

func (w *Worker) processJob(ctx context.Context, jobID string) {
	claim, err := w.store.Transition(ctx, jobID, scrape.JobStatusQueued, scrape.JobStatusRunning, nil)
	if err != nil {
		// Already claimed by another slot or cancelled while queued.
		if errors.Is(err, scrape.ErrConflict) || errors.Is(err, scrape.ErrJobNotFound) {
			w.logger.Debug("job claim skipped", zap.String("job_id", jobID), zap.Error(err))
			return
		}
		w.logger.Error("job claim failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	w.logger.Info("job started", zap.String("job_id", jobID))
	metrics.WorkerStarted()
	defer metrics.WorkerStopped()
	w.emit(progress.Event{JobID: jobID, Stage: progress.StageJobStart})

	cancelled := false
	checkpoint := func(prog scrape.Progress, errs []scrape.JobError) bool {
		snap, err := w.store.Transition(
			ctx,
			jobID,
			scrape.JobStatusRunning,
			scrape.JobStatusRunning,
			func(j *scrape.Job) {
				j.Progress = prog
				j.Errors = append([]scrape.JobError(nil), errs...)
			},
		)
		if err != nil {
			w.logger.Warn("checkpoint write failed", zap.String("job_id", jobID), zap.Error(err))
			cancelled = true
			return true
		}
		if snap.CancelRequested {
			cancelled = true
			return true
		}
		w.emit(progress.Event{
			JobID: jobID,
			Stage: progress.StageJobCheckpoint,
			Pages: prog.PagesProcessed,
			Items: prog.ItemsScraped,
		})
		return false
	}

	outcome := w.engine.Run(ctx, claim.Request, checkpoint)
	w.finishJob(ctx, jobID, outcome, cancelled)
}

func (w *Worker) finishJob(ctx context.Context, jobID string, outcome Outcome, cancelled bool) {
	switch {
	case cancelled || outcome.Stopped:
		// Partial results are discarded; a cancelled job never reports data.
		w.transitionTerminal(ctx, jobID, scrape.JobStatusCancelled, func(j *scrape.Job) {
			j.Progress = outcome.Progress
			j.Errors = append([]scrape.JobError(nil), outcome.Errors...)
			j.Result = nil
		})
		w.logger.Info("job cancelled", zap.String("job_id", jobID))
		return

	case outcome.PlanError != nil:
		w.failJob(ctx, jobID, outcome, scrape.JobError{
			Code:    "INVALID_PARAMS",
			Message: "could not build fetch plan",
			Details: outcome.PlanError.Error(),
			At:      w.clock.Now().UTC(),
		})
		return

	case outcome.Fatal != nil:
		w.failJob(ctx, jobID, outcome, scrape.JobError{})
		return

	case outcome.PagesOK == 0:
		w.failJob(ctx, jobID, outcome, scrape.JobError{
			Code:    "NO_PAGES",
			Message: "no pages could be fetched",
			At:      w.clock.Now().UTC(),
		})
		return
	}

	result := outcome.Result
	snap, ok := w.transitionTerminal(ctx, jobID, scrape.JobStatusSucceeded, func(j *scrape.Job) {
		j.Progress = outcome.Progress
		j.Errors = append([]scrape.JobError(nil), outcome.Errors...)
		j.Result = &result
	})
	if !ok {
		return
	}
	metrics.ItemsScraped(result.ItemsReturned)
	w.logger.Info("job succeeded",
		zap.String("job_id", jobID),
		zap.Int("items_returned", result.ItemsReturned),
		zap.Int("total_items", result.TotalItems),
	)
	w.maybeDeliver(ctx, snap)
}

func (w *Worker) failJob(ctx context.Context, jobID string, outcome Outcome, extra scrape.JobError) {
	snap, ok := w.transitionTerminal(ctx, jobID, scrape.JobStatusFailed, func(j *scrape.Job) {
		j.Progress = outcome.Progress
		j.Errors = append([]scrape.JobError(nil), outcome.Errors...)
		if extra.Code != "" {
			j.Errors = append(j.Errors, extra)
		}
		if len(j.Errors) == 0 {
			// A failed job always explains itself.
			j.Errors = append(j.Errors, scrape.JobError{
				Code:    "UNKNOWN",
				Message: "job failed without a recorded cause",
				At:      w.clock.Now().UTC(),
			})
		}
		j.Result = nil
	})
	if !ok {
		return
	}
	w.logger.Warn("job failed", zap.String("job_id", jobID), zap.Int("errors", len(snap.Errors)))
	w.maybeDeliver(ctx, snap)
}

func (w *Worker) transitionTerminal(
	ctx context.Context,
	jobID string,
	next scrape.JobStatus,
	mutate func(*scrape.Job),
) (scrape.Job, bool) {
	snap, err := w.store.Transition(ctx, jobID, scrape.JobStatusRunning, next, mutate)
	if err != nil {
		w.logger.Error("terminal transition failed",
			zap.String("job_id", jobID),
			zap.String("status", string(next)),
			zap.Error(err),
		)
		return scrape.Job{}, false
	}
	metrics.JobFinished(string(next))
	evt := progress.Event{
		JobID:  jobID,
		Stage:  progress.StageJobDone,
		Status: string(next),
		Pages:  snap.Progress.PagesProcessed,
		Items:  snap.Progress.ItemsScraped,
	}
	if snap.StartedAt != nil && snap.FinishedAt != nil {
		evt.Dur = snap.FinishedAt.Sub(*snap.StartedAt)
	}
	w.emit(evt)
	return snap, true
}

// emit stamps and publishes a progress event when a stream is wired.
func (w *Worker) emit(evt progress.Event) {
	if w.emitter == nil {
		return
	}
	evt.TS = w.clock.Now().UTC()
	w.emitter.Emit(evt)
}

func (w *Worker) maybeDeliver(ctx context.Context, job scrape.Job) {
	if w.deliverer == nil || job.Delivery == nil {
		return
	}
	if err := w.deliverer.Deliver(ctx, job); err != nil {
		// Delivery failure never alters job status.
		w.logger.Error("webhook handoff failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}
