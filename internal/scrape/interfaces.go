package scrape

import (
	"context"
	"time"
)

// JobStore persists jobs and is the single shared mutable structure of the
// system. All reads return snapshots; Transition is the sole status
// mutation path and is atomic per job.
type JobStore interface {
	// Create persists a new job in QUEUED status and returns its snapshot.
	Create(ctx context.Context, req ScrapeRequest) (Job, error)
	// Get returns a snapshot or ErrJobNotFound.
	Get(ctx context.Context, jobID string) (Job, error)
	// List returns snapshots ordered by creation time descending,
	// optionally filtered by status.
	List(ctx context.Context, filter *JobStatus) ([]Job, error)
	// Transition atomically compares the job's status against expected,
	// applies mutate, and commits next. It returns ErrConflict on a status
	// mismatch and the updated snapshot otherwise. expected == next with a
	// progress mutation is the per-page checkpoint write.
	Transition(ctx context.Context, jobID string, expected, next JobStatus, mutate func(*Job)) (Job, error)
	// RequestCancel transitions a QUEUED job to CANCELLED, or flags a
	// RUNNING job so the owning worker cancels at the next checkpoint.
	// Terminal jobs return ErrConflict.
	RequestCancel(ctx context.Context, jobID string) (Job, error)
	// UpdateDelivery mutates only the webhook delivery record, never the
	// job status.
	UpdateDelivery(ctx context.Context, jobID string, mutate func(*WebhookDelivery)) (Job, error)
	// Summary returns job counts per status.
	Summary(ctx context.Context) (map[JobStatus]int, error)
	// Sweep evicts terminal jobs finished before cutoff and reports how
	// many were removed.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// Queue provides enqueue/dequeue semantics for queued job IDs.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	Dequeue(ctx context.Context) (string, error)
}

// FetchGateway retrieves one page of records for a target and category.
// Failures are classified FetchErrors.
type FetchGateway interface {
	FetchPage(ctx context.Context, target Target, category Category, cursor string, pageSize int) (Page, error)
}

// Formatter renders a response envelope into an output encoding. Rendering
// must be deterministic for identical inputs.
type Formatter interface {
	Render(resp Response, format Format) ([]byte, error)
	ContentType(format Format) string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
