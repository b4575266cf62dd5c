// Package memory provides the default in-memory JobStore.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redditextract/redditextract/internal/scrape"
)

// JobStore implements scrape.JobStore with a mutex-guarded map. All
// mutations happen inside the store's critical section and every value
// crossing the boundary is deep-copied, so callers can never observe or
// cause a torn update.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]*scrape.Job
	order []string // creation order, oldest first
	idGen scrape.IDGenerator
	clock scrape.Clock
}

// NewJobStore constructs a JobStore.
func NewJobStore(idGen scrape.IDGenerator, clock scrape.Clock) *JobStore {
	return &JobStore{
		jobs:  make(map[string]*scrape.Job),
		idGen: idGen,
		clock: clock,
	}
}

// Create stores a new job in QUEUED status.
func (s *JobStore) Create(_ context.Context, req scrape.ScrapeRequest) (scrape.Job, error) {
	id, err := s.idGen.NewID()
	if err != nil {
		return scrape.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := &scrape.Job{
		ID:        id,
		Status:    scrape.JobStatusQueued,
		Request:   req,
		CreatedAt: s.clock.Now().UTC(),
	}
	if req.WebhookURL != "" {
		job.Delivery = &scrape.WebhookDelivery{
			URL:   req.WebhookURL,
			State: scrape.DeliveryPending,
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[id]; exists {
		return scrape.Job{}, fmt.Errorf("job %s already exists", id)
	}
	s.jobs[id] = job
	s.order = append(s.order, id)
	return cloneJob(job), nil
}

// Get fetches a job snapshot by ID.
func (s *JobStore) Get(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, scrape.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// List returns snapshots ordered by creation time descending.
func (s *JobStore) List(_ context.Context, filter *scrape.JobStatus) ([]scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scrape.Job, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		job, ok := s.jobs[s.order[i]]
		if !ok {
			continue
		}
		if filter != nil && job.Status != *filter {
			continue
		}
		out = append(out, cloneJob(job))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Transition performs the atomic compare-and-update that backs all status
// changes and checkpoint writes.
func (s *JobStore) Transition(
	_ context.Context,
	jobID string,
	expected, next scrape.JobStatus,
	mutate func(*scrape.Job),
) (scrape.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, scrape.ErrJobNotFound
	}
	if job.Status != expected {
		return scrape.Job{}, fmt.Errorf("%w: job %s is %s, expected %s", scrape.ErrConflict, jobID, job.Status, expected)
	}
	if mutate != nil {
		mutate(job)
	}
	now := s.clock.Now().UTC()
	if next == scrape.JobStatusRunning && job.StartedAt == nil {
		job.StartedAt = timePtr(now)
	}
	if next.Terminal() && job.FinishedAt == nil {
		job.FinishedAt = timePtr(now)
	}
	job.Status = next
	return cloneJob(job), nil
}

// RequestCancel cancels a QUEUED job immediately and flags a RUNNING job
// for cancellation at its next checkpoint.
func (s *JobStore) RequestCancel(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, scrape.ErrJobNotFound
	}
	switch job.Status {
	case scrape.JobStatusQueued:
		job.Status = scrape.JobStatusCancelled
		job.CancelRequested = true
		job.FinishedAt = timePtr(s.clock.Now().UTC())
	case scrape.JobStatusRunning:
		job.CancelRequested = true
	default:
		return scrape.Job{}, fmt.Errorf("%w: job %s is %s", scrape.ErrConflict, jobID, job.Status)
	}
	return cloneJob(job), nil
}

// UpdateDelivery mutates the webhook delivery record without touching the
// job status.
func (s *JobStore) UpdateDelivery(
	_ context.Context,
	jobID string,
	mutate func(*scrape.WebhookDelivery),
) (scrape.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, scrape.ErrJobNotFound
	}
	if job.Delivery == nil {
		return scrape.Job{}, fmt.Errorf("job %s has no webhook configured", jobID)
	}
	mutate(job.Delivery)
	return cloneJob(job), nil
}

// Summary returns job counts per status.
func (s *JobStore) Summary(_ context.Context) (map[scrape.JobStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[scrape.JobStatus]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

// Sweep evicts terminal jobs that finished before cutoff.
func (s *JobStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	kept := s.order[:0]
	for _, id := range s.order {
		job := s.jobs[id]
		if job != nil && job.Status.Terminal() && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed, nil
}

func timePtr(t time.Time) *time.Time {
	ts := t
	return &ts
}

func cloneJob(job *scrape.Job) scrape.Job {
	cp := *job
	if job.Errors != nil {
		cp.Errors = append([]scrape.JobError(nil), job.Errors...)
	}
	if job.StartedAt != nil {
		cp.StartedAt = timePtr(*job.StartedAt)
	}
	if job.FinishedAt != nil {
		cp.FinishedAt = timePtr(*job.FinishedAt)
	}
	if job.Result != nil {
		rs := cloneResultSet(*job.Result)
		cp.Result = &rs
	}
	if job.Delivery != nil {
		d := *job.Delivery
		if d.Attempts != nil {
			d.Attempts = append([]scrape.DeliveryAttempt(nil), job.Delivery.Attempts...)
		}
		if d.NextAttemptAt != nil {
			d.NextAttemptAt = timePtr(*job.Delivery.NextAttemptAt)
		}
		cp.Delivery = &d
	}
	if job.Request.StartURLs != nil {
		cp.Request.StartURLs = append([]string(nil), job.Request.StartURLs...)
	}
	return cp
}

func cloneResultSet(rs scrape.ResultSet) scrape.ResultSet {
	cp := rs
	if rs.Posts != nil {
		cp.Posts = append([]scrape.Post(nil), rs.Posts...)
	}
	if rs.Comments != nil {
		cp.Comments = append([]scrape.Comment(nil), rs.Comments...)
	}
	if rs.Users != nil {
		cp.Users = append([]scrape.User(nil), rs.Users...)
	}
	if rs.Communities != nil {
		cp.Communities = append([]scrape.Community(nil), rs.Communities...)
	}
	return cp
}
