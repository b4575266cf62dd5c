// Package postgres provides a Postgres-backed JobStore.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/redditextract/redditextract/internal/scrape"
)

// Schema expected by the store:
//
//	CREATE TABLE jobs (
//		id          TEXT PRIMARY KEY,
//		status      TEXT NOT NULL,
//		data        JSONB NOT NULL,
//		created_at  TIMESTAMPTZ NOT NULL,
//		finished_at TIMESTAMPTZ
//	);

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// JobStore implements scrape.JobStore on Postgres. Each job row carries the
// full document as JSONB; row-level locks inside a transaction give the
// compare-and-set semantics that the in-memory store gets from its mutex.
type JobStore struct {
	pool  pool
	idGen scrape.IDGenerator
	clock scrape.Clock
}

// NewJobStore connects a pool and builds the store.
func NewJobStore(ctx context.Context, cfg Config, idGen scrape.IDGenerator, clock scrape.Clock) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: p, idGen: idGen, clock: clock}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewJobStoreWithPool(p pool, idGen scrape.IDGenerator, clock scrape.Clock) (*JobStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: p, idGen: idGen, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Create persists a new job in QUEUED status.
func (s *JobStore) Create(ctx context.Context, req scrape.ScrapeRequest) (scrape.Job, error) {
	id, err := s.idGen.NewID()
	if err != nil {
		return scrape.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := scrape.Job{
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
	data, err := encodeJob(job)
	if err != nil {
		return scrape.Job{}, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, status, data, created_at) VALUES ($1, $2, $3, $4)`,
		job.ID, string(job.Status), data, job.CreatedAt,
	)
	if err != nil {
		return scrape.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// Get fetches a job snapshot by ID.
func (s *JobStore) Get(ctx context.Context, jobID string) (scrape.Job, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM jobs WHERE id = $1`, jobID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return scrape.Job{}, scrape.ErrJobNotFound
	}
	if err != nil {
		return scrape.Job{}, fmt.Errorf("select job: %w", err)
	}
	return decodeJob(data)
}

// List returns snapshots ordered by creation time descending.
func (s *JobStore) List(ctx context.Context, filter *scrape.JobStatus) ([]scrape.Job, error) {
	query := `SELECT data FROM jobs ORDER BY created_at DESC`
	args := []any{}
	if filter != nil {
		query = `SELECT data FROM jobs WHERE status = $1 ORDER BY created_at DESC`
		args = append(args, string(*filter))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []scrape.Job
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		job, err := decodeJob(data)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return out, nil
}

// Transition performs the atomic compare-and-update that backs all status
// changes and checkpoint writes.
func (s *JobStore) Transition(
	ctx context.Context,
	jobID string,
	expected, next scrape.JobStatus,
	mutate func(*scrape.Job),
) (scrape.Job, error) {
	var out scrape.Job
	err := s.withLockedJob(ctx, jobID, func(job *scrape.Job) error {
		if job.Status != expected {
			return fmt.Errorf("%w: job %s is %s, expected %s", scrape.ErrConflict, jobID, job.Status, expected)
		}
		if mutate != nil {
			mutate(job)
		}
		now := s.clock.Now().UTC()
		if next == scrape.JobStatusRunning && job.StartedAt == nil {
			job.StartedAt = &now
		}
		if next.Terminal() && job.FinishedAt == nil {
			job.FinishedAt = &now
		}
		job.Status = next
		out = *job
		return nil
	})
	if err != nil {
		return scrape.Job{}, err
	}
	return out, nil
}

// RequestCancel cancels a QUEUED job immediately and flags a RUNNING job
// for cancellation at its next checkpoint.
func (s *JobStore) RequestCancel(ctx context.Context, jobID string) (scrape.Job, error) {
	var out scrape.Job
	err := s.withLockedJob(ctx, jobID, func(job *scrape.Job) error {
		switch job.Status {
		case scrape.JobStatusQueued:
			now := s.clock.Now().UTC()
			job.Status = scrape.JobStatusCancelled
			job.CancelRequested = true
			job.FinishedAt = &now
		case scrape.JobStatusRunning:
			job.CancelRequested = true
		default:
			return fmt.Errorf("%w: job %s is already %s", scrape.ErrConflict, jobID, job.Status)
		}
		out = *job
		return nil
	})
	if err != nil {
		return scrape.Job{}, err
	}
	return out, nil
}

// UpdateDelivery mutates only the webhook delivery record.
func (s *JobStore) UpdateDelivery(
	ctx context.Context,
	jobID string,
	mutate func(*scrape.WebhookDelivery),
) (scrape.Job, error) {
	var out scrape.Job
	err := s.withLockedJob(ctx, jobID, func(job *scrape.Job) error {
		if job.Delivery == nil {
			return fmt.Errorf("job %s has no webhook delivery", jobID)
		}
		if mutate != nil {
			mutate(job.Delivery)
		}
		out = *job
		return nil
	})
	if err != nil {
		return scrape.Job{}, err
	}
	return out, nil
}

// Summary returns job counts per status.
func (s *JobStore) Summary(ctx context.Context) (map[scrape.JobStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("summarize jobs: %w", err)
	}
	defer rows.Close()

	out := make(map[scrape.JobStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		out[scrape.JobStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary rows: %w", err)
	}
	return out, nil
}

// Sweep evicts terminal jobs finished before cutoff.
func (s *JobStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE status IN ($1, $2, $3) AND finished_at < $4`,
		string(scrape.JobStatusSucceeded),
		string(scrape.JobStatusFailed),
		string(scrape.JobStatusCancelled),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// withLockedJob runs fn against the job document under a row lock and
// writes the mutated document back on success.
func (s *JobStore) withLockedJob(ctx context.Context, jobID string, fn func(*scrape.Job) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var data []byte
	err = tx.QueryRow(ctx, `SELECT data FROM jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return scrape.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("lock job: %w", err)
	}
	job, err := decodeJob(data)
	if err != nil {
		return err
	}
	if err := fn(&job); err != nil {
		return err
	}

	updated, err := encodeJob(job)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE jobs SET status = $1, data = $2, finished_at = $3 WHERE id = $4`,
		string(job.Status), updated, job.FinishedAt, job.ID,
	); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// jobDocument is the persisted shape. The aggregation counters are hidden
// from the public JSON encoding of ResultSet, so the document carries them
// in a sidecar field to survive the round trip.
type jobDocument struct {
	scrape.Job
	ResultTotals *resultTotals `json:"result_totals,omitempty"`
}

type resultTotals struct {
	TotalItems    int `json:"total_items"`
	ItemsReturned int `json:"items_returned"`
}

func encodeJob(job scrape.Job) ([]byte, error) {
	doc := jobDocument{Job: job}
	if job.Result != nil {
		doc.ResultTotals = &resultTotals{
			TotalItems:    job.Result.TotalItems,
			ItemsReturned: job.Result.ItemsReturned,
		}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal job document: %w", err)
	}
	return data, nil
}

func decodeJob(data []byte) (scrape.Job, error) {
	var doc jobDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return scrape.Job{}, fmt.Errorf("decode job document: %w", err)
	}
	if doc.Result != nil && doc.ResultTotals != nil {
		doc.Result.TotalItems = doc.ResultTotals.TotalItems
		doc.Result.ItemsReturned = doc.ResultTotals.ItemsReturned
	}
	return doc.Job, nil
}
