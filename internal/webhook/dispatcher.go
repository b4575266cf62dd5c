// Package webhook delivers terminal job payloads to callback URLs.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/redditextract/redditextract/internal/hash/sha256"
	"github.com/redditextract/redditextract/internal/metrics"
	"github.com/redditextract/redditextract/internal/scrape"
)

// Config controls delivery behavior.
type Config struct {
	// Timeout bounds each individual POST attempt.
	Timeout time.Duration
	// Workers is the number of parallel delivery tasks. Attempts for one
	// job always run on a single task, so they are strictly sequential.
	Workers int
	// QueueDepth bounds the pending delivery backlog.
	QueueDepth int
}

// Dispatcher delivers job payloads with bounded retry and backoff. It is
// decoupled from the worker pool: workers hand over an immutable terminal
// snapshot and return to fetching immediately. Delivery outcome is recorded
// on the job's delivery record only and never touches job status.
type Dispatcher struct {
	store     scrape.JobStore
	formatter scrape.Formatter
	retry     scrape.Backoff
	clock     scrape.Clock
	client    *http.Client
	hasher    *sha256.Hasher
	tasks     chan scrape.Job
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Dispatcher.
func New(
	store scrape.JobStore,
	formatter scrape.Formatter,
	retry scrape.Backoff,
	clock scrape.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		store:     store,
		formatter: formatter,
		retry:     retry,
		clock:     clock,
		client:    &http.Client{Timeout: cfg.Timeout},
		hasher:    sha256.New(),
		tasks:     make(chan scrape.Job, cfg.QueueDepth),
		cfg:       cfg,
		logger:    logger,
	}
}

// Run starts the delivery tasks and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-d.tasks:
					d.deliver(ctx, job)
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
}

// Deliver enqueues a delivery task for a terminal job snapshot.
func (d *Dispatcher) Deliver(ctx context.Context, job scrape.Job) error {
	if job.Delivery == nil || job.Delivery.URL == "" {
		return fmt.Errorf("job %s has no webhook configured", job.ID)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("deliver enqueue canceled: %w", ctx.Err())
	case d.tasks <- job:
		return nil
	}
}

type attemptOutcome int

const (
	outcomeDelivered attemptOutcome = iota
	outcomeRetryable
	outcomeRejected
)

func (d *Dispatcher) deliver(ctx context.Context, job scrape.Job) {
	body, err := d.buildPayload(job)
	if err != nil {
		d.logger.Error("webhook payload build failed", zap.String("job_id", job.ID), zap.Error(err))
		d.recordTerminal(ctx, job.ID, scrape.DeliveryExhausted)
		return
	}

	for attempt := 1; attempt <= d.retry.MaxAttempts; attempt++ {
		statusCode, postErr := d.post(ctx, job.Delivery.URL, body)
		outcome := classify(statusCode, postErr)
		now := d.clock.Now().UTC()

		rec := scrape.DeliveryAttempt{
			At:         now,
			StatusCode: statusCode,
			Delivered:  outcome == outcomeDelivered,
		}
		if postErr != nil {
			rec.Error = postErr.Error()
		}

		final := outcome != outcomeRetryable || attempt == d.retry.MaxAttempts
		var nextAt *time.Time
		if !final {
			t := now.Add(d.retry.Delay(attempt))
			nextAt = &t
		}
		state := scrape.DeliveryPending
		switch {
		case outcome == outcomeDelivered:
			state = scrape.DeliveryDelivered
		case final:
			state = scrape.DeliveryExhausted
		}

		if _, err := d.store.UpdateDelivery(ctx, job.ID, func(w *scrape.WebhookDelivery) {
			w.Attempts = append(w.Attempts, rec)
			w.State = state
			w.NextAttemptAt = nextAt
		}); err != nil {
			d.logger.Error("delivery record update failed", zap.String("job_id", job.ID), zap.Error(err))
		}

		switch outcome {
		case outcomeDelivered:
			metrics.WebhookAttempt("delivered")
			metrics.WebhookFinished(string(scrape.DeliveryDelivered))
			d.logger.Info("webhook delivered",
				zap.String("job_id", job.ID),
				zap.Int("attempt", attempt),
			)
			return
		case outcomeRejected:
			metrics.WebhookAttempt("rejected")
			metrics.WebhookFinished(string(scrape.DeliveryExhausted))
			d.logger.Warn("webhook rejected by endpoint",
				zap.String("job_id", job.ID),
				zap.Int("status", statusCode),
			)
			return
		default:
			metrics.WebhookAttempt("retryable")
			d.logger.Warn("webhook attempt failed",
				zap.String("job_id", job.ID),
				zap.Int("attempt", attempt),
				zap.Int("status", statusCode),
				zap.Error(postErr),
			)
		}

		if final {
			metrics.WebhookFinished(string(scrape.DeliveryExhausted))
			return
		}
		select {
		case <-ctx.Done():
			d.abandon(job.ID)
			return
		case <-time.After(nextAt.Sub(now)):
		}
	}
}

// abandon closes out a delivery record when shutdown interrupts the retry
// loop, so readers are not left waiting on a NextAttemptAt that will never
// fire.
func (d *Dispatcher) abandon(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.logger.Warn("webhook delivery abandoned on shutdown", zap.String("job_id", jobID))
	d.recordTerminal(ctx, jobID, scrape.DeliveryExhausted)
}

func (d *Dispatcher) recordTerminal(ctx context.Context, jobID string, state scrape.DeliveryState) {
	if _, err := d.store.UpdateDelivery(ctx, jobID, func(w *scrape.WebhookDelivery) {
		w.State = state
		w.NextAttemptAt = nil
	}); err != nil {
		d.logger.Error("delivery record update failed", zap.String("job_id", jobID), zap.Error(err))
	}
	metrics.WebhookFinished(string(state))
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "RedditExtract-Webhook/1.0")
	// Receivers can verify payload integrity against this digest.
	req.Header.Set("X-Payload-Digest", "sha256="+d.hasher.Hash(body))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}

// classify maps an attempt result to a delivery outcome: 2xx delivered,
// transport errors / 5xx / 429 retryable, remaining 4xx rejected outright.
func classify(statusCode int, err error) attemptOutcome {
	switch {
	case err != nil:
		return outcomeRetryable
	case statusCode >= 200 && statusCode < 300:
		return outcomeDelivered
	case statusCode == http.StatusTooManyRequests:
		return outcomeRetryable
	case statusCode >= 500:
		return outcomeRetryable
	default:
		return outcomeRejected
	}
}

// payload is the webhook body: the shared response envelope plus delivery
// metadata, and optionally the result rendered in the requested encoding.
type payload struct {
	JobID       string           `json:"jobId"`
	Status      scrape.JobStatus `json:"status"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
	scrape.Response
	FormattedData *formattedData `json:"formattedData,omitempty"`
}

type formattedData struct {
	Format      scrape.Format `json:"format"`
	ContentType string        `json:"contentType"`
	Data        string        `json:"data"`
}

func (d *Dispatcher) buildPayload(job scrape.Job) ([]byte, error) {
	p := payload{
		JobID:       job.ID,
		Status:      job.Status,
		CompletedAt: job.FinishedAt,
		Response:    scrape.BuildJobResponse(job),
	}
	format := job.Request.OutputFormat
	if format != "" && format != scrape.FormatJSON && job.Status == scrape.JobStatusSucceeded {
		rendered, err := d.formatter.Render(p.Response, format)
		if err != nil {
			// Formatting trouble downgrades to the plain JSON envelope.
			d.logger.Warn("webhook payload format failed",
				zap.String("job_id", job.ID),
				zap.String("format", string(format)),
				zap.Error(err),
			)
		} else {
			p.FormattedData = &formattedData{
				Format:      format,
				ContentType: d.formatter.ContentType(format),
				Data:        string(rendered),
			}
		}
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}
	return body, nil
}
