// Package worker implements the scrape pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/redditextract/redditextract/internal/aggregate"
	"github.com/redditextract/redditextract/internal/metrics"
	"github.com/redditextract/redditextract/internal/scrape"
)

// EngineConfig controls fetch loop behavior.
type EngineConfig struct {
	// FetchTimeout bounds each individual Fetch Gateway call.
	FetchTimeout time.Duration
}

// Checkpoint is invoked after every processed page with cumulative progress
// and errors. Returning true stops the loop; the fetch in flight has
// already completed, matching the page-boundary cancellation contract.
type Checkpoint func(progress scrape.Progress, errs []scrape.JobError) (stop bool)

// Outcome is the terminal classification of one fetch loop run.
type Outcome struct {
	Result    scrape.ResultSet
	Progress  scrape.Progress
	Errors    []scrape.JobError
	PagesOK   int
	Stopped   bool
	Fatal     *scrape.FetchError
	PlanError error
}

// Engine drives the Paginated Fetch Loop: it walks the fetch plan, retries
// transient page failures against the shared backoff policy, feeds records
// into the aggregator, and reports progress at every page boundary. It is
// used both by worker slots (with store-backed checkpoints) and by the
// synchronous API path (without).
type Engine struct {
	gateway scrape.FetchGateway
	retry   scrape.Backoff
	clock   scrape.Clock
	cfg     EngineConfig
	logger  *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(
	gateway scrape.FetchGateway,
	retry scrape.Backoff,
	clock scrape.Clock,
	cfg EngineConfig,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	return &Engine{
		gateway: gateway,
		retry:   retry,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run executes the fetch loop for a request. checkpoint may be nil.
func (e *Engine) Run(ctx context.Context, req scrape.ScrapeRequest, checkpoint Checkpoint) Outcome {
	plan, err := scrape.BuildPlan(req)
	if err != nil {
		return Outcome{PlanError: err}
	}

	run := &engineRun{
		engine:     e,
		req:        req,
		agg:        aggregate.New(req, e.clock.Now()),
		checkpoint: checkpoint,
	}

	for _, step := range plan.Steps {
		if run.done() {
			break
		}
		run.executeStep(ctx, step)
	}

	if plan.DeriveComments && !run.done() {
		run.executeDerivedComments(ctx, plan.CommentPostsCap)
	}

	return Outcome{
		Result:   run.agg.Result(),
		Progress: run.progress,
		Errors:   run.errs,
		PagesOK:  run.pagesOK,
		Stopped:  run.stopped,
		Fatal:    run.fatal,
	}
}

type engineRun struct {
	engine     *Engine
	req        scrape.ScrapeRequest
	agg        *aggregate.Aggregator
	checkpoint Checkpoint
	progress   scrape.Progress
	errs       []scrape.JobError
	pagesOK    int
	stopped    bool
	fatal      *scrape.FetchError
}

func (r *engineRun) done() bool {
	return r.stopped || r.fatal != nil || r.agg.Full()
}

// executeStep pages through one (target, category) pair until the ceiling,
// the end of the listing, a stop request, or a non-recoverable error.
func (r *engineRun) executeStep(ctx context.Context, step scrape.Step) {
	cursor := ""
	pageSize := r.req.PageSize(step.Category)
	// The fullness check lives between steps, not here: when the ceiling
	// lands exactly on a page boundary the next page is still fetched and
	// counted as seen before pagination stops.
	for !r.stopped && r.fatal == nil {
		page, ok := r.fetchWithRetry(ctx, step, cursor, pageSize)
		if !ok {
			// Fatal errors abort the job; an exhausted retry budget
			// abandons this target and moves on.
			return
		}
		r.pagesOK++
		r.progress.PagesProcessed++
		r.countFetched(step.Category, len(page.Records))
		more := r.agg.AddPage(page)
		r.progress.ItemsScraped = r.agg.Result().ItemsReturned
		if r.observeCheckpoint() {
			return
		}
		if !more || page.Done || page.NextCursor == "" {
			return
		}
		cursor = page.NextCursor
	}
}

// executeDerivedComments mines comments from the permalinks of posts
// discovered during search; search listings have no direct comment feed.
func (r *engineRun) executeDerivedComments(ctx context.Context, limit int) {
	posts := r.agg.Posts()
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	for _, post := range posts {
		if r.done() {
			return
		}
		if post.Permalink == "" {
			continue
		}
		r.executeStep(ctx, scrape.Step{
			Target:   scrape.Target{Kind: scrape.TargetPost, Value: post.Permalink},
			Category: scrape.CategoryComments,
		})
	}
}

// fetchWithRetry applies the bounded retry-with-backoff policy to one page
// fetch. Transient failures are recorded and retried; fatal failures set
// the run-level fatal error and at context cancellation the run stops.
func (r *engineRun) fetchWithRetry(ctx context.Context, step scrape.Step, cursor string, pageSize int) (scrape.Page, bool) {
	e := r.engine
	category := string(step.Category)
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
		start := e.clock.Now()
		page, err := e.gateway.FetchPage(fetchCtx, step.Target, step.Category, cursor, pageSize)
		cancel()
		metrics.ObserveFetch(category, e.clock.Now().Sub(start))

		if err == nil {
			metrics.PageFetched(category, "ok")
			return page, true
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			r.stopped = true
			return scrape.Page{}, false
		}

		fe := scrape.AsFetchError(err)
		if fe.Fatal() {
			metrics.PageFetched(category, "fatal")
			r.fatal = fe
			r.errs = append(r.errs, scrape.JobError{
				Code:    string(fe.Code),
				Message: "page fetch aborted",
				Details: fe.Error(),
				At:      e.clock.Now().UTC(),
			})
			return scrape.Page{}, false
		}

		metrics.PageFetched(category, "retryable")
		r.errs = append(r.errs, scrape.JobError{
			Code:    string(fe.Code),
			Message: "transient page fetch failure",
			Details: fe.Error(),
			At:      e.clock.Now().UTC(),
		})
		e.logger.Warn("page fetch failed",
			zap.String("category", category),
			zap.String("target", string(step.Target.Kind)+":"+step.Target.Value),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == e.retry.MaxAttempts {
			break
		}
		metrics.FetchRetried()
		select {
		case <-ctx.Done():
			r.stopped = true
			return scrape.Page{}, false
		case <-time.After(e.retry.Delay(attempt)):
		}
	}
	// Retry budget spent; the page is skipped, not the job.
	r.errs = append(r.errs, scrape.JobError{
		Code:    "PAGE_SKIPPED",
		Message: "page retry budget exhausted",
		Details: string(step.Category) + " page skipped after repeated transient failures",
		At:      r.engine.clock.Now().UTC(),
	})
	return scrape.Page{}, false
}

func (r *engineRun) countFetched(category scrape.Category, n int) {
	switch category {
	case scrape.CategoryPosts:
		r.progress.PostsFetched += n
	case scrape.CategoryComments:
		r.progress.CommentsFetched += n
	case scrape.CategoryUsers:
		r.progress.UsersFetched += n
	case scrape.CategoryCommunities:
		r.progress.CommunitiesFetched += n
	}
}

func (r *engineRun) observeCheckpoint() bool {
	if r.checkpoint == nil {
		return false
	}
	if r.checkpoint(r.progress, r.errs) {
		r.stopped = true
		return true
	}
	return false
}
