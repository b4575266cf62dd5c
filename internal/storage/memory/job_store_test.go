package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/redditextract/redditextract/internal/scrape"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type seqIDGen struct {
	n int
}

func (g *seqIDGen) NewID() (string, error) {
	g.n++
	return string(rune('a'+g.n-1)) + "-job", nil
}

func newTestStore(t *testing.T) (*JobStore, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewJobStore(&seqIDGen{}, clk), clk
}

func TestCreateStartsQueued(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	job, err := store.Create(context.Background(), scrape.ScrapeRequest{SearchTerm: "golang"})
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusQueued, job.Status)
	require.NotEmpty(t, job.ID)
	require.Nil(t, job.Delivery)

	withHook, err := store.Create(context.Background(), scrape.ScrapeRequest{
		SearchTerm: "golang",
		WebhookURL: "https://example.com/hook",
	})
	require.NoError(t, err)
	require.NotNil(t, withHook.Delivery)
	require.Equal(t, scrape.DeliveryPending, withHook.Delivery.State)
}

func TestTransitionCompareAndSet(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	job, err := store.Create(ctx, scrape.ScrapeRequest{SearchTerm: "x"})
	require.NoError(t, err)

	claimed, err := store.Transition(ctx, job.ID, scrape.JobStatusQueued, scrape.JobStatusRunning, nil)
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusRunning, claimed.Status)
	require.NotNil(t, claimed.StartedAt)

	// A second claim must observe the conflict.
	_, err = store.Transition(ctx, job.ID, scrape.JobStatusQueued, scrape.JobStatusRunning, nil)
	require.ErrorIs(t, err, scrape.ErrConflict)

	done, err := store.Transition(ctx, job.ID, scrape.JobStatusRunning, scrape.JobStatusSucceeded, func(j *scrape.Job) {
		j.Result = &scrape.ResultSet{ItemsReturned: 3}
	})
	require.NoError(t, err)
	require.True(t, done.Status.Terminal())
	require.NotNil(t, done.FinishedAt)

	// Terminal states never move again.
	_, err = store.Transition(ctx, job.ID, scrape.JobStatusSucceeded, scrape.JobStatusRunning, nil)
	require.ErrorIs(t, err, scrape.ErrConflict)
}

func TestTransitionUnknownJob(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	_, err := store.Transition(context.Background(), "missing", scrape.JobStatusQueued, scrape.JobStatusRunning, nil)
	require.ErrorIs(t, err, scrape.ErrJobNotFound)
}

func TestCheckpointWrite(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	job, err := store.Create(ctx, scrape.ScrapeRequest{SearchTerm: "x"})
	require.NoError(t, err)
	_, err = store.Transition(ctx, job.ID, scrape.JobStatusQueued, scrape.JobStatusRunning, nil)
	require.NoError(t, err)

	snap, err := store.Transition(ctx, job.ID, scrape.JobStatusRunning, scrape.JobStatusRunning, func(j *scrape.Job) {
		j.Progress.PagesProcessed = 2
		j.Progress.ItemsScraped = 50
	})
	require.NoError(t, err)
	require.Equal(t, 2, snap.Progress.PagesProcessed)
	require.Equal(t, 50, snap.Progress.ItemsScraped)
	// Checkpoint writes never set terminal timestamps.
	require.Nil(t, snap.FinishedAt)
}

func TestRequestCancel(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	queued, err := store.Create(ctx, scrape.ScrapeRequest{SearchTerm: "x"})
	require.NoError(t, err)
	cancelled, err := store.RequestCancel(ctx, queued.ID)
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.FinishedAt)

	running, err := store.Create(ctx, scrape.ScrapeRequest{SearchTerm: "y"})
	require.NoError(t, err)
	_, err = store.Transition(ctx, running.ID, scrape.JobStatusQueued, scrape.JobStatusRunning, nil)
	require.NoError(t, err)
	flagged, err := store.RequestCancel(ctx, running.ID)
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusRunning, flagged.Status)
	require.True(t, flagged.CancelRequested)

	// Cancelling a terminal job is a conflict.
	_, err = store.RequestCancel(ctx, queued.ID)
	require.ErrorIs(t, err, scrape.ErrConflict)
}

func TestSnapshotsAreIsolated(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	job, err := store.Create(ctx, scrape.ScrapeRequest{SearchTerm: "x"})
	require.NoError(t, err)

	snap, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	snap.Status = scrape.JobStatusFailed
	snap.Errors = append(snap.Errors, scrape.JobError{Code: "X"})

	fresh, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusQueued, fresh.Status)
	require.Empty(t, fresh.Errors)
}

func TestListOrderAndFilter(t *testing.T) {
	t.Parallel()
	store, clk := newTestStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, scrape.ScrapeRequest{SearchTerm: "a"})
	require.NoError(t, err)
	clk.now = clk.now.Add(time.Minute)
	second, err := store.Create(ctx, scrape.ScrapeRequest{SearchTerm: "b"})
	require.NoError(t, err)

	all, err := store.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, second.ID, all[0].ID)
	require.Equal(t, first.ID, all[1].ID)

	_, err = store.Transition(ctx, first.ID, scrape.JobStatusQueued, scrape.JobStatusRunning, nil)
	require.NoError(t, err)

	running := scrape.JobStatusRunning
	filtered, err := store.List(ctx, &running)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, first.ID, filtered[0].ID)
}

func TestUpdateDeliveryLeavesStatusAlone(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	job, err := store.Create(ctx, scrape.ScrapeRequest{
		SearchTerm: "x",
		WebhookURL: "https://example.com/hook",
	})
	require.NoError(t, err)

	updated, err := store.UpdateDelivery(ctx, job.ID, func(w *scrape.WebhookDelivery) {
		w.State = scrape.DeliveryExhausted
		w.Attempts = append(w.Attempts, scrape.DeliveryAttempt{StatusCode: 500})
	})
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusQueued, updated.Status)
	require.Equal(t, scrape.DeliveryExhausted, updated.Delivery.State)
	require.Len(t, updated.Delivery.Attempts, 1)
}

func TestSummaryAndSweep(t *testing.T) {
	t.Parallel()
	store, clk := newTestStore(t)
	ctx := context.Background()

	old, err := store.Create(ctx, scrape.ScrapeRequest{SearchTerm: "old"})
	require.NoError(t, err)
	_, err = store.Transition(ctx, old.ID, scrape.JobStatusQueued, scrape.JobStatusRunning, nil)
	require.NoError(t, err)
	_, err = store.Transition(ctx, old.ID, scrape.JobStatusRunning, scrape.JobStatusFailed, nil)
	require.NoError(t, err)

	clk.now = clk.now.Add(48 * time.Hour)
	fresh, err := store.Create(ctx, scrape.ScrapeRequest{SearchTerm: "fresh"})
	require.NoError(t, err)

	summary, err := store.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary[scrape.JobStatusFailed])
	require.Equal(t, 1, summary[scrape.JobStatusQueued])

	removed, err := store.Sweep(ctx, clk.now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = store.Get(ctx, old.ID)
	require.ErrorIs(t, err, scrape.ErrJobNotFound)
	_, err = store.Get(ctx, fresh.ID)
	require.NoError(t, err)
}
