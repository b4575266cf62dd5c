package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/redditextract/redditextract/internal/format"
	"github.com/redditextract/redditextract/internal/hash/sha256"
	"github.com/redditextract/redditextract/internal/scrape"
	memoryStorage "github.com/redditextract/redditextract/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type seqIDGen struct{ n int }

func (g *seqIDGen) NewID() (string, error) {
	g.n++
	return string(rune('a'+g.n-1)) + "-job", nil
}

func newDispatcher(t *testing.T, maxAttempts int) (*Dispatcher, *memoryStorage.JobStore) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := memoryStorage.NewJobStore(&seqIDGen{}, clk)
	d := New(store, format.New(), scrape.NewBackoff(maxAttempts, time.Millisecond, 2*time.Millisecond), clk, Config{
		Timeout: time.Second,
	}, zap.NewNop())
	return d, store
}

func terminalJob(t *testing.T, store *memoryStorage.JobStore, url string, status scrape.JobStatus) scrape.Job {
	t.Helper()
	ctx := context.Background()
	job, err := store.Create(ctx, scrape.ScrapeRequest{SearchTerm: "x", WebhookURL: url})
	require.NoError(t, err)
	_, err = store.Transition(ctx, job.ID, scrape.JobStatusQueued, scrape.JobStatusRunning, nil)
	require.NoError(t, err)
	final, err := store.Transition(ctx, job.ID, scrape.JobStatusRunning, status, func(j *scrape.Job) {
		if status == scrape.JobStatusSucceeded {
			j.Result = &scrape.ResultSet{
				Posts:         []scrape.Post{{ID: "p1", Title: "hello"}},
				TotalItems:    1,
				ItemsReturned: 1,
			}
		}
	})
	require.NoError(t, err)
	return final
}

func TestDeliverySucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var bodies [][]byte
	var digests []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, body)
		digests = append(digests, r.Header.Get("X-Payload-Digest"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, store := newDispatcher(t, 3)
	job := terminalJob(t, store, srv.URL, scrape.JobStatusSucceeded)

	d.deliver(context.Background(), job)

	final, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, scrape.DeliveryDelivered, final.Delivery.State)
	require.Len(t, final.Delivery.Attempts, 1)
	require.True(t, final.Delivery.Attempts[0].Delivered)
	require.Nil(t, final.Delivery.NextAttemptAt)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 1)
	var payload struct {
		JobID   string `json:"jobId"`
		Status  string `json:"status"`
		Success bool   `json:"success"`
	}
	require.NoError(t, json.Unmarshal(bodies[0], &payload))
	require.Equal(t, job.ID, payload.JobID)
	require.Equal(t, "SUCCEEDED", payload.Status)
	require.True(t, payload.Success)

	require.Len(t, digests, 1)
	require.Equal(t, "sha256="+sha256.New().Hash(bodies[0]), digests[0])
}

func TestDeliveryRetriesThenExhausts(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, store := newDispatcher(t, 3)
	job := terminalJob(t, store, srv.URL, scrape.JobStatusSucceeded)

	d.deliver(context.Background(), job)

	mu.Lock()
	require.Equal(t, 3, hits)
	mu.Unlock()

	final, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, scrape.DeliveryExhausted, final.Delivery.State)
	require.Len(t, final.Delivery.Attempts, 3)
	// Exhausted delivery never touches job status.
	require.Equal(t, scrape.JobStatusSucceeded, final.Status)
}

func TestDeliveryShutdownMidBackoffClosesRecord(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	clk := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := memoryStorage.NewJobStore(&seqIDGen{}, clk)
	d := New(store, format.New(), scrape.NewBackoff(5, time.Minute, time.Minute), clk, Config{
		Timeout: time.Second,
	}, zap.NewNop())
	job := terminalJob(t, store, srv.URL, scrape.JobStatusSucceeded)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.deliver(ctx, job)
		close(done)
	}()

	// Let the first attempt land, then shut down during the backoff wait.
	require.Eventually(t, func() bool {
		j, err := store.Get(context.Background(), job.ID)
		return err == nil && len(j.Delivery.Attempts) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("deliver did not return after cancel")
	}

	final, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, scrape.DeliveryExhausted, final.Delivery.State)
	require.Nil(t, final.Delivery.NextAttemptAt)
	// Job status stays untouched on shutdown.
	require.Equal(t, scrape.JobStatusSucceeded, final.Status)
}

func TestDeliveryRejectedNotRetried(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d, store := newDispatcher(t, 3)
	job := terminalJob(t, store, srv.URL, scrape.JobStatusSucceeded)

	d.deliver(context.Background(), job)

	mu.Lock()
	require.Equal(t, 1, hits)
	mu.Unlock()

	final, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, scrape.DeliveryExhausted, final.Delivery.State)
	require.Len(t, final.Delivery.Attempts, 1)
}

func TestFailedJobPayloadReportsFailure(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		body = b
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, store := newDispatcher(t, 3)
	job := terminalJob(t, store, srv.URL, scrape.JobStatusFailed)

	d.deliver(context.Background(), job)

	mu.Lock()
	defer mu.Unlock()
	var payload struct {
		Status  string `json:"status"`
		Success bool   `json:"success"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Equal(t, "FAILED", payload.Status)
	require.False(t, payload.Success)
}

func TestRunDrainsQueue(t *testing.T) {
	t.Parallel()

	done := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		select {
		case done <- struct{}{}:
		default:
		}
	}))
	defer srv.Close()

	d, store := newDispatcher(t, 3)
	job := terminalJob(t, store, srv.URL, scrape.JobStatusSucceeded)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.NoError(t, d.Deliver(ctx, job))
	require.Eventually(t, func() bool {
		final, err := store.Get(context.Background(), job.ID)
		return err == nil && final.Delivery.State == scrape.DeliveryDelivered
	}, 2*time.Second, 10*time.Millisecond)

	<-done
}
