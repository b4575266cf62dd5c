package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/redditextract/redditextract/internal/dispatcher"
	"github.com/redditextract/redditextract/internal/format"
	queueMemory "github.com/redditextract/redditextract/internal/queue/memory"
	"github.com/redditextract/redditextract/internal/scrape"
	memoryStorage "github.com/redditextract/redditextract/internal/storage/memory"
	"github.com/redditextract/redditextract/internal/worker"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type seqIDGen struct{ n int }

func (g *seqIDGen) NewID() (string, error) {
	g.n++
	return string(rune('a'+g.n-1)) + "-job", nil
}

type fakeGateway struct {
	page scrape.Page
	err  error
}

func (g *fakeGateway) FetchPage(context.Context, scrape.Target, scrape.Category, string, int) (scrape.Page, error) {
	if g.err != nil {
		return scrape.Page{}, g.err
	}
	return g.page, nil
}

type fixture struct {
	server *Server
	store  *memoryStorage.JobStore
	queue  *queueMemory.Queue
}

func newFixture(t *testing.T, gateway scrape.FetchGateway) *fixture {
	t.Helper()
	clk := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := memoryStorage.NewJobStore(&seqIDGen{}, clk)
	queue := queueMemory.NewQueue(8)
	engine := worker.NewEngine(gateway, scrape.NewBackoff(1, time.Millisecond, time.Millisecond), clk, worker.EngineConfig{
		FetchTimeout: time.Second,
	}, zap.NewNop())
	srv := NewServer(store, dispatcher.New(queue, nil), engine, format.New(), clk, Config{
		RequestTimeout: 5 * time.Second,
		SyncTimeout:    2 * time.Second,
		Limits:         Limits{DefaultMaxItems: 100, MaxItemsCeiling: 1000},
	}, zap.NewNop())
	return &fixture{server: srv, store: store, queue: queue}
}

func onePostGateway() *fakeGateway {
	return &fakeGateway{page: scrape.Page{
		Records: []scrape.Record{{
			Category: scrape.CategoryPosts,
			Post:     &scrape.Post{ID: "p1", Title: "hello", CreatedUTC: 1717243200},
		}},
		Done: true,
	}}
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestScrapeRejectsConflictingSources(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, onePostGateway())

	rec := postJSON(t, fx.server.Handler(), "/api/scrape", map[string]any{
		"startUrls":  []string{"https://www.reddit.com/r/golang"},
		"searchTerm": "golang",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Success bool `json:"success"`
		Errors  []struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Success)
	require.NotEmpty(t, body.Errors)
	require.Equal(t, "INVALID_PARAMS", body.Errors[0].Code)
}

func TestScrapeRejectsMissingSource(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, onePostGateway())

	rec := postJSON(t, fx.server.Handler(), "/api/scrape", map[string]any{"maxItems": 10})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScrapeAsyncAccepted(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, onePostGateway())

	rec := postJSON(t, fx.server.Handler(), "/api/scrape", map[string]any{
		"searchTerm": "golang",
		"async":      true,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body struct {
		JobID  string `json:"jobId"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.JobID)
	require.Equal(t, "QUEUED", body.Status)

	// The job is both persisted and queued.
	queued, err := fx.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, body.JobID, queued)

	status := get(t, fx.server.Handler(), "/api/jobs/"+body.JobID)
	require.Equal(t, http.StatusOK, status.Code)
}

func TestScrapeWebhookImpliesAsync(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, onePostGateway())

	rec := postJSON(t, fx.server.Handler(), "/api/scrape", map[string]any{
		"searchTerm": "golang",
		"webhookUrl": "https://example.com/hook",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestScrapeSyncReturnsEnvelope(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, onePostGateway())

	rec := postJSON(t, fx.server.Handler(), "/api/scrape", map[string]any{
		"searchTerm": "golang",
		"maxItems":   10,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Posts []scrape.Post `json:"posts"`
		} `json:"data"`
		Metadata struct {
			ItemsReturned int `json:"itemsReturned"`
		} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.Len(t, body.Data.Posts, 1)
	require.Equal(t, 1, body.Metadata.ItemsReturned)
}

func TestScrapeSyncAllPagesFailing(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, &fakeGateway{err: scrape.NewFetchError(scrape.ErrCodeNetwork, "down", nil)})

	rec := postJSON(t, fx.server.Handler(), "/api/scrape", map[string]any{
		"searchTerm": "golang",
	})
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, onePostGateway())

	rec := get(t, fx.server.Handler(), "/api/jobs/missing")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobsFilter(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, onePostGateway())
	ctx := context.Background()

	_, err := fx.store.Create(ctx, scrape.ScrapeRequest{SearchTerm: "a"})
	require.NoError(t, err)
	_, err = fx.store.Create(ctx, scrape.ScrapeRequest{SearchTerm: "b"})
	require.NoError(t, err)

	rec := get(t, fx.server.Handler(), "/api/jobs/?status=QUEUED")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)

	rec = get(t, fx.server.Handler(), "/api/jobs/?status=bogus")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobsSummary(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, onePostGateway())
	ctx := context.Background()

	_, err := fx.store.Create(ctx, scrape.ScrapeRequest{SearchTerm: "a"})
	require.NoError(t, err)

	rec := get(t, fx.server.Handler(), "/api/jobs/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Total    int            `json:"total"`
		ByStatus map[string]int `json:"byStatus"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Total)
	require.Equal(t, 1, body.ByStatus["QUEUED"])
}

func TestCancelJobStates(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, onePostGateway())
	ctx := context.Background()

	job, err := fx.store.Create(ctx, scrape.ScrapeRequest{SearchTerm: "a"})
	require.NoError(t, err)

	rec := postJSON(t, fx.server.Handler(), "/api/jobs/"+job.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// A second cancel hits a terminal job.
	rec = postJSON(t, fx.server.Handler(), "/api/jobs/"+job.ID+"/cancel", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = postJSON(t, fx.server.Handler(), "/api/jobs/missing/cancel", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, onePostGateway())

	rec := get(t, fx.server.Handler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestValidationDefaults(t *testing.T) {
	t.Parallel()

	req := scrape.ScrapeRequest{SearchTerm: "golang"}
	err := validateRequest(&req, Limits{DefaultMaxItems: 100, MaxItemsCeiling: 1000})
	require.NoError(t, err)
	require.Equal(t, 100, req.MaxItems)
	require.Equal(t, scrape.FormatJSON, req.OutputFormat)
	require.True(t, req.SearchForPosts)
}

func TestValidationCeilingClamp(t *testing.T) {
	t.Parallel()

	req := scrape.ScrapeRequest{SearchTerm: "golang", MaxItems: 50000}
	err := validateRequest(&req, Limits{DefaultMaxItems: 100, MaxItemsCeiling: 1000})
	require.NoError(t, err)
	require.Equal(t, 1000, req.MaxItems)
}

func TestValidationWebhookScheme(t *testing.T) {
	t.Parallel()

	req := scrape.ScrapeRequest{SearchTerm: "golang", WebhookURL: "ftp://example.com/hook"}
	err := validateRequest(&req, Limits{DefaultMaxItems: 100, MaxItemsCeiling: 1000})
	require.Error(t, err)
}

func TestValidationSortWhitelist(t *testing.T) {
	t.Parallel()

	req := scrape.ScrapeRequest{SearchTerm: "golang", SortSearch: "sideways"}
	err := validateRequest(&req, Limits{DefaultMaxItems: 100, MaxItemsCeiling: 1000})
	require.Error(t, err)
}
