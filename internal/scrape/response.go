package scrape

import (
	"fmt"
	"time"
)

// Response is the envelope returned to synchronous callers and posted to
// webhooks. The schema is identical for both paths.
type Response struct {
	Success  bool       `json:"success"`
	Data     ResultSet  `json:"data"`
	Metadata Metadata   `json:"metadata"`
	Errors   []JobError `json:"errors"`
}

// Metadata describes how a result set was produced.
type Metadata struct {
	TotalItems    int           `json:"totalItems"`
	ItemsReturned int           `json:"itemsReturned"`
	RequestParams ScrapeRequest `json:"requestParams"`
	ScrapedAt     time.Time     `json:"scrapedAt"`
	ExecutionTime string        `json:"executionTime,omitempty"`
}

// BuildResponse assembles the envelope for a result set. errs may be nil.
func BuildResponse(req ScrapeRequest, result ResultSet, errs []JobError, scrapedAt time.Time, execution time.Duration) Response {
	return Response{
		Success: true,
		Data:    normalized(result),
		Metadata: Metadata{
			TotalItems:    result.TotalItems,
			ItemsReturned: result.ItemsReturned,
			RequestParams: req,
			ScrapedAt:     scrapedAt.UTC(),
			ExecutionTime: fmt.Sprintf("%.2fs", execution.Seconds()),
		},
		Errors: append([]JobError(nil), errs...),
	}
}

// BuildJobResponse assembles the envelope for a terminal job snapshot.
// Failed and cancelled jobs produce success=false with empty data.
func BuildJobResponse(job Job) Response {
	var execution time.Duration
	scrapedAt := job.CreatedAt
	if job.StartedAt != nil && job.FinishedAt != nil {
		execution = job.FinishedAt.Sub(*job.StartedAt)
		scrapedAt = *job.FinishedAt
	}
	if job.Status == JobStatusSucceeded && job.Result != nil {
		resp := BuildResponse(job.Request, *job.Result, job.Errors, scrapedAt, execution)
		return resp
	}
	return Response{
		Success: false,
		Data:    normalized(ResultSet{}),
		Metadata: Metadata{
			RequestParams: job.Request,
			ScrapedAt:     scrapedAt.UTC(),
			ExecutionTime: fmt.Sprintf("%.2fs", execution.Seconds()),
		},
		Errors: append([]JobError(nil), job.Errors...),
	}
}

// normalized replaces nil collections with empty slices so encodings stay
// stable regardless of which categories were fetched.
func normalized(rs ResultSet) ResultSet {
	if rs.Posts == nil {
		rs.Posts = []Post{}
	}
	if rs.Comments == nil {
		rs.Comments = []Comment{}
	}
	if rs.Users == nil {
		rs.Users = []User{}
	}
	if rs.Communities == nil {
		rs.Communities = []Community{}
	}
	return rs
}
