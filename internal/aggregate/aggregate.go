// Package aggregate accumulates fetched records into bounded result sets.
package aggregate

import (
	"time"

	"github.com/redditextract/redditextract/internal/scrape"
)

// Aggregator collects records into the four result collections while
// enforcing the global maxItems ceiling across all categories combined.
// Filtered-out records count toward TotalItems but never ItemsReturned.
// It is owned by a single worker and is not safe for concurrent use.
type Aggregator struct {
	includeNSFW bool
	cutoff      time.Time // zero means no date filtering
	max         int
	set         scrape.ResultSet
}

// dateWindows maps filterByDate values to lookback windows.
var dateWindows = map[string]time.Duration{
	"hour":  time.Hour,
	"day":   24 * time.Hour,
	"week":  7 * 24 * time.Hour,
	"month": 30 * 24 * time.Hour,
	"year":  365 * 24 * time.Hour,
}

// New builds an Aggregator for a request. now anchors relative date
// filters so results are reproducible under a fake clock.
func New(req scrape.ScrapeRequest, now time.Time) *Aggregator {
	a := &Aggregator{
		includeNSFW: req.IncludeNSFW,
		max:         req.MaxItems,
	}
	if window, ok := dateWindows[req.FilterByDate]; ok {
		a.cutoff = now.Add(-window)
	}
	// When both filters are supplied the stricter cutoff wins.
	if req.PostDateLimit != nil && req.PostDateLimit.After(a.cutoff) {
		a.cutoff = *req.PostDateLimit
	}
	return a
}

// Add offers one record to the result set. Every offered record counts as
// seen; records offered while the set is already full are discarded and
// Add returns false so the caller stops paginating after this page.
func (a *Aggregator) Add(rec scrape.Record) bool {
	a.set.TotalItems++
	if a.Full() {
		return false
	}
	if !a.keep(rec) {
		return true
	}
	switch rec.Category {
	case scrape.CategoryPosts:
		a.set.Posts = append(a.set.Posts, *rec.Post)
	case scrape.CategoryComments:
		a.set.Comments = append(a.set.Comments, *rec.Comment)
	case scrape.CategoryUsers:
		a.set.Users = append(a.set.Users, *rec.User)
	case scrape.CategoryCommunities:
		a.set.Communities = append(a.set.Communities, *rec.Community)
	default:
		return true
	}
	a.set.ItemsReturned++
	return true
}

// AddPage feeds a whole page. All records count as seen; it returns false
// when the ceiling forced any of them to be discarded.
func (a *Aggregator) AddPage(page scrape.Page) bool {
	kept := true
	for _, rec := range page.Records {
		if !a.Add(rec) {
			kept = false
		}
	}
	return kept
}

// Full reports whether the maxItems ceiling has been reached.
func (a *Aggregator) Full() bool {
	return a.max > 0 && a.set.ItemsReturned >= a.max
}

// Result hands off the accumulated set.
func (a *Aggregator) Result() scrape.ResultSet {
	return a.set
}

// Posts returns the accumulated posts; the worker uses it to derive
// comment targets on search plans.
func (a *Aggregator) Posts() []scrape.Post {
	return a.set.Posts
}

func (a *Aggregator) keep(rec scrape.Record) bool {
	if !a.includeNSFW && rec.IsNSFW() {
		return false
	}
	if !a.cutoff.IsZero() && rec.CreatedAt().Before(a.cutoff) {
		return false
	}
	return true
}
