package api

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redditextract/redditextract/internal/scrape"
)

// Limits bounds request parameters at the API boundary.
type Limits struct {
	DefaultMaxItems int
	MaxItemsCeiling int
}

var validSorts = map[string]bool{
	"relevance":     true,
	"hot":           true,
	"top":           true,
	"new":           true,
	"rising":        true,
	"comments":      true,
	"controversial": true,
}

var validDateFilters = map[string]bool{
	"hour":  true,
	"day":   true,
	"week":  true,
	"month": true,
	"year":  true,
	"all":   true,
}

var validFormats = map[scrape.Format]bool{
	scrape.FormatJSON: true,
	scrape.FormatCSV:  true,
	scrape.FormatRSS:  true,
	scrape.FormatXML:  true,
}

// validationError carries all rule violations for a 400 response.
type validationError struct {
	Problems []string
}

func (e *validationError) Error() string {
	return "invalid request: " + strings.Join(e.Problems, "; ")
}

// validateRequest normalizes a request in place and returns a
// validationError listing every violated rule.
func validateRequest(req *scrape.ScrapeRequest, limits Limits) error {
	var problems []string

	req.SearchTerm = strings.TrimSpace(req.SearchTerm)
	hasURLs := len(req.StartURLs) > 0
	hasTerm := req.SearchTerm != ""
	switch {
	case hasURLs && hasTerm:
		problems = append(problems, "startUrls and searchTerm are mutually exclusive")
	case !hasURLs && !hasTerm:
		problems = append(problems, "one of startUrls or searchTerm is required")
	}

	for _, raw := range req.StartURLs {
		if _, err := scrape.ParseStartURL(raw); err != nil {
			problems = append(problems, fmt.Sprintf("startUrls: %v", err))
		}
	}

	if req.MaxItems < 0 {
		problems = append(problems, "maxItems must not be negative")
	}
	if req.MaxItems == 0 {
		req.MaxItems = limits.DefaultMaxItems
	}
	if limits.MaxItemsCeiling > 0 && req.MaxItems > limits.MaxItemsCeiling {
		req.MaxItems = limits.MaxItemsCeiling
	}
	if req.PostsPerPage < 0 || req.PostsPerPage > 100 {
		problems = append(problems, "postsPerPage must be between 0 and 100")
	}
	if req.CommentsPerPage < 0 || req.CommentsPerPage > 100 {
		problems = append(problems, "commentsPerPage must be between 0 and 100")
	}

	if req.SortSearch != "" && !validSorts[req.SortSearch] {
		problems = append(problems, fmt.Sprintf("sortSearch %q is not supported", req.SortSearch))
	}
	if req.FilterByDate != "" && !validDateFilters[req.FilterByDate] {
		problems = append(problems, fmt.Sprintf("filterByDate %q is not supported", req.FilterByDate))
	}
	if req.PostDateLimit != nil && req.PostDateLimit.After(time.Now().UTC()) {
		problems = append(problems, "postDateLimit must not be in the future")
	}

	if req.OutputFormat == "" {
		req.OutputFormat = scrape.FormatJSON
	}
	if !validFormats[req.OutputFormat] {
		problems = append(problems, fmt.Sprintf("outputFormat %q is not supported", req.OutputFormat))
	}

	if req.WebhookURL != "" {
		if err := validateWebhookURL(req.WebhookURL); err != nil {
			problems = append(problems, err.Error())
		}
	}

	// Posts are the default search scope when nothing was asked for.
	if !req.SearchForPosts && !req.SearchForComments && !req.SearchForUsers && !req.SearchForCommunities {
		req.SearchForPosts = true
	}
	// Search has no direct comment listing; comments are mined from the
	// posts the search discovers.
	if hasTerm && req.SearchForComments && !req.SearchForPosts {
		problems = append(problems, "searchForComments requires searchForPosts on search requests")
	}

	if len(problems) > 0 {
		return &validationError{Problems: problems}
	}
	return nil
}

func validateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("webhookUrl is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhookUrl must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("webhookUrl must include a host")
	}
	return nil
}
