package redditfetcher

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redditextract/redditextract/internal/scrape"
)

// endpoint is a resolved listing URL plus whether the listing is
// single-shot (post permalinks return the full comment tree in one page).
type endpoint struct {
	url        string
	singleShot bool
}

// sorts that accept a time filter window.
var timeFilteredSorts = map[string]bool{
	"top":           true,
	"controversial": true,
	"relevance":     true,
	"comments":      true,
}

// buildEndpoint maps a (target, category) pair onto reddit's public JSON
// listing endpoints.
func buildEndpoint(base string, target scrape.Target, category scrape.Category, cursor string, pageSize int) (endpoint, error) {
	path, single, err := listingPath(target, category)
	if err != nil {
		return endpoint{}, err
	}

	q := url.Values{}
	q.Set("raw_json", "1")
	q.Set("limit", strconv.Itoa(pageSize))
	if cursor != "" {
		q.Set("after", cursor)
	}
	if target.Kind == scrape.TargetSearch {
		q.Set("q", target.Value)
		if target.Sort != "" {
			q.Set("sort", target.Sort)
		}
	}
	if target.TimeFilter != "" && timeFilteredSorts[target.Sort] {
		q.Set("t", target.TimeFilter)
	}

	return endpoint{
		url:        strings.TrimRight(base, "/") + path + "?" + q.Encode(),
		singleShot: single,
	}, nil
}

func listingPath(target scrape.Target, category scrape.Category) (string, bool, error) {
	switch target.Kind {
	case scrape.TargetSubreddit:
		switch category {
		case scrape.CategoryPosts:
			sort := target.Sort
			if sort == "" || sort == "relevance" {
				sort = "hot"
			}
			return "/r/" + url.PathEscape(target.Value) + "/" + sort + ".json", false, nil
		case scrape.CategoryComments:
			return "/r/" + url.PathEscape(target.Value) + "/comments.json", false, nil
		}
	case scrape.TargetUser:
		switch category {
		case scrape.CategoryPosts:
			return "/user/" + url.PathEscape(target.Value) + "/submitted.json", false, nil
		case scrape.CategoryComments:
			return "/user/" + url.PathEscape(target.Value) + "/comments.json", false, nil
		}
	case scrape.TargetPost:
		switch category {
		case scrape.CategoryPosts, scrape.CategoryComments:
			// The permalink serves both: the first listing holds the post,
			// the second its comment tree.
			return strings.TrimRight(target.Value, "/") + ".json", true, nil
		}
	case scrape.TargetSearch:
		switch category {
		case scrape.CategoryPosts:
			return "/search.json", false, nil
		case scrape.CategoryUsers:
			return "/users/search.json", false, nil
		case scrape.CategoryCommunities:
			return "/subreddits/search.json", false, nil
		}
	}
	return "", false, fmt.Errorf("no listing endpoint for %s/%s", target.Kind, category)
}
