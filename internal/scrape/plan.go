package scrape

import (
	"fmt"
	"net/url"
	"strings"
)

// TargetKind identifies what a fetch target points at.
type TargetKind string

// Supported target kinds.
const (
	TargetSubreddit TargetKind = "subreddit"
	TargetUser      TargetKind = "user"
	TargetPost      TargetKind = "post"
	TargetSearch    TargetKind = "search"
)

// Target describes one remote resource the Fetch Gateway can page through.
// Value holds the subreddit name, username, post permalink path, or search
// query depending on Kind.
type Target struct {
	Kind       TargetKind
	Value      string
	Sort       string
	TimeFilter string
}

// Step pairs a target with the category to fetch from it.
type Step struct {
	Target   Target
	Category Category
}

// Plan is the ordered set of fetch steps derived from a request.
// DeriveComments marks search plans whose comments come from the permalinks
// of posts discovered while executing the posts steps.
type Plan struct {
	Steps           []Step
	DeriveComments  bool
	CommentPostsCap int
}

// derivedCommentPostsCap bounds how many discovered posts are mined for
// comments on search requests.
const derivedCommentPostsCap = 5

// BuildPlan expands a validated request into fetch steps.
func BuildPlan(req ScrapeRequest) (Plan, error) {
	wantPosts := req.SearchForPosts
	wantComments := req.SearchForComments && !req.SkipComments

	if req.SearchTerm != "" {
		return buildSearchPlan(req, wantPosts, wantComments), nil
	}

	var plan Plan
	for _, raw := range req.StartURLs {
		target, err := ParseStartURL(raw)
		if err != nil {
			return Plan{}, err
		}
		target.Sort = req.SortSearch
		target.TimeFilter = req.FilterByDate
		switch target.Kind {
		case TargetSubreddit:
			if wantPosts {
				plan.Steps = append(plan.Steps, Step{Target: target, Category: CategoryPosts})
			}
			if wantComments {
				plan.Steps = append(plan.Steps, Step{Target: target, Category: CategoryComments})
			}
		case TargetUser:
			if wantPosts {
				plan.Steps = append(plan.Steps, Step{Target: target, Category: CategoryPosts})
			}
			if wantComments {
				plan.Steps = append(plan.Steps, Step{Target: target, Category: CategoryComments})
			}
		case TargetPost:
			plan.Steps = append(plan.Steps, Step{Target: target, Category: CategoryPosts})
			if wantComments {
				plan.Steps = append(plan.Steps, Step{Target: target, Category: CategoryComments})
			}
		default:
			return Plan{}, fmt.Errorf("unsupported target kind %q", target.Kind)
		}
	}
	if len(plan.Steps) == 0 {
		return Plan{}, fmt.Errorf("request yields no fetch steps")
	}
	return plan, nil
}

func buildSearchPlan(req ScrapeRequest, wantPosts, wantComments bool) Plan {
	target := Target{
		Kind:       TargetSearch,
		Value:      req.SearchTerm,
		Sort:       req.SortSearch,
		TimeFilter: req.FilterByDate,
	}
	var plan Plan
	if wantPosts {
		plan.Steps = append(plan.Steps, Step{Target: target, Category: CategoryPosts})
	}
	if req.SearchForUsers {
		plan.Steps = append(plan.Steps, Step{Target: target, Category: CategoryUsers})
	}
	if req.SearchForCommunities {
		plan.Steps = append(plan.Steps, Step{Target: target, Category: CategoryCommunities})
	}
	if wantComments {
		// Search has no direct comment listing; comments are mined from
		// the permalinks of discovered posts.
		plan.DeriveComments = true
		plan.CommentPostsCap = derivedCommentPostsCap
	}
	return plan
}

// ParseStartURL classifies a Reddit URL into a fetch target.
func ParseStartURL(raw string) (Target, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Target{}, fmt.Errorf("parse start url %q: %w", raw, err)
	}
	path := strings.Trim(u.Path, "/")
	parts := strings.Split(path, "/")
	switch {
	case len(parts) >= 4 && parts[0] == "r" && parts[2] == "comments":
		return Target{Kind: TargetPost, Value: "/" + path}, nil
	case len(parts) >= 2 && parts[0] == "r":
		return Target{Kind: TargetSubreddit, Value: parts[1]}, nil
	case len(parts) >= 2 && (parts[0] == "user" || parts[0] == "u"):
		return Target{Kind: TargetUser, Value: parts[1]}, nil
	default:
		return Target{}, fmt.Errorf("unrecognized reddit url %q", raw)
	}
}
