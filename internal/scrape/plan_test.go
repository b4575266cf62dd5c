package scrape

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseStartURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw   string
		kind  TargetKind
		value string
	}{
		{"https://www.reddit.com/r/golang", TargetSubreddit, "golang"},
		{"https://www.reddit.com/r/golang/", TargetSubreddit, "golang"},
		{"https://reddit.com/r/golang/comments/abc123/some_title/", TargetPost, "/r/golang/comments/abc123/some_title"},
		{"https://www.reddit.com/user/spez", TargetUser, "spez"},
		{"https://www.reddit.com/u/spez/", TargetUser, "spez"},
	}
	for _, tc := range cases {
		target, err := ParseStartURL(tc.raw)
		require.NoError(t, err, tc.raw)
		require.Equal(t, tc.kind, target.Kind, tc.raw)
		require.Equal(t, tc.value, target.Value, tc.raw)
	}
}

func TestParseStartURLRejectsNonReddit(t *testing.T) {
	t.Parallel()

	_, err := ParseStartURL("https://www.reddit.com/somepage")
	require.Error(t, err)
}

func TestBuildPlanFromStartURLs(t *testing.T) {
	t.Parallel()

	plan, err := BuildPlan(ScrapeRequest{
		StartURLs:         []string{"https://www.reddit.com/r/golang"},
		SearchForPosts:    true,
		SearchForComments: true,
	})
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	require.Equal(t, CategoryPosts, plan.Steps[0].Category)
	require.Equal(t, CategoryComments, plan.Steps[1].Category)
	require.False(t, plan.DeriveComments)
}

func TestBuildPlanSkipCommentsWins(t *testing.T) {
	t.Parallel()

	plan, err := BuildPlan(ScrapeRequest{
		StartURLs:         []string{"https://www.reddit.com/r/golang"},
		SearchForPosts:    true,
		SearchForComments: true,
		SkipComments:      true,
	})
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	require.Equal(t, CategoryPosts, plan.Steps[0].Category)
}

func TestBuildPlanPostPermalink(t *testing.T) {
	t.Parallel()

	plan, err := BuildPlan(ScrapeRequest{
		StartURLs:         []string{"https://www.reddit.com/r/golang/comments/abc123/generics_in_practice/"},
		SearchForPosts:    true,
		SearchForComments: true,
	})
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	require.Equal(t, TargetPost, plan.Steps[0].Target.Kind)
	require.Equal(t, CategoryPosts, plan.Steps[0].Category)
	require.Equal(t, CategoryComments, plan.Steps[1].Category)
}

func TestBuildPlanSearchDerivesComments(t *testing.T) {
	t.Parallel()

	plan, err := BuildPlan(ScrapeRequest{
		SearchTerm:           "golang",
		SearchForPosts:       true,
		SearchForComments:    true,
		SearchForUsers:       true,
		SearchForCommunities: true,
	})
	require.NoError(t, err)
	require.Len(t, plan.Steps, 3)
	require.True(t, plan.DeriveComments)
	require.Positive(t, plan.CommentPostsCap)
}

func TestBuildPlanEmptyYieldsError(t *testing.T) {
	t.Parallel()

	_, err := BuildPlan(ScrapeRequest{
		StartURLs:      []string{"https://www.reddit.com/r/golang"},
		SearchForUsers: true,
	})
	require.Error(t, err)
}
