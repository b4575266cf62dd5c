package redditfetcher

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redditextract/redditextract/internal/scrape"
)

// thing is reddit's generic typed envelope. Kind discriminates the payload:
// t1 comment, t2 account, t3 link, t5 subreddit, Listing for pages.
type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type listingData struct {
	After    string  `json:"after"`
	Children []thing `json:"children"`
}

type rawPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	Subreddit   string  `json:"subreddit"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Selftext    string  `json:"selftext"`
	Domain      string  `json:"domain"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	Over18      bool    `json:"over_18"`
	Stickied    bool    `json:"stickied"`
}

type rawComment struct {
	ID         string  `json:"id"`
	Author     string  `json:"author"`
	Subreddit  string  `json:"subreddit"`
	Body       string  `json:"body"`
	Permalink  string  `json:"permalink"`
	ParentID   string  `json:"parent_id"`
	LinkTitle  string  `json:"link_title"`
	Score      int     `json:"score"`
	CreatedUTC float64 `json:"created_utc"`
	Over18     bool    `json:"over_18"`
}

type rawUser struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	CommentKarma int     `json:"comment_karma"`
	LinkKarma    int     `json:"link_karma"`
	CreatedUTC   float64 `json:"created_utc"`
	Subreddit    *struct {
		Over18 bool `json:"over_18"`
	} `json:"subreddit"`
}

type rawCommunity struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Title       string  `json:"title"`
	Description string  `json:"public_description"`
	URL         string  `json:"url"`
	Subscribers int     `json:"subscribers"`
	CreatedUTC  float64 `json:"created_utc"`
	Over18      bool    `json:"over18"`
}

// parseListing decodes one listing response body into a page of records.
// Post permalink endpoints return an array of two listings (the post, then
// its comment tree); plain listings return a single envelope.
func parseListing(body []byte, category scrape.Category, singleShot bool) (scrape.Page, error) {
	trimmed := strings.TrimLeft(string(body), " \t\r\n")
	if strings.HasPrefix(trimmed, "[") {
		var listings []thing
		if err := json.Unmarshal(body, &listings); err != nil {
			return scrape.Page{}, fmt.Errorf("decode permalink listings: %w", err)
		}
		// The post lives in the first listing, its comment tree in the
		// second.
		idx := 1
		if category == scrape.CategoryPosts {
			idx = 0
		}
		if len(listings) <= idx {
			return scrape.Page{Done: true}, nil
		}
		page, err := parseOne(listings[idx], category)
		if err != nil {
			return scrape.Page{}, err
		}
		page.Done = true
		page.NextCursor = ""
		return page, nil
	}

	var envelope thing
	if err := json.Unmarshal(body, &envelope); err != nil {
		return scrape.Page{}, fmt.Errorf("decode listing: %w", err)
	}
	page, err := parseOne(envelope, category)
	if err != nil {
		return scrape.Page{}, err
	}
	if singleShot || page.NextCursor == "" {
		page.Done = true
	}
	return page, nil
}

func parseOne(envelope thing, category scrape.Category) (scrape.Page, error) {
	var listing listingData
	if err := json.Unmarshal(envelope.Data, &listing); err != nil {
		return scrape.Page{}, fmt.Errorf("decode listing data: %w", err)
	}

	page := scrape.Page{NextCursor: listing.After}
	for _, child := range listing.Children {
		rec, ok, err := parseChild(child, category)
		if err != nil {
			return scrape.Page{}, err
		}
		if ok {
			page.Records = append(page.Records, rec)
		}
	}
	return page, nil
}

// parseChild converts one envelope child to a record. Children whose kind
// does not match the requested category (e.g. "more" stubs in comment
// trees) are skipped rather than failing the page.
func parseChild(child thing, category scrape.Category) (scrape.Record, bool, error) {
	switch {
	case child.Kind == "t3" && category == scrape.CategoryPosts:
		var raw rawPost
		if err := json.Unmarshal(child.Data, &raw); err != nil {
			return scrape.Record{}, false, fmt.Errorf("decode post: %w", err)
		}
		return scrape.Record{Category: scrape.CategoryPosts, Post: &scrape.Post{
			ID:          raw.ID,
			Title:       raw.Title,
			Author:      raw.Author,
			Subreddit:   raw.Subreddit,
			URL:         raw.URL,
			Permalink:   raw.Permalink,
			Selftext:    raw.Selftext,
			Domain:      raw.Domain,
			Score:       raw.Score,
			NumComments: raw.NumComments,
			CreatedUTC:  int64(raw.CreatedUTC),
			NSFW:        raw.Over18,
			Pinned:      raw.Stickied,
		}}, true, nil
	case child.Kind == "t1" && category == scrape.CategoryComments:
		var raw rawComment
		if err := json.Unmarshal(child.Data, &raw); err != nil {
			return scrape.Record{}, false, fmt.Errorf("decode comment: %w", err)
		}
		return scrape.Record{Category: scrape.CategoryComments, Comment: &scrape.Comment{
			ID:         raw.ID,
			Author:     raw.Author,
			Subreddit:  raw.Subreddit,
			Body:       raw.Body,
			Permalink:  raw.Permalink,
			ParentID:   raw.ParentID,
			PostTitle:  raw.LinkTitle,
			Score:      raw.Score,
			CreatedUTC: int64(raw.CreatedUTC),
			NSFW:       raw.Over18,
		}}, true, nil
	case child.Kind == "t2" && category == scrape.CategoryUsers:
		var raw rawUser
		if err := json.Unmarshal(child.Data, &raw); err != nil {
			return scrape.Record{}, false, fmt.Errorf("decode user: %w", err)
		}
		nsfw := raw.Subreddit != nil && raw.Subreddit.Over18
		return scrape.Record{Category: scrape.CategoryUsers, User: &scrape.User{
			ID:           raw.ID,
			Username:     raw.Name,
			CommentKarma: raw.CommentKarma,
			LinkKarma:    raw.LinkKarma,
			CreatedUTC:   int64(raw.CreatedUTC),
			NSFW:         nsfw,
		}}, true, nil
	case child.Kind == "t5" && category == scrape.CategoryCommunities:
		var raw rawCommunity
		if err := json.Unmarshal(child.Data, &raw); err != nil {
			return scrape.Record{}, false, fmt.Errorf("decode community: %w", err)
		}
		return scrape.Record{Category: scrape.CategoryCommunities, Community: &scrape.Community{
			ID:          raw.ID,
			Name:        raw.DisplayName,
			Title:       raw.Title,
			Description: raw.Description,
			URL:         raw.URL,
			Subscribers: raw.Subscribers,
			CreatedUTC:  int64(raw.CreatedUTC),
			NSFW:        raw.Over18,
		}}, true, nil
	default:
		return scrape.Record{}, false, nil
	}
}
