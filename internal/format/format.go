// Package format renders response envelopes into the supported output
// encodings.
package format

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"github.com/redditextract/redditextract/internal/scrape"
)

// Formatter implements scrape.Formatter. Rendering is deterministic: the
// same envelope always yields byte-identical output.
type Formatter struct{}

// New constructs a Formatter.
func New() *Formatter {
	return &Formatter{}
}

// ContentType returns the MIME type for a format.
func (f *Formatter) ContentType(format scrape.Format) string {
	switch format {
	case scrape.FormatCSV:
		return "text/csv; charset=utf-8"
	case scrape.FormatRSS:
		return "application/rss+xml; charset=utf-8"
	case scrape.FormatXML:
		return "application/xml; charset=utf-8"
	default:
		return "application/json; charset=utf-8"
	}
}

// Render encodes the envelope in the requested format.
func (f *Formatter) Render(resp scrape.Response, format scrape.Format) ([]byte, error) {
	switch format {
	case scrape.FormatJSON, "":
		return renderJSON(resp)
	case scrape.FormatCSV:
		return renderCSV(resp)
	case scrape.FormatRSS:
		return renderRSS(resp)
	case scrape.FormatXML:
		return renderXML(resp)
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

func renderJSON(resp scrape.Response) ([]byte, error) {
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return out, nil
}

// renderCSV writes posts then comments as separate titled sections.
// Users and communities are omitted; CSV callers are after text content.
func renderCSV(resp scrape.Response) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if len(resp.Data.Posts) > 0 {
		writeRow(w, []string{"# posts"})
		writeRow(w, []string{"id", "title", "author", "subreddit", "url", "score", "num_comments", "created_utc", "is_nsfw"})
		for _, p := range resp.Data.Posts {
			writeRow(w, []string{
				p.ID, p.Title, p.Author, p.Subreddit, p.URL,
				strconv.Itoa(p.Score), strconv.Itoa(p.NumComments),
				strconv.FormatInt(p.CreatedUTC, 10), strconv.FormatBool(p.NSFW),
			})
		}
	}
	if len(resp.Data.Comments) > 0 {
		writeRow(w, []string{"# comments"})
		writeRow(w, []string{"id", "author", "subreddit", "body", "score", "created_utc", "is_nsfw"})
		for _, c := range resp.Data.Comments {
			writeRow(w, []string{
				c.ID, c.Author, c.Subreddit, c.Body,
				strconv.Itoa(c.Score), strconv.FormatInt(c.CreatedUTC, 10),
				strconv.FormatBool(c.NSFW),
			})
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode csv: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(w *csv.Writer, row []string) {
	// csv.Writer defers errors to Flush; checked once there.
	_ = w.Write(row)
}

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	Author      string `xml:"author"`
	GUID        string `xml:"guid"`
	PubDate     string `xml:"pubDate"`
}

// renderRSS emits an RSS 2.0 feed of the post collection.
func renderRSS(resp scrape.Response) ([]byte, error) {
	feed := rssFeed{
		Version: "2.0",
		Channel: rssChannel{
			Title:       "Reddit Scrape Results",
			Link:        "https://www.reddit.com",
			Description: fmt.Sprintf("%d items scraped", resp.Metadata.ItemsReturned),
		},
	}
	for _, p := range resp.Data.Posts {
		feed.Channel.Items = append(feed.Channel.Items, rssItem{
			Title:       p.Title,
			Link:        "https://www.reddit.com" + p.Permalink,
			Description: p.Selftext,
			Author:      p.Author,
			GUID:        p.ID,
			PubDate:     time.Unix(p.CreatedUTC, 0).UTC().Format(time.RFC1123Z),
		})
	}

	out, err := xml.MarshalIndent(feed, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode rss: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

type xmlEnvelope struct {
	XMLName  xml.Name    `xml:"response"`
	Success  bool        `xml:"success"`
	Data     xmlData     `xml:"data"`
	Metadata xmlMetadata `xml:"metadata"`
	Errors   []xmlError  `xml:"errors>error"`
}

type xmlData struct {
	Posts       []scrape.Post      `xml:"posts>post"`
	Comments    []scrape.Comment   `xml:"comments>comment"`
	Users       []scrape.User      `xml:"users>user"`
	Communities []scrape.Community `xml:"communities>community"`
}

type xmlMetadata struct {
	TotalItems    int    `xml:"totalItems"`
	ItemsReturned int    `xml:"itemsReturned"`
	ScrapedAt     string `xml:"scrapedAt"`
	ExecutionTime string `xml:"executionTime,omitempty"`
}

type xmlError struct {
	Code    string `xml:"code"`
	Message string `xml:"message"`
}

func renderXML(resp scrape.Response) ([]byte, error) {
	envelope := xmlEnvelope{
		Success: resp.Success,
		Data: xmlData{
			Posts:       resp.Data.Posts,
			Comments:    resp.Data.Comments,
			Users:       resp.Data.Users,
			Communities: resp.Data.Communities,
		},
		Metadata: xmlMetadata{
			TotalItems:    resp.Metadata.TotalItems,
			ItemsReturned: resp.Metadata.ItemsReturned,
			ScrapedAt:     resp.Metadata.ScrapedAt.UTC().Format(time.RFC3339),
			ExecutionTime: resp.Metadata.ExecutionTime,
		},
	}
	for _, e := range resp.Errors {
		envelope.Errors = append(envelope.Errors, xmlError{Code: e.Code, Message: e.Message})
	}

	out, err := xml.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode xml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
