// Package scrape defines core types shared across subsystems.
package scrape

import (
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusSucceeded JobStatus = "SUCCEEDED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// Terminal reports whether no further status transition is possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Format identifies an output encoding for result payloads.
type Format string

// Supported output formats.
const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatRSS  Format = "rss"
	FormatXML  Format = "xml"
)

// Category names one of the four result collections.
type Category string

// Record categories fetched from the remote source.
const (
	CategoryPosts       Category = "posts"
	CategoryComments    Category = "comments"
	CategoryUsers       Category = "users"
	CategoryCommunities Category = "communities"
)

// ScrapeRequest captures per-job parameters requested by the client.
// Exactly one of StartURLs or SearchTerm is set; the API boundary
// rejects requests carrying both or neither.
type ScrapeRequest struct {
	StartURLs            []string   `json:"startUrls,omitempty"`
	SearchTerm           string     `json:"searchTerm,omitempty"`
	MaxItems             int        `json:"maxItems"`
	PostsPerPage         int        `json:"postsPerPage"`
	CommentsPerPage      int        `json:"commentsPerPage"`
	SortSearch           string     `json:"sortSearch"`
	FilterByDate         string     `json:"filterByDate"`
	PostDateLimit        *time.Time `json:"postDateLimit,omitempty"`
	IncludeNSFW          bool       `json:"includeNSFW"`
	SkipComments         bool       `json:"skipComments"`
	SearchForPosts       bool       `json:"searchForPosts"`
	SearchForComments    bool       `json:"searchForComments"`
	SearchForUsers       bool       `json:"searchForUsers"`
	SearchForCommunities bool       `json:"searchForCommunities"`
	OutputFormat         Format     `json:"outputFormat"`
	WebhookURL           string     `json:"webhookUrl,omitempty"`
}

// PageSize returns the requested page size for a category.
func (r ScrapeRequest) PageSize(category Category) int {
	if category == CategoryComments && r.CommentsPerPage > 0 {
		return r.CommentsPerPage
	}
	if r.PostsPerPage > 0 {
		return r.PostsPerPage
	}
	return 25
}

// Post is a single submission record.
type Post struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Subreddit   string `json:"subreddit"`
	URL         string `json:"url"`
	Permalink   string `json:"permalink"`
	Selftext    string `json:"selftext,omitempty"`
	Domain      string `json:"domain,omitempty"`
	Score       int    `json:"score"`
	NumComments int    `json:"num_comments"`
	CreatedUTC  int64  `json:"created_utc"`
	NSFW        bool   `json:"is_nsfw"`
	Pinned      bool   `json:"is_pinned"`
}

// Comment is a single comment record.
type Comment struct {
	ID         string `json:"id"`
	Author     string `json:"author"`
	Subreddit  string `json:"subreddit"`
	Body       string `json:"body"`
	Permalink  string `json:"permalink"`
	ParentID   string `json:"parent_id,omitempty"`
	PostTitle  string `json:"post_title,omitempty"`
	Score      int    `json:"score"`
	CreatedUTC int64  `json:"created_utc"`
	NSFW       bool   `json:"is_nsfw"`
}

// User is a single account record.
type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	CommentKarma int    `json:"comment_karma"`
	LinkKarma    int    `json:"link_karma"`
	CreatedUTC   int64  `json:"created_utc"`
	NSFW         bool   `json:"is_nsfw"`
}

// Community is a single subreddit record.
type Community struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
	Subscribers int    `json:"subscribers"`
	CreatedUTC  int64  `json:"created_utc"`
	NSFW        bool   `json:"is_nsfw"`
}

// Record is one fetched item of any category. Exactly one of the typed
// fields matching Category is set.
type Record struct {
	Category  Category
	Post      *Post
	Comment   *Comment
	User      *User
	Community *Community
}

// CreatedAt returns the record creation time in UTC.
func (r Record) CreatedAt() time.Time {
	var epoch int64
	switch r.Category {
	case CategoryPosts:
		if r.Post != nil {
			epoch = r.Post.CreatedUTC
		}
	case CategoryComments:
		if r.Comment != nil {
			epoch = r.Comment.CreatedUTC
		}
	case CategoryUsers:
		if r.User != nil {
			epoch = r.User.CreatedUTC
		}
	case CategoryCommunities:
		if r.Community != nil {
			epoch = r.Community.CreatedUTC
		}
	}
	return time.Unix(epoch, 0).UTC()
}

// IsNSFW reports whether the record is flagged as adult content.
func (r Record) IsNSFW() bool {
	switch r.Category {
	case CategoryPosts:
		return r.Post != nil && r.Post.NSFW
	case CategoryComments:
		return r.Comment != nil && r.Comment.NSFW
	case CategoryUsers:
		return r.User != nil && r.User.NSFW
	case CategoryCommunities:
		return r.Community != nil && r.Community.NSFW
	default:
		return false
	}
}

// Page is one page of records returned by the Fetch Gateway. Done signals
// that no further pages exist for the target.
type Page struct {
	Records    []Record
	NextCursor string
	Done       bool
}

// ResultSet accumulates fetched records. Insertion order within each
// collection reflects remote pagination order.
type ResultSet struct {
	Posts       []Post      `json:"posts"`
	Comments    []Comment   `json:"comments"`
	Users       []User      `json:"users"`
	Communities []Community `json:"communities"`

	// TotalItems counts records seen before truncation or filtering;
	// ItemsReturned counts records kept.
	TotalItems    int `json:"-"`
	ItemsReturned int `json:"-"`
}

// Progress tracks monotonically increasing per-job counters.
type Progress struct {
	PagesProcessed     int `json:"pages_processed"`
	PostsFetched       int `json:"posts_fetched"`
	CommentsFetched    int `json:"comments_fetched"`
	UsersFetched       int `json:"users_fetched"`
	CommunitiesFetched int `json:"communities_fetched"`
	ItemsScraped       int `json:"items_scraped"`
}

// JobError is one classified error recorded against a job.
type JobError struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	At      time.Time `json:"at"`
}

// DeliveryState tracks webhook delivery lifecycle for a job.
type DeliveryState string

// Webhook delivery states.
const (
	DeliveryPending   DeliveryState = "PENDING"
	DeliveryDelivered DeliveryState = "DELIVERED"
	DeliveryExhausted DeliveryState = "EXHAUSTED"
)

// DeliveryAttempt records the outcome of one webhook POST.
type DeliveryAttempt struct {
	At         time.Time `json:"at"`
	StatusCode int       `json:"status_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	Delivered  bool      `json:"delivered"`
}

// WebhookDelivery is the per-job delivery record. Attempts are strictly
// ordered; at most one attempt is ever in flight for a job.
type WebhookDelivery struct {
	URL           string            `json:"url"`
	State         DeliveryState     `json:"state"`
	Attempts      []DeliveryAttempt `json:"attempts,omitempty"`
	NextAttemptAt *time.Time        `json:"next_attempt_at,omitempty"`
}

// Job represents one unit of asynchronous scrape work.
type Job struct {
	ID              string           `json:"id"`
	Status          JobStatus        `json:"status"`
	Request         ScrapeRequest    `json:"request"`
	Progress        Progress         `json:"progress"`
	Result          *ResultSet       `json:"result,omitempty"`
	Errors          []JobError       `json:"errors,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	FinishedAt      *time.Time       `json:"finished_at,omitempty"`
	CancelRequested bool             `json:"cancel_requested,omitempty"`
	Delivery        *WebhookDelivery `json:"webhook_delivery,omitempty"`
}
