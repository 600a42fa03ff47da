package domain

import "time"

// MinBodyLength is the shortest body text worth saving
const MinBodyLength = 20

// UnknownAuthor is used when no author candidate survives scoring
const UnknownAuthor = "Unknown Author"

// Engagement holds the social counters shown under a post
type Engagement struct {
	Likes    int `json:"likes"`
	Comments int `json:"comments"`
	Reposts  int `json:"reposts"`
}

// IsZero reports whether no counter was found
func (e Engagement) IsZero() bool {
	return e.Likes == 0 && e.Comments == 0 && e.Reposts == 0
}

// MediaRef points at an image attached to a post
type MediaRef struct {
	URL     string `json:"url"`
	AltText string `json:"alt,omitempty"`
}

// MediaImage is a retrieved image, inlined as a data URI
type MediaImage struct {
	URL      string `json:"url"`
	AltText  string `json:"alt,omitempty"`
	DataURI  string `json:"base64"`
	MimeType string `json:"mimeType,omitempty"`
}

// ExtractedPost is what the page context pulls out of a document region
type ExtractedPost struct {
	AuthorName         string     `json:"authorName"`
	AuthorURL          string     `json:"authorUrl,omitempty"`
	BodyText           string     `json:"postText"`
	Permalink          string     `json:"postUrl"`
	PermalinkCanonical bool       `json:"postUrlCanonical"`
	Timestamp          string     `json:"timestamp,omitempty"`
	Engagement         Engagement `json:"engagement"`
	Media              []MediaRef `json:"media,omitempty"`
	CapturedAt         time.Time  `json:"capturedAt"`
}

// Analysis is the enrichment metadata attached to a saved post
type Analysis struct {
	Topic     string   `json:"topic"`
	Tags      []string `json:"tags"`
	Summary   string   `json:"summary"`
	Sentiment string   `json:"sentiment"`
	Keywords  []string `json:"keywords"`

	// Source is "model" or "fallback"
	Source string `json:"-"`
}

// SavedPost is the persisted record
type SavedPost struct {
	ID                 string       `json:"id"`
	OwnerID            string       `json:"ownerId"`
	AuthorName         string       `json:"authorName"`
	AuthorURL          string       `json:"authorUrl,omitempty"`
	BodyText           string       `json:"postText"`
	Permalink          string       `json:"postUrl"`
	PermalinkCanonical bool         `json:"postUrlCanonical"`
	Timestamp          string       `json:"timestamp,omitempty"`
	Engagement         Engagement   `json:"engagement"`
	Media              []MediaRef   `json:"media,omitempty"`
	Images             []MediaImage `json:"images,omitempty"`
	Topic              string       `json:"topic"`
	Tags               []string     `json:"tags"`
	Summary            string       `json:"summary"`
	Sentiment          string       `json:"sentiment"`
	Keywords           []string     `json:"keywords"`
	AIAnalyzed         bool         `json:"aiAnalyzed"`
	SavedAt            time.Time    `json:"savedAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// CreateResult is returned by a text commit
type CreateResult struct {
	Post      SavedPost `json:"post"`
	Duplicate bool      `json:"duplicate"`
}

// Quota is the answer of an atomic check-and-increment
type Quota struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
	Limit     int  `json:"limit"`
}

// Settings are the owner's preferences plus today's usage
type Settings struct {
	Label       string `json:"label"`
	DailyLimit  int    `json:"dailyLimit"`
	AutoAnalyze bool   `json:"autoAnalyze"`
	Used        int    `json:"used"`
	Remaining   int    `json:"remaining"`
}

// SettingsPatch carries optional settings updates
type SettingsPatch struct {
	DailyLimit  *int  `json:"dailyLimit,omitempty"`
	AutoAnalyze *bool `json:"autoAnalyze,omitempty"`
}

// SearchFilter narrows a post listing
type SearchFilter struct {
	Query     string `json:"q,omitempty"`
	Author    string `json:"author,omitempty"`
	Topic     string `json:"topic,omitempty"`
	Tag       string `json:"tag,omitempty"`
	Sentiment string `json:"sentiment,omitempty"`
	Page      int    `json:"page,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Normalize clamps paging values
func (f SearchFilter) Normalize() SearchFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	return f
}

// Offset returns the row offset for the filter's page
func (f SearchFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// PostPage is one page of posts
type PostPage struct {
	Posts      []SavedPost `json:"posts"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	TotalPages int         `json:"totalPages"`
}

// Group is one bucket of a grouped listing
type Group struct {
	Key   string      `json:"key"`
	Count int         `json:"count"`
	Posts []SavedPost `json:"posts"`
}

// Topics is the closed topic vocabulary
var Topics = []string{
	"Technology", "Business", "Career", "Leadership", "Marketing",
	"Finance", "Entrepreneurship", "Education", "Health",
	"AI & Machine Learning", "Personal Development", "Industry News",
	"Sustainability", "Design", "Engineering", "Science", "Other",
}

// TopicOther is the catch-all topic
const TopicOther = "Other"

// Sentiments is the closed sentiment vocabulary
var Sentiments = []string{
	"educational", "inspirational", "controversial", "promotional",
	"hiring", "opinion", "news", "personal_story",
}
