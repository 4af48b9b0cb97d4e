// Package model defines shared data structures.
package model

import "time"

// Feed represents a subscribed syndication source, identified by URL.
type Feed struct {
	ID           int64      `json:"id"`
	URL          string     `json:"url"`
	Title        *string    `json:"title"`
	SiteURL      *string    `json:"site_url"`
	ETag         *string    `json:"-"`
	LastModified *string    `json:"-"`
	LastFetched  *time.Time `json:"last_fetched"`
	CreatedAt    time.Time  `json:"created_at"`

	// UnreadCount is filled by ListFeeds, not stored.
	UnreadCount int `json:"unread_count"`
}

// Post represents a single entry from a feed, deduplicated by (feed_id, guid).
type Post struct {
	ID          int64      `json:"id"`
	FeedID      int64      `json:"feed_id"`
	GUID        string     `json:"guid"`
	Title       *string    `json:"title"`
	URL         *string    `json:"url"`
	Summary     *string    `json:"summary"`
	Content     *string    `json:"content,omitempty"`
	Author      *string    `json:"author"`
	PublishedAt *time.Time `json:"published_at"`
	FetchedAt   time.Time  `json:"fetched_at"`
	IsRead      bool       `json:"is_read"`
	ReadAt      *time.Time `json:"read_at"`
	Starred     bool       `json:"starred"`

	// Joined from the owning feed by GetPosts.
	FeedTitle *string `json:"feed_title,omitempty"`
	FeedURL   string  `json:"feed_url,omitempty"`
}

// Entry is a normalized feed entry, the unit consumed by UpsertPosts.
// An empty GUID is valid; colliding empty GUIDs within one feed
// dedupe to a single post.
type Entry struct {
	GUID        string
	Title       *string
	URL         *string
	Summary     *string
	Author      *string
	PublishedAt *time.Time
}

// Document is the canonical result of normalizing one feed payload.
type Document struct {
	Title   string
	SiteURL string
	Entries []Entry
}

// FeedMeta carries a feed metadata update. Title and SiteURL are
// applied only when non-nil; ETag and LastModified always overwrite,
// including to nil when the server stopped sending validators.
type FeedMeta struct {
	Title        *string
	SiteURL      *string
	ETag         *string
	LastModified *string
}

// PostFilter narrows a post listing. All set fields combine with AND.
type PostFilter struct {
	FeedID      *int64
	Limit       int // defaults to 50 when <= 0
	Offset      int
	UnreadOnly  bool
	StarredOnly bool
	Search      string // FTS5 query, passed through verbatim
	Since       *time.Time
}
