// Package query builds the digest and popularity views on top of the
// storage engine.
package query

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bryan-buckman/omnivore/internal/hn"
	"github.com/bryan-buckman/omnivore/internal/model"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultDigestWindow is the trailing window for the digest view.
	DefaultDigestWindow = 24 * time.Hour
	// DefaultSummaryLength caps each digest summary, in runes.
	DefaultSummaryLength = 300
	// Ellipsis marks a truncated digest summary.
	Ellipsis = "…"

	// LookupConcurrency bounds parallel popularity lookups.
	LookupConcurrency = 5

	// poolLimit caps how many recent posts feed the views.
	poolLimit = 500
)

// Store is the slice of the storage engine the views read from.
type Store interface {
	GetPosts(filter model.PostFilter) ([]model.Post, error)
}

// Lookup resolves a popularity score for a URL. A nil score with nil
// error means the URL is unknown to the ranking source.
type Lookup interface {
	Lookup(ctx context.Context, url string) (*hn.Score, error)
}

// Queries serves the digest and popularity views.
type Queries struct {
	store  Store
	lookup Lookup
	now    func() time.Time
}

// New returns a query layer over the given store and popularity source.
func New(store Store, lookup Lookup) *Queries {
	return &Queries{store: store, lookup: lookup, now: time.Now}
}

// Digest is a time-windowed listing of recent posts with truncated
// summaries.
type Digest struct {
	Since     time.Time    `json:"since"`
	FeedCount int          `json:"feed_count"`
	Posts     []model.Post `json:"posts"`
}

// BuildDigest lists posts published within the trailing window, each
// summary independently truncated to maxSummary runes with an ellipsis.
// Zero arguments select the defaults.
func (q *Queries) BuildDigest(window time.Duration, maxSummary int) (*Digest, error) {
	if window <= 0 {
		window = DefaultDigestWindow
	}
	if maxSummary <= 0 {
		maxSummary = DefaultSummaryLength
	}
	since := q.now().UTC().Add(-window)
	posts, err := q.store.GetPosts(model.PostFilter{Since: &since, Limit: poolLimit})
	if err != nil {
		return nil, err
	}

	posts = lo.Map(posts, func(p model.Post, _ int) model.Post {
		if p.Summary != nil {
			if s := truncate(*p.Summary, maxSummary); s != *p.Summary {
				p.Summary = &s
			}
		}
		return p
	})
	distinctFeeds := lo.UniqBy(posts, func(p model.Post) int64 { return p.FeedID })

	return &Digest{
		Since:     since,
		FeedCount: len(distinctFeeds),
		Posts:     posts,
	}, nil
}

// RankedPost is a post paired with its popularity score.
type RankedPost struct {
	model.Post
	Points   int    `json:"points"`
	Comments int    `json:"comments"`
	ItemURL  string `json:"item_url"`
}

// TopPosts ranks posts published within the last windowDays by external
// popularity score, descending, and returns at most limit of them.
// Posts without a URL, without a score, or whose lookup failed are
// dropped from the ranking, never failing the whole request.
func (q *Queries) TopPosts(ctx context.Context, windowDays, limit int) ([]RankedPost, error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	if limit <= 0 {
		limit = 10
	}
	since := q.now().UTC().AddDate(0, 0, -windowDays)
	posts, err := q.store.GetPosts(model.PostFilter{Since: &since, Limit: poolLimit})
	if err != nil {
		return nil, err
	}
	posts = lo.Filter(posts, func(p model.Post, _ int) bool { return p.URL != nil })

	// Bounded worker pool; lookups are independent, side-effect-free
	// reads, so partial failure only drops the affected post.
	jobs := make(chan model.Post, len(posts))
	results := make(chan RankedPost, len(posts))
	var wg sync.WaitGroup
	for i := 0; i < LookupConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				score, err := q.lookup.Lookup(ctx, *p.URL)
				if err != nil {
					log.WithField("url", *p.URL).WithError(err).Debug("popularity lookup failed")
					continue
				}
				if score == nil {
					continue
				}
				results <- RankedPost{
					Post:     p,
					Points:   score.Points,
					Comments: score.Comments,
					ItemURL:  score.ItemURL,
				}
			}
		}()
	}
	for _, p := range posts {
		jobs <- p
	}
	close(jobs)
	wg.Wait()
	close(results)

	ranked := make([]RankedPost, 0, len(results))
	for r := range results {
		ranked = append(ranked, r)
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Points > ranked[j].Points })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + Ellipsis
}
