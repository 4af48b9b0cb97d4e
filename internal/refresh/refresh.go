// Package refresh drives feed updates: rate limiting, conditional
// fetch, normalization, and the storage commit, with per-feed error
// isolation.
package refresh

import (
	"context"
	"time"

	"github.com/bryan-buckman/omnivore/internal/feed"
	"github.com/bryan-buckman/omnivore/internal/fetch"
	"github.com/bryan-buckman/omnivore/internal/model"
	log "github.com/sirupsen/logrus"
)

// Cooldown is the window within which an already-fetched feed is
// skipped without a network call.
const Cooldown = 15 * time.Minute

// Store is the slice of the storage engine the orchestrator commits
// through.
type Store interface {
	UpsertPosts(feedID int64, entries []model.Entry) (int, error)
	UpdateFeedMeta(id int64, meta model.FeedMeta) error
}

// Fetcher performs the conditional GET for one feed.
type Fetcher interface {
	Fetch(ctx context.Context, url string, etag, lastModified *string) (*fetch.Result, error)
}

// FeedError records one feed's failure within a run.
type FeedError struct {
	FeedID  int64  `json:"feed_id"`
	URL     string `json:"url"`
	Message string `json:"message"`
}

// Report aggregates one refresh run. A feed is counted exactly once:
// refreshed, skipped (rate-limited or not modified), or errored.
type Report struct {
	Refreshed int         `json:"refreshed"`
	Skipped   int         `json:"skipped"`
	Errored   int         `json:"errored"`
	NewPosts  int         `json:"new_posts"`
	Errors    []FeedError `json:"errors,omitempty"`
}

// Orchestrator refreshes sets of feeds sequentially.
type Orchestrator struct {
	store    Store
	fetcher  Fetcher
	cooldown time.Duration
	now      func() time.Time
}

// New returns an orchestrator. A non-positive cooldown selects the
// standard window.
func New(store Store, fetcher Fetcher, cooldown time.Duration) *Orchestrator {
	if cooldown <= 0 {
		cooldown = Cooldown
	}
	return &Orchestrator{
		store:    store,
		fetcher:  fetcher,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Refresh processes each feed to completion and never fails the run for
// a single bad feed; per-feed failures land in the report's error list.
func (o *Orchestrator) Refresh(ctx context.Context, feeds []model.Feed) *Report {
	report := &Report{}
	for _, f := range feeds {
		o.refreshOne(ctx, f, report)
	}
	log.WithFields(log.Fields{
		"refreshed": report.Refreshed,
		"skipped":   report.Skipped,
		"errored":   report.Errored,
		"new_posts": report.NewPosts,
	}).Info("refresh run complete")
	return report
}

func (o *Orchestrator) refreshOne(ctx context.Context, f model.Feed, report *Report) {
	if f.LastFetched != nil && o.now().Sub(*f.LastFetched) < o.cooldown {
		report.Skipped++
		return
	}

	res, err := o.fetcher.Fetch(ctx, f.URL, f.ETag, f.LastModified)
	if err != nil {
		o.recordError(f, err, report)
		return
	}
	if res.NotModified {
		log.WithField("url", f.URL).Debug("feed not modified")
		report.Skipped++
		return
	}

	doc, err := feed.Parse(res.Body, f.URL)
	if err != nil {
		o.recordError(f, err, report)
		return
	}

	inserted, err := o.store.UpsertPosts(f.ID, doc.Entries)
	if err != nil {
		o.recordError(f, err, report)
		return
	}

	// Metadata always advances on a committed fetch, even with zero new
	// posts; absent title/site URL must not erase known values.
	meta := model.FeedMeta{
		Title:        nonEmpty(doc.Title),
		SiteURL:      nonEmpty(doc.SiteURL),
		ETag:         res.ETag,
		LastModified: res.LastModified,
	}
	if err := o.store.UpdateFeedMeta(f.ID, meta); err != nil {
		o.recordError(f, err, report)
		return
	}

	log.WithFields(log.Fields{"url": f.URL, "new_posts": inserted}).Info("feed refreshed")
	report.Refreshed++
	report.NewPosts += inserted
}

func (o *Orchestrator) recordError(f model.Feed, err error, report *Report) {
	log.WithFields(log.Fields{"url": f.URL, "feed_id": f.ID}).WithError(err).Warn("feed refresh failed")
	report.Errored++
	report.Errors = append(report.Errors, FeedError{
		FeedID:  f.ID,
		URL:     f.URL,
		Message: err.Error(),
	})
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
