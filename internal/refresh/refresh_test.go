package refresh_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/bryan-buckman/omnivore/internal/database"
	"github.com/bryan-buckman/omnivore/internal/fetch"
	"github.com/bryan-buckman/omnivore/internal/model"
	"github.com/bryan-buckman/omnivore/internal/refresh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rssBody = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Fetched Title</title>
<link>https://example.com</link>
<item><guid>p1</guid><title>One</title></item>
<item><guid>p2</guid><title>Two</title></item>
</channel></rss>`

type fakeStore struct {
	upserts   map[int64][]model.Entry
	metas     map[int64]model.FeedMeta
	inserted  int
	upsertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		upserts: make(map[int64][]model.Entry),
		metas:   make(map[int64]model.FeedMeta),
	}
}

func (s *fakeStore) UpsertPosts(feedID int64, entries []model.Entry) (int, error) {
	if s.upsertErr != nil {
		return 0, s.upsertErr
	}
	s.upserts[feedID] = entries
	return len(entries), nil
}

func (s *fakeStore) UpdateFeedMeta(id int64, meta model.FeedMeta) error {
	s.metas[id] = meta
	return nil
}

type fakeFetcher struct {
	calls   int
	results map[string]*fetch.Result
	errs    map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, etag, lastModified *string) (*fetch.Result, error) {
	f.calls++
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	return f.results[url], nil
}

func recently(d time.Duration) *time.Time {
	t := time.Now().UTC().Add(-d)
	return &t
}

func TestRefreshSkipsWithinCooldown(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{}
	o := refresh.New(store, fetcher, 0)

	report := o.Refresh(context.Background(), []model.Feed{
		{ID: 1, URL: "https://x.com/feed", LastFetched: recently(5 * time.Minute)},
	})

	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Refreshed)
	assert.Zero(t, fetcher.calls, "rate-limited feed must not touch the network")
}

func TestRefreshNotModified(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{results: map[string]*fetch.Result{
		"https://x.com/feed": {NotModified: true},
	}}
	o := refresh.New(store, fetcher, 0)

	report := o.Refresh(context.Background(), []model.Feed{
		{ID: 1, URL: "https://x.com/feed"},
	})

	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, store.metas, "not-modified must not mutate feed metadata")
	assert.Empty(t, store.upserts)
}

func TestRefreshCommitsPostsAndMeta(t *testing.T) {
	store := newFakeStore()
	etag := `"v2"`
	fetcher := &fakeFetcher{results: map[string]*fetch.Result{
		"https://x.com/feed": {Body: []byte(rssBody), ETag: &etag},
	}}
	o := refresh.New(store, fetcher, 0)

	report := o.Refresh(context.Background(), []model.Feed{
		{ID: 1, URL: "https://x.com/feed", LastFetched: recently(20 * time.Minute)},
	})

	assert.Equal(t, 1, report.Refreshed)
	assert.Equal(t, 2, report.NewPosts)
	assert.Len(t, store.upserts[1], 2)

	meta, ok := store.metas[1]
	require.True(t, ok, "metadata update must happen on a committed fetch")
	require.NotNil(t, meta.Title)
	assert.Equal(t, "Fetched Title", *meta.Title)
	require.NotNil(t, meta.ETag)
	assert.Equal(t, `"v2"`, *meta.ETag)
}

func TestRefreshIsolatesFailures(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{
		results: map[string]*fetch.Result{
			"https://bad.com/feed":  {Body: []byte("not a feed at all")},
			"https://good.com/feed": {Body: []byte(rssBody)},
		},
		errs: map[string]error{
			"https://down.com/feed": &model.FetchError{URL: "https://down.com/feed", StatusCode: 503},
		},
	}
	o := refresh.New(store, fetcher, 0)

	report := o.Refresh(context.Background(), []model.Feed{
		{ID: 1, URL: "https://down.com/feed"},
		{ID: 2, URL: "https://bad.com/feed"},
		{ID: 3, URL: "https://good.com/feed"},
	})

	assert.Equal(t, 1, report.Refreshed)
	assert.Equal(t, 2, report.Errored)
	require.Len(t, report.Errors, 2)
	assert.Equal(t, int64(1), report.Errors[0].FeedID)
	assert.Equal(t, "https://down.com/feed", report.Errors[0].URL)
	assert.Len(t, store.upserts[3], 2, "a bad feed must not block the others")
}

func TestRefreshUpsertErrorIsRecorded(t *testing.T) {
	store := newFakeStore()
	store.upsertErr = errors.New("disk full")
	fetcher := &fakeFetcher{results: map[string]*fetch.Result{
		"https://x.com/feed": {Body: []byte(rssBody)},
	}}
	o := refresh.New(store, fetcher, 0)

	report := o.Refresh(context.Background(), []model.Feed{{ID: 1, URL: "https://x.com/feed"}})

	assert.Equal(t, 1, report.Errored)
	assert.Empty(t, store.metas, "a failed commit must not advance metadata")
}

// End-to-end: a second refresh within the cooldown window reports one
// skipped feed and zero new posts.
func TestRefreshTwiceWithinWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssBody))
	}))
	defer srv.Close()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	feed, err := db.AddFeed(srv.URL, nil, nil)
	require.NoError(t, err)

	o := refresh.New(db, fetch.NewClient(0), 0)

	first := o.Refresh(context.Background(), []model.Feed{*feed})
	assert.Equal(t, 1, first.Refreshed)
	assert.Equal(t, 2, first.NewPosts)

	feeds, err := db.ListFeeds()
	require.NoError(t, err)
	second := o.Refresh(context.Background(), feeds)
	assert.Equal(t, 1, second.Skipped)
	assert.Zero(t, second.Refreshed)
	assert.Zero(t, second.NewPosts)
}
