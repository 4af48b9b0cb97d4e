package query_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bryan-buckman/omnivore/internal/hn"
	"github.com/bryan-buckman/omnivore/internal/model"
	"github.com/bryan-buckman/omnivore/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	posts  []model.Post
	filter model.PostFilter
}

func (s *fakeStore) GetPosts(filter model.PostFilter) ([]model.Post, error) {
	s.filter = filter
	return s.posts, nil
}

type fakeLookup struct {
	scores map[string]*hn.Score
	errs   map[string]error
}

func (l *fakeLookup) Lookup(ctx context.Context, url string) (*hn.Score, error) {
	if err, ok := l.errs[url]; ok {
		return nil, err
	}
	return l.scores[url], nil
}

func str(s string) *string { return &s }

func post(id, feedID int64, url string) model.Post {
	p := model.Post{ID: id, FeedID: feedID}
	if url != "" {
		p.URL = &url
	}
	return p
}

func TestBuildDigestTruncatesSummaries(t *testing.T) {
	long := strings.Repeat("a", 400)
	store := &fakeStore{posts: []model.Post{
		{ID: 1, FeedID: 1, Summary: str(long)},
		{ID: 2, FeedID: 1, Summary: str("short")},
		{ID: 3, FeedID: 2},
	}}
	q := query.New(store, &fakeLookup{})

	digest, err := q.BuildDigest(0, 0)
	require.NoError(t, err)

	require.Len(t, digest.Posts, 3)
	first := digest.Posts[0].Summary
	require.NotNil(t, first)
	assert.Len(t, []rune(*first), query.DefaultSummaryLength+len([]rune(query.Ellipsis)))
	assert.True(t, strings.HasSuffix(*first, query.Ellipsis))
	assert.Equal(t, "short", *digest.Posts[1].Summary)
	assert.Nil(t, digest.Posts[2].Summary)

	assert.Equal(t, 2, digest.FeedCount)

	// The default window reaches 24h back.
	require.NotNil(t, store.filter.Since)
	assert.WithinDuration(t, time.Now().UTC().Add(-query.DefaultDigestWindow), *store.filter.Since, time.Minute)
}

func TestTopPostsRanksByScore(t *testing.T) {
	store := &fakeStore{posts: []model.Post{
		post(1, 1, "https://a.com/1"),
		post(2, 1, "https://a.com/2"),
		post(3, 2, "https://b.com/1"),
		post(4, 2, ""), // no URL: never ranked
	}}
	lookup := &fakeLookup{scores: map[string]*hn.Score{
		"https://a.com/1": {Points: 10, Comments: 3},
		"https://a.com/2": {Points: 250, Comments: 90},
		"https://b.com/1": {Points: 42, Comments: 7},
	}}
	q := query.New(store, lookup)

	ranked, err := q.TopPosts(context.Background(), 7, 10)
	require.NoError(t, err)

	require.Len(t, ranked, 3)
	assert.Equal(t, int64(2), ranked[0].ID)
	assert.Equal(t, 250, ranked[0].Points)
	assert.Equal(t, int64(3), ranked[1].ID)
	assert.Equal(t, int64(1), ranked[2].ID)
}

func TestTopPostsToleratesLookupFailure(t *testing.T) {
	store := &fakeStore{posts: []model.Post{
		post(1, 1, "https://a.com/1"),
		post(2, 1, "https://a.com/2"),
		post(3, 1, "https://a.com/3"),
	}}
	lookup := &fakeLookup{
		scores: map[string]*hn.Score{
			"https://a.com/1": {Points: 5},
			// a.com/3 is unknown to the ranking source: nil score.
		},
		errs: map[string]error{
			"https://a.com/2": errors.New("lookup timed out"),
		},
	}
	q := query.New(store, lookup)

	ranked, err := q.TopPosts(context.Background(), 7, 10)
	require.NoError(t, err, "one bad lookup must not fail the ranking")
	require.Len(t, ranked, 1)
	assert.Equal(t, int64(1), ranked[0].ID)
}

func TestTopPostsLimit(t *testing.T) {
	store := &fakeStore{posts: []model.Post{
		post(1, 1, "https://a.com/1"),
		post(2, 1, "https://a.com/2"),
		post(3, 1, "https://a.com/3"),
	}}
	lookup := &fakeLookup{scores: map[string]*hn.Score{
		"https://a.com/1": {Points: 1},
		"https://a.com/2": {Points: 2},
		"https://a.com/3": {Points: 3},
	}}
	q := query.New(store, lookup)

	ranked, err := q.TopPosts(context.Background(), 7, 2)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, 3, ranked[0].Points)
	assert.Equal(t, 2, ranked[1].Points)
}
