// Package hn looks up Hacker News popularity scores by story URL via
// the Algolia search API.
package hn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/bryan-buckman/omnivore/internal/model"
	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultTimeout bounds one lookup including retries.
	DefaultTimeout = 10 * time.Second

	defaultBaseURL = "https://hn.algolia.com/api/v1"
	maxRetries     = 2
)

// Score is a story's popularity as reported by Hacker News.
type Score struct {
	Points   int    `json:"points"`
	Comments int    `json:"comments"`
	ItemURL  string `json:"item_url"`
}

// Client queries the Algolia HN search API.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient returns a lookup client with the given timeout ceiling, or
// DefaultTimeout when zero.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: defaultBaseURL,
	}
}

type searchResponse struct {
	Hits []struct {
		ObjectID    string `json:"objectID"`
		Points      int    `json:"points"`
		NumComments int    `json:"num_comments"`
	} `json:"hits"`
}

// Lookup returns the score for the story matching pageURL, or (nil, nil)
// when no story is found. Transient failures are retried briefly within
// the client timeout; a still-failing lookup returns an error the
// caller is expected to treat as "no score".
func (c *Client) Lookup(ctx context.Context, pageURL string) (*Score, error) {
	ctx, cancel := context.WithTimeout(ctx, c.http.Timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/search?query=%s&restrictSearchableAttributes=url&hitsPerPage=1",
		c.baseURL, url.QueryEscape(pageURL))

	var parsed searchResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return &model.FetchError{URL: endpoint, StatusCode: resp.StatusCode}
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(&model.FetchError{URL: endpoint, StatusCode: resp.StatusCode})
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("decode hn response: %w", err))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}

	if len(parsed.Hits) == 0 {
		return nil, nil
	}
	hit := parsed.Hits[0]
	return &Score{
		Points:   hit.Points,
		Comments: hit.NumComments,
		ItemURL:  "https://news.ycombinator.com/item?id=" + hit.ObjectID,
	}, nil
}
