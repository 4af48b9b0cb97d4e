// Package fetch performs conditional HTTP GETs with ETag and
// Last-Modified revalidation.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bryan-buckman/omnivore/internal/model"
)

// DefaultTimeout bounds a single fetch, including redirects and body read.
const DefaultTimeout = 30 * time.Second

// Result is the outcome of a successful fetch. When NotModified is set
// the server answered 304 and Body is nil; that is not an empty feed.
// The validators are taken from the final response after redirects.
type Result struct {
	NotModified  bool
	Body         []byte
	ETag         *string
	LastModified *string
}

// Client is a conditional HTTP fetcher. It does not retry; callers own
// the retry policy.
type Client struct {
	http *http.Client
}

// NewClient returns a fetcher with the given timeout ceiling, or
// DefaultTimeout when zero.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
	}
}

// Fetch GETs url, sending revalidation headers only for the validators
// present. Any non-2xx status other than 304, and any transport failure
// or timeout, yields a *model.FetchError.
func (c *Client) Fetch(ctx context.Context, url string, etag, lastModified *string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &model.FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", "omnivore/1.0")
	if etag != nil {
		req.Header.Set("If-None-Match", *etag)
	}
	if lastModified != nil {
		req.Header.Set("If-Modified-Since", *lastModified)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &model.FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &Result{NotModified: true}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &model.FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &model.FetchError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	return &Result{
		Body:         body,
		ETag:         headerPtr(resp.Header, "Etag"),
		LastModified: headerPtr(resp.Header, "Last-Modified"),
	}, nil
}

func headerPtr(h http.Header, key string) *string {
	v := h.Get(key)
	if v == "" {
		return nil
	}
	return &v
}
