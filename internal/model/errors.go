package model

import (
	"errors"
	"fmt"
)

// ErrDuplicateFeed is returned when subscribing to an already known URL.
var ErrDuplicateFeed = errors.New("feed already subscribed")

// ErrNotFound is returned when an operation references an absent feed or post.
var ErrNotFound = errors.New("not found")

// ParseError reports a feed document that could not be parsed at all.
// Partial parses do not produce a ParseError; entries that did parse
// are returned instead.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse feed %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FetchError reports a failed HTTP fetch: a non-2xx/304 status,
// a transport failure, or a timeout. StatusCode is 0 when no
// response was received.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
