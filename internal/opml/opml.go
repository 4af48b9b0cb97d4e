// Package opml handles importing and exporting OPML subscription lists.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a single outline element (group or feed).
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Subscription is a flattened feed candidate from an OPML outline.
type Subscription struct {
	URL     string
	Title   *string
	SiteURL *string
}

// Parse reads an OPML document and returns a flat list of subscriptions,
// walking arbitrarily nested groups and keeping only outlines that carry
// a feed URL.
func Parse(r io.Reader) ([]Subscription, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var subs []Subscription
	var walk func(outlines []Outline)
	walk = func(outlines []Outline) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				sub := Subscription{URL: o.XMLURL}
				if strings.TrimSpace(title) != "" {
					t := strings.TrimSpace(title)
					sub.Title = &t
				}
				if o.HTMLURL != "" {
					u := o.HTMLURL
					sub.SiteURL = &u
				}
				subs = append(subs, sub)
			}
			walk(o.Outlines)
		}
	}
	walk(doc.Body.Outlines)
	return subs, nil
}

// Export generates a flat OPML document for the given subscriptions.
func Export(title string, subs []Subscription) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
	}
	for _, s := range subs {
		o := Outline{Type: "rss", XMLURL: s.URL}
		if s.Title != nil {
			o.Text = *s.Title
			o.Title = *s.Title
		} else {
			o.Text = s.URL
		}
		if s.SiteURL != nil {
			o.HTMLURL = *s.SiteURL
		}
		doc.Body.Outlines = append(doc.Body.Outlines, o)
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}
