// Package feed normalizes raw syndication documents into canonical
// feed metadata and entries.
package feed

import (
	"bytes"
	"strings"
	"time"

	"github.com/bryan-buckman/omnivore/internal/model"
	"github.com/mmcdole/gofeed"
)

// Dialect identifies the source feed format. The set is closed; a new
// format means a new constant and extraction arm, not changes to the
// shared pipeline.
type Dialect string

const (
	DialectRSS      Dialect = "rss"
	DialectAtom     Dialect = "atom"
	DialectJSONFeed Dialect = "json"
	DialectRDF      Dialect = "rdf"
)

// Parse normalizes a raw feed document. The dialect is auto-detected.
// A document that cannot be parsed at all yields a *model.ParseError;
// individual entries the parser skipped do not fail the document.
func Parse(data []byte, feedURL string) (*model.Document, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, &model.ParseError{URL: feedURL, Err: err}
	}

	dialect := detectDialect(parsed)
	extract := extractors[dialect]

	doc := &model.Document{
		Title:   strings.TrimSpace(parsed.Title),
		SiteURL: strings.TrimSpace(parsed.Link),
	}
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		doc.Entries = append(doc.Entries, extract(item))
	}
	return doc, nil
}

func detectDialect(f *gofeed.Feed) Dialect {
	switch f.FeedType {
	case "atom":
		return DialectAtom
	case "json":
		return DialectJSONFeed
	case "rss":
		// RSS 0.90 and 1.0 are the RDF-based dialects.
		if f.FeedVersion == "0.9" || f.FeedVersion == "1.0" {
			return DialectRDF
		}
		return DialectRSS
	default:
		return DialectRSS
	}
}

var extractors = map[Dialect]func(*gofeed.Item) model.Entry{
	DialectRSS:      entryFromRSS,
	DialectAtom:     entryFromAtom,
	DialectJSONFeed: entryFromJSONFeed,
	DialectRDF:      entryFromRDF,
}

// entryFromRSS handles RSS 2.0 items: <guid>, falling back to <link>;
// the publication date comes from <pubDate> only.
func entryFromRSS(item *gofeed.Item) model.Entry {
	return model.Entry{
		GUID:        guidOrLink(item),
		Title:       optional(item.Title),
		URL:         optional(item.Link),
		Summary:     summaryOf(item),
		Author:      authorOf(item),
		PublishedAt: timeOf(item.PublishedParsed),
	}
}

// entryFromAtom handles Atom entries: <id> (mapped to GUID), falling
// back to the alternate link; <published> with <updated> as fallback.
func entryFromAtom(item *gofeed.Item) model.Entry {
	published := timeOf(item.PublishedParsed)
	if published == nil {
		published = timeOf(item.UpdatedParsed)
	}
	return model.Entry{
		GUID:        guidOrLink(item),
		Title:       optional(item.Title),
		URL:         optional(item.Link),
		Summary:     summaryOf(item),
		Author:      authorOf(item),
		PublishedAt: published,
	}
}

// entryFromJSONFeed handles JSON Feed items: id, url, summary, and
// date_published map directly onto the canonical shape.
func entryFromJSONFeed(item *gofeed.Item) model.Entry {
	return model.Entry{
		GUID:        guidOrLink(item),
		Title:       optional(item.Title),
		URL:         optional(item.Link),
		Summary:     summaryOf(item),
		Author:      authorOf(item),
		PublishedAt: timeOf(item.PublishedParsed),
	}
}

// entryFromRDF handles RSS 1.0 items, which carry no guid of their own;
// the item link doubles as the identifier. Dates come from dc:date.
func entryFromRDF(item *gofeed.Item) model.Entry {
	return model.Entry{
		GUID:        strings.TrimSpace(item.Link),
		Title:       optional(item.Title),
		URL:         optional(item.Link),
		Summary:     summaryOf(item),
		Author:      authorOf(item),
		PublishedAt: timeOf(item.PublishedParsed),
	}
}

// guidOrLink resolves the entry identity: explicit id, then permalink,
// then empty. An empty guid is valid upsert input; collisions within a
// feed dedupe to one post.
func guidOrLink(item *gofeed.Item) string {
	if g := strings.TrimSpace(item.GUID); g != "" {
		return g
	}
	return strings.TrimSpace(item.Link)
}

// summaryOf prefers the short summary field and falls back to the full
// content field; it never uses both.
func summaryOf(item *gofeed.Item) *string {
	if s := strings.TrimSpace(item.Description); s != "" {
		return &s
	}
	if c := strings.TrimSpace(item.Content); c != "" {
		return &c
	}
	return nil
}

// authorOf prefers a structured name and falls back to an email-like
// identifier.
func authorOf(item *gofeed.Item) *string {
	var person *gofeed.Person
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		person = item.Authors[0]
	} else if item.Author != nil {
		person = item.Author
	}
	if person == nil {
		return nil
	}
	if name := strings.TrimSpace(person.Name); name != "" {
		return &name
	}
	if email := strings.TrimSpace(person.Email); email != "" {
		return &email
	}
	return nil
}

// timeOf normalizes to UTC. An absent or unparsable date stays absent;
// it is never coerced to the fetch time.
func timeOf(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
