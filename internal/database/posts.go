package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/bryan-buckman/omnivore/internal/model"
	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/samber/lo"
)

const (
	// DefaultPostLimit applies when a filter carries no limit.
	DefaultPostLimit = 50
	// ContentCap is the maximum content length, in runes, returned by
	// GetPostContent unless the full content is requested.
	ContentCap = 5000
	// TruncationMarker is appended to capped content.
	TruncationMarker = "\n\n[content truncated]"
)

// UpsertPosts inserts the given entries for a feed in a single
// transaction. Entries whose (feed_id, guid) already exists are left
// untouched; the first-seen title/summary/author are permanent unless
// rewritten by the content backfill path. Returns the number of rows
// actually inserted.
func (db *DB) UpsertPosts(feedID int64, entries []model.Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO posts (feed_id, guid, title, url, summary, author, published_at, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(feed_id, guid) DO NOTHING`)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	inserted := 0
	for _, e := range entries {
		res, err := stmt.Exec(feedID, e.GUID, e.Title, e.URL, e.Summary, e.Author, e.PublishedAt, now)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("upsert post %q: %w", e.GUID, err)
		}
		affected, _ := res.RowsAffected()
		inserted += int(affected)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// GetPosts returns posts matching the filter, joined with their feed's
// title and URL, ordered by published time descending with unknown
// publish times after all dated posts. A search term restricts results
// to posts whose index entry matches; the FTS5 query syntax is passed
// through as-is.
func (db *DB) GetPosts(filter model.PostFilter) ([]model.Post, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(
		"posts.id", "posts.feed_id", "posts.guid", "posts.title", "posts.url",
		"posts.summary", "posts.author", "posts.published_at", "posts.fetched_at",
		"posts.is_read", "posts.read_at", "posts.starred",
		"feeds.title", "feeds.url",
	)
	if filter.Search != "" {
		sb.From("posts_fts")
		sb.Join("posts", "posts.id = posts_fts.rowid")
		sb.Where("posts_fts MATCH " + sb.Args.Add(filter.Search))
	} else {
		sb.From("posts")
	}
	sb.Join("feeds", "feeds.id = posts.feed_id")

	if filter.FeedID != nil {
		sb.Where(sb.Equal("posts.feed_id", *filter.FeedID))
	}
	if filter.UnreadOnly {
		sb.Where(sb.Equal("posts.is_read", 0))
	}
	if filter.StarredOnly {
		sb.Where(sb.Equal("posts.starred", 1))
	}
	if filter.Since != nil {
		sb.Where(sb.GE("posts.published_at", filter.Since.UTC()))
	}

	sb.OrderBy("posts.published_at IS NULL", "posts.published_at DESC", "posts.id DESC")
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultPostLimit
	}
	sb.Limit(limit)
	if filter.Offset > 0 {
		sb.Offset(filter.Offset)
	}

	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()
	return scanPosts(rows)
}

func scanPosts(rows *sql.Rows) ([]model.Post, error) {
	var posts []model.Post
	for rows.Next() {
		var p model.Post
		var title, url, summary, author, feedTitle sql.NullString
		var publishedAt, readAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.FeedID, &p.GUID, &title, &url, &summary, &author,
			&publishedAt, &p.FetchedAt, &p.IsRead, &readAt, &p.Starred,
			&feedTitle, &p.FeedURL); err != nil {
			return nil, err
		}
		p.Title = strPtr(title)
		p.URL = strPtr(url)
		p.Summary = strPtr(summary)
		p.Author = strPtr(author)
		p.PublishedAt = timePtr(publishedAt)
		p.ReadAt = timePtr(readAt)
		p.FeedTitle = strPtr(feedTitle)
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// MarkRead marks the given posts read, stamping read_at. Unknown ids
// and already-read posts are skipped silently. Returns the number of
// posts actually changed.
func (db *DB) MarkRead(ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ub := sqlbuilder.NewUpdateBuilder()
	ub.Update("posts")
	ub.Set(ub.Assign("is_read", 1), ub.Assign("read_at", time.Now().UTC()))
	ub.Where(ub.In("id", lo.ToAnySlice(ids)...), ub.Equal("is_read", 0))
	return db.execCount(ub)
}

// MarkUnread clears the read flag and read_at for the given posts.
func (db *DB) MarkUnread(ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ub := sqlbuilder.NewUpdateBuilder()
	ub.Update("posts")
	ub.Set(ub.Assign("is_read", 0), ub.Assign("read_at", nil))
	ub.Where(ub.In("id", lo.ToAnySlice(ids)...), ub.Equal("is_read", 1))
	return db.execCount(ub)
}

// SetStarred sets or clears the star flag on the given posts.
func (db *DB) SetStarred(ids []int64, starred bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	val := 0
	if starred {
		val = 1
	}
	ub := sqlbuilder.NewUpdateBuilder()
	ub.Update("posts")
	ub.Set(ub.Assign("starred", val))
	ub.Where(ub.In("id", lo.ToAnySlice(ids)...), ub.NotEqual("starred", val))
	return db.execCount(ub)
}

func (db *DB) execCount(ub *sqlbuilder.UpdateBuilder) (int64, error) {
	query, args := ub.BuildWithFlavor(sqlbuilder.SQLite)
	res, err := db.conn.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetPostContent returns one post including its content. Unless full is
// requested, content longer than ContentCap runes is cut at the cap
// with TruncationMarker appended; the second return reports whether
// truncation happened.
func (db *DB) GetPostContent(id int64, full bool) (*model.Post, bool, error) {
	row := db.conn.QueryRow(
		`SELECT posts.id, posts.feed_id, posts.guid, posts.title, posts.url,
		        posts.summary, posts.content, posts.author, posts.published_at,
		        posts.fetched_at, posts.is_read, posts.read_at, posts.starred,
		        feeds.title, feeds.url
		 FROM posts JOIN feeds ON feeds.id = posts.feed_id
		 WHERE posts.id = ?`, id)

	var p model.Post
	var title, url, summary, content, author, feedTitle sql.NullString
	var publishedAt, readAt sql.NullTime
	err := row.Scan(&p.ID, &p.FeedID, &p.GUID, &title, &url, &summary, &content, &author,
		&publishedAt, &p.FetchedAt, &p.IsRead, &readAt, &p.Starred, &feedTitle, &p.FeedURL)
	if err == sql.ErrNoRows {
		return nil, false, fmt.Errorf("post %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, false, err
	}
	p.Title = strPtr(title)
	p.URL = strPtr(url)
	p.Summary = strPtr(summary)
	p.Content = strPtr(content)
	p.Author = strPtr(author)
	p.PublishedAt = timePtr(publishedAt)
	p.ReadAt = timePtr(readAt)
	p.FeedTitle = strPtr(feedTitle)

	truncated := false
	if !full && p.Content != nil {
		runes := []rune(*p.Content)
		if len(runes) > ContentCap {
			capped := string(runes[:ContentCap]) + TruncationMarker
			p.Content = &capped
			truncated = true
		}
	}
	return &p, truncated, nil
}

// UpdatePostContent overwrites a post's content; the FTS triggers
// reindex it in the same transaction.
func (db *DB) UpdatePostContent(id int64, content string) error {
	res, err := db.conn.Exec("UPDATE posts SET content = ? WHERE id = ?", content, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("post %d: %w", id, model.ErrNotFound)
	}
	return nil
}
