// Package database provides SQLite storage for feeds, posts, and the
// full-text index kept in lockstep with them.
package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/bryan-buckman/omnivore/internal/model"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
}

// New opens or creates an SQLite database at the given path. The schema
// is created idempotently on every open; there is no migration system.
func New(path string) (*DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS feeds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		title TEXT,
		site_url TEXT,
		etag TEXT,
		last_modified TEXT,
		last_fetched DATETIME,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		feed_id INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
		guid TEXT NOT NULL,
		title TEXT,
		url TEXT,
		summary TEXT,
		content TEXT,
		author TEXT,
		published_at DATETIME,
		fetched_at DATETIME NOT NULL,
		is_read INTEGER NOT NULL DEFAULT 0,
		read_at DATETIME,
		starred INTEGER NOT NULL DEFAULT 0,
		UNIQUE(feed_id, guid)
	);
	CREATE VIRTUAL TABLE IF NOT EXISTS posts_fts USING fts5(
		title, summary, content,
		content='posts',
		content_rowid='id',
		tokenize='porter unicode61'
	);
	-- Triggers keep the FTS index exactly synchronized with posts.
	-- They run inside the same transaction as the triggering statement,
	-- so the index and the table never diverge mid-batch.
	CREATE TRIGGER IF NOT EXISTS posts_ai AFTER INSERT ON posts BEGIN
		INSERT INTO posts_fts(rowid, title, summary, content)
		VALUES (new.id, new.title, new.summary, new.content);
	END;
	CREATE TRIGGER IF NOT EXISTS posts_ad AFTER DELETE ON posts BEGIN
		INSERT INTO posts_fts(posts_fts, rowid, title, summary, content)
		VALUES ('delete', old.id, old.title, old.summary, old.content);
	END;
	CREATE TRIGGER IF NOT EXISTS posts_au AFTER UPDATE OF title, summary, content ON posts BEGIN
		INSERT INTO posts_fts(posts_fts, rowid, title, summary, content)
		VALUES ('delete', old.id, old.title, old.summary, old.content);
		INSERT INTO posts_fts(rowid, title, summary, content)
		VALUES (new.id, new.title, new.summary, new.content);
	END;
	`
	_, err := db.conn.Exec(schema)
	return err
}

// --- Feed Methods ---

// AddFeed subscribes to a feed URL. Title and site URL may be supplied
// up front; otherwise they are filled in on the first successful refresh.
// Returns model.ErrDuplicateFeed if the URL is already subscribed.
func (db *DB) AddFeed(url string, title, siteURL *string) (*model.Feed, error) {
	now := time.Now().UTC()
	res, err := db.conn.Exec(
		"INSERT INTO feeds (url, title, site_url, created_at) VALUES (?, ?, ?, ?)",
		url, title, siteURL, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("add feed %s: %w", url, model.ErrDuplicateFeed)
		}
		return nil, fmt.Errorf("add feed %s: %w", url, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return db.GetFeed(id)
}

// GetFeed returns one feed by id, or model.ErrNotFound.
func (db *DB) GetFeed(id int64) (*model.Feed, error) {
	row := db.conn.QueryRow(
		`SELECT id, url, title, site_url, etag, last_modified, last_fetched, created_at
		 FROM feeds WHERE id = ?`, id)
	f, err := scanFeed(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("feed %d: %w", id, model.ErrNotFound)
	}
	return f, err
}

// ListFeeds returns all feeds with their unread counts, oldest first.
func (db *DB) ListFeeds() ([]model.Feed, error) {
	rows, err := db.conn.Query(
		`SELECT f.id, f.url, f.title, f.site_url, f.etag, f.last_modified, f.last_fetched, f.created_at,
		        COALESCE(SUM(CASE WHEN p.is_read = 0 THEN 1 ELSE 0 END), 0)
		 FROM feeds f
		 LEFT JOIN posts p ON p.feed_id = f.id
		 GROUP BY f.id
		 ORDER BY f.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var feeds []model.Feed
	for rows.Next() {
		var f model.Feed
		var title, siteURL, etag, lastModified sql.NullString
		var lastFetched sql.NullTime
		if err := rows.Scan(&f.ID, &f.URL, &title, &siteURL, &etag, &lastModified,
			&lastFetched, &f.CreatedAt, &f.UnreadCount); err != nil {
			return nil, err
		}
		f.Title = strPtr(title)
		f.SiteURL = strPtr(siteURL)
		f.ETag = strPtr(etag)
		f.LastModified = strPtr(lastModified)
		f.LastFetched = timePtr(lastFetched)
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

// RemoveFeed unsubscribes a feed; all of its posts and their search
// index entries are deleted by cascade.
func (db *DB) RemoveFeed(id int64) error {
	res, err := db.conn.Exec("DELETE FROM feeds WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("feed %d: %w", id, model.ErrNotFound)
	}
	return nil
}

// UpdateFeedMeta applies a refresh's feed metadata. Title and site URL
// are kept when the update carries nil for them; validators are always
// overwritten, and last_fetched always advances to now.
func (db *DB) UpdateFeedMeta(id int64, meta model.FeedMeta) error {
	res, err := db.conn.Exec(
		`UPDATE feeds SET
			title = COALESCE(?, title),
			site_url = COALESCE(?, site_url),
			etag = ?,
			last_modified = ?,
			last_fetched = ?
		 WHERE id = ?`,
		meta.Title, meta.SiteURL, meta.ETag, meta.LastModified, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("feed %d: %w", id, model.ErrNotFound)
	}
	return nil
}

// --- scan helpers ---

func scanFeed(row *sql.Row) (*model.Feed, error) {
	var f model.Feed
	var title, siteURL, etag, lastModified sql.NullString
	var lastFetched sql.NullTime
	if err := row.Scan(&f.ID, &f.URL, &title, &siteURL, &etag, &lastModified,
		&lastFetched, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.Title = strPtr(title)
	f.SiteURL = strPtr(siteURL)
	f.ETag = strPtr(etag)
	f.LastModified = strPtr(lastModified)
	f.LastFetched = timePtr(lastFetched)
	return &f, nil
}

func strPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}
