// Package server exposes every engine operation as one JSON request/
// response endpoint for the calling agent.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bryan-buckman/omnivore/internal/database"
	"github.com/bryan-buckman/omnivore/internal/fetch"
	"github.com/bryan-buckman/omnivore/internal/model"
	"github.com/bryan-buckman/omnivore/internal/opml"
	"github.com/bryan-buckman/omnivore/internal/query"
	"github.com/bryan-buckman/omnivore/internal/readability"
	"github.com/bryan-buckman/omnivore/internal/refresh"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

// Server is the HTTP boundary. A bad input never crashes the process;
// every raised error becomes an error-flagged JSON payload.
type Server struct {
	db       *database.DB
	orch     *refresh.Orchestrator
	queries  *query.Queries
	articles *fetch.Client
	router   chi.Router
}

// New wires the engine components behind the router.
func New(db *database.DB, orch *refresh.Orchestrator, queries *query.Queries, articles *fetch.Client) *Server {
	s := &Server{
		db:       db,
		orch:     orch,
		queries:  queries,
		articles: articles,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/feeds", s.handleSubscribe)
		r.Get("/feeds", s.handleListFeeds)
		r.Delete("/feeds/{feedID}", s.handleUnsubscribe)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/posts", s.handleGetPosts)
		r.Post("/posts/mark-read", s.handleMarkRead)
		r.Post("/posts/mark-unread", s.handleMarkUnread)
		r.Post("/posts/star", s.handleStar)
		r.Get("/posts/{postID}/content", s.handlePostContent)
		r.Get("/digest", s.handleDigest)
		r.Get("/top", s.handleTopPosts)
		r.Post("/opml/import", s.handleImportOPML)
		r.Get("/opml/export", s.handleExportOPML)
	})

	s.router = r
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails.
func (s *Server) Start(addr string) error {
	log.WithField("addr", addr).Info("server starting")
	return http.ListenAndServe(addr, s.router)
}

// --- Feed Handlers ---

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL     string  `json:"url"`
		Title   *string `json:"title"`
		SiteURL *string `json:"site_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	feed, err := s.db.AddFeed(req.URL, req.Title, req.SiteURL)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, feed)
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.db.ListFeeds()
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	if feeds == nil {
		feeds = []model.Feed{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"feeds": feeds})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "feedID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid feed id"))
		return
	}
	if err := s.db.RemoveFeed(id); err != nil {
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": id})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FeedID *int64 `json:"feed_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var feeds []model.Feed
	if req.FeedID != nil {
		feed, err := s.db.GetFeed(*req.FeedID)
		if err != nil {
			writeErrorFor(w, err)
			return
		}
		feeds = []model.Feed{*feed}
	} else {
		var err error
		feeds, err = s.db.ListFeeds()
		if err != nil {
			writeErrorFor(w, err)
			return
		}
	}

	report := s.orch.Refresh(r.Context(), feeds)
	writeJSON(w, http.StatusOK, report)
}

// --- Post Handlers ---

func (s *Server) handleGetPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.PostFilter{
		Limit:       intParam(q.Get("limit"), 0),
		Offset:      intParam(q.Get("offset"), 0),
		UnreadOnly:  q.Get("unread") == "true",
		StarredOnly: q.Get("starred") == "true",
		Search:      q.Get("search"),
	}
	if v := q.Get("feed_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid feed_id"))
			return
		}
		filter.FeedID = &id
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("since must be RFC 3339"))
			return
		}
		filter.Since = &t
	}

	posts, err := s.db.GetPosts(filter)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	if posts == nil {
		posts = []model.Post{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	s.handleMark(w, r, s.db.MarkRead)
}

func (s *Server) handleMarkUnread(w http.ResponseWriter, r *http.Request) {
	s.handleMark(w, r, s.db.MarkUnread)
}

func (s *Server) handleMark(w http.ResponseWriter, r *http.Request, mark func([]int64) (int64, error)) {
	var req struct {
		PostIDs []int64 `json:"post_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	changed, err := mark(req.PostIDs)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": changed})
}

func (s *Server) handleStar(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PostIDs []int64 `json:"post_ids"`
		Starred bool    `json:"starred"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	changed, err := s.db.SetStarred(req.PostIDs, req.Starred)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": changed})
}

func (s *Server) handlePostContent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "postID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid post id"))
		return
	}
	full := r.URL.Query().Get("full") == "true"

	// The backfill path: fetch the article page, extract its readable
	// body, and cache it as the post's content before answering.
	if r.URL.Query().Get("fetch") == "true" {
		if err := s.backfillContent(r, id); err != nil {
			writeErrorFor(w, err)
			return
		}
	}

	post, truncated, err := s.db.GetPostContent(id, full)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"post": post, "truncated": truncated})
}

func (s *Server) backfillContent(r *http.Request, id int64) error {
	post, _, err := s.db.GetPostContent(id, true)
	if err != nil {
		return err
	}
	if post.URL == nil {
		return nil
	}
	res, err := s.articles.Fetch(r.Context(), *post.URL, nil, nil)
	if err != nil {
		return err
	}
	text, ok := readability.Extract(string(res.Body), *post.URL)
	if !ok {
		log.WithField("url", *post.URL).Debug("readability extraction yielded nothing")
		return nil
	}
	return s.db.UpdatePostContent(id, text)
}

// --- Views ---

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	hours := intParam(r.URL.Query().Get("hours"), 0)
	maxSummary := intParam(r.URL.Query().Get("max_summary"), 0)
	digest, err := s.queries.BuildDigest(time.Duration(hours)*time.Hour, maxSummary)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, digest)
}

func (s *Server) handleTopPosts(w http.ResponseWriter, r *http.Request) {
	days := intParam(r.URL.Query().Get("days"), 0)
	limit := intParam(r.URL.Query().Get("limit"), 0)
	ranked, err := s.queries.TopPosts(r.Context(), days, limit)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": ranked})
}

// --- OPML ---

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	subs, err := opml.Parse(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	imported := 0
	for _, sub := range subs {
		if _, err := s.db.AddFeed(sub.URL, sub.Title, sub.SiteURL); err != nil {
			if errors.Is(err, model.ErrDuplicateFeed) {
				continue
			}
			log.WithField("url", sub.URL).WithError(err).Warn("opml import: feed skipped")
			continue
		}
		imported++
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": imported, "total": len(subs)})
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.db.ListFeeds()
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	subs := make([]opml.Subscription, 0, len(feeds))
	for _, f := range feeds {
		subs = append(subs, opml.Subscription{URL: f.URL, Title: f.Title, SiteURL: f.SiteURL})
	}
	data, err := opml.Export("Omnivore Feeds", subs)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write(data)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.WithError(err).Error("encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeErrorFor(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrDuplicateFeed):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func intParam(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
