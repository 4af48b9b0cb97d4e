package main

import (
	"github.com/bryan-buckman/omnivore/internal/config"
	"github.com/bryan-buckman/omnivore/internal/database"
	"github.com/bryan-buckman/omnivore/internal/fetch"
	"github.com/bryan-buckman/omnivore/internal/hn"
	"github.com/bryan-buckman/omnivore/internal/query"
	"github.com/bryan-buckman/omnivore/internal/refresh"
	"github.com/bryan-buckman/omnivore/internal/server"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Get()
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	db, err := database.New(cfg.DBPath)
	if err != nil {
		// Failing to open the store is the only process-fatal condition.
		log.WithError(err).Fatal("open store")
	}
	defer db.Close()

	fetcher := fetch.NewClient(cfg.FetchTimeout)
	orch := refresh.New(db, fetcher, cfg.RefreshCooldown)
	queries := query.New(db, hn.NewClient(cfg.LookupTimeout))

	srv := server.New(db, orch, queries, fetcher)
	if err := srv.Start(cfg.Addr); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
