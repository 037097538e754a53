// primal-pages is a multi-tenant page and block document store.
//
// It reads configuration from pages.json (or the file named by
// PRIMAL_PAGES_CONFIG), connects to PostgreSQL, bootstraps the schema,
// and starts an HTTP server exposing the page, content, block, trash and
// category API plus a WebSocket change feed.
//
// Usage:
//
//	./primal-pages            # reads ./pages.json, starts server
//	docker compose up -d      # runs via Docker with mounted config
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/primal-host/primal-pages/internal/auth"
	"github.com/primal-host/primal-pages/internal/block"
	"github.com/primal-host/primal-pages/internal/category"
	"github.com/primal-host/primal-pages/internal/config"
	"github.com/primal-host/primal-pages/internal/content"
	"github.com/primal-host/primal-pages/internal/database"
	"github.com/primal-host/primal-pages/internal/events"
	"github.com/primal-host/primal-pages/internal/page"
	"github.com/primal-host/primal-pages/internal/server"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	log.Info().Str("version", server.Version).Msg("primal-pages starting")

	path := os.Getenv("PRIMAL_PAGES_CONFIG")
	if path == "" {
		path = "pages.json"
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("logLevel", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	log = log.Level(level)
	log.Info().Str("listen", cfg.ListenAddr).Str("db", cfg.DBConn+"/"+cfg.DBName).Msg("config loaded")

	// Root context cancelled on SIGINT or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL and bootstrap schema.
	db, err := database.Open(ctx, cfg.ConnString())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("database connected, schema bootstrapped")

	feed := events.NewManager(events.NewPersister(db.Pool), log)
	srv := server.New(cfg, log, server.Deps{
		Pages:      page.NewStore(db, feed),
		Blocks:     block.NewStore(db),
		Content:    content.NewStore(db, content.NewReplaceAll(db, feed)),
		Categories: category.NewStore(db),
		Feed:       feed,
		JWT:        auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		// Feed sockets are hijacked and outlive the HTTP shutdown, so
		// end their subscriptions explicitly.
		<-gctx.Done()
		feed.Shutdown()
		return nil
	})

	start := time.Now()
	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Dur("uptime", time.Since(start)).Msg("primal-pages stopped")
}
