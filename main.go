// apps/go-server/main.go
//
// Entry point for the For Sale game server.
// Responsibilities:
//   - Load configuration and set the global log level.
//   - Pick storage: SQLite (snapshots + stats) when DB_PATH is set, memory otherwise.
//   - Run the HTTP/websocket server and the stale-game reaper until SIGINT/SIGTERM.
//   - Shut down in order: stop accepting, stop actors, flush pending writes.

package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/robalobadob/forsale/apps/go-server/internal/config"
	"github.com/robalobadob/forsale/apps/go-server/internal/httpserver"
	"github.com/robalobadob/forsale/apps/go-server/internal/hub"
	"github.com/robalobadob/forsale/apps/go-server/internal/stats"
	"github.com/robalobadob/forsale/apps/go-server/internal/store"
	"github.com/robalobadob/forsale/apps/go-server/internal/ticket"
)

func main() {
	cfg := config.Load()
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	var (
		st       store.Store
		recorder hub.ResultRecorder
		reader   httpserver.StatsReader
		db       *sql.DB
	)
	if cfg.DBPath != "" {
		var err error
		db, err = store.Open(cfg.DBPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open database")
		}
		st = store.NewSQLiteStore(db)
		ss := stats.NewStore(db)
		recorder, reader = ss, ss
		log.Info().Str("path", cfg.DBPath).Msg("using sqlite store")
	} else {
		st = store.NewMemoryStore()
		log.Warn().Msg("DB_PATH empty; games live in memory and stats are disabled")
	}

	h := hub.New(hub.Options{
		Store:             st,
		Stats:             recorder,
		Tickets:           ticket.NewIssuer(cfg.TicketSecret, cfg.TicketTTL),
		DefaultMaxPlayers: cfg.DefaultMaxPlayers,
		SaveTimeout:       cfg.SaveTimeout,
		StaleAfter:        cfg.StaleAfter,
	})
	srv := httpserver.New(h, reader, cfg.ClientOrigin)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Msg("starting go-server")
		return srv.Start(":" + cfg.Port)
	})
	g.Go(func() error {
		return h.RunReaper(gctx, cfg.ReapInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err := g.Wait()
	h.Close()
	if db != nil {
		_ = db.Close()
	}
	if err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("bye")
}
