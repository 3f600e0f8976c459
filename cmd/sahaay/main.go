// Package main runs the sahaay bridge daemon: a local HTTP+WebSocket
// API over the conversation core and its SQLite ledger.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"sahaay/internal/api"
	"sahaay/internal/bridge"
	"sahaay/internal/config"
	"sahaay/internal/ledger"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	store, err := ledger.Open(cfg.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.SQLitePath).Msg("open ledger")
	}
	defer store.Close()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	if err := store.Init(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("init ledger schema")
	}

	svc := bridge.NewService(bridge.Config{
		AgentBaseURL:      cfg.AgentBaseURL,
		HistoryWindow:     cfg.HistoryWindow,
		TitleBudget:       cfg.TitleBudget,
		MinStatusInterval: cfg.MinStatusInterval,
		RequestTimeout:    cfg.RequestTimeout,
	}, store, log)

	srv := api.New(cfg.HTTPAddr, cfg.AuthToken, svc, store, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
		return
	}

	rootCancel()
	svc.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("stopped")
}
