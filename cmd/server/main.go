package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"pulsewatch/internal/api"
	"pulsewatch/internal/bus"
	"pulsewatch/internal/checker"
	"pulsewatch/internal/config"
	"pulsewatch/internal/pulse"
	"pulsewatch/internal/queue"
	"pulsewatch/internal/storage"
	"pulsewatch/internal/webhook"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file (YAML)")
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	db, err := storage.InitDB(cfg.DatabasePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("init db")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("close db")
		}
	}()

	configRepo := storage.NewConfigRepo(db)
	pulseRepo := storage.NewPulseRepo(db)
	counterRepo := storage.NewCounterRepo(db)
	seriesRepo := storage.NewSeriesRepo(db)
	webhookRepo := storage.NewWebhookRepo(db)

	ingestQueue := queue.New(db, "ingest")
	webhookQueue := queue.New(db, "webhooks")
	ingestSignal := queue.NewSignal()
	webhookSignal := queue.NewSignal()

	eventBus := bus.New(logger)

	store := pulse.NewStore(pulseRepo, counterRepo, seriesRepo, ingestQueue, webhookQueue,
		eventBus, cfg.Interval(), cfg.AlertThreshold, cfg.RecentWindow(), logger)
	store.SetDownstream(webhookSignal)

	dispatcher := webhook.NewDispatcher(webhookQueue, webhookRepo, logger)

	scheduler := checker.NewScheduler(configRepo, ingestQueue, cfg.Interval(),
		int64(cfg.SimultaneousPulses), logger, ingestSignal, webhookSignal)
	scheduler.SetAfterSweep(store.Archive)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go store.Run(ctx, ingestSignal)
	go dispatcher.Run(ctx, webhookSignal)
	go func() {
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("scheduler exited")
		}
	}()

	server := &api.Server{
		Pulses:       pulseRepo,
		Series:       seriesRepo,
		Bus:          eventBus,
		RecentWindow: cfg.RecentWindow(),
		Logger:       logger.With().Str("component", "api").Logger(),
	}
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: api.SetupRouter(server)}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown")
		}
	}()

	logger.Info().Str("addr", cfg.ListenAddr).Int("interval_minutes", cfg.IntervalMinutes).
		Msg("pulsewatch listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}
}
