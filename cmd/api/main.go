package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"genpipe/internal/http/handlers"
	httpapi "genpipe/internal/http/httpapi"
	"genpipe/internal/infra"
	"genpipe/internal/metrics"
	"genpipe/internal/pipeline"
	"genpipe/internal/storage"
)

const shutdownGrace = 15 * time.Second

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := infra.SetupTracing(ctx, "genpipe-api", cfg.OTelEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing setup failed")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	pipe, err := pipeline.New(cfg, &logger, collector)
	if err != nil {
		logger.Fatal().Err(err).Msg("pipeline setup failed")
	}
	store, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage setup failed")
	}

	// Janitor for idle and expired jobs.
	go func() {
		if err := pipe.Orchestrator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("job janitor stopped")
		}
	}()

	app := handlers.NewApp(cfg, logger, pipe.Orchestrator, pipe.Client, pipe.Policies, collector, store)
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app), &logger)

	logger.Info().
		Str("addr", server.Addr()).
		Str("upstream", pipe.Client.BaseURL()).
		Strs("policies", pipe.Policies.Names()).
		Strs("providers", pipe.Credentials.Providers()).
		Msg("API configured")
	if err := server.Run(ctx, shutdownGrace); err != nil {
		logger.Error().Err(err).Msg("http server failed")
	}

	pipe.Orchestrator.Close()
	waitCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := app.WaitArchives(waitCtx); err != nil {
		logger.Warn().Err(err).Msg("pending result downloads abandoned")
	}
	if err := shutdownTracing(waitCtx); err != nil {
		logger.Error().Err(err).Msg("failed to flush traces")
	}
	logger.Info().Msg("server stopped")
}
