// Command server starts the curator pipeline and its HTTP control surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/feedloom/curator/internal/adapter/chat"
	"github.com/feedloom/curator/internal/adapter/feed"
	httpserver "github.com/feedloom/curator/internal/adapter/httpserver"
	"github.com/feedloom/curator/internal/adapter/observability"
	"github.com/feedloom/curator/internal/adapter/repo/postgres"
	"github.com/feedloom/curator/internal/adapter/scoring"
	"github.com/feedloom/curator/internal/app"
	"github.com/feedloom/curator/internal/config"
	"github.com/feedloom/curator/internal/domain"
	"github.com/feedloom/curator/internal/pipeline"
	"github.com/feedloom/curator/internal/storemem"
	"github.com/feedloom/curator/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes HTTP and pipeline instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	// Store: Postgres by default, in-memory for local runs.
	var (
		store domain.Store
		pool  *pgxpool.Pool
	)
	if cfg.UseMemoryStore() {
		slog.Info("using in-memory store")
		store = storemem.New()
	} else {
		pool, err = postgres.NewPool(ctx, cfg.DBURL)
		if err != nil {
			slog.Error("db connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		if err := postgres.WaitForDB(ctx, pool, 30*time.Second); err != nil {
			slog.Error("db not reachable", slog.Any("error", err))
			os.Exit(1)
		}
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			slog.Error("schema setup failed", slog.Any("error", err))
			os.Exit(1)
		}
		store = postgres.NewStore(pool)
	}

	// Source decoder.
	decoder := feed.New(cfg.FetchTimeout)

	// Ranker: external scoring service, or the deterministic stub when no
	// base URL is configured.
	var ranker domain.Ranker
	if cfg.RankerBaseURL == "" {
		slog.Info("no ranker configured, using stub")
		ranker = scoring.NewStub()
	} else {
		ranker = scoring.New(cfg.RankerBaseURL, cfg.RankerTimeout)
	}

	// Publisher: Discord when a token is configured, log-only otherwise.
	var publisher domain.Publisher
	if cfg.ChatToken == "" {
		slog.Info("no chat token configured, publishing to log")
		publisher = chat.NewLogPublisher()
	} else {
		discord, err := chat.NewDiscord(cfg.ChatToken, cfg.ChatChannel)
		if err != nil {
			slog.Error("discord connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = discord.Close() }()
		publisher = discord
	}

	// Usecases
	feedsSvc := usecase.NewFeedService(store, cfg.DefaultInterval)
	statsSvc := usecase.NewStatsService(store)
	exportSvc := usecase.NewExportService(store)
	trainingSvc := usecase.NewTrainingService(store, ranker)

	if cfg.SeedFeeds != "" {
		if err := seedFeeds(ctx, feedsSvc, cfg.SeedFeeds); err != nil {
			slog.Error("feed seeding failed", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Pipeline workers under one supervisor.
	sup := pipeline.NewSupervisor(
		pipeline.NewPoller(store, decoder, cfg),
		pipeline.NewScorer(store, ranker, cfg),
		pipeline.NewPubDispatcher(store, publisher, cfg),
		pipeline.NewQueueDepthSampler(store, 30*time.Second),
	)
	pipeCtx, stopPipeline := context.WithCancel(ctx)
	pipeDone := make(chan struct{})
	go func() {
		defer close(pipeDone)
		sup.Run(pipeCtx)
	}()

	// HTTP server
	var dbCheck func(context.Context) error
	if pool != nil {
		dbCheck = app.BuildDBCheck(pool)
	} else {
		dbCheck = app.BuildDBCheck(nil)
	}
	srv := httpserver.NewServer(cfg, feedsSvc, statsSvc, exportSvc, trainingSvc, dbCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	// Stop the workers first so no new publishes race the HTTP drain.
	stopPipeline()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
	select {
	case <-pipeDone:
	case <-shutdownCtx.Done():
		slog.Warn("pipeline did not stop within shutdown timeout")
	}
	slog.Info("shutdown complete")
}
