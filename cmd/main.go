// jobmate-pipeline-service
//
// Job application pipeline: scrapes postings, deduplicates and stores them,
// fetches full descriptions, scores each job against the candidate profile
// and tracks the application lifecycle on a Kanban board.
//
// Exposes a REST API (gorilla/mux) and a gRPC API with the standard health
// service. Publishes EVENT_JOB_MOVED and EVENT_JOB_ANALYZED to Redis when
// REDIS_URL is set.
//
// Run with -once to execute a single pipeline pass and exit.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"jobmate/pipeline-service/internal/analysis"
	"jobmate/pipeline-service/internal/config"
	"jobmate/pipeline-service/internal/db"
	"jobmate/pipeline-service/internal/enrich"
	"jobmate/pipeline-service/internal/grpcserver"
	"jobmate/pipeline-service/internal/kanban"
	"jobmate/pipeline-service/internal/pipeline"
	"jobmate/pipeline-service/internal/repository"
	"jobmate/pipeline-service/internal/scheduler"
	"jobmate/pipeline-service/internal/scoring"
	"jobmate/pipeline-service/internal/scraper"
)

const version = "1.0.0"

func main() {
	once := flag.Bool("once", false, "run one pipeline pass and exit")
	flag.Parse()

	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[pipeline-service] Config error: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger, *once); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(h).With("service", "pipeline-service")
}

func run(cfg *config.Config, logger *slog.Logger, once bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Storage ──────────────────────────────────────────────────────────────
	storeOpts := repository.Options{Driver: cfg.StoreDriver, SQLitePath: cfg.SQLitePath, DatabaseURL: cfg.DatabaseURL}
	repo, err := repository.Open(ctx, storeOpts)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	defer repo.Close()
	logger.Info("store ready", "driver", cfg.StoreDriver)

	// ── Redis ────────────────────────────────────────────────────────────────
	var pub kanban.Publisher = kanban.NopPublisher{}
	if cfg.RedisURL != "" {
		rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rdb.Close()
		pub = kanban.NewRedisPublisher(rdb, logger)
		logger.Info("redis connected")
	}

	// ── Scoring ──────────────────────────────────────────────────────────────
	profile := scoring.DefaultProfile()
	if cfg.ProfilePath != "" {
		if profile, err = scoring.LoadProfile(cfg.ProfilePath); err != nil {
			return err
		}
	}

	var analyzer analysis.Analyzer = analysis.EngineAnalyzer{}
	if cfg.AnthropicKey != "" {
		model, err := analysis.NewAnthropicModel(cfg.AnthropicKey, cfg.AnthropicModel)
		if err != nil {
			return err
		}
		analyzer = analysis.WithEngineFallback(&analysis.LLMAnalyzer{Model: model}, logger)
		logger.Info("llm analysis enabled, keyword engine as fallback")
	}

	// ── Enrichment ───────────────────────────────────────────────────────────
	var base enrich.Fetcher = enrich.NewHTTPFetcher(cfg.EnrichRatePerMin)
	if cfg.BrowserEnabled {
		browser := enrich.NewBrowserFetcher(cfg.BrowserRemoteURL, logger)
		defer browser.Close()
		base = browser
	}
	fetcher := enrich.NewRetryingFetcher(base, logger)

	// ── Pipeline ─────────────────────────────────────────────────────────────
	source := scraper.NewAdzunaSource(cfg.AdzunaAppID, cfg.AdzunaAppKey, cfg.AdzunaCountry, logger)
	p := pipeline.New(pipeline.Config{
		Repo:         repo,
		Fetcher:      fetcher,
		Analyzer:     analyzer,
		Profile:      profile,
		Publisher:    pub,
		Scraper:      scraper.NewWorker(source, logger),
		Search:       cfg.Search,
		DedupWindow:  cfg.DedupWindow,
		QualityFloor: cfg.EnrichQualityFloor,
		EnrichBatch:  cfg.EnrichBatch,
		Logger:       logger,
	})

	if once {
		rep, err := p.Run(ctx)
		if err != nil {
			return err
		}
		logger.Info("single run complete", "run_id", rep.RunID,
			"inserted", rep.Ingest.Inserted, "enriched", rep.Enrich.Complete, "scored", rep.Analyze.Scored)
		return nil
	}

	background := pipeline.NewBackgroundAnalyzer(ctx, repository.NewOpener(storeOpts), p, 0, logger)
	svc := kanban.NewService(repo, pub, logger)

	// ── HTTP server ──────────────────────────────────────────────────────────
	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	kanban.NewHandler(svc, cfg.FollowupDays, logger).RegisterRoutes(r)
	background.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	errc := make(chan error, 2)
	go func() {
		logger.Info("http listening", "version", version, "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()

	// ── gRPC server ──────────────────────────────────────────────────────────
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	gs := grpcserver.New(svc, logger)
	go func() {
		logger.Info("grpc listening", "port", cfg.GRPCPort)
		if err := gs.Serve(lis); err != nil {
			errc <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	// ── Scheduler ────────────────────────────────────────────────────────────
	sched := scheduler.New(p, cfg.ScrapeIntervalHours, logger)
	if err := sched.Start(ctx); err != nil {
		return err
	}

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err = <-errc:
		logger.Error("server failed", "err", err)
	}

	logger.Info("shutting down")
	stop()
	sched.Stop()
	background.Cancel()
	background.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("http shutdown", "err", serr)
	}
	gs.GracefulStop()
	logger.Info("stopped")
	return err
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "pipeline-service",
		"version": version,
	})
}
