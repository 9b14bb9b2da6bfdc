package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"marketwatch/internal/config"
	"marketwatch/internal/crawler"
	"marketwatch/internal/fetch"
	"marketwatch/internal/logging"
	"marketwatch/internal/observability"
	"marketwatch/internal/pool"
	"marketwatch/internal/publish"
	"marketwatch/internal/snapshot"
)

// go run cmd/crawl/main.go -workers=20 -rate=10
// go run cmd/crawl/main.go -categories=config/categories.json -timeout=30m
func main() {
	workers := flag.Int("workers", 0, "worker count override")
	rate := flag.Float64("rate", 0, "request initiations per second override")
	maxProducts := flag.Int("max-products", 0, "per-category product cap override")
	categoriesFile := flag.String("categories", "", "categories file override")
	timeout := flag.Duration("timeout", 0, "overall run timeout (0 = none)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	log := logging.New(*verbose)

	cfg := config.Load()
	if *workers > 0 {
		cfg.MaxWorkers = *workers
	}
	if *rate > 0 {
		cfg.RateLimitPerSecond = *rate
	}
	if *maxProducts > 0 {
		cfg.MaxProductsPerCategory = *maxProducts
	}
	if *categoriesFile != "" {
		cfg.CategoriesFile = *categoriesFile
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	categories, err := config.LoadCategories(cfg.CategoriesFile)
	if err != nil {
		log.Fatal().Err(err).Msg("load categories")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	metrics := observability.NewMetrics()
	metrics.Serve(cfg.MetricsAddr, log)

	runID := uuid.New().String()

	p := pool.New(pool.Config{
		Workers:         cfg.MaxWorkers,
		MaxAttempts:     cfg.MaxRetries,
		RequestTimeout:  cfg.RequestTimeout,
		RetryBackoff:    cfg.RetryBackoff,
		RetryBackoffMax: cfg.RetryBackoffMax,
		Fetcher:         fetch.NewHTTP(cfg.RequestTimeout),
		Limiter:         pool.NewLimiter(cfg.RateLimitPerSecond, 1),
		Logger:          log,
		Metrics:         metrics,
	})

	client := crawler.NewClient(cfg.ListingAPI, cfg.ProductAPI, cfg.SellerAPI, cfg.ProductsPerPage)
	orch := crawler.NewOrchestrator(client, p, crawler.Options{
		RunID:                  runID,
		MaxProductsPerCategory: cfg.MaxProductsPerCategory,
		Logger:                 log,
		Metrics:                metrics,
	})

	snap := orch.Run(ctx, categories)

	snapStore := snapshot.NewStore(cfg.SnapshotDir, log)
	path, err := snapStore.Persist(snap)
	if err != nil {
		log.Fatal().Err(err).Msg("persist snapshot")
	}

	if cfg.RedisAddr != "" {
		pub := publish.NewRedis(cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream, log)
		defer pub.Close()

		// The run context may already be cancelled; the event still goes out.
		pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := pub.Publish(pubCtx, publish.CrawlEvent{
			RunID:      runID,
			CapturedAt: snap.CapturedAt,
			Categories: snap.CategoriesCrawled,
			Products:   len(snap.Products),
			Errors:     snap.Errors,
			Duration:   snap.Duration(),
		})
		if err != nil {
			log.Warn().Err(err).Msg("publish crawl event")
		}
	}

	log.Info().
		Str("snapshot", path).
		Int("products", len(snap.Products)).
		Int("errors", snap.Errors).
		Dur("duration", snap.Duration()).
		Msg("crawl complete")
}
