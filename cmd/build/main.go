package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"marketwatch/internal/config"
	"marketwatch/internal/logging"
	"marketwatch/internal/merge"
	"marketwatch/internal/model"
	"marketwatch/internal/snapshot"
	"marketwatch/internal/store"
)

// go run cmd/build/main.go
// go run cmd/build/main.go -snapshot=data/snapshots/crawl_20260301_040500.json
// go run cmd/build/main.go -latest -history-mode=always
func main() {
	snapshotPath := flag.String("snapshot", "", "ingest a single snapshot file")
	latest := flag.Bool("latest", false, "ingest only the most recent snapshot")
	all := flag.Bool("all", false, "ingest every snapshot, oldest first")
	historyMode := flag.String("history-mode", "changed", `history append policy: "changed" or "always"`)
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	log := logging.New(*verbose)

	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL must be set")
	}

	mode, err := merge.ParseHistoryMode(*historyMode)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid history mode")
	}

	selections := 0
	for _, on := range []bool{*snapshotPath != "", *latest, *all} {
		if on {
			selections++
		}
	}
	if selections > 1 {
		log.Fatal().Msg("at most one of -snapshot, -latest or -all may be given")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snaps := snapshot.NewStore(cfg.SnapshotDir, log)

	var paths []string
	switch {
	case *snapshotPath != "":
		paths = []string{*snapshotPath}
	case *latest:
		path, err := snaps.Latest()
		if err != nil {
			log.Fatal().Err(err).Msg("locate latest snapshot")
		}
		paths = []string{path}
	default:
		paths, err = snaps.List()
		if err != nil {
			log.Fatal().Err(err).Msg("list snapshots")
		}
		if len(paths) == 0 {
			log.Fatal().Str("dir", cfg.SnapshotDir).Msg("no snapshots to ingest")
		}
	}

	loaded := make([]*model.CrawlSnapshot, 0, len(paths))
	for _, path := range paths {
		snap, err := snapshot.Load(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("load snapshot")
		}
		loaded = append(loaded, snap)
	}

	st, err := store.OpenPostgres(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open warehouse")
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	engine := merge.New(st, mode, log)
	reports := engine.IngestAll(ctx, loaded)

	failed := 0
	for _, rep := range reports {
		ev := log.Info()
		if rep.Status == model.MergeFailed {
			failed++
			ev = log.Error().Err(rep.Err)
		}
		ev.
			Time("snapshot", rep.SnapshotAt).
			Str("status", string(rep.Status)).
			Int("products", rep.Products).
			Int("sellers", rep.Sellers).
			Int("price_appends", rep.PriceAppends).
			Int("sales_appends", rep.SalesAppends).
			Int("rating_appends", rep.RatingAppends).
			Int("skipped_values", rep.SkippedValues).
			Msg("merge report")
	}

	if failed > 0 && failed == len(reports) {
		log.Error().Int("failed", failed).Msg("all snapshots failed to ingest")
		os.Exit(1)
	}
	log.Info().
		Int("ingested", len(reports)-failed).
		Int("failed", failed).
		Msg("build complete")
}
