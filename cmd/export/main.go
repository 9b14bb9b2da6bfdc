package main

import (
	"flag"

	"marketwatch/internal/config"
	"marketwatch/internal/db"
	"marketwatch/internal/export"
	"marketwatch/internal/logging"
)

// go run cmd/export/main.go -table=all
// go run cmd/export/main.go -table=price_history -dir=/tmp/exports
func main() {
	tableName := flag.String("table", "all", `table to export, or "all"`)
	dir := flag.String("dir", "", "export directory override")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	log := logging.New(*verbose)

	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL must be set")
	}
	if *dir != "" {
		cfg.ExportDir = *dir
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open warehouse")
	}
	defer conn.Close()

	paths, err := export.New(conn, cfg.ExportDir, log).Export(*tableName)
	if err != nil {
		log.Fatal().Err(err).Msg("export failed")
	}
	log.Info().
		Int("tables", len(paths)).
		Str("dir", cfg.ExportDir).
		Msg("export complete")
}
