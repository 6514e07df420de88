// Package main implements the one-shot migration binary that converts the
// legacy unpartitioned ledger table into the range-partitioned layout.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/ledgerpart/ledgerpart/internal/config"
	"github.com/ledgerpart/ledgerpart/internal/migrate"
	"github.com/ledgerpart/ledgerpart/internal/router"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		envFile     string
		databaseURL string
		batchSize   int64
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&envFile, "env-file", "", "Path to .env file with credentials")
	flag.StringVar(&databaseURL, "database-url", "", "Postgres connection string")
	flag.Int64Var(&batchSize, "batch-size", 0, "Rows copied per transaction (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "ledgerpart-migrate - one-shot migration to the partitioned layout\n\n")
		fmt.Fprintf(os.Stderr, "Run inside a maintenance window with no concurrent ingestion.\n")
		fmt.Fprintf(os.Stderr, "The legacy table is renamed, never dropped.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: ledgerpart-migrate [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("ledgerpart-migrate version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			log.Fatalf("Failed to load env file: %v", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg, err := loadConfig(configFile, databaseURL)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if batchSize > 0 {
		cfg.Migration.BatchSize = batchSize
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	engine := migrate.NewEngine(pool, router.NewNotifier(16), migrate.Config{
		LiveTable:       cfg.LedgerTable,
		BatchSize:       cfg.Migration.BatchSize,
		Width:           cfg.Partition.Width,
		LookaheadMargin: cfg.LookaheadMargin(),
	})

	log.Printf("Migrating %s to the partitioned layout (batch size %d)", cfg.LedgerTable, cfg.Migration.BatchSize)
	if err := engine.Run(ctx); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Printf("Migration complete; legacy data retained as %s_old", cfg.LedgerTable)
}

func loadConfig(configFile, databaseURL string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)
	if databaseURL != "" {
		cfg.DatabaseURL = databaseURL
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
