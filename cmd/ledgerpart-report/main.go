// Package main implements the partition coverage report and the manual
// provisioning entry point used for operational verification after
// cutover.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/ledgerpart/ledgerpart/internal/catalog"
	"github.com/ledgerpart/ledgerpart/internal/config"
	"github.com/ledgerpart/ledgerpart/internal/provision"
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
		provisionLo int64
		provisionHi int64
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&envFile, "env-file", "", "Path to .env file with credentials")
	flag.StringVar(&databaseURL, "database-url", "", "Postgres connection string")
	flag.Int64Var(&provisionLo, "provision-from", -1, "Manually provision partitions from this height")
	flag.Int64Var(&provisionHi, "provision-to", -1, "Manually provision partitions up to this height (inclusive)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "ledgerpart-report - partition coverage report\n\n")
		fmt.Fprintf(os.Stderr, "Usage: ledgerpart-report [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  ledgerpart-report --database-url postgres://localhost/ledger\n")
		fmt.Fprintf(os.Stderr, "  ledgerpart-report --provision-from 0 --provision-to 899999\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("ledgerpart-report version %s (commit: %s)\n", version, commit)
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

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	cat := catalog.NewPgCatalog(pool, cfg.LedgerTable)

	if provisionLo >= 0 && provisionHi >= provisionLo {
		prov := provision.New(pool, cat, cfg.LedgerTable, cfg.Partition.Width, cfg.LookaheadMargin())
		created, err := prov.BulkProvision(ctx, provisionLo, provisionHi)
		if err != nil {
			log.Fatalf("Manual provisioning failed: %v", err)
		}
		log.Printf("Provisioned %d partition(s) covering [%d, %d]", created, provisionLo, provisionHi)
	}

	if err := printReport(ctx, cat); err != nil {
		log.Fatalf("Failed to build coverage report: %v", err)
	}
}

// printReport writes the partition coverage table: name, range, rows,
// size, last analyzed.
func printReport(ctx context.Context, cat catalog.Catalog) error {
	partitions, err := cat.ListPartitions(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "PARTITION\tRANGE\tROWS\tSIZE\tLAST ANALYZED")
	for _, p := range partitions {
		analyzed := "never"
		if p.LastAnalyzed != nil {
			analyzed = p.LastAnalyzed.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t[%d, %d)\t%d\t%s\t%s\n",
			p.Name, p.Start, p.End, p.RowCount, formatBytes(p.SizeBytes), analyzed)
	}
	if len(partitions) == 0 {
		fmt.Fprintln(w, "(no partitions provisioned)\t\t\t\t")
	}
	return w.Flush()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
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
