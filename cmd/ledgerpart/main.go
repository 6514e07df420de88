// Package main implements the ledgerpart maintenance binary. One
// invocation runs the window-gated maintenance pass, the daily backup
// gate, and log retention pruning; with --listen it instead runs the
// long-lived reactive provisioning bridge.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/ledgerpart/ledgerpart/internal/backup"
	"github.com/ledgerpart/ledgerpart/internal/catalog"
	"github.com/ledgerpart/ledgerpart/internal/config"
	"github.com/ledgerpart/ledgerpart/internal/maintain"
	"github.com/ledgerpart/ledgerpart/internal/provision"
	"github.com/ledgerpart/ledgerpart/internal/router"
	"github.com/ledgerpart/ledgerpart/internal/storage"
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
		listenMode  bool
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&envFile, "env-file", "", "Path to .env file with credentials")
	flag.StringVar(&databaseURL, "database-url", "", "Postgres connection string")
	flag.BoolVar(&listenMode, "listen", false, "Run the reactive provisioning bridge instead of a maintenance pass")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "ledgerpart - partition lifecycle and maintenance for the UTXO ledger\n\n")
		fmt.Fprintf(os.Stderr, "Usage: ledgerpart [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  ledgerpart --config /etc/ledgerpart/config.yaml\n")
		fmt.Fprintf(os.Stderr, "  ledgerpart --listen --database-url postgres://localhost/ledger\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  LEDGERPART_DATABASE_URL   Postgres connection string\n")
		fmt.Fprintf(os.Stderr, "  LEDGERPART_WINDOW_START   Maintenance window start (HH:MM)\n")
		fmt.Fprintf(os.Stderr, "  LEDGERPART_WINDOW_END     Maintenance window end (HH:MM)\n")
		fmt.Fprintf(os.Stderr, "  LEDGERPART_BACKUP_DIR     Backup artifact directory\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("ledgerpart version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			log.Fatalf("Failed to load env file: %v", err)
		}
	} else {
		// Best effort: a .env next to the binary is optional.
		_ = godotenv.Load()
	}

	cfg, err := loadConfig(configFile, databaseURL)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	cat := catalog.NewPgCatalog(pool, cfg.LedgerTable)
	if err := cat.InitMetadata(ctx); err != nil {
		log.Fatalf("Failed to initialize metadata: %v", err)
	}
	prov := provision.New(pool, cat, cfg.LedgerTable, cfg.Partition.Width, cfg.LookaheadMargin())

	if listenMode {
		runListener(ctx, cancel, pool, prov)
		return
	}

	os.Exit(runMaintenance(ctx, cfg, pool, cat, prov))
}

// runMaintenance executes one maintenance pass and returns the process
// exit code: 0 on success or skip, 1 when any command or the backup
// failed.
func runMaintenance(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, cat catalog.Catalog, prov *provision.Provisioner) int {
	closeLog := teeRunLog(cfg.Maintenance.LogDir)
	defer closeLog()

	window, err := maintain.ParseWindow(cfg.Maintenance.WindowStart, cfg.Maintenance.WindowEnd)
	if err != nil {
		log.Printf("Invalid maintenance window: %v", err)
		return 1
	}

	source := maintain.NewLedgerCommandSource(cat, cfg.LedgerTable)
	exec := maintain.NewLedgerExecutor(pool, prov, maintain.NewCatalogHeightSource(cat))
	history := maintain.NewPgHistory(pool)
	sched := maintain.NewScheduler(window, source, exec, history)

	result, err := sched.Run(ctx)
	if err != nil {
		log.Printf("Maintenance run failed: %v", err)
		return 1
	}

	backupFailed := false
	if result.Status != maintain.StatusSkipped {
		backupFailed = !runBackup(ctx, cfg)
	}

	// Log pruning runs regardless of window or skip status.
	pruner := backup.NewLogPruner(cfg.Maintenance.LogDir, cfg.Maintenance.LogRetentionDays)
	if compressed, removed, err := pruner.Run(); err != nil {
		log.Printf("Log pruning failed: %v", err)
	} else if compressed+removed > 0 {
		log.Printf("Log retention: %d compressed, %d removed", compressed, removed)
	}

	if result.Failed > 0 || backupFailed {
		return 1
	}
	return 0
}

// runBackup runs the once-per-day backup gate. Returns false when the
// backup sub-task failed.
func runBackup(ctx context.Context, cfg *config.Config) bool {
	manifest, err := backup.NewSQLiteManifest(cfg.ManifestPath())
	if err != nil {
		log.Printf("Failed to open backup manifest: %v", err)
		return false
	}
	defer manifest.Close()

	var replica storage.ObjectStorage
	if cfg.Backup.S3.Enabled {
		replica, err = storage.NewS3Storage(ctx, cfg.Backup.S3.Bucket, storage.S3Config{
			Region:   cfg.Backup.S3.Region,
			Endpoint: cfg.Backup.S3.Endpoint,
		})
		if err != nil {
			log.Printf("Failed to initialize S3 replication: %v", err)
			return false
		}
	}

	mgr := backup.NewManager(cfg.DatabaseURL, cfg.Backup, manifest, replica)
	ran, info, err := mgr.RunIfDue(ctx)
	if err != nil {
		log.Printf("Backup failed: %v", err)
		return false
	}
	if ran {
		log.Printf("Backup completed: %s", info.Path)
	}
	return true
}

// runListener bridges database batch notifications to the reactive
// provisioning hook until the process is signalled.
func runListener(ctx context.Context, cancel context.CancelFunc, pool *pgxpool.Pool, prov *provision.Provisioner) {
	notifier := router.NewNotifier(16)
	hook := provision.NewHook(prov, notifier)
	if err := hook.Attach(ctx); err != nil {
		log.Fatalf("Failed to attach provisioning hook: %v", err)
	}
	defer hook.Detach()

	listener := router.NewListener(pool, router.DefaultChannel, notifier)
	errCh := make(chan error, 1)
	go func() { errCh <- listener.Run(ctx) }()
	log.Printf("Listening for batch notifications on %q", router.DefaultChannel)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v", sig)
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Listener failed: %v", err)
		}
	}
}

// loadConfig loads configuration from file, environment, and flags, in
// ascending priority. Configuration errors are fatal before any work.
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
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// teeRunLog mirrors the log stream into a per-run file under the log
// directory so retention pruning has something to govern.
func teeRunLog(logDir string) func() {
	name := filepath.Join(logDir, "run-"+time.Now().In(config.ReferenceLocation).Format("20060102-150405")+".log")
	f, err := os.Create(name)
	if err != nil {
		log.Printf("Failed to create run log %s: %v", name, err)
		return func() {}
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return func() {
		log.SetOutput(os.Stderr)
		f.Close()
	}
}
