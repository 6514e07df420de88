// Package config provides unified configuration for all ledgerpart tools.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ReferenceLocation is the fixed timezone in which maintenance window
// times are evaluated. Window membership must not drift with the host
// timezone.
var ReferenceLocation = time.UTC

// Config holds the unified configuration for all ledgerpart tools.
type Config struct {
	// DatabaseURL is the Postgres connection string for the ledger database.
	DatabaseURL string `json:"database_url" yaml:"database_url"`

	// LedgerTable is the live partitioned table name.
	LedgerTable string `json:"ledger_table" yaml:"ledger_table"`

	// Partition configuration
	Partition PartitionConfig `json:"partition" yaml:"partition"`

	// Migration configuration
	Migration MigrationConfig `json:"migration" yaml:"migration"`

	// Maintenance configuration
	Maintenance MaintenanceConfig `json:"maintenance" yaml:"maintenance"`

	// Backup configuration
	Backup BackupConfig `json:"backup" yaml:"backup"`
}

// PartitionConfig holds range partitioning configuration.
type PartitionConfig struct {
	// Width is the height span of each partition.
	Width int64 `json:"width" yaml:"width"`

	// LookaheadFraction is the fraction of Width used as the lookahead
	// margin: once the highest ingested height is within margin of the
	// active range's end, the next range is provisioned.
	LookaheadFraction float64 `json:"lookahead_fraction" yaml:"lookahead_fraction"`
}

// MigrationConfig holds configuration for the one-shot migration.
type MigrationConfig struct {
	// BatchSize is the number of rows copied per transaction.
	BatchSize int64 `json:"batch_size" yaml:"batch_size"`

	// LegacyTable is the unpartitioned source table. Defaults to the
	// ledger table name; the partitioned replacement takes over the name
	// at cutover.
	LegacyTable string `json:"legacy_table" yaml:"legacy_table"`
}

// MaintenanceConfig holds the scheduler's window and retention settings.
type MaintenanceConfig struct {
	// WindowStart is the window opening time as "HH:MM" in the reference
	// timezone.
	WindowStart string `json:"window_start" yaml:"window_start"`

	// WindowEnd is the window closing time as "HH:MM". An end before the
	// start means the window crosses midnight.
	WindowEnd string `json:"window_end" yaml:"window_end"`

	// LogDir is where run logs are written and pruned.
	LogDir string `json:"log_dir" yaml:"log_dir"`

	// LogRetentionDays is how long run logs are kept.
	LogRetentionDays int `json:"log_retention_days" yaml:"log_retention_days"`
}

// BackupConfig holds backup manager configuration.
type BackupConfig struct {
	// Dir is the local directory for backup artifacts and the manifest.
	Dir string `json:"dir" yaml:"dir"`

	// TriggerHour is the hour of day (reference timezone) at which a
	// backup is taken; at most one backup per day.
	TriggerHour int `json:"trigger_hour" yaml:"trigger_hour"`

	// RetentionDays is how long verified backups are kept.
	RetentionDays int `json:"retention_days" yaml:"retention_days"`

	// S3 optionally replicates verified backups to object storage.
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 replication configuration.
type S3Config struct {
	// Enabled turns on replication of verified backups.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Bucket is the S3 bucket name.
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region.
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage).
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Prefix is the object key prefix for uploaded backups.
	Prefix string `json:"prefix" yaml:"prefix"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LedgerTable: "utxos",
		Partition: PartitionConfig{
			Width:             50000,
			LookaheadFraction: 0.20,
		},
		Migration: MigrationConfig{
			BatchSize: 100000,
		},
		Maintenance: MaintenanceConfig{
			WindowStart:      "02:00",
			WindowEnd:        "04:00",
			LogDir:           "./data/ledgerpart/logs",
			LogRetentionDays: 30,
		},
		Backup: BackupConfig{
			Dir:           "./data/ledgerpart/backups",
			TriggerHour:   3,
			RetentionDays: 7,
		},
	}
}

// Resolve fills in derived defaults.
func (c *Config) Resolve() {
	if c.LedgerTable == "" {
		c.LedgerTable = "utxos"
	}
	if c.Migration.LegacyTable == "" {
		c.Migration.LegacyTable = c.LedgerTable
	}
}

// ManifestPath returns the path to the backup manifest database.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.Backup.Dir, "manifest.db")
}

// LookaheadMargin returns the lookahead margin in heights.
func (c *Config) LookaheadMargin() int64 {
	return int64(float64(c.Partition.Width) * c.Partition.LookaheadFraction)
}

// Validate validates the configuration. Malformed window times are fatal:
// the scheduler must refuse to do any work rather than guess a window.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}

	if c.Partition.Width <= 0 {
		return fmt.Errorf("partition.width must be positive, got %d", c.Partition.Width)
	}

	if c.Partition.LookaheadFraction < 0 || c.Partition.LookaheadFraction > 1 {
		return fmt.Errorf("partition.lookahead_fraction must be in [0, 1], got %g", c.Partition.LookaheadFraction)
	}

	if c.Migration.BatchSize <= 0 {
		return fmt.Errorf("migration.batch_size must be positive, got %d", c.Migration.BatchSize)
	}

	if _, err := ParseClock(c.Maintenance.WindowStart); err != nil {
		return fmt.Errorf("maintenance.window_start: %w", err)
	}
	if _, err := ParseClock(c.Maintenance.WindowEnd); err != nil {
		return fmt.Errorf("maintenance.window_end: %w", err)
	}

	if c.Backup.TriggerHour < 0 || c.Backup.TriggerHour > 23 {
		return fmt.Errorf("backup.trigger_hour must be in [0, 23], got %d", c.Backup.TriggerHour)
	}

	if c.Backup.RetentionDays <= 0 {
		return fmt.Errorf("backup.retention_days must be positive, got %d", c.Backup.RetentionDays)
	}

	if c.Maintenance.LogRetentionDays <= 0 {
		return fmt.Errorf("maintenance.log_retention_days must be positive, got %d", c.Maintenance.LogRetentionDays)
	}

	if c.Backup.S3.Enabled && c.Backup.S3.Bucket == "" {
		return fmt.Errorf("backup.s3.bucket is required when S3 replication is enabled")
	}

	return nil
}

// ParseClock parses an "HH:MM" wall-clock time into minutes since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed clock time %q (expected HH:MM)", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("malformed clock time %q: invalid hour", s)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("malformed clock time %q: invalid minute", s)
	}

	return hour*60 + minute, nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the LEDGERPART_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("LEDGERPART_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("LEDGERPART_LEDGER_TABLE"); v != "" {
		cfg.LedgerTable = v
	}

	// Partition configuration
	if v := os.Getenv("LEDGERPART_PARTITION_WIDTH"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Partition.Width = n
		}
	}
	if v := os.Getenv("LEDGERPART_LOOKAHEAD_FRACTION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Partition.LookaheadFraction = f
		}
	}

	// Migration configuration
	if v := os.Getenv("LEDGERPART_MIGRATION_BATCH_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Migration.BatchSize = n
		}
	}
	if v := os.Getenv("LEDGERPART_LEGACY_TABLE"); v != "" {
		cfg.Migration.LegacyTable = v
	}

	// Maintenance configuration
	if v := os.Getenv("LEDGERPART_WINDOW_START"); v != "" {
		cfg.Maintenance.WindowStart = v
	}
	if v := os.Getenv("LEDGERPART_WINDOW_END"); v != "" {
		cfg.Maintenance.WindowEnd = v
	}
	if v := os.Getenv("LEDGERPART_LOG_DIR"); v != "" {
		cfg.Maintenance.LogDir = v
	}
	if v := os.Getenv("LEDGERPART_LOG_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Maintenance.LogRetentionDays = n
		}
	}

	// Backup configuration
	if v := os.Getenv("LEDGERPART_BACKUP_DIR"); v != "" {
		cfg.Backup.Dir = v
	}
	if v := os.Getenv("LEDGERPART_BACKUP_TRIGGER_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backup.TriggerHour = n
		}
	}
	if v := os.Getenv("LEDGERPART_BACKUP_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backup.RetentionDays = n
		}
	}
	if v := os.Getenv("LEDGERPART_S3_ENABLED"); v != "" {
		cfg.Backup.S3.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("LEDGERPART_S3_BUCKET"); v != "" {
		cfg.Backup.S3.Bucket = v
	}
	if v := os.Getenv("LEDGERPART_S3_REGION"); v != "" {
		cfg.Backup.S3.Region = v
	}
	if v := os.Getenv("LEDGERPART_S3_ENDPOINT"); v != "" {
		cfg.Backup.S3.Endpoint = v
	}
	if v := os.Getenv("LEDGERPART_S3_PREFIX"); v != "" {
		cfg.Backup.S3.Prefix = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Maintenance.LogDir,
		c.Backup.Dir,
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
