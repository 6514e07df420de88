package backup

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"

	"github.com/ledgerpart/ledgerpart/internal/config"
	"github.com/ledgerpart/ledgerpart/internal/errors"
	"github.com/ledgerpart/ledgerpart/internal/storage"
	"github.com/ledgerpart/ledgerpart/pkg/types"
)

// runFunc executes an external command and returns its combined output.
// Swappable in tests.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Manager produces full logical dumps of the ledger database, verifies
// them, records them in the manifest, optionally replicates them to object
// storage, and prunes artifacts past the retention horizon.
type Manager struct {
	dsn           string
	dir           string
	triggerHour   int
	retentionDays int
	prefix        string

	manifest Manifest
	replica  storage.ObjectStorage // nil when replication is disabled

	run runFunc
	now func() time.Time
}

// NewManager creates a backup manager. replica may be nil.
func NewManager(dsn string, cfg config.BackupConfig, manifest Manifest, replica storage.ObjectStorage) *Manager {
	return &Manager{
		dsn:           dsn,
		dir:           cfg.Dir,
		triggerHour:   cfg.TriggerHour,
		retentionDays: cfg.RetentionDays,
		prefix:        cfg.S3.Prefix,
		manifest:      manifest,
		replica:       replica,
		run:           execRun,
		now:           time.Now,
	}
}

// RunIfDue produces a backup when the current hour matches the trigger hour
// and no backup has been taken yet today. Returns ran=false when the gate
// does not fire.
func (m *Manager) RunIfDue(ctx context.Context) (ran bool, info *types.BackupInfo, err error) {
	now := m.now().In(config.ReferenceLocation)
	if now.Hour() != m.triggerHour {
		return false, nil, nil
	}

	latest, ok, err := m.manifest.LatestCreatedAt(ctx)
	if err != nil {
		return false, nil, err
	}
	if ok && sameDay(latest.In(config.ReferenceLocation), now) {
		return false, nil, nil
	}

	info, err = m.Run(ctx)
	return true, info, err
}

// Run produces one full dump, verifies it, records it, replicates it, and
// prunes old artifacts. A dump that fails verification is deleted
// immediately and the run fails.
func (m *Manager) Run(ctx context.Context) (*types.BackupInfo, error) {
	now := m.now().In(config.ReferenceLocation)
	id := uuid.NewString()
	name := fmt.Sprintf("ledger-%s-%s.dump", now.Format("20060102-150405"), id[:8])
	artifact := filepath.Join(m.dir, name)

	log.Printf("backup: dumping to %s", artifact)
	if out, err := m.run(ctx, "pg_dump",
		"--format=custom", "--file", artifact, m.dsn); err != nil {
		os.Remove(artifact)
		return nil, errors.NewBackupError(errors.CodeDumpFailed,
			fmt.Sprintf("pg_dump failed: %s", firstLine(out)), err)
	}

	// Verify the archive by listing its table of contents; a truncated or
	// corrupt dump fails here without a restore.
	if out, err := m.run(ctx, "pg_restore", "--list", artifact); err != nil {
		os.Remove(artifact)
		return nil, errors.NewBackupError(errors.CodeVerifyFailed,
			fmt.Sprintf("corrupt dump deleted: %s", firstLine(out)), err)
	}

	checksum, size, err := fingerprint(artifact)
	if err != nil {
		os.Remove(artifact)
		return nil, errors.NewBackupError(errors.CodeVerifyFailed, "failed to fingerprint dump", err)
	}

	info := &types.BackupInfo{
		ID:        id,
		Path:      artifact,
		SizeBytes: size,
		Checksum:  checksum,
		CreatedAt: now,
	}
	if err := m.manifest.Register(ctx, *info); err != nil {
		return nil, errors.NewBackupError(errors.CodeVerifyFailed, "failed to record backup", err)
	}
	log.Printf("backup: verified %s (%d bytes, checksum %s)", name, size, checksum)

	// Replication failure does not invalidate the local backup; the next
	// run retries via the unreplicated flag.
	if m.replica != nil {
		if err := m.replicate(ctx, info); err != nil {
			log.Printf("backup: replication failed for %s: %v", name, err)
		}
	}

	if err := m.pruneBackups(ctx, now); err != nil {
		log.Printf("backup: retention pruning failed: %v", err)
	}
	return info, nil
}

func (m *Manager) replicate(ctx context.Context, info *types.BackupInfo) error {
	object := path.Join(m.prefix, filepath.Base(info.Path))
	if err := m.replica.Upload(ctx, info.Path, object); err != nil {
		return errors.NewStorageError(errors.CodeUploadFailed, object, err)
	}
	return m.manifest.MarkReplicated(ctx, info.ID)
}

// pruneBackups removes artifacts (and their manifest and replica records)
// older than the retention horizon. Runs only after a successful backup.
func (m *Manager) pruneBackups(ctx context.Context, now time.Time) error {
	cutoff := now.AddDate(0, 0, -m.retentionDays)

	backups, err := m.manifest.List(ctx)
	if err != nil {
		return errors.NewBackupError(errors.CodePruneFailed, "failed to list backups", err)
	}

	for _, b := range backups {
		if !b.CreatedAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(b.Path); err != nil && !os.IsNotExist(err) {
			return errors.NewBackupError(errors.CodePruneFailed,
				fmt.Sprintf("failed to remove %s", b.Path), err)
		}
		if m.replica != nil {
			object := path.Join(m.prefix, filepath.Base(b.Path))
			if err := m.replica.Delete(ctx, object); err != nil {
				log.Printf("backup: failed to delete replica %s: %v", object, err)
			}
		}
		if err := m.manifest.Remove(ctx, b.ID); err != nil {
			return errors.NewBackupError(errors.CodePruneFailed,
				fmt.Sprintf("failed to remove manifest record %s", b.ID), err)
		}
		log.Printf("backup: pruned %s (created %s)", filepath.Base(b.Path), b.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

// fingerprint returns the 128-bit content hash and size of a file.
func fingerprint(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := murmur3.New128()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	h1, h2 := h.Sum128()
	return fmt.Sprintf("%016x%016x", h1, h2), size, nil
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func firstLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
