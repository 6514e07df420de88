package backup

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/snappy"

	"github.com/ledgerpart/ledgerpart/internal/errors"
)

// compressedSuffix marks run logs that have been snappy-compressed in
// place.
const compressedSuffix = ".sz"

// LogPruner applies age-based retention to run logs. Logs older than one
// day are compressed in place; logs past the retention horizon are
// deleted. Pruning runs on every invocation regardless of window status.
type LogPruner struct {
	dir           string
	retentionDays int
	compressAfter time.Duration

	now func() time.Time
}

// NewLogPruner creates a pruner over the given log directory.
func NewLogPruner(dir string, retentionDays int) *LogPruner {
	return &LogPruner{
		dir:           dir,
		retentionDays: retentionDays,
		compressAfter: 24 * time.Hour,
		now:           time.Now,
	}
}

// Run compresses aged logs and deletes expired ones. Returns the number of
// files compressed and removed.
func (p *LogPruner) Run() (compressed, removed int, err error) {
	now := p.now()
	cutoff := now.AddDate(0, 0, -p.retentionDays)

	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, errors.NewBackupError(errors.CodePruneFailed, "failed to read log directory", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".log") && !strings.HasSuffix(name, ".log"+compressedSuffix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(p.dir, name)

		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				return compressed, removed, errors.NewBackupError(errors.CodePruneFailed,
					"failed to remove expired log "+name, err)
			}
			removed++
			continue
		}

		if strings.HasSuffix(name, ".log") && now.Sub(info.ModTime()) > p.compressAfter {
			if err := compressLog(path, info.ModTime()); err != nil {
				log.Printf("backup: failed to compress log %s: %v", name, err)
				continue
			}
			compressed++
		}
	}
	return compressed, removed, nil
}

// compressLog snappy-compresses a log file in place, preserving its
// modification time so retention still keys off the original age.
func compressLog(path string, modTime time.Time) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	dst := path + compressedSuffix
	if err := os.WriteFile(dst, snappy.Encode(nil, data), 0644); err != nil {
		return err
	}
	if err := os.Chtimes(dst, modTime, modTime); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(path)
}
