package maintain

import (
	"context"
	"time"

	"github.com/ledgerpart/ledgerpart/internal/catalog"
	"github.com/ledgerpart/ledgerpart/internal/errors"
)

// HistoryStore is the append-only maintenance history ledger. Entries are
// never deleted by the scheduler; retention pruning applies only to log
// files and backup artifacts.
type HistoryStore interface {
	// Record appends one entry for an executed command against a named
	// resource.
	Record(ctx context.Context, target, kind string, success bool, errorDetail string) error

	// LastMaintained returns the most recent successful maintenance
	// timestamp for a target. ok is false when the target has never been
	// maintained.
	LastMaintained(ctx context.Context, target string) (ts time.Time, ok bool, err error)
}

// PgHistory stores history entries in the maintenance_history table.
type PgHistory struct {
	db catalog.Querier
}

// NewPgHistory creates a history store.
func NewPgHistory(db catalog.Querier) *PgHistory {
	return &PgHistory{db: db}
}

// Record appends one history entry.
func (h *PgHistory) Record(ctx context.Context, target, kind string, success bool, errorDetail string) error {
	_, err := h.db.Exec(ctx,
		`INSERT INTO maintenance_history (target, operation, success, error_detail) VALUES ($1, $2, $3, $4)`,
		target, kind, success, errorDetail,
	)
	if err != nil {
		return errors.NewMaintenanceError(errors.CodeHistoryWrite, "failed to record history entry", err)
	}
	return nil
}

// LastMaintained returns the most recent successful maintenance time for a
// target.
func (h *PgHistory) LastMaintained(ctx context.Context, target string) (time.Time, bool, error) {
	var ts *time.Time
	err := h.db.QueryRow(ctx,
		`SELECT MAX(recorded_at) FROM maintenance_history WHERE target = $1 AND success`,
		target,
	).Scan(&ts)
	if err != nil {
		return time.Time{}, false, errors.NewMaintenanceError(errors.CodeHistoryWrite, "failed to read history", err)
	}
	if ts == nil {
		return time.Time{}, false, nil
	}
	return *ts, true, nil
}
