// Package migrate converts the legacy unpartitioned ledger table into the
// range-partitioned layout. One-shot, exclusive, maintenance-window-only:
// no other writer may touch the legacy table while the engine runs.
package migrate

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ledgerpart/ledgerpart/internal/catalog"
	"github.com/ledgerpart/ledgerpart/internal/errors"
	"github.com/ledgerpart/ledgerpart/internal/provision"
	"github.com/ledgerpart/ledgerpart/internal/router"
)

// DB is the database surface the engine needs: queries plus transactions
// for batch copies and the cutover.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Config holds the engine's table names and batch size.
type Config struct {
	// LiveTable is the name the partitioned table takes at cutover; before
	// cutover it is the legacy table's name.
	LiveTable string

	// BatchSize is the number of rows copied per transaction. Offsets
	// advance strictly by BatchSize; a short final batch ends the loop.
	BatchSize int64

	// Width is the partition width in heights.
	Width int64

	// LookaheadMargin is the provisioning margin in heights.
	LookaheadMargin int64
}

// StagingTable returns the name the partitioned container holds before
// cutover.
func (c Config) StagingTable() string {
	return c.LiveTable + "_parted"
}

// OldTable returns the name the legacy table is parked under after cutover.
// It is never dropped by the engine.
func (c Config) OldTable() string {
	return c.LiveTable + "_old"
}

// Engine performs the one-shot migration.
type Engine struct {
	db       DB
	notifier *router.Notifier
	cfg      Config

	now func() time.Time
}

// NewEngine creates a migration engine.
func NewEngine(db DB, notifier *router.Notifier, cfg Config) *Engine {
	return &Engine{
		db:       db,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// createStagingSQL builds the partitioned container with a row schema
// identical to the legacy table and a composite primary key that includes
// the partition key.
func createStagingSQL(name string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    txid BYTEA NOT NULL,
    vout INTEGER NOT NULL,
    height BIGINT NOT NULL,
    address TEXT NOT NULL,
    token_ref TEXT,
    amount BIGINT NOT NULL,
    script BYTEA,
    spent BOOLEAN NOT NULL DEFAULT FALSE,
    spent_height BIGINT,
    PRIMARY KEY (txid, vout, height)
) PARTITION BY RANGE (height)`, pgx.Identifier{name}.Sanitize())
}

// Run executes the full migration: create the partitioned container, attach
// the provisioning hook, bulk-provision all spanned ranges, copy in batches,
// cut over, and verify. On verification failure both tables are left in
// place for manual inspection; nothing is ever dropped automatically.
func (e *Engine) Run(ctx context.Context) error {
	staging := e.cfg.StagingTable()

	// Step 1: partitioned container.
	if _, err := e.db.Exec(ctx, createStagingSQL(staging)); err != nil {
		return errors.NewMigrationError(errors.CodeCopyFailed, "failed to create partitioned container", err)
	}
	log.Printf("migrate: created partitioned container %s", staging)

	// Step 2: provisioning hook on the batch stream, pointed at the
	// staging parent. Partitions get the live table's name so they stay
	// correctly named after cutover.
	cat := catalog.NewPgCatalog(e.db, staging)
	if err := cat.InitMetadata(ctx); err != nil {
		return err
	}
	prov := provision.NewWithNameBase(e.db, cat, staging, e.cfg.LiveTable, e.cfg.Width, e.cfg.LookaheadMargin)
	hook := provision.NewHook(prov, e.notifier)
	if err := hook.Attach(ctx); err != nil {
		return errors.NewMigrationError(errors.CodeCopyFailed, "failed to attach provisioning hook", err)
	}

	// Step 3: bulk-provision every range spanned by legacy data plus one
	// future range. An empty legacy table still gets the height-0 range
	// and one future range so ingestion can start right after cutover.
	lo, hi, total, err := e.legacySpan(ctx)
	if err != nil {
		hook.Detach()
		return err
	}
	n, err := prov.BulkProvision(ctx, lo, hi)
	if err != nil {
		hook.Detach()
		return err
	}
	log.Printf("migrate: provisioned %d partitions for heights %d..%d", n, lo, hi)

	// Step 4: batched copy.
	if err := e.copyAll(ctx, e.copyBatch, total); err != nil {
		hook.Detach()
		return err
	}

	// Step 5: cutover. The hook is down across the rename and re-attached
	// to the live name afterwards.
	hook.Detach()
	if err := e.cutover(ctx); err != nil {
		return err
	}

	liveCat := catalog.NewPgCatalog(e.db, e.cfg.LiveTable)

	// Rebind the balances view to the live name. A view created before
	// migration followed the legacy table through its rename.
	if err := liveCat.RecreateBalancesView(ctx); err != nil {
		return err
	}

	liveProv := provision.New(e.db, liveCat, e.cfg.LiveTable, e.cfg.Width, e.cfg.LookaheadMargin)
	liveHook := provision.NewHook(liveProv, e.notifier)
	if err := liveHook.Attach(ctx); err != nil {
		return errors.NewMigrationError(errors.CodeCutoverFailed, "failed to re-attach provisioning hook", err)
	}
	defer liveHook.Detach()

	// Step 6: verification.
	if err := e.verify(ctx); err != nil {
		return err
	}

	log.Printf("migrate: migration complete, %s is now partitioned (legacy preserved as %s)",
		e.cfg.LiveTable, e.cfg.OldTable())
	return nil
}

// legacySpan returns the height range and row count of the legacy table.
func (e *Engine) legacySpan(ctx context.Context) (lo, hi, total int64, err error) {
	var minH, maxH *int64
	row := e.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT MIN(height), MAX(height), COUNT(*) FROM %s`,
		pgx.Identifier{e.cfg.LiveTable}.Sanitize()))
	if err := row.Scan(&minH, &maxH, &total); err != nil {
		return 0, 0, 0, errors.NewMigrationError(errors.CodeLegacyMissing, "failed to inspect legacy table", err)
	}
	if minH == nil || maxH == nil {
		return 0, 0, 0, nil
	}
	return *minH, *maxH, total, nil
}

// batchCopyFunc copies one batch at the given offset and returns the number
// of rows written.
type batchCopyFunc func(ctx context.Context, offset, limit int64) (int64, error)

// copyAll drives the batch loop. Rows are ordered by (height, txid, vout)
// so progress is deterministic and resumable; each batch commits on its own
// to bound transaction duration and lock hold time.
func (e *Engine) copyAll(ctx context.Context, copyFn batchCopyFunc, total int64) error {
	progress := NewProgress(total, e.now())

	for offset := int64(0); ; offset += e.cfg.BatchSize {
		n, err := copyFn(ctx, offset, e.cfg.BatchSize)
		if err != nil {
			return errors.NewMigrationError(errors.CodeCopyFailed,
				fmt.Sprintf("batch copy failed at offset %d", offset), err)
		}
		if n == 0 {
			break
		}

		progress.Update(n)
		log.Printf("migrate: %s", progress.Report(e.now()))

		if n < e.cfg.BatchSize {
			break
		}
	}
	return nil
}

// copyBatch copies one batch inside its own transaction.
func (e *Engine) copyBatch(ctx context.Context, offset, limit int64) (int64, error) {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (txid, vout, height, address, token_ref, amount, script, spent, spent_height)
SELECT txid, vout, height, address, token_ref, amount, script, spent, spent_height
FROM %s
ORDER BY height, txid, vout
LIMIT %d OFFSET %d`,
		pgx.Identifier{e.cfg.StagingTable()}.Sanitize(),
		pgx.Identifier{e.cfg.LiveTable}.Sanitize(),
		limit, offset))
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// cutover atomically swaps the legacy table out of the live name and the
// partitioned table in, and repoints the recorded bounds at the live name.
// The live name stays readable throughout: both renames happen in one
// transaction.
func (e *Engine) cutover(ctx context.Context) error {
	live := pgx.Identifier{e.cfg.LiveTable}.Sanitize()
	old := pgx.Identifier{e.cfg.OldTable()}.Sanitize()
	staging := pgx.Identifier{e.cfg.StagingTable()}.Sanitize()

	tx, err := e.db.Begin(ctx)
	if err != nil {
		return errors.NewMigrationError(errors.CodeCutoverFailed, "failed to begin cutover", err)
	}
	defer tx.Rollback(ctx)

	steps := []string{
		fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, live, old),
		fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, staging, live),
	}
	for _, stmt := range steps {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return errors.NewMigrationError(errors.CodeCutoverFailed, "cutover rename failed", err)
		}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE partition_bounds SET parent = $1 WHERE parent = $2`,
		e.cfg.LiveTable, e.cfg.StagingTable()); err != nil {
		return errors.NewMigrationError(errors.CodeCutoverFailed, "failed to repoint partition bounds", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.NewMigrationError(errors.CodeCutoverFailed, "failed to commit cutover", err)
	}

	log.Printf("migrate: cutover complete: %s -> %s, %s -> %s",
		e.cfg.LiveTable, e.cfg.OldTable(), e.cfg.StagingTable(), e.cfg.LiveTable)
	return nil
}

// verify compares exact row counts of the old and live tables. A mismatch
// aborts with both tables intact; resolving it is an operator decision.
func (e *Engine) verify(ctx context.Context) error {
	var oldCount, liveCount int64
	if err := e.db.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`,
		pgx.Identifier{e.cfg.OldTable()}.Sanitize())).Scan(&oldCount); err != nil {
		return errors.NewMigrationError(errors.CodeCountMismatch, "failed to count legacy rows", err)
	}
	if err := e.db.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`,
		pgx.Identifier{e.cfg.LiveTable}.Sanitize())).Scan(&liveCount); err != nil {
		return errors.NewMigrationError(errors.CodeCountMismatch, "failed to count live rows", err)
	}

	if oldCount != liveCount {
		return errors.NewMigrationError(errors.CodeCountMismatch,
			fmt.Sprintf("row count mismatch after cutover: legacy=%d live=%d; both tables left in place", oldCount, liveCount),
			nil)
	}

	log.Printf("migrate: verification passed, %d rows in both tables", liveCount)
	return nil
}
