// Package provision creates range partitions of the ledger table on demand:
// reactively as ingested batches approach a range boundary, and proactively
// one range ahead of the highest ingested height.
package provision

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ledgerpart/ledgerpart/internal/catalog"
	"github.com/ledgerpart/ledgerpart/internal/errors"
	"github.com/ledgerpart/ledgerpart/internal/ranges"
)

// Postgres SQLSTATE codes used to resolve the create-if-absent race. The
// existence check plus the uniqueness constraint on (parent, start_height)
// is the concurrency guard; a loser of the race sees one of these and
// treats it as success.
const (
	sqlstateDuplicateTable  = "42P07"
	sqlstateUniqueViolation = "23505"
)

// Execer is the write half of the database the provisioner needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Provisioner is the sole writer of partition existence.
type Provisioner struct {
	db       Execer
	cat      catalog.Catalog
	parent   string
	nameBase string
	width    int64
	margin   int64
}

// New creates a provisioner for the given parent table. Partition names are
// derived from the parent's name.
func New(db Execer, cat catalog.Catalog, parent string, width, margin int64) *Provisioner {
	return NewWithNameBase(db, cat, parent, parent, width, margin)
}

// NewWithNameBase creates a provisioner that attaches partitions to parent
// but derives their names from nameBase. The migration engine uses this so
// partitions created under the staging parent already carry the live
// table's name when the staging table takes that name at cutover.
func NewWithNameBase(db Execer, cat catalog.Catalog, parent, nameBase string, width, margin int64) *Provisioner {
	return &Provisioner{
		db:       db,
		cat:      cat,
		parent:   parent,
		nameBase: nameBase,
		width:    width,
		margin:   margin,
	}
}

// EnsurePartition creates the partition bound to [start, end) if it does not
// exist, together with its full secondary index set, and records its typed
// bounds. Idempotent: re-invocation on an existing partition is a no-op.
//
// Index creation failures are fatal to the caller. A partition with missing
// indexes is a broken invariant, never something to degrade to silently.
func (p *Provisioner) EnsurePartition(ctx context.Context, start, end int64) error {
	name := ranges.PartitionName(p.nameBase, start)

	exists, err := p.cat.PartitionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	createSQL := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM (%d) TO (%d)`,
		pgx.Identifier{name}.Sanitize(), pgx.Identifier{p.parent}.Sanitize(), start, end,
	)
	if _, err := p.db.Exec(ctx, createSQL); err != nil && !isDuplicate(err) {
		return errors.NewProvisionError(errors.CodeCreateFailed,
			fmt.Sprintf("failed to create partition %s [%d, %d)", name, start, end), err)
	}

	for _, stmt := range indexStatements(name) {
		if _, err := p.db.Exec(ctx, stmt); err != nil {
			return errors.NewProvisionError(errors.CodeIndexFailed,
				fmt.Sprintf("failed to create index on partition %s", name), err)
		}
	}

	_, err = p.db.Exec(ctx,
		`INSERT INTO partition_bounds (partition_name, parent, start_height, end_height) VALUES ($1, $2, $3, $4)`,
		name, p.parent, start, end,
	)
	if err != nil && !isDuplicate(err) {
		return errors.NewProvisionError(errors.CodeCreateFailed,
			fmt.Sprintf("failed to record bounds for partition %s", name), err)
	}

	log.Printf("provision: created partition %s [%d, %d)", name, start, end)
	return nil
}

// EnsureLookahead makes sure the range owning currentMax exists, and once
// currentMax is within the lookahead margin of that range's end, provisions
// the next range as well. This guarantees a partition is ready before the
// first row that needs it arrives.
func (p *Provisioner) EnsureLookahead(ctx context.Context, currentMax int64) error {
	start, end := ranges.BoundsFor(currentMax, p.width)
	if err := p.EnsurePartition(ctx, start, end); err != nil {
		return err
	}

	if ranges.NeedsLookahead(currentMax, p.width, p.margin) {
		if err := p.EnsurePartition(ctx, end, end+p.width); err != nil {
			return err
		}
	}
	return nil
}

// BulkProvision ensures a partition for every range spanned by heights in
// [lo, hi], plus one future range beyond the last. Used by the migration
// engine and the manual provisioning entry point.
func (p *Provisioner) BulkProvision(ctx context.Context, lo, hi int64) (int, error) {
	starts := ranges.SpannedStarts(lo, hi, p.width)
	if len(starts) == 0 {
		return 0, nil
	}
	starts = append(starts, starts[len(starts)-1]+p.width)

	for _, start := range starts {
		if err := p.EnsurePartition(ctx, start, start+p.width); err != nil {
			return 0, err
		}
	}
	return len(starts), nil
}

// indexStatements returns the fixed secondary index set every partition
// carries, in creation order. The set serves the ledger's access patterns:
// owner lookups filtered by spent status, token lookups filtered by spent
// status, and scans by owner, height, or token alone.
func indexStatements(name string) []string {
	ident := pgx.Identifier{name}.Sanitize()
	return []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (address, spent)`,
			pgx.Identifier{"idx_" + name + "_address_spent"}.Sanitize(), ident),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (token_ref, spent)`,
			pgx.Identifier{"idx_" + name + "_token_spent"}.Sanitize(), ident),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (address)`,
			pgx.Identifier{"idx_" + name + "_address"}.Sanitize(), ident),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (height)`,
			pgx.Identifier{"idx_" + name + "_height"}.Sanitize(), ident),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (token_ref)`,
			pgx.Identifier{"idx_" + name + "_token"}.Sanitize(), ident),
	}
}

// isDuplicate reports whether err is a duplicate-table or unique-violation
// error, i.e. a lost create-if-absent race that counts as success.
func isDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == sqlstateDuplicateTable || pgErr.Code == sqlstateUniqueViolation
	}
	return false
}
