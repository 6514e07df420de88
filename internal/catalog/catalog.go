package catalog

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ledgerpart/ledgerpart/internal/errors"
	"github.com/ledgerpart/ledgerpart/pkg/types"
)

// Querier is the subset of pgxpool.Pool the catalog needs. Narrowing the
// dependency keeps the catalog testable against fakes.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Catalog is a read-only view over the partitions of the live ledger table.
// The provisioner is the sole writer of partition existence; the catalog
// only reads.
type Catalog interface {
	// ListPartitions returns all partitions of the parent table in
	// ascending start order, with row counts, sizes, and last-analyzed
	// timestamps.
	ListPartitions(ctx context.Context) ([]types.Partition, error)

	// PartitionExists reports whether a partition with the given name
	// has been provisioned.
	PartitionExists(ctx context.Context, name string) (bool, error)

	// HighestProvisionedEnd returns the exclusive upper bound of the
	// highest provisioned partition. ok is false when no partitions exist.
	HighestProvisionedEnd(ctx context.Context) (end int64, ok bool, err error)

	// MaxHeight returns the highest ingested height in the live table.
	// ok is false when the table is empty.
	MaxHeight(ctx context.Context) (height int64, ok bool, err error)
}

// PgCatalog implements Catalog against Postgres system catalogs plus the
// typed partition_bounds table.
type PgCatalog struct {
	db     Querier
	parent string
}

// NewPgCatalog creates a catalog over the given parent table.
func NewPgCatalog(db Querier, parent string) *PgCatalog {
	return &PgCatalog{db: db, parent: parent}
}

// InitMetadata creates the metadata tables the catalog reads, plus the
// address_balances view over the parent table. Safe to call repeatedly.
func (c *PgCatalog) InitMetadata(ctx context.Context) error {
	for _, stmt := range AllMetadataSQL() {
		if _, err := c.db.Exec(ctx, stmt); err != nil {
			return errors.NewCatalogError(errors.CodeMetadataQuery, "failed to initialize metadata schema", err)
		}
	}
	return c.EnsureBalancesView(ctx)
}

// EnsureBalancesView creates the address_balances materialized view over
// the parent table, together with the unique index REFRESH CONCURRENTLY
// requires. No-op when both already exist.
func (c *PgCatalog) EnsureBalancesView(ctx context.Context) error {
	for _, stmt := range []string{CreateBalancesViewSQL(c.parent), CreateBalancesViewIndexSQL} {
		if _, err := c.db.Exec(ctx, stmt); err != nil {
			return errors.NewCatalogError(errors.CodeMetadataQuery, "failed to create balances view", err)
		}
	}
	return nil
}

// RecreateBalancesView drops and recreates the address_balances view so it
// binds to the parent table under its current name. The migration engine
// calls this after cutover; a view created before migration would otherwise
// keep following the renamed legacy table.
func (c *PgCatalog) RecreateBalancesView(ctx context.Context) error {
	if _, err := c.db.Exec(ctx, DropBalancesViewSQL); err != nil {
		return errors.NewCatalogError(errors.CodeMetadataQuery, "failed to drop balances view", err)
	}
	return c.EnsureBalancesView(ctx)
}

const listPartitionsSQL = `
SELECT b.partition_name,
       b.start_height,
       b.end_height,
       COALESCE(c.reltuples::bigint, 0) AS row_count,
       COALESCE(pg_total_relation_size(c.oid), 0) AS size_bytes,
       GREATEST(s.last_analyze, s.last_autoanalyze) AS last_analyzed
FROM partition_bounds b
LEFT JOIN pg_class c ON c.relname = b.partition_name
    AND c.relnamespace = to_regnamespace(current_schema())
LEFT JOIN pg_stat_user_tables s ON s.relname = b.partition_name
    AND s.schemaname = current_schema()
WHERE b.parent = $1
ORDER BY b.start_height`

// ListPartitions returns all partitions of the parent table.
func (c *PgCatalog) ListPartitions(ctx context.Context) ([]types.Partition, error) {
	rows, err := c.db.Query(ctx, listPartitionsSQL, c.parent)
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeMetadataQuery, "failed to list partitions", err)
	}
	defer rows.Close()

	var partitions []types.Partition
	for rows.Next() {
		var p types.Partition
		var lastAnalyzed *time.Time
		if err := rows.Scan(&p.Name, &p.Start, &p.End, &p.RowCount, &p.SizeBytes, &lastAnalyzed); err != nil {
			return nil, errors.NewCatalogError(errors.CodeMetadataQuery, "failed to scan partition row", err)
		}
		p.LastAnalyzed = lastAnalyzed
		partitions = append(partitions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewCatalogError(errors.CodeMetadataQuery, "failed to read partition rows", err)
	}

	return partitions, nil
}

// PartitionExists reports whether the named partition has been provisioned.
func (c *PgCatalog) PartitionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := c.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM partition_bounds WHERE partition_name = $1)`,
		name,
	).Scan(&exists)
	if err != nil {
		return false, errors.NewCatalogError(errors.CodeMetadataQuery, "failed to check partition existence", err)
	}
	return exists, nil
}

// HighestProvisionedEnd returns the exclusive upper bound of the highest
// provisioned partition of the parent table.
func (c *PgCatalog) HighestProvisionedEnd(ctx context.Context) (int64, bool, error) {
	var end *int64
	err := c.db.QueryRow(ctx,
		`SELECT MAX(end_height) FROM partition_bounds WHERE parent = $1`,
		c.parent,
	).Scan(&end)
	if err != nil {
		return 0, false, errors.NewCatalogError(errors.CodeMetadataQuery, "failed to read highest provisioned end", err)
	}
	if end == nil {
		return 0, false, nil
	}
	return *end, true, nil
}

// MaxHeight returns the highest ingested height in the live table.
func (c *PgCatalog) MaxHeight(ctx context.Context) (int64, bool, error) {
	var max *int64
	err := c.db.QueryRow(ctx, `SELECT MAX(height) FROM `+pgIdent(c.parent)).Scan(&max)
	if err != nil {
		return 0, false, errors.NewCatalogError(errors.CodeMetadataQuery, "failed to read max height", err)
	}
	if max == nil {
		return 0, false, nil
	}
	return *max, true, nil
}

// Parent returns the parent table name this catalog inspects.
func (c *PgCatalog) Parent() string {
	return c.parent
}

// pgIdent quotes a SQL identifier for interpolation into DDL/aggregate
// statements that cannot take bind parameters.
func pgIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
