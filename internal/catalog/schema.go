// Package catalog provides a read-only view over the partition metadata of
// the live ledger table, and owns the schema DDL text shared by the
// provisioner and the migration engine.
package catalog

// Schema for the partitioned ledger and its metadata tables. The
// partition_bounds table stores range bounds as first-class typed columns;
// no component parses bounds out of pg_get_expr(relpartbound) output.

// CreateBoundsTableSQL creates the partition bounds metadata table.
// The uniqueness constraint on (parent, start_height) is the concurrency
// guard for create-if-absent provisioning: concurrent creators race on the
// insert and the loser treats the duplicate-key error as success.
const CreateBoundsTableSQL = `
CREATE TABLE IF NOT EXISTS partition_bounds (
    partition_name TEXT PRIMARY KEY,
    parent TEXT NOT NULL,
    start_height BIGINT NOT NULL,
    end_height BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (parent, start_height)
)`

// CreateHistoryTableSQL creates the append-only maintenance history ledger.
// Entries are never deleted by the scheduler; retention pruning applies only
// to log files and backup artifacts.
const CreateHistoryTableSQL = `
CREATE TABLE IF NOT EXISTS maintenance_history (
    id BIGSERIAL PRIMARY KEY,
    target TEXT NOT NULL,
    operation TEXT NOT NULL,
    success BOOLEAN NOT NULL,
    error_detail TEXT NOT NULL DEFAULT '',
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// CreateHistoryIndexSQL indexes the ledger for last-maintained lookups.
const CreateHistoryIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_maintenance_history_target
    ON maintenance_history (target, recorded_at DESC)`

// CreateBalancesViewSQL creates the derived aggregate refreshed by the
// "refresh derived aggregates" maintenance command. The view binds to the
// given ledger table; a materialized view follows its source table through
// renames, so the migration engine recreates it after cutover.
func CreateBalancesViewSQL(parent string) string {
	return `
CREATE MATERIALIZED VIEW IF NOT EXISTS address_balances AS
SELECT address, SUM(amount) AS balance, COUNT(*) AS utxo_count
FROM ` + pgIdent(parent) + `
WHERE NOT spent
GROUP BY address
WITH DATA`
}

// CreateBalancesViewIndexSQL makes REFRESH ... CONCURRENTLY possible.
const CreateBalancesViewIndexSQL = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_address_balances_address
    ON address_balances (address)`

// DropBalancesViewSQL removes the derived aggregate so it can be rebound
// to a renamed ledger table.
const DropBalancesViewSQL = `DROP MATERIALIZED VIEW IF EXISTS address_balances`

// AllMetadataSQL returns the statements that initialize the metadata tables.
// The ledger table itself is created by the migration engine; the balances
// view depends on the parent table name and is created by EnsureBalancesView.
func AllMetadataSQL() []string {
	return []string{
		CreateBoundsTableSQL,
		CreateHistoryTableSQL,
		CreateHistoryIndexSQL,
	}
}
