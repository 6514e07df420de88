package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeQuerier records every statement it is handed and serves empty result
// sets, so catalog behavior can be checked without a database.
type fakeQuerier struct {
	execs   []string
	queries []string
}

func (f *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.NewCommandTag("OK"), nil
}

func (f *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.queries = append(f.queries, sql)
	return emptyRows{}, nil
}

func (f *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

type emptyRows struct{}

func (emptyRows) Close()                                       {}
func (emptyRows) Err() error                                   { return nil }
func (emptyRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (emptyRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (emptyRows) Next() bool                                   { return false }
func (emptyRows) Scan(dest ...any) error                       { return nil }
func (emptyRows) Values() ([]any, error)                       { return nil, nil }
func (emptyRows) RawValues() [][]byte                          { return nil }
func (emptyRows) Conn() *pgx.Conn                              { return nil }

func indexOfExec(execs []string, substr string) int {
	for i, sql := range execs {
		if strings.Contains(sql, substr) {
			return i
		}
	}
	return -1
}

func TestInitMetadataCreatesBalancesView(t *testing.T) {
	db := &fakeQuerier{}
	cat := NewPgCatalog(db, "utxos")

	if err := cat.InitMetadata(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	view := indexOfExec(db.execs, "CREATE MATERIALIZED VIEW")
	if view == -1 {
		t.Fatal("expected InitMetadata to create the address_balances view")
	}
	if !strings.Contains(db.execs[view], `"utxos"`) {
		t.Errorf("view should select from the parent table, got:\n%s", db.execs[view])
	}
	if indexOfExec(db.execs, "CREATE UNIQUE INDEX") == -1 {
		t.Error("expected the unique index that REFRESH CONCURRENTLY requires")
	}
}

func TestInitMetadataViewFollowsParentName(t *testing.T) {
	db := &fakeQuerier{}
	cat := NewPgCatalog(db, "utxos_parted")

	if err := cat.InitMetadata(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	view := indexOfExec(db.execs, "CREATE MATERIALIZED VIEW")
	if view == -1 {
		t.Fatal("expected view creation")
	}
	if !strings.Contains(db.execs[view], `"utxos_parted"`) {
		t.Errorf("view should select from %q, got:\n%s", "utxos_parted", db.execs[view])
	}
}

func TestRecreateBalancesViewDropsThenCreates(t *testing.T) {
	db := &fakeQuerier{}
	cat := NewPgCatalog(db, "utxos")

	if err := cat.RecreateBalancesView(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	drop := indexOfExec(db.execs, "DROP MATERIALIZED VIEW")
	create := indexOfExec(db.execs, "CREATE MATERIALIZED VIEW")
	if drop == -1 || create == -1 {
		t.Fatalf("expected drop and create, got %v", db.execs)
	}
	if drop > create {
		t.Error("view must be dropped before it is recreated")
	}
}

func TestListPartitionsQualifiesSystemCatalogJoins(t *testing.T) {
	db := &fakeQuerier{}
	cat := NewPgCatalog(db, "utxos")

	parts, err := cat.ListPartitions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parts) != 0 {
		t.Fatalf("expected no partitions, got %d", len(parts))
	}

	if len(db.queries) != 1 {
		t.Fatalf("expected one query, got %d", len(db.queries))
	}
	sql := db.queries[0]

	// Partition names repeat across schemas; the joins against pg_class
	// and pg_stat_user_tables must be pinned to the current schema or
	// row counts and analyze timestamps come from the wrong tables.
	if strings.Count(sql, "current_schema()") < 2 {
		t.Errorf("both system catalog joins must be schema-qualified:\n%s", sql)
	}
	if !strings.Contains(sql, "s.schemaname") {
		t.Errorf("pg_stat_user_tables join must filter on schemaname:\n%s", sql)
	}
}
