package provision

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	lperrors "github.com/ledgerpart/ledgerpart/internal/errors"
	"github.com/ledgerpart/ledgerpart/pkg/types"
)

// fakeDB records executed statements and tracks partition bounds inserts so
// the fake catalog can answer existence checks consistently.
type fakeDB struct {
	execs  []string
	bounds map[string]bool
	failOn func(sql string) error
}

func newFakeDB() *fakeDB {
	return &fakeDB{bounds: make(map[string]bool)}
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if f.failOn != nil {
		if err := f.failOn(sql); err != nil {
			return pgconn.CommandTag{}, err
		}
	}
	f.execs = append(f.execs, sql)
	if strings.HasPrefix(strings.TrimSpace(sql), "INSERT INTO partition_bounds") {
		f.bounds[args[0].(string)] = true
	}
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) countMatching(substr string) int {
	n := 0
	for _, s := range f.execs {
		if strings.Contains(s, substr) {
			n++
		}
	}
	return n
}

type fakeCatalog struct {
	db *fakeDB
}

func (c *fakeCatalog) ListPartitions(ctx context.Context) ([]types.Partition, error) {
	names := make([]string, 0, len(c.db.bounds))
	for name := range c.db.bounds {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]types.Partition, 0, len(names))
	for _, name := range names {
		parts = append(parts, types.Partition{Name: name})
	}
	return parts, nil
}

func (c *fakeCatalog) PartitionExists(ctx context.Context, name string) (bool, error) {
	return c.db.bounds[name], nil
}

func (c *fakeCatalog) HighestProvisionedEnd(ctx context.Context) (int64, bool, error) {
	return 0, false, nil
}

func (c *fakeCatalog) MaxHeight(ctx context.Context) (int64, bool, error) {
	return 0, false, nil
}

func newTestProvisioner() (*Provisioner, *fakeDB) {
	db := newFakeDB()
	cat := &fakeCatalog{db: db}
	return New(db, cat, "utxos", 50000, 10000), db
}

func TestEnsurePartitionCreatesTableIndexesAndBounds(t *testing.T) {
	p, db := newTestProvisioner()

	if err := p.EnsurePartition(context.Background(), 50000, 100000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := db.countMatching("CREATE TABLE IF NOT EXISTS"); n != 1 {
		t.Errorf("expected 1 create table, got %d", n)
	}
	if n := db.countMatching("CREATE INDEX IF NOT EXISTS"); n != 5 {
		t.Errorf("expected 5 index creations, got %d", n)
	}
	if n := db.countMatching("INSERT INTO partition_bounds"); n != 1 {
		t.Errorf("expected 1 bounds insert, got %d", n)
	}
	if !db.bounds[`utxos_p50000`] {
		t.Error("bounds row for utxos_p50000 not recorded")
	}
}

func TestEnsurePartitionIsIdempotent(t *testing.T) {
	p, db := newTestProvisioner()
	ctx := context.Background()

	if err := p.EnsurePartition(ctx, 0, 50000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := len(db.execs)

	// Second invocation on identical bounds is a no-op, not an error.
	if err := p.EnsurePartition(ctx, 0, 50000); err != nil {
		t.Fatalf("unexpected error on re-invocation: %v", err)
	}
	if len(db.execs) != before {
		t.Errorf("expected no further statements, got %d new", len(db.execs)-before)
	}
}

func TestEnsurePartitionTreatsLostRaceAsSuccess(t *testing.T) {
	p, db := newTestProvisioner()
	db.failOn = func(sql string) error {
		if strings.Contains(sql, "CREATE TABLE") {
			return &pgconn.PgError{Code: "42P07"}
		}
		return nil
	}

	if err := p.EnsurePartition(context.Background(), 0, 50000); err != nil {
		t.Fatalf("duplicate table must count as success, got: %v", err)
	}
	// Indexes are still ensured even when another creator won the race.
	if n := db.countMatching("CREATE INDEX IF NOT EXISTS"); n != 5 {
		t.Errorf("expected 5 index creations, got %d", n)
	}
}

func TestEnsurePartitionBoundsRaceIsSuccess(t *testing.T) {
	p, _ := newTestProvisioner()
	db := p.db.(*fakeDB)
	db.failOn = func(sql string) error {
		if strings.Contains(sql, "INSERT INTO partition_bounds") {
			return &pgconn.PgError{Code: "23505"}
		}
		return nil
	}

	if err := p.EnsurePartition(context.Background(), 0, 50000); err != nil {
		t.Fatalf("unique violation must count as success, got: %v", err)
	}
}

func TestEnsurePartitionIndexFailureIsFatal(t *testing.T) {
	p, db := newTestProvisioner()
	boom := errors.New("disk full")
	db.failOn = func(sql string) error {
		if strings.Contains(sql, "CREATE INDEX") {
			return boom
		}
		return nil
	}

	err := p.EnsurePartition(context.Background(), 0, 50000)
	if err == nil {
		t.Fatal("expected index failure to be fatal")
	}
	if lperrors.GetCode(err) != lperrors.CodeIndexFailed {
		t.Errorf("expected INDEX_FAILED, got %s", lperrors.GetCode(err))
	}
	if !errors.Is(err, boom) {
		t.Error("cause not preserved in error chain")
	}
}

func TestEnsureLookaheadProvisionsNextRangeInsideMargin(t *testing.T) {
	p, db := newTestProvisioner()

	// 139999 + 10000 >= 150000, so p150000 must be provisioned in advance.
	if err := p.EnsureLookahead(context.Background(), 139999); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !db.bounds["utxos_p100000"] {
		t.Error("active partition utxos_p100000 not ensured")
	}
	if !db.bounds["utxos_p150000"] {
		t.Error("lookahead partition utxos_p150000 not provisioned")
	}
}

func TestEnsureLookaheadSkipsNextRangeOutsideMargin(t *testing.T) {
	p, db := newTestProvisioner()

	if err := p.EnsureLookahead(context.Background(), 110000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !db.bounds["utxos_p100000"] {
		t.Error("active partition utxos_p100000 not ensured")
	}
	if db.bounds["utxos_p150000"] {
		t.Error("lookahead partition provisioned too early")
	}
}

func TestEnsureLookaheadCoverageInvariant(t *testing.T) {
	p, db := newTestProvisioner()
	ctx := context.Background()

	// Drive increasing currentMax in sub-width steps, as ingestion would.
	var currentMax int64
	for currentMax = 0; currentMax <= 180000; currentMax += 5000 {
		if err := p.EnsureLookahead(ctx, currentMax); err != nil {
			t.Fatalf("unexpected error at %d: %v", currentMax, err)
		}
	}
	currentMax -= 5000

	// Every height up to currentMax maps to an existing partition.
	for h := int64(0); h <= currentMax; h += 12500 {
		name := fmt.Sprintf("utxos_p%d", (h/50000)*50000)
		if !db.bounds[name] {
			t.Errorf("height %d not covered: %s missing", h, name)
		}
	}

	// Exactly one partition beyond the active range exists.
	activeStart := (currentMax / 50000) * 50000
	if !db.bounds[fmt.Sprintf("utxos_p%d", activeStart+50000)] {
		t.Error("lookahead partition beyond active range missing")
	}
	if db.bounds[fmt.Sprintf("utxos_p%d", activeStart+100000)] {
		t.Error("more than one partition provisioned beyond the active range")
	}
}

func TestBulkProvisionCoversSpanPlusFuture(t *testing.T) {
	p, db := newTestProvisioner()

	n, err := p.BulkProvision(context.Background(), 0, 149999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 partitions ensured, got %d", n)
	}

	for _, name := range []string{"utxos_p0", "utxos_p50000", "utxos_p100000", "utxos_p150000"} {
		if !db.bounds[name] {
			t.Errorf("expected partition %s", name)
		}
	}
}

func TestBulkProvisionEmptyRange(t *testing.T) {
	p, db := newTestProvisioner()

	n, err := p.BulkProvision(context.Background(), 100, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 || len(db.execs) != 0 {
		t.Errorf("expected no work for inverted range, got n=%d execs=%d", n, len(db.execs))
	}
}
