// Package integration exercises the partition lifecycle end to end:
// reactive provisioning through the batch notifier and a full maintenance
// pass over a provisioned ledger.
package integration

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ledgerpart/ledgerpart/internal/config"
	"github.com/ledgerpart/ledgerpart/internal/maintain"
	"github.com/ledgerpart/ledgerpart/internal/provision"
	"github.com/ledgerpart/ledgerpart/internal/router"
	"github.com/ledgerpart/ledgerpart/pkg/types"
)

// memDB records every statement and satisfies both the provisioner's and
// the executor's database surfaces.
type memDB struct {
	mu    sync.Mutex
	execs []string
}

func (db *memDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.execs = append(db.execs, sql)
	return pgconn.NewCommandTag("OK"), nil
}

func (db *memDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (db *memDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (db *memDB) contains(fragment string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, sql := range db.execs {
		if strings.Contains(sql, fragment) {
			return true
		}
	}
	return false
}

type memCatalog struct {
	mu         sync.Mutex
	partitions []types.Partition
	maxHeight  int64
}

func (c *memCatalog) ListPartitions(ctx context.Context) ([]types.Partition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Partition, len(c.partitions))
	copy(out, c.partitions)
	return out, nil
}

func (c *memCatalog) PartitionExists(ctx context.Context, name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.partitions {
		if p.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (c *memCatalog) HighestProvisionedEnd(ctx context.Context) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.partitions) == 0 {
		return 0, false, nil
	}
	return c.partitions[len(c.partitions)-1].End, true, nil
}

func (c *memCatalog) MaxHeight(ctx context.Context) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxHeight, c.maxHeight > 0, nil
}

type memHistory struct {
	mu      sync.Mutex
	entries []types.HistoryEntry
}

func (h *memHistory) Record(ctx context.Context, target, kind string, success bool, errorDetail string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, types.HistoryEntry{
		Target: target, Kind: kind, Success: success, ErrorDetail: errorDetail,
	})
	return nil
}

func (h *memHistory) LastMaintained(ctx context.Context, target string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

// TestReactiveProvisioningThroughNotifier publishes a batch event whose
// height is inside the lookahead margin and waits for the hook to create
// the next partition.
func TestReactiveProvisioningThroughNotifier(t *testing.T) {
	db := &memDB{}
	cat := &memCatalog{partitions: []types.Partition{
		{Name: "utxos_p100000", Start: 100000, End: 150000},
	}}
	prov := provision.New(db, cat, "utxos", 50000, 10000)

	notifier := router.NewNotifier(4)
	hook := provision.NewHook(prov, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := hook.Attach(ctx); err != nil {
		t.Fatalf("failed to attach hook: %v", err)
	}
	defer hook.Detach()

	notifier.Publish(router.BatchEvent{MaxHeight: 149999, Rows: 500, Timestamp: time.Now().UnixNano()})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if db.contains("utxos_p150000") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("hook did not provision the lookahead partition")
}

// windowAround returns a maintenance window straddling the given instant,
// crossing midnight when necessary.
func windowAround(now time.Time) maintain.Window {
	m := now.In(config.ReferenceLocation).Hour()*60 + now.In(config.ReferenceLocation).Minute()
	return maintain.Window{
		Start: (m + 1440 - 60) % 1440,
		End:   (m + 60) % 1440,
	}
}

// TestMaintenancePassOverProvisionedLedger runs a full scheduler pass
// against a two-partition ledger and checks command execution and history
// bookkeeping.
func TestMaintenancePassOverProvisionedLedger(t *testing.T) {
	db := &memDB{}
	cat := &memCatalog{
		partitions: []types.Partition{
			{Name: "utxos_p0", Start: 0, End: 50000},
			{Name: "utxos_p50000", Start: 50000, End: 100000},
		},
		maxHeight: 93000,
	}
	prov := provision.New(db, cat, "utxos", 50000, 10000)

	source := maintain.NewLedgerCommandSource(cat, "utxos")
	exec := maintain.NewLedgerExecutor(db, prov, maintain.NewCatalogHeightSource(cat))
	history := &memHistory{}
	sched := maintain.NewScheduler(windowAround(time.Now()), source, exec, history)

	result, err := sched.Run(context.Background())
	if err != nil {
		t.Fatalf("scheduler run failed: %v", err)
	}
	if result.Status != maintain.StatusCompleted {
		t.Fatalf("expected completed run, got %s", result.Status)
	}
	if result.Failed != 0 {
		t.Errorf("expected no failures, got %d/%d", result.Failed, result.Total)
	}

	if !db.contains(`VACUUM "utxos"`) {
		t.Error("expected storage reclamation against the parent table")
	}
	if !db.contains(`ANALYZE "utxos_p0"`) || !db.contains(`ANALYZE "utxos_p50000"`) {
		t.Error("expected a statistics refresh per partition")
	}

	var analyzed int
	for _, e := range history.entries {
		if !e.Success {
			t.Errorf("unexpected failed history entry: %+v", e)
		}
		if e.Kind == maintain.KindAnalyze {
			analyzed++
		}
	}
	if analyzed != 2 {
		t.Errorf("expected 2 analyze history entries, got %d", analyzed)
	}
}
