package maintain

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/ledgerpart/ledgerpart/internal/catalog"
	"github.com/ledgerpart/ledgerpart/internal/errors"
	"github.com/ledgerpart/ledgerpart/internal/provision"
	"github.com/ledgerpart/ledgerpart/pkg/types"
)

// Operation kinds recorded in the history ledger.
const (
	KindPartitionUpkeep = "partition_upkeep"
	KindVacuum          = "vacuum"
	KindAnalyze         = "analyze"
	KindRefresh         = "refresh"
)

// Command priorities. Partition upkeep runs first so freshly created
// partitions are analyzed in the same pass; reclamation runs before
// statistics refresh so the refreshed stats reflect the reclaimed state.
const (
	priorityUpkeep  = 10
	priorityVacuum  = 20
	priorityAnalyze = 30
	priorityRefresh = 40
	priorityDiag    = 90
)

// CommandSource exposes the executable maintenance command set, ordered by
// ascending priority. Pure-read diagnostics are filtered out.
type CommandSource interface {
	ListCommands(ctx context.Context) ([]types.MaintenanceCommand, error)
}

// LedgerCommandSource builds the command set for the partitioned ledger:
// partition upkeep, storage reclamation, per-partition statistics refresh,
// and the derived aggregate refresh.
type LedgerCommandSource struct {
	cat    catalog.Catalog
	parent string
}

// NewLedgerCommandSource creates a command source over the live table.
func NewLedgerCommandSource(cat catalog.Catalog, parent string) *LedgerCommandSource {
	return &LedgerCommandSource{cat: cat, parent: parent}
}

// ListAll returns every command including read-only diagnostics, ordered by
// ascending priority. Operators use this to inspect the full set.
func (s *LedgerCommandSource) ListAll(ctx context.Context) ([]types.MaintenanceCommand, error) {
	parent := pgx.Identifier{s.parent}.Sanitize()

	cmds := []types.MaintenanceCommand{
		{
			Text:     "partition lookahead for " + s.parent,
			Priority: priorityUpkeep,
			Target:   s.parent,
			Kind:     KindPartitionUpkeep,
		},
		{
			Text:     "VACUUM " + parent,
			Priority: priorityVacuum,
			Target:   s.parent,
			Kind:     KindVacuum,
		},
		{
			Text:     "REFRESH MATERIALIZED VIEW CONCURRENTLY address_balances",
			Priority: priorityRefresh,
			Target:   "address_balances",
			Kind:     KindRefresh,
		},
		{
			Text:     "SELECT relname, n_dead_tup FROM pg_stat_user_tables ORDER BY n_dead_tup DESC LIMIT 20",
			Priority: priorityDiag,
			ReadOnly: true,
		},
	}

	// One ANALYZE per partition keeps statement time bounded per command
	// and records a per-partition history entry.
	partitions, err := s.cat.ListPartitions(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range partitions {
		cmds = append(cmds, types.MaintenanceCommand{
			Text:     "ANALYZE " + pgx.Identifier{p.Name}.Sanitize(),
			Priority: priorityAnalyze,
			Target:   p.Name,
			Kind:     KindAnalyze,
		})
	}

	sort.SliceStable(cmds, func(i, j int) bool {
		return cmds[i].Priority < cmds[j].Priority
	})
	return cmds, nil
}

// ListCommands returns the executable set: ListAll minus read-only
// diagnostics.
func (s *LedgerCommandSource) ListCommands(ctx context.Context) ([]types.MaintenanceCommand, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	executable := all[:0:0]
	for _, cmd := range all {
		if cmd.ReadOnly {
			continue
		}
		executable = append(executable, cmd)
	}
	return executable, nil
}

// HeightSource reports the highest ingested height. The blockchain node is
// one implementation; the catalog-backed default reads the live table.
type HeightSource interface {
	BestHeight(ctx context.Context) (height int64, ok bool, err error)
}

// CatalogHeightSource reads the best height from the live table itself.
type CatalogHeightSource struct {
	cat catalog.Catalog
}

// NewCatalogHeightSource creates a height source over the catalog.
func NewCatalogHeightSource(cat catalog.Catalog) *CatalogHeightSource {
	return &CatalogHeightSource{cat: cat}
}

// BestHeight returns the highest ingested height.
func (s *CatalogHeightSource) BestHeight(ctx context.Context) (int64, bool, error) {
	return s.cat.MaxHeight(ctx)
}

// Executor runs one maintenance command and returns its output.
type Executor interface {
	Execute(ctx context.Context, cmd types.MaintenanceCommand) (output string, err error)
}

// LedgerExecutor executes SQL commands against the ledger database and
// dispatches partition upkeep to the provisioner.
type LedgerExecutor struct {
	db      catalog.Querier
	prov    *provision.Provisioner
	heights HeightSource
}

// NewLedgerExecutor creates an executor.
func NewLedgerExecutor(db catalog.Querier, prov *provision.Provisioner, heights HeightSource) *LedgerExecutor {
	return &LedgerExecutor{db: db, prov: prov, heights: heights}
}

// Execute runs one command.
func (e *LedgerExecutor) Execute(ctx context.Context, cmd types.MaintenanceCommand) (string, error) {
	switch cmd.Kind {
	case KindPartitionUpkeep:
		height, ok, err := e.heights.BestHeight(ctx)
		if err != nil {
			return "", err
		}
		if !ok {
			return "ledger empty, nothing to provision", nil
		}
		if err := e.prov.EnsureLookahead(ctx, height); err != nil {
			return "", err
		}
		return fmt.Sprintf("lookahead ensured for height %d", height), nil

	default:
		tag, err := e.db.Exec(ctx, cmd.Text)
		if err != nil {
			return "", errors.NewMaintenanceError(errors.CodeCommandFailed, cmd.Text, err)
		}
		return tag.String(), nil
	}
}
