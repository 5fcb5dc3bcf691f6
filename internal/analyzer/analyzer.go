// Package analyzer diffs each table against its source counterpart
// and closes the result into a plan the orchestrator drives phases
// from.
//
// A table needs sync if any one of several independent signals fires:
// row count differs, max id differs, max updated_at differs, or the
// local id set contains ids absent remotely. Treating these as
// independent triggers rather than collapsing to a single "updated
// since" check catches changes that don't move a timestamp, like a
// row deleted on the source, or a table with no updated_at column at
// all.
package analyzer

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"pgsync/internal/adapter"
	"pgsync/internal/graph"
	"pgsync/internal/models"
	"pgsync/internal/syncer"
)

// Analyzer is the Analyzer (C5).
type Analyzer struct {
	adapter adapter.Adapter
	syncer  *syncer.Syncer
	logger  *zap.Logger
}

func NewAnalyzer(a adapter.Adapter, s *syncer.Syncer, logger *zap.Logger) *Analyzer {
	return &Analyzer{adapter: a, syncer: s, logger: logger.Named("analyzer")}
}

// Analyze builds a TableDiff for every table in tables (already
// filtered by excluded set / --tables upstream).
func (a *Analyzer) Analyze(ctx context.Context, src, tgt *sql.DB, tables []string, batchSize int, retry syncer.IDRetryFunc) ([]*models.TableDiff, error) {
	diffs := make([]*models.TableDiff, 0, len(tables))

	for _, table := range tables {
		diff, err := a.analyzeTable(ctx, src, tgt, table, batchSize, retry)
		if err != nil {
			return nil, err
		}
		diffs = append(diffs, diff)
	}

	return diffs, nil
}

func (a *Analyzer) analyzeTable(ctx context.Context, src, tgt *sql.DB, table string, batchSize int, retry syncer.IDRetryFunc) (*models.TableDiff, error) {
	diff := &models.TableDiff{Table: table}

	localMD := a.adapter.TableMetadata(ctx, tgt, table)
	remoteMD := a.adapter.TableMetadata(ctx, src, table)
	diff.LocalCount = localMD.Count
	diff.RemoteCount = remoteMD.Count

	if localMD.Error || remoteMD.Error {
		diff.NeedsSync = true
		diff.MetadataError = true
		return diff, nil
	}

	pk, hasPK, err := a.adapter.PrimaryKeyColumn(ctx, src, table)
	if err != nil {
		return nil, err
	}
	if hasPK && localMD.Count > 0 {
		ids, err := a.syncer.GetIDsToDelete(ctx, src, tgt, table, pk, batchSize, retry)
		if err != nil {
			return nil, err
		}
		diff.IDsToDelete = ids
	}

	maxIDDiffers := (localMD.MaxID == nil) != (remoteMD.MaxID == nil)
	if localMD.MaxID != nil && remoteMD.MaxID != nil {
		maxIDDiffers = *localMD.MaxID != *remoteMD.MaxID
	}

	if len(diff.IDsToDelete) > 0 || remoteMD.Count != localMD.Count || maxIDDiffers {
		diff.NeedsSync = true
	}

	if localMD.HasUpdatedAt && remoteMD.HasUpdatedAt && localMD.MaxUpdatedAt != nil && remoteMD.MaxUpdatedAt != nil {
		if !localMD.MaxUpdatedAt.Equal(*remoteMD.MaxUpdatedAt) {
			diff.NeedsSync = true
			diff.HasUpdates = true
		}
	}

	return diff, nil
}

// BuildPlan takes every diff with NeedsSync, marks the ones in
// refreshSet as Refreshed, and closes the set over parents: for every
// included table, its depends_on parents not already included are
// added, tagged IsParent.
func BuildPlan(diffs []*models.TableDiff, refreshSet map[string]bool, depGraph *models.Graph) *models.Plan {
	plan := &models.Plan{}
	byTable := make(map[string]*models.TableDiff)

	for _, d := range diffs {
		if !d.NeedsSync {
			continue
		}
		if refreshSet[d.Table] {
			d.Refreshed = true
			plan.TablesToRefresh = append(plan.TablesToRefresh, d.Table)
		}
		plan.TablesToSync = append(plan.TablesToSync, d)
		byTable[d.Table] = d
	}

	// Parent closure: walk to a fixed point since a newly added parent
	// may itself have parents not yet included.
	changed := true
	for changed {
		changed = false
		for table := range byTable {
			for parent := range depGraph.DependsOn(table) {
				if parent == table {
					continue
				}
				if _, ok := byTable[parent]; ok {
					continue
				}
				pd := &models.TableDiff{Table: parent, IsParent: true}
				byTable[parent] = pd
				plan.TablesToSync = append(plan.TablesToSync, pd)
				changed = true
			}
		}
	}

	return plan
}

// FilterActionable keeps plan entries that actually require work:
// refreshed tables, tables with ids to delete, tables whose counts
// differ, tables with detected updates, or tables tagged IsChild by a
// CASCADE RECHECK expansion.
func FilterActionable(plan *models.Plan) []*models.TableDiff {
	var out []*models.TableDiff
	for _, d := range plan.TablesToSync {
		if d.Refreshed || len(d.IDsToDelete) > 0 || d.RemoteCount != d.LocalCount || d.HasUpdates || d.IsChild {
			out = append(out, d)
		}
	}
	return out
}

// OrderedTables returns the diffs from diffs ordered per dir over
// depGraph, for phases that need a concrete table sequence rather than
// the plan's insertion order.
func OrderedTables(depGraph *models.Graph, diffs []*models.TableDiff, dir models.Direction) []*models.TableDiff {
	names := make([]string, len(diffs))
	byName := make(map[string]*models.TableDiff, len(diffs))
	for i, d := range diffs {
		names[i] = d.Table
		byName[d.Table] = d
	}

	ordered := graph.Sort(depGraph, names, dir)
	out := make([]*models.TableDiff, 0, len(ordered))
	for _, n := range ordered {
		out = append(out, byName[n])
	}
	return out
}
