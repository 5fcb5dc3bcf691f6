// Package orchestrator drives the pull and clone phase sequences: it
// builds the dependency graph, diffs source against target, takes a
// backup, runs the delete and upsert phases in dependency order, and
// rechecks cascaded children before reporting final statistics. It
// owns no connection or tunnel lifecycle itself — those are opened by
// the caller (the CLI) and passed in. The orchestrator reaches the
// tunnel only through the retry functions it is handed and progress
// rendering only through Reporter; signal handling stays in the CLI.
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"pgsync/internal/adapter"
	"pgsync/internal/analyzer"
	"pgsync/internal/backup"
	"pgsync/internal/graph"
	"pgsync/internal/models"
	"pgsync/internal/schema"
	"pgsync/internal/syncer"
)

// Reporter renders progress, prompts, and final statistics. The CLI
// wires a terminal-aware implementation; tests use a no-op stub.
type Reporter interface {
	Info(msg string)
	Confirm(prompt string) bool
	Analysis(diffs []*models.TableDiff)
	DryRun(plan *models.Plan, actionable []*models.TableDiff)
	Progress(table string, i, n int)
	Stats(results models.RunResults)
}

// Options are the flags common to pull and clone, plus the per-command
// extensions. Unused fields for a given command are ignored.
type Options struct {
	Force           bool
	Tables          []string
	Views           []string
	IncludeExcluded bool
	DryRun          bool
	SkipBackup      bool
	BatchSize       int
	AnalyzeOnly     bool
	SkipSequences   bool
	SkipViews       bool
	SkipSyncData    bool
}

// Orchestrator is the Sync Orchestrator (C6).
type Orchestrator struct {
	adapter  adapter.Adapter
	graphs   *graph.Builder
	analyzer *analyzer.Analyzer
	schema   *schema.Manager
	syncer   *syncer.Syncer
	backup   *backup.Manager
	reporter Reporter
	logger   *zap.Logger
}

func New(a adapter.Adapter, bk *backup.Manager, reporter Reporter, logger *zap.Logger) *Orchestrator {
	logger = logger.Named("orchestrator")
	s := syncer.NewSyncer(a, logger)
	return &Orchestrator{
		adapter:  a,
		graphs:   graph.NewBuilder(a, logger),
		analyzer: analyzer.NewAnalyzer(a, s, logger),
		schema:   schema.NewManager(a, logger),
		syncer:   s,
		backup:   bk,
		reporter: reporter,
		logger:   logger,
	}
}

// Reset clears the per-run graph and unique-constraint caches. Both
// are scoped to the orchestrator instance and must be dropped between
// commands so a second run doesn't reuse structure or constraints
// that may have changed since the first.
func (o *Orchestrator) Reset() {
	o.graphs.Reset()
	o.syncer.Reset()
}

func scopedTables(all, only, excluded []string, includeExcluded bool) []string {
	excludedSet := make(map[string]struct{}, len(excluded))
	if !includeExcluded {
		for _, t := range excluded {
			excludedSet[t] = struct{}{}
		}
	}

	var onlySet map[string]struct{}
	if len(only) > 0 {
		onlySet = make(map[string]struct{}, len(only))
		for _, t := range only {
			onlySet[t] = struct{}{}
		}
	}

	var out []string
	for _, t := range all {
		if _, excl := excludedSet[t]; excl {
			continue
		}
		if onlySet != nil {
			if _, ok := onlySet[t]; !ok {
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

func refreshSetFrom(missing, changed []string) map[string]bool {
	set := make(map[string]bool, len(missing)+len(changed))
	for _, t := range missing {
		set[t] = true
	}
	for _, t := range changed {
		set[t] = true
	}
	return set
}

func refreshList(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	return out
}

// Pull runs the incremental pull sequence: build the dependency
// graph, diff source against target, back up, delete stale rows,
// upsert changed rows, recheck cascaded children, refresh views, and
// reset sequences. src and tgt are already-open connections (src
// dialed through the tunnel endpoint); srcParams/tgtParams are the
// shell-level descriptions the adapter's dump/backup/restore calls
// need. retryRecords/retryIDs wrap every remote read; the caller
// supplies them bound to the tunnel's retry operator.
func (o *Orchestrator) Pull(ctx context.Context, src, tgt *sql.DB, srcParams, tgtParams adapter.ConnParams, excludedTables []string, backupDir string, retryRecords syncer.RetryFunc, retryIDs syncer.IDRetryFunc, opts Options) (models.RunResults, error) {
	o.Reset()

	g, err := o.graphs.Build(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build graph: %w", err)
	}

	allTables, err := o.adapter.TablesList(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list source tables: %w", err)
	}
	allViews, err := o.adapter.ViewsList(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list source views: %w", err)
	}

	tables := scopedTables(allTables, opts.Tables, excludedTables, opts.IncludeExcluded)

	views := allViews
	if len(opts.Tables) > 0 && len(opts.Views) == 0 {
		// A table allowlist without a view allowlist implicitly skips
		// views: --tables alone scopes the run to those tables only.
		views = nil
	} else if len(opts.Views) > 0 {
		views = scopedTables(allViews, opts.Views, nil, true)
	}

	diffs, err := o.analyzer.Analyze(ctx, src, tgt, tables, opts.BatchSize, retryIDs)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: analyze: %w", err)
	}

	missingTables, changedTables, missingViews, changedViews, err := o.schema.FindTablesNeedingRefresh(ctx, src, tgt, tables, views)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: find tables needing refresh: %w", err)
	}

	refreshSet := refreshSetFrom(missingTables, changedTables)

	plan := analyzer.BuildPlan(diffs, refreshSet, g)
	plan.MissingTables = missingTables
	plan.ChangedTables = changedTables
	plan.MissingViews = missingViews
	plan.ChangedViews = changedViews
	plan.ViewsToRefresh = append(append([]string{}, missingViews...), changedViews...)

	if !plan.IsEmpty() && !opts.SkipBackup {
		path, err := o.backup.Create(ctx, tgtParams, backupDir)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: backup: %w", err)
		}
		o.reporter.Info("backup created: " + path)
	}

	if opts.AnalyzeOnly {
		o.reporter.Analysis(diffs)
		return nil, nil
	}

	actionable := analyzer.FilterActionable(plan)
	if len(actionable) == 0 {
		o.reporter.Info("nothing to sync")
		return models.RunResults{}, nil
	}

	if opts.DryRun {
		o.reporter.DryRun(plan, actionable)
		return nil, nil
	}

	if !opts.Force {
		if !o.reporter.Confirm(fmt.Sprintf("sync %d table(s)?", len(actionable))) {
			o.reporter.Info("aborted")
			return models.RunResults{}, nil
		}
	}

	results := make(models.RunResults)

	tablesToRefresh := refreshList(refreshSet)
	if len(tablesToRefresh) > 0 {
		refreshResult, err := o.schema.RefreshTablesStructure(ctx, src, tgt, srcParams, g, tablesToRefresh, nil)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: refresh tables: %w", err)
		}
		o.logger.Info("schema refreshed",
			zap.Int("created_tables", refreshResult.CreatedTables),
			zap.Int("created_sequences", refreshResult.CreatedSequences),
			zap.Int("created_constraints", refreshResult.CreatedConstraints),
			zap.Int("skipped_fk", refreshResult.SkippedFK),
			zap.Int("errors", len(refreshResult.Errors)))
	}

	processed := make(map[string]bool, len(actionable))
	for _, d := range actionable {
		processed[d.Table] = true
	}

	// DELETE phase runs children-first, skipping refreshed tables (a
	// refreshed table has no prior rows to delete from).
	o.deletePhase(ctx, src, tgt, g, actionable, opts.BatchSize, results)

	// UPSERT phase runs parents-first, skipping cascade children.
	o.upsertPhase(ctx, src, tgt, g, actionable, opts.BatchSize, retryRecords, results, false)

	o.cascadeRecheck(ctx, src, tgt, g, actionable, processed, excludedTables, opts, retryIDs, retryRecords, results)

	if len(plan.ViewsToRefresh) > 0 {
		viewResult, err := o.schema.RefreshTablesStructure(ctx, src, tgt, srcParams, g, nil, plan.ViewsToRefresh)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: refresh views: %w", err)
		}
		if len(viewResult.Errors) > 0 {
			o.logger.Warn("view refresh had errors", zap.Int("count", len(viewResult.Errors)))
		}
	}

	if !opts.SkipSequences {
		n, err := o.adapter.ResetSequences(ctx, tgt)
		if err != nil {
			o.logger.Warn("reset sequences failed", zap.Error(err))
		} else {
			o.logger.Info("sequences reset", zap.Int("count", n))
		}
	}

	o.reporter.Stats(results)

	return results, nil
}

func (o *Orchestrator) deletePhase(ctx context.Context, src, tgt *sql.DB, g *models.Graph, actionable []*models.TableDiff, batchSize int, results models.RunResults) {
	var toDelete []*models.TableDiff
	for _, d := range actionable {
		if len(d.IDsToDelete) > 0 && !d.Refreshed {
			toDelete = append(toDelete, d)
		}
	}
	ordered := analyzer.OrderedTables(g, toDelete, models.ChildrenFirst)

	for i, d := range ordered {
		if d == nil {
			continue
		}
		o.reporter.Progress(d.Table, i+1, len(ordered))
		pk, ok, err := o.adapter.PrimaryKeyColumn(ctx, src, d.Table)
		if err != nil || !ok {
			continue
		}
		deleted, errored := o.syncer.DeleteFromTable(ctx, tgt, d.Table, pk, d.IDsToDelete, batchSize)
		tr := results.Get(d.Table)
		tr.Deleted += deleted
		tr.Errors += errored
	}
}

func (o *Orchestrator) upsertPhase(ctx context.Context, src, tgt *sql.DB, g *models.Graph, actionable []*models.TableDiff, batchSize int, retry syncer.RetryFunc, results models.RunResults, cascadePass bool) {
	var toSync []*models.TableDiff
	for _, d := range actionable {
		if d.IsChild && !cascadePass {
			continue
		}
		toSync = append(toSync, d)
	}
	ordered := analyzer.OrderedTables(g, toSync, models.ParentsFirst)

	for i, d := range ordered {
		if d == nil {
			continue
		}
		o.reporter.Progress(d.Table, i+1, len(ordered))
		res, err := o.syncer.SyncTableFromRemote(ctx, src, tgt, d.Table, batchSize, retry)
		if err != nil {
			o.logger.Warn("sync table failed", zap.String("table", d.Table), zap.Error(err))
			continue
		}
		tr := results.Get(d.Table)
		tr.Inserted += res.Inserted
		tr.Updated += res.Updated
		tr.Errors += res.Errors
	}
}

// cascadeRecheck re-examines children of any table that had deletes
// or was refreshed: a parent-side delete or rebuild can leave
// children referencing rows that no longer exist, so those children
// are re-analyzed and, if they still need sync, run through a second
// DELETE+UPSERT pass tagged as a cascade child. This repeats
// breadth-first until a pass produces no new seed tables.
func (o *Orchestrator) cascadeRecheck(ctx context.Context, src, tgt *sql.DB, g *models.Graph, actionable []*models.TableDiff, processed map[string]bool, excludedTables []string, opts Options, retryIDs syncer.IDRetryFunc, retryRecords syncer.RetryFunc, results models.RunResults) {
	excluded := make(map[string]bool, len(excludedTables))
	if !opts.IncludeExcluded {
		for _, t := range excludedTables {
			excluded[t] = true
		}
	}

	seedTables := make(map[string]bool)
	for _, d := range actionable {
		tr := results[d.Table]
		hadDeletes := tr != nil && tr.Deleted > 0
		if hadDeletes || d.Refreshed {
			seedTables[d.Table] = true
		}
	}

	for len(seedTables) > 0 {
		var candidates []string
		for parent := range seedTables {
			for child := range g.ReferencedBy(parent) {
				if processed[child] || excluded[child] {
					continue
				}
				candidates = append(candidates, child)
			}
		}
		seedTables = make(map[string]bool)
		if len(candidates) == 0 {
			break
		}

		diffs, err := o.analyzer.Analyze(ctx, src, tgt, candidates, opts.BatchSize, retryIDs)
		if err != nil {
			o.logger.Warn("cascade recheck analyze failed", zap.Error(err))
			return
		}

		var cascadeDiffs []*models.TableDiff
		for _, d := range diffs {
			processed[d.Table] = true
			if !d.NeedsSync {
				continue
			}
			d.IsChild = true
			cascadeDiffs = append(cascadeDiffs, d)
			if results[d.Table] != nil && results[d.Table].Deleted > 0 {
				seedTables[d.Table] = true
			}
		}

		if len(cascadeDiffs) == 0 {
			continue
		}

		o.deletePhase(ctx, src, tgt, g, cascadeDiffs, opts.BatchSize, results)
		o.upsertPhase(ctx, src, tgt, g, cascadeDiffs, opts.BatchSize, retryRecords, results, true)

		for _, d := range cascadeDiffs {
			if results[d.Table] != nil && results[d.Table].Deleted > 0 {
				seedTables[d.Table] = true
			}
		}
	}
}

// Clone runs the full drop+recreate sequence: every in-scope table and
// view is dropped and rebuilt from the source schema. Excluded tables
// are rebuilt structure-only; data is synced for every other in-scope
// table unless SkipSyncData is set.
func (o *Orchestrator) Clone(ctx context.Context, src, tgt *sql.DB, srcParams, tgtParams adapter.ConnParams, excludedTables []string, backupDir string, retryRecords syncer.RetryFunc, opts Options) (models.RunResults, error) {
	o.Reset()

	g, err := o.graphs.Build(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build graph: %w", err)
	}

	allTables, err := o.adapter.TablesList(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list source tables: %w", err)
	}

	tables := scopedTables(allTables, opts.Tables, nil, true)

	excluded := make(map[string]bool, len(excludedTables))
	if !opts.IncludeExcluded {
		for _, t := range excludedTables {
			excluded[t] = true
		}
	}

	if opts.DryRun {
		plan := &models.Plan{TablesToRefresh: tables}
		o.reporter.DryRun(plan, nil)
		return nil, nil
	}

	if !opts.Force {
		if !o.reporter.Confirm(fmt.Sprintf("drop and recreate %d table(s)?", len(tables))) {
			o.reporter.Info("aborted")
			return models.RunResults{}, nil
		}
	}

	if !opts.SkipBackup {
		path, err := o.backup.Create(ctx, tgtParams, backupDir)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: backup: %w", err)
		}
		o.reporter.Info("backup created: " + path)
	}

	refreshResult, err := o.schema.RefreshTablesStructure(ctx, src, tgt, srcParams, g, tables, nil)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: drop+recreate tables: %w", err)
	}
	o.logger.Info("clone schema rebuilt",
		zap.Int("created_tables", refreshResult.CreatedTables),
		zap.Int("skipped_fk", refreshResult.SkippedFK))

	if !opts.SkipViews {
		allViews, err := o.adapter.ViewsList(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: list source views: %w", err)
		}
		if len(allViews) > 0 {
			if _, err := o.schema.RefreshTablesStructure(ctx, src, tgt, srcParams, g, nil, allViews); err != nil {
				return nil, fmt.Errorf("orchestrator: recreate views: %w", err)
			}
		}
	}

	results := make(models.RunResults)

	if !opts.SkipSyncData {
		var dataTables []string
		for _, t := range tables {
			if excluded[t] {
				continue
			}
			dataTables = append(dataTables, t)
		}
		ordered := graph.Sort(g, dataTables, models.ParentsFirst)

		for _, t := range ordered {
			res, err := o.syncer.SyncTableFromRemote(ctx, src, tgt, t, opts.BatchSize, retryRecords)
			if err != nil {
				o.logger.Warn("clone sync table failed", zap.String("table", t), zap.Error(err))
				continue
			}
			tr := results.Get(t)
			tr.Inserted += res.Inserted
			tr.Updated += res.Updated
			tr.Errors += res.Errors
		}
	}

	if n, err := o.adapter.ResetSequences(ctx, tgt); err != nil {
		o.logger.Warn("reset sequences failed", zap.Error(err))
	} else {
		o.logger.Info("sequences reset", zap.Int("count", n))
	}

	o.reporter.Stats(results)
	return results, nil
}

// Restore delegates to the backup manager, resolving name against dir
// when name does not name a file directly.
func (o *Orchestrator) Restore(ctx context.Context, tgtParams adapter.ConnParams, dir, name string) error {
	record, err := o.backup.Find(name, dir)
	if err != nil {
		return fmt.Errorf("orchestrator: resolve backup %q: %w", name, err)
	}
	if err := o.backup.Restore(ctx, tgtParams, record.Path); err != nil {
		return fmt.Errorf("orchestrator: restore: %w", err)
	}
	o.reporter.Info("restored from " + record.Filename)
	return nil
}
