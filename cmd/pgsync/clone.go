package main

import (
	"runtime/debug"

	"github.com/spf13/cobra"
)

var cloneFlags commonFlags
var cloneSkipViews bool
var cloneSkipSyncData bool

var cloneCmd = &cobra.Command{
	Use:   "clone",
	Short: "Drop and recreate the target from the source",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cloneFlags.memoryLimitMB > 0 {
			debug.SetMemoryLimit(int64(cloneFlags.memoryLimitMB) << 20)
		}

		sess, err := openSession(cloneFlags.syncConnection)
		if err != nil {
			return err
		}
		defer sess.close()

		if cloneFlags.batchSize <= 0 {
			cloneFlags.batchSize = sess.cfg.BatchSize
		}

		opts := optionsFromFlags(cloneFlags)
		opts.SkipViews = cloneSkipViews
		opts.SkipSyncData = cloneSkipSyncData

		retryRecords, _ := sess.retryFuncs()

		_, err = sess.orch.Clone(cmd.Context(), sess.src, sess.tgt, sess.sourceParams(), sess.targetParams(),
			sess.conn.ExcludedTables, sess.cfg.Backup.Path, retryRecords, opts)
		return err
	},
}

func init() {
	cloneCmd.Flags().StringVar(&cloneFlags.syncConnection, "sync-connection", "", "named connection from the config file")
	cloneCmd.Flags().BoolVar(&cloneFlags.force, "force", false, "skip the confirmation prompt")
	cloneCmd.Flags().StringVar(&cloneFlags.tables, "tables", "", "comma-separated table allowlist")
	cloneCmd.Flags().StringVar(&cloneFlags.views, "views", "", "comma-separated view allowlist")
	cloneCmd.Flags().BoolVar(&cloneFlags.includeExcluded, "include-excluded", false, "ignore excluded_tables from the config")
	cloneCmd.Flags().BoolVar(&cloneFlags.dryRun, "dry-run", false, "print the plan without applying it")
	cloneCmd.Flags().BoolVar(&cloneFlags.skipBackup, "skip-backup", false, "skip taking a backup before cloning")
	cloneCmd.Flags().IntVar(&cloneFlags.batchSize, "batch-size", 0, "rows per batch (default from config)")
	cloneCmd.Flags().IntVar(&cloneFlags.memoryLimitMB, "memory-limit", -1, "soft memory limit in MB, -1 = unrestricted")
	cloneCmd.Flags().BoolVar(&cloneSkipViews, "skip-views", false, "skip dropping and recreating views")
	cloneCmd.Flags().BoolVar(&cloneSkipSyncData, "skip-sync-data", false, "rebuild structure only, skip data sync")
}
