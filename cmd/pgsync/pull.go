package main

import (
	"runtime/debug"

	"github.com/spf13/cobra"
)

var pullFlags commonFlags
var pullAnalyzeOnly bool
var pullSkipSequences bool

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Incrementally sync the target from the source",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pullFlags.memoryLimitMB > 0 {
			debug.SetMemoryLimit(int64(pullFlags.memoryLimitMB) << 20)
		}

		sess, err := openSession(pullFlags.syncConnection)
		if err != nil {
			return err
		}
		defer sess.close()

		if pullFlags.batchSize <= 0 {
			pullFlags.batchSize = sess.cfg.BatchSize
		}

		opts := optionsFromFlags(pullFlags)
		opts.AnalyzeOnly = pullAnalyzeOnly
		opts.SkipSequences = pullSkipSequences

		retryRecords, retryIDs := sess.retryFuncs()

		_, err = sess.orch.Pull(cmd.Context(), sess.src, sess.tgt, sess.sourceParams(), sess.targetParams(),
			sess.conn.ExcludedTables, sess.cfg.Backup.Path, retryRecords, retryIDs, opts)
		return err
	},
}

func init() {
	pullCmd.Flags().StringVar(&pullFlags.syncConnection, "sync-connection", "", "named connection from the config file")
	pullCmd.Flags().BoolVar(&pullFlags.force, "force", false, "skip the confirmation prompt")
	pullCmd.Flags().StringVar(&pullFlags.tables, "tables", "", "comma-separated table allowlist")
	pullCmd.Flags().StringVar(&pullFlags.views, "views", "", "comma-separated view allowlist")
	pullCmd.Flags().BoolVar(&pullFlags.includeExcluded, "include-excluded", false, "ignore excluded_tables from the config")
	pullCmd.Flags().BoolVar(&pullFlags.dryRun, "dry-run", false, "print the plan without applying it")
	pullCmd.Flags().BoolVar(&pullFlags.skipBackup, "skip-backup", false, "skip taking a backup before syncing")
	pullCmd.Flags().IntVar(&pullFlags.batchSize, "batch-size", 0, "rows per batch (default from config)")
	pullCmd.Flags().IntVar(&pullFlags.memoryLimitMB, "memory-limit", -1, "soft memory limit in MB, -1 = unrestricted")
	pullCmd.Flags().BoolVar(&pullAnalyzeOnly, "analyze-only", false, "print the analysis and exit")
	pullCmd.Flags().BoolVar(&pullSkipSequences, "skip-sequences", false, "skip resetting sequences after sync")
}
