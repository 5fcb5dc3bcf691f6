package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pgsync/internal/adapter"
	"pgsync/internal/backup"
	"pgsync/internal/config"
	"pgsync/internal/logging"
)

var restoreSyncConnection string
var restoreList bool

var restoreCmd = &cobra.Command{
	Use:   "restore [file]",
	Short: "Restore the target database from a backup",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		conn, err := cfg.Connection(restoreSyncConnection)
		if err != nil {
			return err
		}

		logger, err := logging.New(verbose)
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}

		mgr := backup.NewManager(adapter.NewPostgresAdapter(logger), logger)

		if restoreList {
			records, err := mgr.List(cfg.Backup.Path)
			if err != nil {
				return err
			}
			for _, r := range records {
				fmt.Printf("%s\t%d bytes\t%s\n", r.Filename, r.Size, r.Timestamp.Format("2006-01-02 15:04:05"))
			}
			return nil
		}

		if len(args) == 0 {
			return fmt.Errorf("restore: file argument required (or pass --list)")
		}

		record, err := mgr.Find(args[0], cfg.Backup.Path)
		if err != nil {
			return err
		}

		tgtParams := adapter.ConnParams{
			Host:     conn.Target.Host,
			Port:     conn.Target.Port,
			User:     conn.Target.Username,
			Password: conn.Target.Password,
			Database: conn.Target.Database,
		}
		return mgr.Restore(cmd.Context(), tgtParams, record.Path)
	},
}

func init() {
	restoreCmd.Flags().StringVar(&restoreSyncConnection, "sync-connection", "", "named connection from the config file")
	restoreCmd.Flags().BoolVar(&restoreList, "list", false, "list available backups and exit")
}
