// Command pgsync is the CLI entrypoint: three subcommands — pull,
// clone, restore — driving the sync engine against a named connection
// from the YAML config file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pgsync",
	Short: "One-way PostgreSQL sync: remote source into a local target",
	Long: `pgsync pulls or clones a remote PostgreSQL database into a local one
over an SSH tunnel, or restores a local database from a prior backup.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "pgsync.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(cloneCmd)
	rootCmd.AddCommand(restoreCmd)
}
