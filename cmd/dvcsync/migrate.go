package main

import (
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/dvcsync/internal/client"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate-state",
	Short: "Copy the fingerprint state to another backend",
	Long: `Migrate-state copies every fingerprint into a new document using the
given backend. Point core.state_file and core.state_backend at the new
location afterwards.`,
	Example: `  dvcsync migrate-state --to sqlite`,
	Args:    cobra.NoArgs,
	RunE:    runMigrate,
}

var migrateTo string

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().StringVar(&migrateTo, "to", "sqlite",
		"Target backend (json or sqlite)")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	target, err := client.MigrateState(cfg, migrateTo, logger)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"backend": migrateTo,
			"path":    target,
		})
		return nil
	}

	printSuccess("Migrated fingerprints to %s", target)
	printInfo("Set core.state_backend=%s and core.state_file=%s to use it", migrateTo, target)
	return nil
}
