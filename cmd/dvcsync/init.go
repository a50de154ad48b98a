package main

import (
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/dvcsync/internal/client"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the cache and fingerprint state",
	Long: `Init creates the cache directory and an empty fingerprint state
document. Every other command refuses to run until this has been done.
Running it again leaves an existing state untouched.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	created, err := client.Init(cfg, logger)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"created": created,
			"state":   cfg.StatePath(),
			"cache":   cfg.CachePath(),
		})
		return nil
	}

	if created {
		printSuccess("Initialized %s state in %s", cfg.Core.StateBackend, cfg.StatePath())
	} else {
		printInfo("State already initialized in %s", cfg.StatePath())
	}
	return nil
}
