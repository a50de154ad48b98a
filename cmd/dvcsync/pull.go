package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/dvcsync/internal/client"
	"github.com/TheMichaelB/dvcsync/internal/models"
)

var pullCmd = &cobra.Command{
	Use:     "pull <targets...>",
	Aliases: []string{"fetch"},
	Short:   "Download objects from the remote into the cache",
	Long: `Pull downloads the given objects into the local cache. For a directory
object the manifest is read from the remote and every member is fetched.
Objects missing from the remote are reported and make the command fail.`,
	Example: `  dvcsync pull 3b5d5c3712955042212316173ccf37be.dir
  dvcsync fetch .dvc/cache/3b/5d5c3712955042212316173ccf37be`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPull,
}

var pullJobs int

func init() {
	rootCmd.AddCommand(pullCmd)

	pullCmd.Flags().IntVarP(&pullJobs, "jobs", "j", 0,
		"Number of parallel transfers (default: core.jobs)")
}

func runPull(cmd *cobra.Command, args []string) error {
	return runBatch(pullJobs, func(ctx context.Context, c *client.Client) (*models.BatchSummary, error) {
		return c.Sync.Pull(ctx, args)
	})
}
