package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/dvcsync/internal/client"
	"github.com/TheMichaelB/dvcsync/internal/models"
)

var pushCmd = &cobra.Command{
	Use:   "push [targets...]",
	Short: "Upload cache objects to the remote",
	Long: `Push uploads cache objects the remote does not hold yet. Directory
objects are pushed together with every member their manifest lists.

Targets may be cache object paths, content hashes or working tree paths
that were added before. Without targets every object in the cache is
pushed.`,
	Example: `  dvcsync push
  dvcsync push data/images -j 16`,
	RunE: runPush,
}

var pushJobs int

func init() {
	rootCmd.AddCommand(pushCmd)

	pushCmd.Flags().IntVarP(&pushJobs, "jobs", "j", 0,
		"Number of parallel transfers (default: core.jobs)")
}

func runPush(cmd *cobra.Command, args []string) error {
	return runBatch(pushJobs, func(ctx context.Context, c *client.Client) (*models.BatchSummary, error) {
		return c.Sync.Push(ctx, args)
	})
}
