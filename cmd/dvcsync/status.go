package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/dvcsync/internal/client"
	"github.com/TheMichaelB/dvcsync/internal/models"
	"github.com/TheMichaelB/dvcsync/internal/services/sync"
)

var statusCmd = &cobra.Command{
	Use:   "status [targets...]",
	Short: "Show whether objects are cached and pushed",
	Long: `Status without --cloud checks that each object and its directory
members are present in the local cache. With --cloud every object is
compared with the remote:

  ok        present on both sides with the same checksum
  new       only in the local cache
  modified  on both sides with different checksums
  deleted   only on the remote`,
	Example: `  dvcsync status
  dvcsync status --cloud -j 32`,
	RunE: runStatus,
}

var (
	statusJobs  int
	statusCloud bool
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().IntVarP(&statusJobs, "jobs", "j", 0,
		"Number of parallel checks (default: core.jobs)")
	statusCmd.Flags().BoolVar(&statusCloud, "cloud", false,
		"Compare with the remote instead of the local cache")
}

func runStatus(cmd *cobra.Command, args []string) error {
	return runBatch(statusJobs, func(ctx context.Context, c *client.Client) (*models.BatchSummary, error) {
		return c.Sync.Status(ctx, args, sync.SyncOptions{Cloud: statusCloud})
	})
}
