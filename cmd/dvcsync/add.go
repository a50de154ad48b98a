package main

import (
	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add <paths...>",
	Short: "Store files or directories in the cache",
	Long: `Add hashes each path and copies its content into the cache. A directory
is stored as a manifest object plus one object per file.`,
	Example: `  dvcsync add data/train.csv
  dvcsync add data/images`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

func init() {
	rootCmd.AddCommand(addCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	ctx, cancel := runContext()
	defer cancel()

	c, err := openClient(ctx, 0)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil {
			logger.WithError(cerr).Error("Failed to close project")
		}
	}()

	hashes, err := c.Sync.Add(args)

	if jsonOutput {
		added := make([]map[string]string, 0, len(hashes))
		for i, h := range hashes {
			added = append(added, map[string]string{
				"path": args[i],
				"md5":  h.String(),
			})
		}
		result := map[string]interface{}{
			"success": err == nil,
			"added":   added,
		}
		if err != nil {
			result["error"] = err.Error()
		}
		printJSON(result)
		if err != nil {
			return errBatchFailed
		}
		return nil
	}

	for i, h := range hashes {
		printSuccess("%s  %s", h, args[i])
	}
	return err
}
