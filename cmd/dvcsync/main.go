package main

import (
	"errors"
	"os"

	"github.com/TheMichaelB/dvcsync/internal/models"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errBatchFailed) {
			if jsonOutput {
				printJSON(map[string]interface{}{
					"success": false,
					"error":   err.Error(),
				})
			} else {
				printError("%v", err)
			}
		}
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error onto the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case models.IsConfigError(err):
		return 2
	default:
		return 1
	}
}
