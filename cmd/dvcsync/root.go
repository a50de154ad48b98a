package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/TheMichaelB/dvcsync/internal/client"
	"github.com/TheMichaelB/dvcsync/internal/config"
	"github.com/TheMichaelB/dvcsync/internal/events"
)

var (
	// Global flags
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *events.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dvcsync",
	Short: "Version large data files in a content-addressed cache",
	Long: `dvcsync stores data files and directories in a local content-addressed
cache and keeps that cache in sync with a remote (local directory, S3 or
any S3-compatible store).`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"Config file (default: dvcsync.yaml, .dvc/config.yaml, ~/.config/dvcsync/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"Only print errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Print results as JSON")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(configFile)
	if verbose {
		loader.Set("log.level", "debug")
	} else if quiet || jsonOutput {
		loader.Set("log.level", "error")
	}

	var err error
	cfg, err = loader.Load()
	if err != nil {
		return err
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	events.SetDefault(logger)

	if used := loader.ConfigFileUsed(); used != "" {
		logger.WithField("path", used).Debug("Loaded config file")
	}
	return nil
}

// runContext returns a context that carries the logger and a fresh run id
// and is cancelled on interrupt.
func runContext() (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = events.WithLogger(ctx, logger)
	ctx = events.WithRunID(ctx, uuid.NewString())
	return ctx, cancel
}

// openClient opens the project for a command that needs the cache.
func openClient(ctx context.Context, jobs int) (*client.Client, error) {
	if jobs <= 0 {
		jobs = cfg.Core.Jobs
	}

	// Per-object progress lines only make sense when transfers do not
	// interleave.
	return client.New(ctx, cfg, client.Options{
		Jobs:         jobs,
		ShowProgress: interactive() && jobs == 1,
	}, logger)
}

// interactive reports whether progress output is wanted.
func interactive() bool {
	return !quiet && !jsonOutput && term.IsTerminal(int(os.Stderr.Fd()))
}
