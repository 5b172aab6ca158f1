package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"drive2youtube/internal/app"
	"drive2youtube/internal/config"
	"drive2youtube/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "drive2youtube [flags] <source-id>",
	Short: "Migrate videos listed in a spreadsheet from Google Drive to YouTube",
	Long: `A resumable, rate-limited bulk video migrator. Each work list row names a source
asset, its title, description, tags and a unique id. Progress is checkpointed after
every item so an interrupted run picks up where it stopped.`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         runMigration,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, or toml by extension)")
	rootCmd.PersistentFlags().String("progress-file", "progress.json", "Progress file")
	rootCmd.PersistentFlags().String("progress-backend", config.BackendJSON, "Progress backend (json/sqlite)")
	rootCmd.PersistentFlags().String("token-file", "token.json", "OAuth token file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug/info/warn/error)")
	rootCmd.PersistentFlags().String("log-file", "upload.log", "Log file, empty for stderr only")

	// Work list flags
	rootCmd.Flags().String("range", "Sheet1!A:E", "Work list range")
	rootCmd.Flags().String("worklist", config.WorkListSheets, "Work list kind (sheets/csv)")
	rootCmd.Flags().String("source", config.SourceDrive, "Asset source kind (drive/s3)")
	rootCmd.Flags().String("target", config.TargetYouTube, "Upload target kind (youtube/s3)")

	// Migration flags
	rootCmd.Flags().Bool("retry-failed", false, "Clear recorded failures and retry them")
	rootCmd.Flags().Bool("reset-progress", false, "Discard saved progress before running")
	rootCmd.Flags().String("temp-dir", "./temp_videos", "Scratch directory for downloads")
	rootCmd.Flags().Duration("item-delay", config.Default().Migration.ItemDelay, "Pause after each processed item")
	rootCmd.Flags().Bool("dry-run", false, "Parse and dedupe rows without migrating")
	rootCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	rootCmd.Flags().Bool("show-progress", true, "Show progress display on a terminal (auto-disabled for dry-run)")

	rootCmd.AddCommand(statusCmd, authCmd)
}

func runMigration(cmd *cobra.Command, args []string) error {
	var sourceID string
	if len(args) > 0 {
		sourceID = args[0]
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load(ctx, configFile, sourceID, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			log.Info("Received shutdown signal, stopping after the current item...")
			cancel()
		case <-ctx.Done():
		}
	}()

	// Create application
	migrator, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to create migrator", zap.Error(err))
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	err = migrator.Execute(ctx)

	// Close migrator resources after migration completes or is cancelled
	if closeErr := migrator.Close(); closeErr != nil {
		log.Error("Error closing migrator", zap.Error(closeErr))
	}

	return migrationResult(err, log)
}

// migrationResult maps the outcome of a run to the command error. An interrupted
// run has already saved its progress and is not a failure.
func migrationResult(err error, log *zap.Logger) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		log.Info("Migration interrupted, progress saved; run again to resume")
		return nil
	default:
		log.Error("Migration failed", zap.Error(err))
		return err
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
