package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"drive2youtube/internal/checkpoint"
	"drive2youtube/internal/config"
	"drive2youtube/internal/metrics"
	"drive2youtube/internal/progress"
	"drive2youtube/internal/storage"
	"drive2youtube/internal/worker"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Collaborators are the services a Migrator drives
type Collaborators struct {
	WorkSource  storage.WorkSource
	Source      storage.Source
	Destination storage.Destination
	Store       checkpoint.Store
}

// Migrator represents the main migration application
type Migrator struct {
	cfg        *config.Config
	logger     *zap.Logger
	lister     *RowLister
	processor  *worker.ItemProcessor
	checkpoint checkpoint.Store
	metrics    *metrics.Collector

	sleep       func(ctx context.Context, d time.Duration) error
	progressOut io.Writer
}

// passStats counts outcomes of a single pass
type passStats struct {
	processed int
	succeeded int
	failed    int
	skipped   int
	invalid   int
}

// New creates a new migrator instance from configuration
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Migrator, error) {
	collaborators, err := BuildCollaborators(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewWithCollaborators(cfg, collaborators, logger), nil
}

// NewWithCollaborators creates a migrator around already constructed services
func NewWithCollaborators(cfg *config.Config, c Collaborators, logger *zap.Logger) *Migrator {
	metricsCollector := metrics.New()

	processor := worker.NewItemProcessor(worker.Config{
		TempDir: cfg.Migration.TempDir,
	}, c.Source, c.Destination, metricsCollector, logger)

	return &Migrator{
		cfg:    cfg,
		logger: logger,
		lister: &RowLister{
			source: c.WorkSource,
			logger: logger,
		},
		processor:   processor,
		checkpoint:  c.Store,
		metrics:     metricsCollector,
		sleep:       sleepContext,
		progressOut: os.Stdout,
	}
}

// Metrics returns the collector fed by this migrator
func (m *Migrator) Metrics() *metrics.Collector {
	return m.metrics
}

// Execute runs the mode selected by configuration: an optional progress reset,
// then either the retry coordinator or a single pass.
func (m *Migrator) Execute(ctx context.Context) error {
	if m.cfg.Migration.MetricsAddr != "" {
		go func() {
			if err := m.metrics.StartServer(m.cfg.Migration.MetricsAddr); err != nil {
				m.logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	if m.cfg.Migration.ResetProgress {
		if err := m.checkpoint.Reset(); err != nil {
			return fmt.Errorf("failed to reset progress: %w", err)
		}
		m.logger.Info("Progress reset")
	}

	if m.cfg.Migration.RetryFailed {
		return m.RetryFailed(ctx)
	}
	return m.Run(ctx)
}

// Run executes one pass over the work list
func (m *Migrator) Run(ctx context.Context) error {
	logger := m.logger.With(zap.String("run_id", uuid.NewString()))

	logger.Info("Starting migration",
		zap.String("source_id", m.cfg.WorkList.SourceID),
		zap.String("range", m.cfg.WorkList.Range),
		zap.Duration("item_delay", m.cfg.Migration.ItemDelay),
		zap.Bool("dry_run", m.cfg.Migration.DryRun),
	)

	rows, err := m.lister.List(ctx, m.cfg.WorkList.SourceID, m.cfg.WorkList.Range)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		logger.Info("No data found in work list")
		return nil
	}

	start := max(1, m.checkpoint.State().LastProcessedRow)
	if start > 1 {
		logger.Info("Resuming", zap.Int("row", start))
	}
	m.metrics.SetTotalItems(int64(max(0, len(rows)-start)))

	// Create progress display if enabled and supported and not in dry-run mode
	var progressDisplay *progress.Display
	if m.cfg.Migration.ShowProgress && !m.cfg.Migration.DryRun && progress.IsTerminalSupported() {
		progressDisplay = progress.NewDisplay(m.metrics.GetProgressTracker(), 5*time.Second, m.progressOut)
		progressDisplay.Start()
		defer progressDisplay.Stop()
	}

	var stats passStats
	for i := start; i < len(rows); i++ {
		if err := ctx.Err(); err != nil {
			logger.Warn("Migration interrupted", zap.Int("row", i))
			return err
		}

		item, err := worker.ParseRow(rows[i])
		if err != nil {
			logger.Warn("Skipping invalid row", zap.Int("row", i), zap.Error(err))
			m.metrics.IncInvalid()
			stats.invalid++
			continue
		}

		if m.checkpoint.IsCompleted(item.ID) {
			logger.Info("Skipping completed item", zap.Int("row", i), zap.String("id", item.ID))
			m.metrics.IncSkipped()
			stats.skipped++
			continue
		}

		if m.cfg.Migration.DryRun {
			logger.Info("Would migrate item",
				zap.Int("row", i),
				zap.String("id", item.ID),
				zap.String("title", item.Title),
				zap.String("source", item.SourceReference),
			)
			continue
		}

		if err := m.processItem(ctx, logger, i, item, &stats); err != nil {
			return err
		}

		if err := m.sleep(ctx, m.cfg.Migration.ItemDelay); err != nil {
			logger.Warn("Migration interrupted", zap.Int("row", i+1))
			return err
		}
	}

	state := m.checkpoint.State()
	logger.Info("Migration completed",
		zap.Int("completed", len(state.ProcessedIDs)),
		zap.Int("failures", len(state.FailedUploads)),
		zap.Int("processed", stats.processed),
		zap.Int("succeeded", stats.succeeded),
		zap.Int("failed", stats.failed),
		zap.Int("skipped", stats.skipped),
		zap.Int("invalid", stats.invalid),
	)
	return nil
}

// processItem runs one item and records its outcome. Only persistence and
// interruption errors are returned; item failures are recorded.
func (m *Migrator) processItem(ctx context.Context, logger *zap.Logger, row int, item worker.WorkItem, stats *passStats) error {
	logger = logger.With(zap.Int("row", row), zap.String("id", item.ID))
	logger.Info("Processing item", zap.String("title", item.Title))

	m.metrics.StartItem(item.ID)
	stats.processed++

	externalID, err := m.processor.Process(ctx, item, m.metrics.SetUploadPercent)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.Warn("Item interrupted", zap.Error(err))
			return ctxErr
		}

		logger.Error("Item failed", zap.Error(err))
		m.metrics.IncFailed()
		stats.failed++
		if err := m.checkpoint.RecordFailure(item.ID, failureReason(err)); err != nil {
			return fmt.Errorf("failed to record failure for %s: %w", item.ID, err)
		}
		return nil
	}

	logger.Info("Item migrated", zap.String("external_id", externalID))
	m.metrics.IncSuccess()
	stats.succeeded++

	if err := m.checkpoint.RecordSuccess(item.ID); err != nil {
		return fmt.Errorf("failed to record success for %s: %w", item.ID, err)
	}
	if err := m.checkpoint.AdvanceCursor(row + 1); err != nil {
		return fmt.Errorf("failed to advance cursor past row %d: %w", row, err)
	}
	return nil
}

// failureReason returns the underlying cause of a transfer error
func failureReason(err error) string {
	var transferErr *worker.TransferError
	if errors.As(err, &transferErr) {
		return transferErr.Err.Error()
	}
	return err.Error()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the metrics server and releases the progress store
func (m *Migrator) Close() error {
	var errs []error
	if m.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop metrics server: %w", err))
		}
	}
	if m.checkpoint != nil {
		if err := m.checkpoint.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
