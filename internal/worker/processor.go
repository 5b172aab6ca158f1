package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"drive2youtube/internal/metrics"
	"drive2youtube/internal/storage"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// ErrInvalidReference is returned when an item's source reference cannot be resolved
var ErrInvalidReference = storage.ErrInvalidReference

// Step names a stage of the item pipeline
type Step string

const (
	StepLocate   Step = "locate"
	StepScratch  Step = "scratch"
	StepDownload Step = "download"
	StepUpload   Step = "upload"
)

// TransferError reports a failed item pipeline step
type TransferError struct {
	ItemID string
	Step   Step
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Step, e.ItemID, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// ItemProcessor moves one work item from the source to the destination
type ItemProcessor struct {
	config  Config
	source  storage.Source
	dest    storage.Destination
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewItemProcessor creates a processor. The metrics collector may be nil.
func NewItemProcessor(cfg Config, source storage.Source, dest storage.Destination, collector *metrics.Collector, logger *zap.Logger) *ItemProcessor {
	return &ItemProcessor{
		config:  cfg,
		source:  source,
		dest:    dest,
		metrics: collector,
		logger:  logger,
	}
}

// Process fetches the item into scratch storage, uploads it and removes the scratch file.
// It returns the destination's identifier for the asset.
func (p *ItemProcessor) Process(ctx context.Context, item WorkItem, onProgress storage.ProgressFunc) (string, error) {
	startTime := time.Now()

	locator, err := p.source.Locate(item.SourceReference)
	if err != nil {
		return "", &TransferError{ItemID: item.ID, Step: StepLocate, Err: err}
	}

	if err := os.MkdirAll(p.config.TempDir, 0o755); err != nil {
		return "", &TransferError{ItemID: item.ID, Step: StepScratch, Err: err}
	}

	scratchPath := filepath.Join(p.config.TempDir, ScratchName(item.ID))
	defer p.removeScratch(item.ID, scratchPath)

	p.logger.Debug("Downloading asset", zap.String("id", item.ID), zap.String("locator", locator))
	if err := p.source.Download(ctx, locator, scratchPath); err != nil {
		return "", &TransferError{ItemID: item.ID, Step: StepDownload, Err: err}
	}

	if info, err := os.Stat(scratchPath); err == nil {
		p.logger.Info("Downloaded asset",
			zap.String("id", item.ID),
			zap.String("size", humanize.IBytes(uint64(info.Size()))),
		)
	}

	externalID, err := p.dest.Upload(ctx, scratchPath, storage.Metadata{
		Title:       item.Title,
		Description: item.Description,
		Tags:        item.Tags,
	}, onProgress)
	if err != nil {
		return "", &TransferError{ItemID: item.ID, Step: StepUpload, Err: err}
	}

	if p.metrics != nil {
		p.metrics.ObserveDuration(time.Since(startTime))
	}
	return externalID, nil
}

// removeScratch deletes the scratch file. Failures are logged, never returned.
func (p *ItemProcessor) removeScratch(id, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("Failed to remove scratch file",
			zap.String("id", id),
			zap.String("path", path),
			zap.Error(err),
		)
	}
}
