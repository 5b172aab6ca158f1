package app

import (
	"context"
	"errors"
	"fmt"

	"drive2youtube/internal/storage"

	"go.uber.org/zap"
)

// ErrFatal marks failures that abort the whole pass
var ErrFatal = errors.New("fatal")

// RowLister reads the work list rows for a pass
type RowLister struct {
	source storage.WorkSource
	logger *zap.Logger
}

// List fetches all rows of the work list. Row 0 is the header.
func (l *RowLister) List(ctx context.Context, sourceID, rng string) ([][]string, error) {
	rows, err := l.source.FetchRows(ctx, sourceID, rng)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read work list %s: %w", ErrFatal, sourceID, err)
	}

	l.logger.Info("Fetched work list",
		zap.String("source_id", sourceID),
		zap.Int("rows", len(rows)),
	)
	return rows, nil
}
