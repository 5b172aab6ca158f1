package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// RetryFailed makes every currently failed id eligible again and runs a full pass.
// Failed rows may sit before the cursor, so the pass restarts from the first data row;
// ids already completed are skipped by dedupe.
func (m *Migrator) RetryFailed(ctx context.Context) error {
	ids, err := m.checkpoint.ResetFailures()
	if err != nil {
		return fmt.Errorf("failed to reset failures: %w", err)
	}

	if len(ids) == 0 {
		m.logger.Info("No failed items to retry")
	} else {
		m.logger.Info("Retrying failed items", zap.Strings("ids", ids))
		if err := m.checkpoint.AdvanceCursor(0); err != nil {
			return fmt.Errorf("failed to rewind cursor: %w", err)
		}
	}

	return m.Run(ctx)
}
