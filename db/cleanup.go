package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CleanupResult reports one retention pass.
type CleanupResult struct {
	Deleted  int64
	Duration time.Duration
}

// Cleanup deletes history older than retentionDays and runs VACUUM when
// anything was removed. retentionDays 0 deletes everything.
func (r *Repository) Cleanup(ctx context.Context, retentionDays int) (CleanupResult, error) {
	start := time.Now()
	if retentionDays < 0 {
		return CleanupResult{}, fmt.Errorf("retentionDays must be non-negative, got %d", retentionDays)
	}

	cutoff := r.now().AddDate(0, 0, -retentionDays)
	if retentionDays == 0 {
		cutoff = r.now().Add(time.Second)
	}
	n, err := r.DeleteHistoryBefore(ctx, cutoff)
	if err != nil {
		return CleanupResult{}, err
	}
	if n > 0 {
		if _, err := r.db.exec(ctx, "VACUUM"); err != nil {
			return CleanupResult{Deleted: n}, fmt.Errorf("failed to vacuum database: %w", err)
		}
	}
	res := CleanupResult{Deleted: n, Duration: time.Since(start)}
	r.db.logger.Info("history cleanup",
		zap.Int("retention_days", retentionDays),
		zap.Int64("deleted", n),
		zap.Duration("duration", res.Duration))
	return res, nil
}
