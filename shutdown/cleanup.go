package shutdown

import (
	"context"
	"os"
	"path/filepath"

	"asset_editor/core"

	"go.uber.org/zap"
)

// PartialSuffix marks an export that has not been renamed into place yet.
const PartialSuffix = ".part"

// SweepPartialExports returns a hook that deletes leftover *.part files in
// dir. Failures are logged and never fail shutdown.
func SweepPartialExports(logger *zap.Logger, dir string) core.ShutdownFunc {
	return func(ctx context.Context) error {
		matches, err := filepath.Glob(filepath.Join(dir, "*"+PartialSuffix))
		if err != nil || len(matches) == 0 {
			return nil
		}
		removed := 0
		for _, path := range matches {
			if ctx.Err() != nil {
				logger.Warn("export sweep cut short", zap.Int("removed", removed))
				return nil
			}
			if err := os.Remove(path); err != nil {
				logger.Warn("failed to remove partial export", zap.String("file", filepath.Base(path)), zap.Error(err))
				continue
			}
			removed++
		}
		logger.Info("removed partial exports", zap.Int("count", removed))
		return nil
	}
}
