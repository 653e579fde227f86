package storage

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Prune removes artifacts in dir last modified before now-retention and
// returns the removed paths. A retention of zero or less removes nothing.
func Prune(dir string, retention time.Duration, now time.Time, logger *zap.Logger) ([]string, error) {
	if retention <= 0 {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	threshold := now.Add(-retention)

	var removed []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if _, _, err := ParseArtifactName(name); err != nil {
			continue // Skip files with unexpected names
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(threshold) {
			continue
		}

		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			logger.Warn("failed to delete expired artifact", zap.String("path", path), zap.Error(err))
			continue
		}
		logger.Debug("expired artifact deleted", zap.String("path", path))
		removed = append(removed, path)
	}
	return removed, nil
}

// RunPruner prunes dir once, then every interval until ctx is done. It
// returns immediately when retention or interval is not positive.
func RunPruner(ctx context.Context, dir string, retention, interval time.Duration, logger *zap.Logger) {
	if retention <= 0 || interval <= 0 {
		return
	}

	logger.Info("artifact pruner started",
		zap.Duration("retention", retention),
		zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := Prune(dir, retention, time.Now(), logger); err != nil {
			logger.Error("artifact pruning failed", zap.Error(err))
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
