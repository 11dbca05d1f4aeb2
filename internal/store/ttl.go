package store

import (
	"context"
	"log/slog"
	"time"
)

// StartTTLWorker periodically removes conversations whose last activity
// exceeded the retention TTL. Runs until ctx is cancelled.
func StartTTLWorker(ctx context.Context, s ConversationStore, ttl, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				removed, err := s.CleanupExpired(cleanupCtx, ttl)
				cancel()
				if err != nil {
					logger.Warn("conversation TTL cleanup failed", "error", err)
					continue
				}
				if removed > 0 {
					logger.Info("expired conversations removed", "count", removed, "ttl", ttl)
				}
			}
		}
	}()
}
