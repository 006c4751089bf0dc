package session

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is used when StartSweeper gets a non-positive interval.
const DefaultSweepInterval = 5 * time.Minute

// StartSweeper runs a background goroutine that periodically resets expired
// awaiting-proof sessions. It stops when ctx is cancelled.
func StartSweeper(ctx context.Context, st *Store, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("session sweeper started", "interval", interval, "timeout", st.Timeout())

		for {
			select {
			case <-ticker.C:
				n, err := st.Sweep(ctx)
				if err != nil {
					slog.Error("session sweeper failed", "error", err)
					continue
				}
				if n > 0 {
					slog.Info("session sweeper reset expired sessions", "count", n)
				}
			case <-ctx.Done():
				slog.Info("session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
