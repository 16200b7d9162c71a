package session

import (
	"context"
	"log/slog"
	"time"
)

const defaultSweepInterval = 5 * time.Minute

// Sweeper is implemented by stores that can drop expired tokens.
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// StartSweeper runs a background goroutine that periodically removes
// expired tokens until ctx is done.
func StartSweeper(ctx context.Context, s Sweeper, interval time.Duration) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval)

		sweep(ctx, s)
		for {
			select {
			case <-ticker.C:
				sweep(ctx, s)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, s Sweeper) {
	deleted, err := s.DeleteExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Session sweeper failed to delete expired tokens", "error", err)
		}
		return
	}
	if deleted > 0 {
		slog.Info("Session sweeper removed expired tokens", "count", deleted)
	}
}
