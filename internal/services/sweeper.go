package service

import (
	"context"
	"log/slog"
	"time"
)

// RunSweeper expires stale orders every interval until ctx is done.
func RunSweeper(ctx context.Context, orders *OrderService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("order sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("order sweeper stopped")
			return
		case <-ticker.C:
			if _, err := orders.ExpireStale(ctx, orders.now()); err != nil {
				slog.Error("order sweep failed", "error", err)
			}
		}
	}
}
