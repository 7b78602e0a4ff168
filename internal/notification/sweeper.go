package notification

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically deletes notifications past their retention window,
// in a plain ticker loop.
type Sweeper struct {
	repo          *Repo
	logger        *slog.Logger
	interval      time.Duration
	retentionDays int
}

// NewSweeper builds a Sweeper. interval is the sweep cadence;
// retentionDays is NOTIFICATION_RETENTION_DAYS.
func NewSweeper(repo *Repo, logger *slog.Logger, interval time.Duration, retentionDays int) *Sweeper {
	return &Sweeper{repo: repo, logger: logger, interval: interval, retentionDays: retentionDays}
}

// Run blocks, sweeping at each tick, until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	sw.logger.Info("notification sweeper started", "interval", sw.interval, "retention_days", sw.retentionDays)
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("notification sweeper stopped")
			return
		case <-ticker.C:
			n, err := sw.repo.SweepExpired(ctx, sw.retentionDays)
			if err != nil {
				sw.logger.Error("notification sweep tick", "error", err)
				continue
			}
			if n > 0 {
				sw.logger.Info("notification sweep", "deleted", n)
			}
		}
	}
}
