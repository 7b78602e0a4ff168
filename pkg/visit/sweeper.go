package visit

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper runs VisitEngine's expiry sweep on a fixed cadence
// (EXPIRY_SWEEP_INTERVAL_SECONDS) in a plain ticker loop.
type Sweeper struct {
	svc      *Service
	logger   *slog.Logger
	interval time.Duration
}

// NewSweeper builds a Sweeper.
func NewSweeper(svc *Service, logger *slog.Logger, interval time.Duration) *Sweeper {
	return &Sweeper{svc: svc, logger: logger, interval: interval}
}

// Run blocks, sweeping at each tick, until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	sw.logger.Info("visit expiry sweeper started", "interval", sw.interval)
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("visit expiry sweeper stopped")
			return
		case <-ticker.C:
			n, err := sw.svc.SweepExpired(ctx)
			if err != nil {
				sw.logger.Error("visit expiry sweep tick", "error", err)
				continue
			}
			if n > 0 {
				sw.logger.Info("visit expiry sweep", "expired", n)
			}
		}
	}
}
