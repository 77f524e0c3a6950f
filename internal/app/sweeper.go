package app

import (
	"context"
	"time"
)

// auditRetention matches the 90 day retention policy applied to audit rows.
const auditRetention = 90 * 24 * time.Hour

// RunSweeper periodically removes expired sessions, stale rate limit
// windows and audit rows past retention. Blocks until ctx is cancelled.
func (a *App) RunSweeper(ctx context.Context) error {
	interval := a.Config.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.sweepOnce(ctx)
		}
	}
}

func (a *App) sweepOnce(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, a.Config.StoreTimeout)
	defer cancel()

	removed, err := a.Sessions.SweepExpired(sweepCtx)
	if err != nil {
		a.Logger.Warn("session sweep failed", "error", err)
	} else if removed > 0 {
		a.Logger.Info("swept expired sessions", "count", removed)
	}

	if a.Limiter != nil {
		a.Limiter.Sweep()
	}

	purged, err := a.Audits.DeleteOlderThan(sweepCtx, time.Now().Add(-auditRetention))
	if err != nil {
		a.Logger.Warn("audit retention sweep failed", "error", err)
	} else if purged > 0 {
		a.Logger.Info("purged audit rows past retention", "count", purged)
	}
}
