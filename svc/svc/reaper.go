package svc

import (
	"context"
	"sync/atomic"
	"time"

	"binpastes/metrics"
	"binpastes/svc/util"

	"github.com/pkg/errors"
)

// Reaper is the part of a store the reaper needs.
type Reaper interface {
	Reap(ctx context.Context, now time.Time) (int, error)
}

var reaperRunning atomic.Bool

// StartReaper purges expired and consumed pastes every interval until ctx is
// done. Only one reaper runs per process.
func StartReaper(ctx context.Context, store Reaper, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("reaper interval must be positive")
	}
	if !reaperRunning.CompareAndSwap(false, true) {
		return errors.New("reaper already running")
	}
	go runReaper(ctx, store, interval)
	return nil
}
func runReaper(ctx context.Context, store Reaper, interval time.Duration) {
	defer reaperRunning.Store(false)
	reaperRequestID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, reaperRequestID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", reaperRequestID).
		Dur("interval", interval).
		Msg("reaper started")
	for {
		select {
		case <-ctx.Done():
			util.Info().
				Str("request_id", reaperRequestID).
				Msg("reaper shutting down")
			return
		case <-ticker.C:
			reapOnce(ctx, store, time.Now())
		}
	}
}

// reapOnce runs one cycle. Failures are logged and left for the next tick.
func reapOnce(ctx context.Context, store Reaper, now time.Time) int {
	metrics.ReaperCycles.Inc()
	deleted, err := store.Reap(ctx, now)
	if err != nil {
		util.Error().
			Err(err).
			Str("request_id", util.GetRequestID(ctx)).
			Msg("reaper cycle failed")
		return 0
	}
	if deleted > 0 {
		metrics.ReaperDeleted.Add(float64(deleted))
		util.Info().
			Int("deleted", deleted).
			Str("request_id", util.GetRequestID(ctx)).
			Msg("reaper cycle completed")
	}
	return deleted
}
