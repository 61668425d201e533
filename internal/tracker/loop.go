package tracker

import (
	"context"
	"time"

	"github.com/matheus3301/fieldops/internal/backend"
	"github.com/matheus3301/fieldops/internal/bus"
	"github.com/matheus3301/fieldops/internal/geo"
	"go.uber.org/zap"
)

// run ticks once immediately, then arms a fresh timer after each tick so
// ticks never overlap.
func (t *Tracker) run(ctx context.Context, userID int64, interval time.Duration) {
	defer t.wg.Done()
	for {
		t.tick(ctx, userID)
		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// watch keeps the most recent fix reported by the geolocation source.
func (t *Tracker) watch(ctx context.Context) {
	defer t.wg.Done()
	for fix := range t.geo.Watch(ctx) {
		t.fixMu.Lock()
		f := fix
		t.lastFix = &f
		t.fixMu.Unlock()
	}
}

func (t *Tracker) position(ctx context.Context) (geo.Fix, error) {
	t.fixMu.Lock()
	last := t.lastFix
	t.fixMu.Unlock()
	if last != nil {
		return *last, nil
	}
	ctx, cancel := context.WithTimeout(ctx, t.opts.GeoTimeout)
	defer cancel()
	return t.geo.Current(ctx)
}

func (t *Tracker) tick(ctx context.Context, userID int64) {
	fix, err := t.position(ctx)
	if err != nil {
		if ctx.Err() == nil {
			t.logger.Warn("no position this tick", zap.Error(err))
		}
		return
	}

	p := backend.LocationPayload{
		User:      userID,
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Timestamp: time.Now().UTC().Format(timestampLayout),
	}

	if t.net.Online() {
		err := t.api.PostLocation(ctx, p)
		if err == nil {
			t.logger.Debug("location sent", zap.Float64("lat", p.Latitude), zap.Float64("lng", p.Longitude))
			t.bus.Emit(bus.KindTrackerSample, p)
			t.flushDue(ctx)
			return
		}
		if ctx.Err() != nil {
			t.logger.Info("location post interrupted by stop, queuing")
		} else {
			t.logger.Warn("location post failed, queuing", zap.Error(err))
		}
	}

	if err := t.queue.Enqueue(p); err != nil {
		t.logger.Error("location sample lost", zap.Error(err))
	}
}

// flushDue opportunistically drains entries whose backoff has elapsed.
func (t *Tracker) flushDue(ctx context.Context) {
	n, err := t.queue.Pending()
	if err != nil || n == 0 {
		return
	}
	if _, err := t.queue.Flush(ctx, false); err != nil && ctx.Err() == nil {
		t.logger.Warn("opportunistic flush failed", zap.Error(err))
	}
}
