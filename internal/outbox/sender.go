// Package outbox holds location samples that could not be delivered and
// replays them once the backend is reachable again.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/fieldops/internal/backend"
	"github.com/matheus3301/fieldops/internal/bus"
	"github.com/matheus3301/fieldops/internal/store"
	"go.uber.org/zap"
)

const (
	defaultCapacity = 500
	defaultBase     = 2 * time.Second
	defaultMax      = 5 * time.Minute
	batchSize       = 100
)

// LocationPoster delivers one sample to the backend.
type LocationPoster interface {
	PostLocation(ctx context.Context, p backend.LocationPayload) error
}

// Options tunes the queue bound and retry backoff.
type Options struct {
	Capacity     int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	PollInterval time.Duration
	// Online gates the background retry loop. Nil means always online.
	Online func() bool
}

// FlushResult summarizes one pass over the queue.
type FlushResult struct {
	Sent      int
	Failed    int
	Remaining int
}

// EvictedEvent is the payload of tracker.queue_evicted.
type EvictedEvent struct {
	Evicted  int
	Capacity int
}

// Sender owns the pending location queue.
type Sender struct {
	db     *store.DB
	poster LocationPoster
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options
	now    func() time.Time

	flushMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSender creates a sender over db. Zero options take the defaults.
func NewSender(db *store.DB, poster LocationPoster, b *bus.Bus, logger *zap.Logger, opts Options) *Sender {
	if opts.Capacity <= 0 {
		opts.Capacity = defaultCapacity
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = defaultMax
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{db: db, poster: poster, bus: b, logger: logger, opts: opts, now: time.Now}
}

// Backoff returns the retry delay after the given number of failed attempts:
// base, 2*base, 4*base... capped at max.
func (s *Sender) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := s.opts.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= s.opts.BackoffMax {
			return s.opts.BackoffMax
		}
	}
	return d
}

// Enqueue stores a sample for later delivery, evicting the oldest entries
// beyond capacity.
func (s *Sender) Enqueue(p backend.LocationPayload) error {
	row := &store.PendingLocation{
		UserID:     p.User,
		Latitude:   p.Latitude,
		Longitude:  p.Longitude,
		RecordedAt: p.Timestamp,
	}
	evicted, err := s.db.EnqueueLocation(row, s.opts.Capacity)
	if err != nil {
		return fmt.Errorf("enqueue location: %w", err)
	}
	s.logger.Info("location queued", zap.Int64("id", row.ID), zap.String("recorded_at", p.Timestamp))
	s.bus.Emit(bus.KindTrackerQueued, p)
	if evicted > 0 {
		s.logger.Warn("pending location queue full, dropped oldest",
			zap.Int("evicted", evicted), zap.Int("capacity", s.opts.Capacity))
		s.bus.Emit(bus.KindTrackerEvicted, EvictedEvent{Evicted: evicted, Capacity: s.opts.Capacity})
	}
	return nil
}

// Pending returns the number of queued samples.
func (s *Sender) Pending() (int, error) {
	return s.db.PendingLocationCount()
}

// Flush sends queued samples in insertion order. Delivered rows are deleted
// and a failed row is rescheduled with backoff. A row the backend rejects is
// skipped; a transport failure ends the pass. force ignores the backoff
// schedule. Concurrent calls are serialized.
func (s *Sender) Flush(ctx context.Context, force bool) (FlushResult, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	var res FlushResult
	seen := make(map[int64]bool)
	for {
		rows, err := s.db.DuePendingLocations(s.now(), force, batchSize)
		if err != nil {
			return res, fmt.Errorf("read pending locations: %w", err)
		}
		progressed := false
		for _, row := range rows {
			if seen[row.ID] {
				continue
			}
			seen[row.ID] = true
			progressed = true

			if err := ctx.Err(); err != nil {
				return s.finish(res, force), err
			}
			if err := s.poster.PostLocation(ctx, payload(row)); err != nil {
				res.Failed++
				s.reschedule(row, err)
				// The backend answered and refused this row; later rows may still go through.
				var apiErr *backend.APIError
				if errors.As(err, &apiErr) {
					continue
				}
				return s.finish(res, force), nil
			}
			if err := s.db.DeletePendingLocation(row.ID); err != nil {
				return s.finish(res, force), fmt.Errorf("delete pending location %d: %w", row.ID, err)
			}
			res.Sent++
		}
		if !progressed || len(rows) < batchSize {
			return s.finish(res, force), nil
		}
	}
}

func (s *Sender) reschedule(row store.PendingLocation, cause error) {
	delay := s.Backoff(row.Attempts + 1)
	next := s.now().Add(delay)
	if err := s.db.MarkPendingFailed(row.ID, next, cause.Error()); err != nil {
		s.logger.Error("failed to reschedule pending location", zap.Int64("id", row.ID), zap.Error(err))
	}
	level := s.logger.Warn
	var apiErr *backend.APIError
	if errors.As(cause, &apiErr) && !apiErr.IsAuth() {
		level = s.logger.Error
	}
	level("pending location not delivered",
		zap.Int64("id", row.ID),
		zap.Int("attempts", row.Attempts+1),
		zap.Duration("retry_in", delay),
		zap.Error(cause),
	)
}

func (s *Sender) finish(res FlushResult, force bool) FlushResult {
	if n, err := s.db.PendingLocationCount(); err == nil {
		res.Remaining = n
	}
	if res.Sent > 0 || res.Failed > 0 {
		s.logger.Info("pending locations flushed",
			zap.Bool("force", force),
			zap.Int("sent", res.Sent),
			zap.Int("failed", res.Failed),
			zap.Int("remaining", res.Remaining),
		)
		s.bus.Emit(bus.KindTrackerFlushed, res)
	}
	return res
}

func payload(row store.PendingLocation) backend.LocationPayload {
	return backend.LocationPayload{
		User:      row.UserID,
		Latitude:  row.Latitude,
		Longitude: row.Longitude,
		Timestamp: row.RecordedAt,
	}
}

// Start begins retrying due entries in the background while online.
func (s *Sender) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

// Stop stops the retry loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel, s.done = nil, nil
	}
}

func (s *Sender) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.opts.Online != nil && !s.opts.Online() {
				continue
			}
			if _, err := s.Flush(ctx, false); err != nil && ctx.Err() == nil {
				s.logger.Error("background flush failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
