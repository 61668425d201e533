// Package tracker runs the attendance location loop: sample a position every
// interval, post it, and queue it when the backend cannot take it.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/fieldops/internal/backend"
	"github.com/matheus3301/fieldops/internal/bus"
	"github.com/matheus3301/fieldops/internal/geo"
	"github.com/matheus3301/fieldops/internal/outbox"
	"github.com/matheus3301/fieldops/internal/status"
	"github.com/matheus3301/fieldops/internal/store"
	"go.uber.org/zap"
)

// ErrNoUser is returned by Start without a user id.
var ErrNoUser = errors.New("tracker: no user id")

// timestampLayout is ISO-8601 with millisecond precision in UTC.
const timestampLayout = "2006-01-02T15:04:05.000Z"

const configTimeout = 10 * time.Second

// Backend is the part of the REST client the tracker needs.
type Backend interface {
	PostLocation(ctx context.Context, p backend.LocationPayload) error
	LocationLogConfig(ctx context.Context) (*backend.LocationLogConfig, error)
}

// Queue holds samples that could not be posted.
type Queue interface {
	Enqueue(p backend.LocationPayload) error
	Flush(ctx context.Context, force bool) (outbox.FlushResult, error)
	Pending() (int, error)
}

// Storage persists the attendance marker and the cached interval.
type Storage interface {
	GetJSON(key string, v any) (bool, error)
	SetJSON(key string, v any) error
	DeleteValue(key string) error
}

// Connectivity reports whether the backend is believed reachable.
type Connectivity interface {
	Online() bool
}

// Options tunes the loop.
type Options struct {
	DefaultInterval time.Duration
	GeoTimeout      time.Duration
}

// Marker is persisted under attendance_active while tracking is on, so a
// restarted daemon resumes for the same user.
type Marker struct {
	UserID    int64     `json:"userId"`
	StartedAt time.Time `json:"startedAt"`
}

// Snapshot describes the tracker for status reporting.
type Snapshot struct {
	State     status.State
	Reason    string
	UserID    int64
	StartedAt time.Time
	Interval  time.Duration
	Pending   int
}

// Deps groups the tracker's collaborators.
type Deps struct {
	API     Backend
	Geo     geo.Source
	Queue   Queue
	Storage Storage
	Net     Connectivity
	Status  *status.Machine
	Bus     *bus.Bus
	Logger  *zap.Logger
}

// Tracker is the location loop. At most one loop runs at a time.
type Tracker struct {
	api     Backend
	geo     geo.Source
	queue   Queue
	kv      Storage
	net     Connectivity
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger
	opts    Options

	mu        sync.Mutex
	userID    int64
	startedAt time.Time
	interval  time.Duration
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	fixMu   sync.Mutex
	lastFix *geo.Fix

	listenMu   sync.Mutex
	stopListen context.CancelFunc
	listenDone chan struct{}
}

// New creates an idle tracker.
func New(d Deps, opts Options) *Tracker {
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = time.Minute
	}
	if opts.GeoTimeout <= 0 {
		opts.GeoTimeout = 10 * time.Second
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Status == nil {
		d.Status = status.NewMachine(d.Bus)
	}
	return &Tracker{
		api:     d.API,
		geo:     d.Geo,
		queue:   d.Queue,
		kv:      d.Storage,
		net:     d.Net,
		machine: d.Status,
		bus:     d.Bus,
		logger:  d.Logger,
		opts:    opts,
	}
}

// Status returns the lifecycle state.
func (t *Tracker) Status() status.State {
	return t.machine.Current()
}

// UserID returns the user being tracked, or 0.
func (t *Tracker) UserID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.userID
}

// Interval returns the sampling period of the running loop, or 0.
func (t *Tracker) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// Snapshot returns the current state for display.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	s := Snapshot{
		State:     t.machine.Current(),
		Reason:    t.machine.Reason(),
		UserID:    t.userID,
		StartedAt: t.startedAt,
		Interval:  t.interval,
	}
	t.mu.Unlock()
	if n, err := t.queue.Pending(); err == nil {
		s.Pending = n
	}
	return s
}

// Start begins tracking userID. It is a no-op while a loop is starting or
// running, so repeated calls never create a second timer.
func (t *Tracker) Start(ctx context.Context, userID int64) error {
	return t.start(ctx, userID, time.Now().UTC())
}

func (t *Tracker) start(ctx context.Context, userID int64, startedAt time.Time) error {
	if userID <= 0 {
		return ErrNoUser
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if cur := t.machine.Current(); cur.Active() {
		if userID != t.userID {
			t.logger.Warn("tracker already running for another user",
				zap.Int64("running", t.userID), zap.Int64("requested", userID))
		}
		return nil
	}
	if err := t.machine.Transition(status.Starting); err != nil {
		return err
	}

	if err := t.kv.SetJSON(store.KeyAttendanceActive, Marker{UserID: userID, StartedAt: startedAt}); err != nil {
		t.fail(fmt.Errorf("persist attendance marker: %w", err))
		return err
	}

	interval := t.resolveInterval(ctx)
	loopCtx, cancel := context.WithCancel(context.Background())
	t.userID = userID
	t.startedAt = startedAt
	t.interval = interval
	t.cancel = cancel

	t.wg.Add(2)
	go t.watch(loopCtx)
	go t.run(loopCtx, userID, interval)

	if err := t.machine.Transition(status.Running); err != nil {
		return err
	}
	t.logger.Info("location tracking started",
		zap.Int64("user_id", userID), zap.Duration("interval", interval))
	return nil
}

func (t *Tracker) fail(err error) {
	t.logger.Error("location tracking failed", zap.Error(err))
	if terr := t.machine.TransitionWithReason(status.Error, err.Error()); terr != nil {
		t.logger.Error("tracker state", zap.Error(terr))
	}
}

// Stop ends tracking: the loop and watch are halted, the attendance marker is
// removed, and queued samples get one forced delivery attempt when online.
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.machine.Current() {
	case status.Idle:
		return nil
	case status.Error:
		if err := t.kv.DeleteValue(store.KeyAttendanceActive); err != nil {
			return fmt.Errorf("clear attendance marker: %w", err)
		}
		return t.machine.Transition(status.Idle)
	}

	if err := t.machine.Transition(status.Stopping); err != nil {
		return err
	}
	t.haltLocked()

	if err := t.kv.DeleteValue(store.KeyAttendanceActive); err != nil {
		t.fail(fmt.Errorf("clear attendance marker: %w", err))
		return err
	}
	if t.net.Online() {
		if _, err := t.queue.Flush(ctx, true); err != nil {
			t.logger.Warn("flush on stop failed", zap.Error(err))
		}
	}

	t.logger.Info("location tracking stopped")
	return t.machine.Transition(status.Idle)
}

// haltLocked cancels the loop and waits for the in-flight tick.
func (t *Tracker) haltLocked() {
	if t.cancel != nil {
		t.cancel()
		t.wg.Wait()
	}
	t.cancel = nil
	t.userID = 0
	t.startedAt = time.Time{}
	t.interval = 0
	t.fixMu.Lock()
	t.lastFix = nil
	t.fixMu.Unlock()
}

// Resume restarts tracking from the persisted marker, if any.
func (t *Tracker) Resume(ctx context.Context) error {
	var m Marker
	ok, err := t.kv.GetJSON(store.KeyAttendanceActive, &m)
	if err != nil {
		return fmt.Errorf("read attendance marker: %w", err)
	}
	if !ok {
		return nil
	}
	if m.UserID <= 0 {
		t.logger.Warn("discarding attendance marker without user")
		return t.kv.DeleteValue(store.KeyAttendanceActive)
	}
	if m.StartedAt.IsZero() {
		m.StartedAt = time.Now().UTC()
	}
	t.logger.Info("resuming location tracking", zap.Int64("user_id", m.UserID), zap.Time("started_at", m.StartedAt))
	return t.start(ctx, m.UserID, m.StartedAt)
}

// Flush delivers queued samples. force ignores retry backoff.
func (t *Tracker) Flush(ctx context.Context, force bool) (outbox.FlushResult, error) {
	return t.queue.Flush(ctx, force)
}

// Wake is called when the user returns to the app; it forces a flush if the
// backend is reachable.
func (t *Tracker) Wake(ctx context.Context) (outbox.FlushResult, error) {
	if !t.net.Online() {
		n, _ := t.queue.Pending()
		return outbox.FlushResult{Remaining: n}, nil
	}
	return t.queue.Flush(ctx, true)
}

// Listen flushes the queue whenever connectivity comes back. It runs until
// ctx is done or Close is called.
func (t *Tracker) Listen(ctx context.Context) {
	t.listenMu.Lock()
	defer t.listenMu.Unlock()
	if t.stopListen != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	ch, unsub := t.bus.Subscribe(bus.KindNetOnline, 8)
	done := make(chan struct{})
	t.stopListen = cancel
	t.listenDone = done
	go func() {
		defer close(done)
		defer unsub()
		for {
			select {
			case <-ch:
				if _, err := t.queue.Flush(ctx, true); err != nil && ctx.Err() == nil {
					t.logger.Warn("flush on reconnect failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close halts the loop for daemon shutdown. Unlike Stop it keeps the
// attendance marker so the next daemon resumes tracking.
func (t *Tracker) Close() {
	t.listenMu.Lock()
	if t.stopListen != nil {
		t.stopListen()
		<-t.listenDone
		t.stopListen = nil
		t.listenDone = nil
	}
	t.listenMu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.machine.Current().Active() {
		return
	}
	if err := t.machine.Transition(status.Stopping); err != nil {
		t.logger.Error("tracker state", zap.Error(err))
		return
	}
	t.haltLocked()
	_ = t.machine.Transition(status.Idle)
}

// resolveInterval asks the backend first, then the cached value, then the
// configured default. A fresh backend value refreshes the cache.
func (t *Tracker) resolveInterval(ctx context.Context) time.Duration {
	ctx, cancel := context.WithTimeout(ctx, configTimeout)
	defer cancel()

	cfg, err := t.api.LocationLogConfig(ctx)
	if err == nil {
		if d := cfg.Interval(); d > 0 {
			if err := t.kv.SetJSON(store.KeyIntervalMillis, d.Milliseconds()); err != nil {
				t.logger.Warn("cache location interval", zap.Error(err))
			}
			return d
		}
	} else {
		t.logger.Warn("location log config unavailable", zap.Error(err))
	}

	var ms int64
	if ok, err := t.kv.GetJSON(store.KeyIntervalMillis, &ms); err == nil && ok && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return t.opts.DefaultInterval
}
