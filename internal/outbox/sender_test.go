package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/fieldops/internal/backend"
	"github.com/matheus3301/fieldops/internal/bus"
	"github.com/matheus3301/fieldops/internal/store"
	"go.uber.org/zap"
)

// mockPoster records calls and returns configurable results.
type mockPoster struct {
	mu     sync.Mutex
	calls  []backend.LocationPayload
	err    error
	reject func(backend.LocationPayload) error
}

func (m *mockPoster) PostLocation(_ context.Context, p backend.LocationPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, p)
	if m.reject != nil {
		if err := m.reject(p); err != nil {
			return err
		}
	}
	return m.err
}

func (m *mockPoster) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *mockPoster) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sample(i int) backend.LocationPayload {
	return backend.LocationPayload{
		User:      42,
		Latitude:  float64(i),
		Longitude: float64(-i),
		Timestamp: time.Date(2026, 10, 15, 8, i, 0, 0, time.UTC).Format(time.RFC3339),
	}
}

func TestBackoff(t *testing.T) {
	s := NewSender(nil, nil, nil, nil, Options{BackoffBase: 2 * time.Second, BackoffMax: 5 * time.Minute})
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{8, 256 * time.Second},
		{9, 5 * time.Minute},
		{60, 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := s.Backoff(tt.attempts); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestFlushSendsInOrderAndDeletes(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	ch, unsub := b.Subscribe(bus.KindTrackerFlushed, 4)
	defer unsub()
	mock := &mockPoster{}
	logger, _ := zap.NewDevelopment()
	s := NewSender(db, mock, b, logger, Options{})

	for i := 1; i <= 3; i++ {
		if err := s.Enqueue(sample(i)); err != nil {
			t.Fatal(err)
		}
	}

	res, err := s.Flush(context.Background(), false)
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if res.Sent != 3 || res.Failed != 0 || res.Remaining != 0 {
		t.Errorf("result = %+v", res)
	}
	for i, call := range mock.calls {
		if call.Latitude != float64(i+1) || call.User != 42 {
			t.Errorf("call %d = %+v, want insertion order", i, call)
		}
	}
	select {
	case evt := <-ch:
		if got := evt.Payload.(FlushResult); got.Sent != 3 {
			t.Errorf("event payload = %+v", got)
		}
	default:
		t.Error("no tracker.queue_flushed event")
	}
}

func TestFlushFailureReschedulesWithBackoff(t *testing.T) {
	db := testDB(t)
	mock := &mockPoster{err: errors.New("connection refused")}
	s := NewSender(db, mock, nil, nil, Options{BackoffBase: time.Minute, BackoffMax: time.Hour})
	now := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_ = s.Enqueue(sample(1))
	_ = s.Enqueue(sample(2))

	res, err := s.Flush(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 0 || res.Failed != 1 || res.Remaining != 2 {
		t.Errorf("result = %+v, a transport failure ends the pass", res)
	}
	if mock.count() != 1 {
		t.Errorf("calls = %d, want 1", mock.count())
	}

	rows, _ := db.DuePendingLocations(now, true, 10)
	if rows[0].Attempts != 1 || rows[0].NextAttemptAt != now.Add(time.Minute).UnixMilli() {
		t.Errorf("row after failure = %+v", rows[0])
	}
	if rows[0].LastError != "connection refused" {
		t.Errorf("LastError = %q", rows[0].LastError)
	}

	// The failed head is not due yet, so a normal pass skips it and tries the next.
	mock.setErr(nil)
	res, _ = s.Flush(context.Background(), false)
	if res.Sent != 1 || res.Remaining != 1 {
		t.Errorf("second pass = %+v", res)
	}

	// A forced pass ignores the schedule.
	res, _ = s.Flush(context.Background(), true)
	if res.Sent != 1 || res.Remaining != 0 {
		t.Errorf("forced pass = %+v", res)
	}
}

func TestForcedFlushSkipsRejectedRow(t *testing.T) {
	db := testDB(t)
	mock := &mockPoster{reject: func(p backend.LocationPayload) error {
		if p.Latitude == 1 {
			return &backend.APIError{Status: 400, Message: "timestamp: invalid"}
		}
		return nil
	}}
	s := NewSender(db, mock, nil, nil, Options{})

	for i := 1; i <= 3; i++ {
		if err := s.Enqueue(sample(i)); err != nil {
			t.Fatal(err)
		}
	}

	res, err := s.Flush(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 2 || res.Failed != 1 || res.Remaining != 1 {
		t.Errorf("result = %+v, want 2 sent, 1 failed, 1 remaining", res)
	}

	for i := 0; i < 2; i++ {
		if _, err := s.Flush(context.Background(), true); err != nil {
			t.Fatal(err)
		}
	}
	if n, _ := s.Pending(); n != 1 {
		t.Errorf("pending = %d after repeated forced flushes, want 1", n)
	}
	rows, _ := db.DuePendingLocations(time.Now(), true, 10)
	if len(rows) != 1 || rows[0].Latitude != 1 || rows[0].Attempts != 3 {
		t.Errorf("remaining rows = %+v, want only the rejected sample with 3 attempts", rows)
	}
}

func TestEnqueueEvictsOldest(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	ch, unsub := b.Subscribe(bus.KindTrackerEvicted, 4)
	defer unsub()
	mock := &mockPoster{}
	s := NewSender(db, mock, b, nil, Options{Capacity: 3})

	for i := 1; i <= 5; i++ {
		if err := s.Enqueue(sample(i)); err != nil {
			t.Fatal(err)
		}
	}
	if n, _ := s.Pending(); n != 3 {
		t.Errorf("Pending() = %d, want 3", n)
	}
	if len(ch) != 2 {
		t.Errorf("eviction events = %d, want 2", len(ch))
	}

	if _, err := s.Flush(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if len(mock.calls) != 3 || mock.calls[0].Latitude != 3 {
		t.Errorf("calls = %+v, want samples 3..5", mock.calls)
	}
}

func TestFlushDeliversEachSampleOnce(t *testing.T) {
	db := testDB(t)
	mock := &mockPoster{}
	s := NewSender(db, mock, nil, nil, Options{})
	for i := 1; i <= 20; i++ {
		_ = s.Enqueue(sample(i))
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Flush(context.Background(), true)
		}()
	}
	wg.Wait()

	if mock.count() != 20 {
		t.Errorf("calls = %d, want each sample exactly once", mock.count())
	}
}

func TestBackgroundLoopRespectsOnline(t *testing.T) {
	db := testDB(t)
	mock := &mockPoster{}
	var mu sync.Mutex
	online := false
	s := NewSender(db, mock, nil, nil, Options{
		PollInterval: 10 * time.Millisecond,
		Online: func() bool {
			mu.Lock()
			defer mu.Unlock()
			return online
		},
	})
	_ = s.Enqueue(sample(1))

	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(50 * time.Millisecond)
	if mock.count() != 0 {
		t.Fatal("flushed while offline")
	}

	mu.Lock()
	online = true
	mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := s.Pending(); n == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("queue not drained after coming online")
}
