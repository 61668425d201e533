package geo

import (
	"context"
	"sync"
	"time"
)

// Static reports a fixed position that can be moved with Set.
type Static struct {
	mu      sync.Mutex
	fix     Fix
	has     bool
	fail    error
	changed chan struct{}
}

// NewStatic returns a source that always reports lat/lng.
func NewStatic(lat, lng float64) *Static {
	return &Static{fix: Fix{Latitude: lat, Longitude: lng}, has: true, changed: make(chan struct{})}
}

// Set moves the reported position and wakes watchers.
func (s *Static) Set(lat, lng float64) {
	s.mu.Lock()
	s.fix = Fix{Latitude: lat, Longitude: lng}
	s.has = true
	s.fail = nil
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

// Fail makes Current return err until the next Set. A nil err clears it.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

// Current returns the position stamped with the current time.
func (s *Static) Current(ctx context.Context) (Fix, error) {
	if err := ctx.Err(); err != nil {
		return Fix{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return Fix{}, s.fail
	}
	if !s.has {
		return Fix{}, ErrNoFix
	}
	f := s.fix
	f.At = time.Now().UTC()
	return f, nil
}

// Watch emits the position now and again after every Set.
func (s *Static) Watch(ctx context.Context) <-chan Fix {
	out := make(chan Fix, 1)
	go func() {
		defer close(out)
		for {
			s.mu.Lock()
			changed := s.changed
			s.mu.Unlock()

			if f, err := s.Current(ctx); err == nil {
				select {
				case out <- f:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
