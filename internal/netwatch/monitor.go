// Package netwatch tracks whether the backend is reachable and announces
// transitions on the bus as net.online / net.offline.
package netwatch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/matheus3301/fieldops/internal/bus"
	"go.uber.org/zap"
)

// Prober checks reachability once. A nil error means online.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// HTTPProber treats any HTTP response from url as reachable. Only transport
// failures count as offline.
func HTTPProber(url string, client *http.Client) Prober {
	if client == nil {
		client = http.DefaultClient
	}
	return ProberFunc(func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("probe %s: %w", url, err)
		}
		_ = resp.Body.Close()
		return nil
	})
}

// Monitor probes periodically. It starts out assuming it is online.
type Monitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	bus      *bus.Bus
	logger   *zap.Logger

	mu     sync.RWMutex
	online bool
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a monitor. interval and timeout fall back to 15s and 5s.
func New(p Prober, interval, timeout time.Duration, b *bus.Bus, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{prober: p, interval: interval, timeout: timeout, bus: b, logger: logger, online: true}
}

// Online reports the last observed state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Set records a state observed elsewhere, publishing on change.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()
	if !changed {
		return
	}
	if online {
		m.logger.Info("backend reachable")
		m.bus.Emit(bus.KindNetOnline, nil)
	} else {
		m.logger.Warn("backend unreachable")
		m.bus.Emit(bus.KindNetOffline, nil)
	}
}

// Check probes once and returns the resulting state.
func (m *Monitor) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	err := m.prober.Probe(ctx)
	if err != nil {
		m.logger.Debug("probe failed", zap.Error(err))
	}
	m.Set(err == nil)
	return err == nil
}

// Start begins periodic probing.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()
	go m.loop(ctx, done)
}

// Stop halts probing and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ticker.C:
			m.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}
