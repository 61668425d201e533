// Package api implements the daemon's gRPC control service.
package api

import (
	"time"

	"github.com/matheus3301/fieldops/internal/backend"
	"github.com/matheus3301/fieldops/internal/bus"
	"github.com/matheus3301/fieldops/internal/chat"
	"github.com/matheus3301/fieldops/internal/netwatch"
	"github.com/matheus3301/fieldops/internal/tracker"
	"go.uber.org/zap"
)

// Deps groups what the control service drives.
type Deps struct {
	Profile     string
	Backend     *backend.Client
	Credentials *backend.StoredCredentials
	Session     *chat.Session
	Tracker     *tracker.Tracker
	Net         *netwatch.Monitor
	Bus         *bus.Bus
	Logger      *zap.Logger
}

// Control implements ControlServer.
type Control struct {
	profile   string
	startedAt time.Time
	api       *backend.Client
	creds     *backend.StoredCredentials
	session   *chat.Session
	tracker   *tracker.Tracker
	net       *netwatch.Monitor
	bus       *bus.Bus
	logger    *zap.Logger
}

var _ ControlServer = (*Control)(nil)

// New creates the control service.
func New(d Deps) *Control {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Control{
		profile:   d.Profile,
		startedAt: time.Now(),
		api:       d.Backend,
		creds:     d.Credentials,
		session:   d.Session,
		tracker:   d.Tracker,
		net:       d.Net,
		bus:       d.Bus,
		logger:    d.Logger,
	}
}
