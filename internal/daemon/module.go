package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/matheus3301/fieldops/internal/api"
	"github.com/matheus3301/fieldops/internal/backend"
	"github.com/matheus3301/fieldops/internal/bus"
	"github.com/matheus3301/fieldops/internal/chat"
	"github.com/matheus3301/fieldops/internal/config"
	"github.com/matheus3301/fieldops/internal/geo"
	"github.com/matheus3301/fieldops/internal/lock"
	"github.com/matheus3301/fieldops/internal/logging"
	"github.com/matheus3301/fieldops/internal/netwatch"
	"github.com/matheus3301/fieldops/internal/outbox"
	"github.com/matheus3301/fieldops/internal/profile"
	"github.com/matheus3301/fieldops/internal/status"
	"github.com/matheus3301/fieldops/internal/store"
	"github.com/matheus3301/fieldops/internal/tracker"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	Config      *config.Config
	Debug       bool
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideCredentials,
			provideBackend,
			provideChat,
			provideGeo,
			provideMonitor,
			provideSender,
			provideTracker,
			provideControl,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) *config.Config {
	if p.Config != nil {
		return p.Config
	}
	return config.Default()
}

func provideLogger(p Params) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if p.Debug {
		level = zapcore.DebugLevel
	}
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName, level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is only opened by its owner.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.StorePath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCredentials(db *store.DB) *backend.StoredCredentials {
	return backend.NewStoredCredentials(db)
}

func provideBackend(cfg *config.Config, creds *backend.StoredCredentials, logger *zap.Logger) (*backend.Client, error) {
	return backend.New(cfg.APIBaseURL, creds, logger.Named("backend"))
}

func provideChat(cfg *config.Config, b *bus.Bus, logger *zap.Logger) (*chat.Session, error) {
	l := logger.Named("chat")
	return chat.NewSession(chat.Options{
		BaseURL:     cfg.SocketBaseURL,
		DialTimeout: cfg.Chat.DialTimeout.Duration,
	}, chat.NewCache(l), b, l)
}

func provideGeo(cfg *config.Config, logger *zap.Logger) (geo.Source, error) {
	return geo.New(cfg.Geo, logger.Named("geo"))
}

func provideMonitor(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *netwatch.Monitor {
	return netwatch.New(
		netwatch.HTTPProber(cfg.APIBaseURL, nil),
		cfg.Network.ProbeInterval.Duration,
		cfg.Network.ProbeTimeout.Duration,
		b, logger.Named("netwatch"),
	)
}

func provideSender(cfg *config.Config, db *store.DB, client *backend.Client, monitor *netwatch.Monitor, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, client, b, logger.Named("outbox"), outbox.Options{
		Capacity:    cfg.Tracker.QueueCapacity,
		BackoffBase: cfg.Tracker.BackoffBase.Duration,
		BackoffMax:  cfg.Tracker.BackoffMax.Duration,
		Online:      monitor.Online,
	})
}

func provideTracker(cfg *config.Config, client *backend.Client, src geo.Source, sender *outbox.Sender, db *store.DB, monitor *netwatch.Monitor, m *status.Machine, b *bus.Bus, logger *zap.Logger) *tracker.Tracker {
	return tracker.New(tracker.Deps{
		API:     client,
		Geo:     src,
		Queue:   sender,
		Storage: db,
		Net:     monitor,
		Status:  m,
		Bus:     b,
		Logger:  logger.Named("tracker"),
	}, tracker.Options{
		DefaultInterval: cfg.Tracker.DefaultInterval.Duration,
		GeoTimeout:      cfg.Tracker.GeoTimeout.Duration,
	})
}

func provideControl(p Params, client *backend.Client, creds *backend.StoredCredentials, session *chat.Session, tr *tracker.Tracker, monitor *netwatch.Monitor, b *bus.Bus, logger *zap.Logger) *api.Control {
	return api.New(api.Deps{
		Profile:     p.ProfileName,
		Backend:     client,
		Credentials: creds,
		Session:     session,
		Tracker:     tr,
		Net:         monitor,
		Bus:         b,
		Logger:      logger.Named("api"),
	})
}

type lifecycleDeps struct {
	fx.In

	Server  *Server
	Lock    *lock.Lock
	Store   *store.DB
	Session *chat.Session
	Monitor *netwatch.Monitor
	Sender  *outbox.Sender
	Tracker *tracker.Tracker
	Logger  *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	ctx, cancel := context.WithCancel(context.Background())
	wake := make(chan os.Signal, 1)

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := d.Server.Start(); err != nil {
					d.Logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			d.Monitor.Start(ctx)
			d.Sender.Start(ctx)
			d.Tracker.Listen(ctx)

			// SIGCONT is the daemon's "user is back" signal.
			signal.Notify(wake, syscall.SIGCONT)
			go func() {
				for {
					select {
					case <-wake:
						d.Logger.Info("wake signal received")
						if _, err := d.Tracker.Wake(ctx); err != nil {
							d.Logger.Warn("flush on wake failed", zap.Error(err))
						}
					case <-ctx.Done():
						return
					}
				}
			}()

			go func() {
				if err := d.Tracker.Resume(ctx); err != nil {
					d.Logger.Error("resume tracking failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			signal.Stop(wake)
			cancel()
			d.Tracker.Close()
			if err := d.Session.Disconnect(); err != nil {
				d.Logger.Warn("error closing chat", zap.Error(err))
			}
			d.Sender.Stop()
			d.Monitor.Stop()
			d.Server.Stop(stopCtx)
			if err := d.Store.Close(); err != nil {
				d.Logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				d.Logger.Warn("error releasing lock", zap.Error(err))
			}
			d.Logger.Info("daemon stopped")
			_ = d.Logger.Sync()
			return nil
		},
	})
}
