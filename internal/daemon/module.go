package daemon

import (
	"context"
	"time"

	"github.com/rmaciel7/aide/internal/backend"
	"github.com/rmaciel7/aide/internal/bus"
	"github.com/rmaciel7/aide/internal/config"
	"github.com/rmaciel7/aide/internal/httpapi"
	"github.com/rmaciel7/aide/internal/lock"
	"github.com/rmaciel7/aide/internal/logging"
	"github.com/rmaciel7/aide/internal/outbox"
	"github.com/rmaciel7/aide/internal/session"
	"github.com/rmaciel7/aide/internal/status"
	"github.com/rmaciel7/aide/internal/store"
	intsync "github.com/rmaciel7/aide/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideAuthenticator,
			provideClient,
			provideEventHandler,
			provideSyncEngine,
			provideSender,
			provideHandlers,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig() (*config.Config, error) {
	return config.Load(session.ConfigPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
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

func provideAuthenticator(p Params, cfg *config.Config) *backend.Authenticator {
	return backend.NewAuthenticator(cfg.Auth.URL, cfg.Auth.AnonKey, session.TokenPath(p.SessionName))
}

func provideClient(cfg *config.Config, auth *backend.Authenticator, logger *zap.Logger) *backend.Client {
	return backend.NewClient(cfg.Backend.BaseURL, auth, logger)
}

func provideEventHandler(b *bus.Bus, machine *status.Machine, logger *zap.Logger) *backend.EventHandler {
	return backend.NewEventHandler(b, machine, logger)
}

func provideSyncEngine(db *store.DB, b *bus.Bus, client *backend.Client, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, client, logger)
}

func provideSender(db *store.DB, client *backend.Client, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, client, b, logger)
}

func provideHandlers(p Params, db *store.DB, machine *status.Machine, client *backend.Client, b *bus.Bus, logger *zap.Logger) *httpapi.Handlers {
	return httpapi.NewHandlers(db, machine, client, b, logger, p.SessionName)
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	lk *lock.Lock,
	cfg *config.Config,
	auth *backend.Authenticator,
	handler *backend.EventHandler,
	engine *intsync.Engine,
	sender *outbox.Sender,
	machine *status.Machine,
	b *bus.Bus,
	logger *zap.Logger,
) {
	var realtime *backend.Realtime
	runCtx, cancelRun := context.WithCancel(context.Background())

	connect := func() {
		_ = machine.Transition(status.Connecting)
		if _, err := auth.Token(runCtx); err != nil {
			logger.Error("token grant failed", zap.Error(err))
			_ = machine.Transition(status.AuthRequired)
			return
		}
		realtime = backend.NewRealtime(cfg.Auth.URL, cfg.Auth.AnonKey, auth, auth.UserID(), b, logger)
		realtime.Start(runCtx)
	}

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			handler.Start(runCtx)
			engine.Start(runCtx)
			sender.Start(runCtx)

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("local API server error", zap.Error(err))
				}
			}()

			if auth.HasCredentials() {
				connect()
			} else {
				logger.Info("no credentials found, auth required")
				_ = machine.Transition(status.AuthRequired)
				// Watch for aidectl login writing the token file.
				go func() {
					ticker := time.NewTicker(5 * time.Second)
					defer ticker.Stop()
					for {
						select {
						case <-ticker.C:
							if auth.HasCredentials() {
								connect()
								return
							}
						case <-runCtx.Done():
							return
						}
					}
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancelRun()
			if realtime != nil {
				realtime.Stop()
			}
			sender.Stop()
			engine.Stop()
			handler.Stop()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
