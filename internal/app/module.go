// Package app assembles the client core for the roam binaries.
package app

import (
	"context"
	"errors"

	"github.com/matheus3301/roam/internal/api"
	"github.com/matheus3301/roam/internal/bus"
	"github.com/matheus3301/roam/internal/chat"
	"github.com/matheus3301/roam/internal/config"
	"github.com/matheus3301/roam/internal/lock"
	"github.com/matheus3301/roam/internal/logging"
	"github.com/matheus3301/roam/internal/notify"
	"github.com/matheus3301/roam/internal/outbox"
	"github.com/matheus3301/roam/internal/profile"
	"github.com/matheus3301/roam/internal/realtime"
	"github.com/matheus3301/roam/internal/session"
	"github.com/matheus3301/roam/internal/status"
	"github.com/matheus3301/roam/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params selects the profile the module runs against.
type Params struct {
	Profile string
	// Binary names the owner in the lock file and the log file.
	Binary string
	// Quiet keeps info logs out of stderr.
	Quiet bool
}

// Module returns the fx module composing all providers and the lifecycle hook.
func Module(p Params) fx.Option {
	return fx.Module("roam",
		fx.Supply(p),
		fx.Provide(
			provideSettings,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideHost,
			provideAuth,
			provideController,
			provideClient,
			provideChannel,
			provideChatEngine,
			provideSweeper,
			provideNotify,
			provideSupervisor,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideSettings(p Params) (*config.Profile, error) {
	return config.LoadProfile(profile.SettingsPath(p.Profile))
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile, p.Binary), p.Profile, p.Quiet)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile), p.Binary)
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is never opened unlocked.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
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

func provideHost(b *bus.Bus) *session.BusHost {
	return session.NewBusHost(b)
}

func apiOptions(s *config.Profile) api.Options {
	return api.Options{BaseURL: s.APIBaseURL, Timeout: s.RequestTimeout.Duration}
}

func provideAuth(s *config.Profile, logger *zap.Logger) *api.Auth {
	return api.NewAuth(apiOptions(s), s.RefreshPath, logger)
}

func provideController(db *store.DB, auth *api.Auth, m *status.Machine, host *session.BusHost, b *bus.Bus, s *config.Profile, logger *zap.Logger) *session.Controller {
	return session.New(db, auth, m, host, host, b, session.Options{RefreshSkew: s.TokenRefreshSkew.Duration}, logger)
}

func provideClient(s *config.Profile, c *session.Controller, logger *zap.Logger) *api.Client {
	return api.NewClient(apiOptions(s), c, logger)
}

func provideChannel(s *config.Profile, c *session.Controller, b *bus.Bus, logger *zap.Logger) *realtime.Channel {
	return realtime.New(realtime.Options{
		URL:                  s.RealtimeURL,
		ReconnectBaseDelay:   s.ReconnectBaseDelay.Duration,
		ReconnectMaxDelay:    s.ReconnectMaxDelay.Duration,
		MaxReconnectAttempts: s.MaxReconnectAttempts,
	}, c, b, logger)
}

func provideChatEngine(client *api.Client, ch *realtime.Channel, c *session.Controller, db *store.DB, b *bus.Bus, s *config.Profile, logger *zap.Logger) *chat.Engine {
	return chat.New(client, ch, c, db, b, chat.Options{
		EchoWindow:     s.EchoWindow.Duration,
		PendingTimeout: s.PendingTimeout.Duration,
	}, logger)
}

func provideSweeper(e *chat.Engine, s *config.Profile, logger *zap.Logger) *outbox.Sweeper {
	return outbox.NewSweeper(e, s.SweepInterval.Duration, logger)
}

func provideNotify(client *api.Client, ch *realtime.Channel, b *bus.Bus, logger *zap.Logger) *notify.Engine {
	return notify.New(client, ch, b, logger)
}

func provideSupervisor(b *bus.Bus, ch *realtime.Channel, n *notify.Engine, e *chat.Engine, logger *zap.Logger) *Supervisor {
	return NewSupervisor(b, ch, n, e, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, ctrl *session.Controller, sup *Supervisor, sweeper *outbox.Sweeper, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Supervisor first, so hydration into AUTHENTICATED connects.
			sup.Start(context.Background())
			sweeper.Start(context.Background())

			err := ctrl.Initialize(ctx)
			switch {
			case err == nil:
				logger.Info("session initialized", zap.String("status", string(ctrl.Status())))
			case errors.Is(err, api.ErrSessionExpired):
				logger.Info("stored session expired, login required")
			default:
				logger.Warn("session not restored", zap.Error(err))
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			sup.Stop()
			sweeper.Stop()
			ctrl.Teardown()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("roam stopped")
			return nil
		},
	})
}
