package daemon

import (
	"context"
	"errors"
	"io/fs"

	"github.com/google/uuid"
	"github.com/studybuddy/buddychat/internal/bus"
	"github.com/studybuddy/buddychat/internal/chat"
	"github.com/studybuddy/buddychat/internal/config"
	"github.com/studybuddy/buddychat/internal/hub"
	"github.com/studybuddy/buddychat/internal/lock"
	"github.com/studybuddy/buddychat/internal/logging"
	"github.com/studybuddy/buddychat/internal/paths"
	"github.com/studybuddy/buddychat/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved daemon configuration passed to the fx module.
type Params struct {
	DataDir    string
	ListenAddr string // optional override for testing; empty = use config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideLock,
			provideBus,
			provideStore,
			provideChatService,
			provideHub,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

// provideConfig loads the config file, creating it with a fresh JWT secret on
// first run. The secret must persist: rotating it on every start would
// invalidate all issued tokens.
func provideConfig(p Params) (*config.Config, error) {
	if err := paths.EnsureDir(p.DataDir); err != nil {
		return nil, err
	}
	cfgPath := paths.ConfigPath(p.DataDir)
	cfg, err := config.Load(cfgPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = uuid.New().String()
		if err := config.Save(cfgPath, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(paths.LogPath(p.DataDir), p.DataDir)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring daemon lock", zap.String("data_dir", p.DataDir))
	l, err := lock.Acquire(p.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("daemon lock acquired")
	return l, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := paths.DBPath(p.DataDir)
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

func provideChatService(db *store.DB, b *bus.Bus, logger *zap.Logger) *chat.Service {
	return chat.NewService(db, b, logger)
}

func provideHub(svc *chat.Service, db *store.DB, cfg *config.Config, logger *zap.Logger) *hub.Hub {
	return hub.New(svc, db, cfg, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, h *hub.Hub, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go h.Run()

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			h.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
