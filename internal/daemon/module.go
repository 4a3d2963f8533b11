// Package daemon wires the application graph and its lifecycle.
package daemon

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/replywatch/internal/bus"
	"github.com/matheus3301/replywatch/internal/config"
	"github.com/matheus3301/replywatch/internal/gateway"
	"github.com/matheus3301/replywatch/internal/httpapi"
	"github.com/matheus3301/replywatch/internal/lock"
	"github.com/matheus3301/replywatch/internal/logging"
	"github.com/matheus3301/replywatch/internal/paths"
	"github.com/matheus3301/replywatch/internal/pipeline"
	"github.com/matheus3301/replywatch/internal/ranking"
	"github.com/matheus3301/replywatch/internal/scheduler"
	"github.com/matheus3301/replywatch/internal/store"
)

// Params carries the resolved data directory into the graph.
type Params struct {
	Home string
}

// Module assembles the daemon.
func Module(p Params) fx.Option {
	return fx.Options(
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideGateway,
			provideRanker,
			providePipeline,
			provideScheduler,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
		fx.NopLogger,
	)
}

// provideConfig loads config.toml, writing the defaults on first start so
// the user has a file to edit.
func provideConfig(p Params) (*config.Config, error) {
	if err := paths.EnsureDirs(p.Home); err != nil {
		return nil, fmt.Errorf("prepare data dir: %w", err)
	}
	path := paths.ConfigPath(p.Home)
	cfg, err := config.Load(path)
	if os.IsNotExist(err) {
		cfg = config.Default()
		if err := config.Save(path, cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(paths.LogPath(p.Home))
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params) (*lock.Lock, error) {
	return lock.Acquire(p.Home)
}

// provideStore opens the database and runs pending migrations. The lock
// dependency guarantees a single writer before the db file is touched.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(paths.DBPath(p.Home))
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if result.Changed {
		logger.Info("database migrated", zap.Uint("version", result.Version))
	}
	return db, nil
}

func provideGateway(cfg *config.Config, logger *zap.Logger) *gateway.Client {
	return gateway.New(gateway.Options{
		BaseURL:      cfg.Gateway.BaseURL,
		InstanceID:   cfg.Gateway.InstanceID,
		Token:        cfg.Gateway.Token,
		FetchTimeout: time.Duration(cfg.Gateway.FetchTimeoutSeconds) * time.Second,
		SendTimeout:  time.Duration(cfg.Gateway.SendTimeoutSeconds) * time.Second,
	}, logger.Named("gateway"))
}

func provideRanker(cfg *config.Config, logger *zap.Logger) *ranking.Ranker {
	return ranking.New(ranking.Options{
		BaseURL:     cfg.Ranking.BaseURL,
		APIKey:      cfg.Ranking.APIKey,
		Model:       cfg.Ranking.Model,
		Timeout:     time.Duration(cfg.Ranking.TimeoutSeconds) * time.Second,
		MaxAttempts: cfg.Ranking.MaxAttempts,
	}, logger.Named("ranking"))
}

func providePipeline(db *store.DB, gw *gateway.Client, r *ranking.Ranker, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *pipeline.Pipeline {
	return pipeline.New(db, gw, r, gw, b, func() pipeline.Config {
		return pipeline.Config{
			Lookback:      cfg.Lookback(),
			IncludeGroups: cfg.Analysis.IncludeGroups,
			ReportChatID:  cfg.Analysis.ReportChatID,
		}
	}, logger.Named("pipeline"))
}

func provideScheduler(p *pipeline.Pipeline, b *bus.Bus, cfg *config.Config, logger *zap.Logger) (*scheduler.Scheduler, error) {
	return scheduler.New(p, b, cfg.Schedule.Expression, logger.Named("scheduler"))
}

func provideServer(sched *scheduler.Scheduler, db *store.DB, p *pipeline.Pipeline, logger *zap.Logger) *httpapi.Server {
	return httpapi.New(sched, db, p, logger.Named("api"))
}

func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	lk *lock.Lock,
	db *store.DB,
	b *bus.Bus,
	sched *scheduler.Scheduler,
	server *httpapi.Server,
	logger *zap.Logger,
) {
	events, unsubscribe := b.Subscribe("", 64)
	go journal(events, logger.Named("events"))

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			sched.Start()
			if cfg.Schedule.Enabled {
				if err := sched.Enable(); err != nil {
					return err
				}
			}
			go func() {
				if err := server.Listen(cfg.HTTP.ListenAddr); err != nil {
					logger.Error("control api stopped", zap.Error(err))
				}
			}()
			logger.Info("daemon started",
				zap.String("listen_addr", cfg.HTTP.ListenAddr),
				zap.Bool("schedule_enabled", cfg.Schedule.Enabled))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("daemon stopping")
			if err := server.Shutdown(); err != nil {
				logger.Warn("api shutdown", zap.Error(err))
			}
			sched.Stop()
			unsubscribe()
			if err := db.Close(); err != nil {
				logger.Warn("db close", zap.Error(err))
			}
			return lk.Release()
		},
	})
}

// journal logs every bus event, giving the log file a timeline of run and
// schedule activity.
func journal(events <-chan bus.Event, logger *zap.Logger) {
	for evt := range events {
		logger.Info("event",
			zap.String("kind", evt.Kind),
			zap.Any("payload", evt.Payload))
	}
}
