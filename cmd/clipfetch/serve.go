package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/clipfetch/clipfetch/internal/access"
	"github.com/clipfetch/clipfetch/internal/admin"
	"github.com/clipfetch/clipfetch/internal/bot"
	"github.com/clipfetch/clipfetch/internal/config"
	"github.com/clipfetch/clipfetch/internal/db"
	"github.com/clipfetch/clipfetch/internal/gateway"
	"github.com/clipfetch/clipfetch/internal/logger"
	"github.com/clipfetch/clipfetch/internal/pipeline"
	"github.com/clipfetch/clipfetch/internal/records"
	"github.com/clipfetch/clipfetch/internal/resolver"
	"github.com/clipfetch/clipfetch/internal/server"
	"github.com/clipfetch/clipfetch/internal/session"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideRecords,
			provideGateway,
			provideSessions,
			provideResolver,
			provideGate,
			provideOrchestrator,
			provideCoordinator,
			provideConsole,
			provideDispatcher,
			providePingHandler,
			provideHealthHandler,
			provideServer,
		),
		fx.Invoke(
			startSessionSweep,
			startGateway,
			startDispatcher,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideRecords(log *slog.Logger, conn *pgxpool.Pool) *records.Store {
	return records.NewStore(log, conn)
}

func provideGateway(log *slog.Logger, cfg config.Config) (*gateway.Telegram, error) {
	return gateway.NewTelegram(log, cfg.Telegram.BotToken)
}

func provideSessions(log *slog.Logger, cfg config.Config) *session.Store {
	return session.NewStore(log, time.Duration(cfg.Session.TTLMinutes)*time.Minute)
}

func provideResolver(log *slog.Logger, cfg config.Config) resolver.Resolver {
	return resolver.NewYTDLP(log, time.Duration(cfg.Download.FetchTimeoutSeconds)*time.Second)
}

func provideGate(log *slog.Logger, store *records.Store, gw *gateway.Telegram, cfg config.Config) *access.Gate {
	return access.NewGate(log, store, gw, gw, cfg.Telegram.Channel, cfg.Telegram.AdminID)
}

func provideOrchestrator(log *slog.Logger, gw *gateway.Telegram, res resolver.Resolver, sessions *session.Store, cfg config.Config) (*pipeline.Orchestrator, error) {
	if err := os.MkdirAll(cfg.Download.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	return pipeline.NewOrchestrator(log, gw, res, sessions, cfg.Download.Dir), nil
}

func provideCoordinator(log *slog.Logger, gw *gateway.Telegram, gate *access.Gate, res resolver.Resolver, sessions *session.Store, store *records.Store, orch *pipeline.Orchestrator) *pipeline.Coordinator {
	return pipeline.NewCoordinator(log, gw, gate, res, sessions, store, orch, 2*time.Minute)
}

func provideConsole(log *slog.Logger, gw *gateway.Telegram, store *records.Store, sessions *session.Store, cfg config.Config) *admin.Console {
	pause := time.Duration(cfg.Telegram.BroadcastPauseMillis) * time.Millisecond
	return admin.NewConsole(log, gw, store, sessions, cfg.Telegram.AdminID, pause)
}

func provideDispatcher(log *slog.Logger, gw *gateway.Telegram, coord *pipeline.Coordinator, console *admin.Console, gate *access.Gate, store *records.Store) *bot.Dispatcher {
	return bot.NewDispatcher(log, gw, coord, console, gate, store)
}

func providePingHandler(log *slog.Logger) *server.PingHandler {
	return server.NewPingHandler(log)
}

func provideHealthHandler(log *slog.Logger, store *records.Store, sessions *session.Store) *server.HealthHandler {
	return server.NewHealthHandler(log, store, sessions)
}

func provideServer(cfg config.Config, ping *server.PingHandler, health *server.HealthHandler) *server.Server {
	return server.NewServer(cfg.Server.Addr, ping, health)
}

// startSessionSweep expires abandoned selections once a minute.
func startSessionSweep(lc fx.Lifecycle, log *slog.Logger, sessions *session.Store) error {
	c := cron.New()
	_, err := c.AddFunc("@every 1m", func() {
		if removed := sessions.Sweep(time.Now()); removed > 0 {
			log.Debug("sessions swept", slog.Int("removed", removed))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { c.Start(); return nil },
		OnStop:  func(ctx context.Context) error { c.Stop(); return nil },
	})
	return nil
}

func startGateway(lc fx.Lifecycle, log *slog.Logger, gw *gateway.Telegram, shutdowner fx.Shutdowner) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := gw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("gateway stopped", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error { cancel(); return nil },
	})
}

func startDispatcher(lc fx.Lifecycle, log *slog.Logger, d *bot.Dispatcher) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				defer close(done)
				if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("dispatcher stopped", slog.Any("error", err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
