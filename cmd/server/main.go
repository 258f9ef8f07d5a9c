package main

import (
	"context"
	"log"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	apiHandler "github.com/fastygo/tasksync/api/handler"
	"github.com/fastygo/tasksync/internal/config"
	"github.com/fastygo/tasksync/internal/infrastructure/buffer"
	"github.com/fastygo/tasksync/internal/infrastructure/monitor"
	pgInfra "github.com/fastygo/tasksync/internal/infrastructure/postgres"
	redisInfra "github.com/fastygo/tasksync/internal/infrastructure/redis"
	"github.com/fastygo/tasksync/internal/middleware"
	"github.com/fastygo/tasksync/internal/router"
	"github.com/fastygo/tasksync/internal/services"
	"github.com/fastygo/tasksync/internal/services/lifecycle"
	"github.com/fastygo/tasksync/internal/syncer"
	"github.com/fastygo/tasksync/internal/telemetry"
	"github.com/fastygo/tasksync/pkg/httpcontext"
	"github.com/fastygo/tasksync/pkg/logger"
	"github.com/fastygo/tasksync/repository"
	boltRepo "github.com/fastygo/tasksync/repository/bolt"
	"github.com/fastygo/tasksync/repository/memory"
	"github.com/fastygo/tasksync/repository/postgres"
	redisRepo "github.com/fastygo/tasksync/repository/redis"
	"github.com/fastygo/tasksync/repository/remote"
	authUC "github.com/fastygo/tasksync/usecase/auth"
	"github.com/fastygo/tasksync/usecase/settings"
	taskUC "github.com/fastygo/tasksync/usecase/task"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Level:    cfg.Logger.Level,
		Encoding: cfg.Logger.Encoding,
	})
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer zapLogger.Sync()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := lifecycle.New(cfg.Context.ShutdownTimeout, zapLogger)
	manager.Listen(cancel)

	tel, err := telemetry.Init(appCtx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		ServiceName: cfg.AppName,
	})
	if err != nil {
		zapLogger.Fatal("telemetry init failed", zap.Error(err))
	}
	manager.Register("telemetry", tel.Shutdown)

	cache := openCache(cfg, manager, zapLogger)

	store := taskUC.NewStore(taskUC.Options{Cache: cache, Logger: zapLogger.Named("store")})
	if err := store.Load(); err != nil {
		zapLogger.Warn("local cache unreadable, continuing in memory", zap.Error(err))
	}
	manager.Register("task_store", func(ctx context.Context) error {
		return store.Close()
	})
	prefs := settings.New(cache, zapLogger.Named("settings"))

	var (
		remoteStore repository.RemoteStore
		sessions    repository.SessionRepository
		mon         *monitor.Monitor
		outbox      *services.Outbox
	)

	if cfg.SyncEnabled() {
		if cfg.Migrations.Enabled {
			if err := pgInfra.RunMigrations(cfg.Database, cfg.Migrations, zapLogger); err != nil {
				zapLogger.Warn("migrations failed", zap.Error(err))
			}
		}

		pool, err := pgInfra.NewPool(appCtx, cfg.Database, zapLogger)
		if err != nil {
			zapLogger.Fatal("postgres pool setup failed", zap.Error(err))
		}
		manager.Register("postgres", func(ctx context.Context) error {
			pool.Close()
			return nil
		})

		redisClient, err := redisInfra.NewClient(cfg.Redis, zapLogger)
		if err != nil {
			zapLogger.Fatal("redis client setup failed", zap.Error(err))
		}
		manager.Register("redis", func(ctx context.Context) error {
			return redisClient.Close()
		})

		journal, err := buffer.Open(cfg.Cache.OutboxPath, "outbox")
		if err != nil {
			zapLogger.Fatal("failed to open outbox journal", zap.Error(err))
		}
		manager.Register("outbox_journal", func(ctx context.Context) error {
			return journal.Close()
		})

		taskRepo := postgres.NewTaskRepository(pool)
		notifier := redisRepo.NewNotifier(redisClient, zapLogger.Named("notifier"))
		sessions = redisRepo.NewSessionRepository(redisClient, cfg.JWT.SessionTTL)
		remoteStore = remote.New(taskRepo, notifier, cfg.Sync.FetchTimeout, zapLogger.Named("remote"))

		mon = monitor.New(monitor.Targets{
			Postgres: taskRepo,
			Redis:    monitor.RedisPinger(redisClient),
			Journal:  journal,
		}, cfg.Sync.MonitorInterval, zapLogger.Named("monitor"))
		mon.Refresh()
		mon.Start()
		manager.Register("monitor", func(ctx context.Context) error {
			mon.Stop()
			return nil
		})

		outbox = services.NewOutbox(remoteStore, store, journal, mon, zapLogger.Named("outbox"), services.OutboxConfig{
			Debounce:    cfg.Sync.Debounce,
			Interval:    cfg.Sync.Interval,
			PushTimeout: cfg.Sync.PushTimeout,
			MaxRetries:  cfg.Sync.MaxRetry,
			Retention:   cfg.Cache.OutboxRetention,
		})
		store.SetSink(outbox)
		outbox.Start()
		manager.Register("outbox", func(ctx context.Context) error {
			outbox.Stop(ctx)
			return nil
		})
	} else {
		zapLogger.Info("sync not configured, running local-only")
	}

	identity := authUC.New(authUC.Config{
		Secret:     cfg.JWT.Secret,
		Issuer:     cfg.JWT.Issuer,
		DeviceID:   cfg.Sync.DeviceID,
		SessionTTL: cfg.JWT.SessionTTL,
	}, sessions, zapLogger.Named("auth"))

	deps := syncer.Deps{
		Store:     store,
		Telemetry: tel,
		Logger:    zapLogger,
	}
	if remoteStore != nil {
		deps.Remote = remoteStore
		deps.Identity = identity
		deps.Conn = mon
		deps.Outbound = outbox
	}
	orch := syncer.New(deps, syncer.Config{
		FetchTimeout: cfg.Sync.FetchTimeout,
		PushTimeout:  cfg.Sync.PushTimeout,
		RetryDelay:   cfg.Sync.Interval,
	})
	if outbox != nil {
		outbox.SetReporter(orch)
	}
	orch.Start(appCtx)
	manager.Register("sync", func(ctx context.Context) error {
		orch.Stop(ctx)
		return nil
	})

	if sessions != nil {
		restoreCtx, restoreCancel := context.WithTimeout(appCtx, cfg.Context.RequestTimeout)
		if session, err := identity.Restore(restoreCtx); err == nil {
			zapLogger.Info("session restored", zap.String("user_id", session.UserID))
		}
		restoreCancel()
	}

	ctxAdapter := httpcontext.NewAdapter(cfg.Context.RequestTimeout)

	handlers := router.Handlers{
		Auth:     apiHandler.NewAuthHandler(identity, ctxAdapter, zapLogger),
		Task:     apiHandler.NewTaskHandler(store, ctxAdapter, zapLogger),
		Settings: apiHandler.NewSettingsHandler(prefs, store, ctxAdapter, zapLogger),
		Sync:     apiHandler.NewSyncHandler(orch, ctxAdapter, zapLogger),
		Health:   apiHandler.NewHealthHandler(mon, orch, ctxAdapter, zapLogger),
	}

	r := router.New(handlers, middleware.Identity(identity), middleware.RequireIdentity(identity, zapLogger))

	server := &fasthttp.Server{
		Handler:      r.Handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		Name:         cfg.AppName,
	}

	go func() {
		zapLogger.Info("server started", zap.String("address", cfg.Address()))
		if err := server.ListenAndServe(cfg.Address()); err != nil {
			zapLogger.Fatal("server crashed", zap.Error(err))
		}
	}()

	manager.Register("http_server", func(ctx context.Context) error {
		return server.Shutdown()
	})

	<-appCtx.Done()

	if err := manager.Shutdown(context.Background()); err != nil {
		zapLogger.Error("graceful shutdown error", zap.Error(err))
	}
}

// openCache returns the durable local cache, or an in-memory one when the
// backend is "memory" or the bolt file cannot be opened.
func openCache(cfg *config.Config, manager *lifecycle.Manager, zapLogger *zap.Logger) repository.LocalCache {
	if cfg.Cache.Backend == config.CacheBackendMemory {
		return memory.New()
	}
	cache, err := boltRepo.Open(cfg.Cache.Path, "")
	if err != nil {
		zapLogger.Warn("local cache unavailable, tasks will not survive a restart", zap.Error(err))
		return memory.New()
	}
	manager.Register("local_cache", func(ctx context.Context) error {
		return cache.Close()
	})
	return cache
}
