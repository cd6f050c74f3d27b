package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crosspost/domain/platform"
	"crosspost/domain/repository"
	"crosspost/infrastructure/cache"
	"crosspost/infrastructure/clients/facebook"
	"crosspost/infrastructure/clients/instagram"
	"crosspost/infrastructure/clients/mediastore"
	youtubeclient "crosspost/infrastructure/clients/youtube"
	"crosspost/infrastructure/configuration"
	"crosspost/infrastructure/logger"
	"crosspost/infrastructure/persistence"
	"crosspost/infrastructure/queue"
	"crosspost/infrastructure/realtime"
	httpHandler "crosspost/interfaces/http"
	"crosspost/server"
	"crosspost/usecase"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"golang.org/x/sync/errgroup"
)

var httpServer *http.Server

func recoverPanic() {
	if err := recover(); err != nil {
		logger.GetLogger().WithField("error", err).Error("Application panic recovered")
	}
}

type stores struct {
	tasks       repository.IPublishTask
	credentials repository.ICredential
	staged      repository.IStagedMedia
	records     repository.IPublishRecord
}

func main() {
	defer recoverPanic()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	// Load env from files (non-destructive; OS env still has precedence)
	if n := configuration.LoadEnvFromFile("config.env", ".env"); n > 0 {
		logger.GetLogger().WithField("vars", n).Info("Loaded environment from file")
	}
	if lvl, err := logrus.ParseLevel(configuration.C.Logger.Level); err == nil {
		logger.SetLevel(lvl)
	}

	cfg := configuration.C
	checks := map[string]httpHandler.Check{}

	psqlDb, err := persistence.NewPostgreSQLDB()
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("PostgreSQL not available - tasks and credentials kept in memory")
		psqlDb = nil
	}
	mongoDb := initiateMongo(ctx)
	st := initiateStores(psqlDb, mongoDb)
	if psqlDb != nil {
		checks["postgres"] = psqlDb.PingContext
	}
	if mongoDb != nil {
		checks["mongo"] = func(c context.Context) error { return mongoDb.Ping(c, nil) }
	}

	var redisClient redis.UniversalClient
	var credentialCache repository.ICredentialCache
	rc, err := cache.NewCache(ctx, fmt.Sprintf("%s:%s", cfg.RedisClient.Host, cfg.RedisClient.Port),
		cfg.RedisClient.Username, cfg.RedisClient.Password)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("Redis not available - credential cache disabled")
	} else {
		redisClient = rc
		credentialCache = cache.NewCredentialCache(rc)
		checks["redis"] = func(c context.Context) error { return rc.Ping(c).Err() }
		logger.GetLogger().Info("Redis client initialized successfully.")
	}

	workQueue, err := queue.New(ctx, cfg.Queue, redisClient)
	if err != nil {
		logger.GetLogger().WithField("error", err).WithField("driver", cfg.Queue.Driver).Fatal("Work queue initialization failed")
	}
	defer workQueue.Close()

	credentialStore := usecase.NewCredentialStore(st.credentials, credentialCache)
	callTimeout := time.Duration(cfg.Dispatch.CallTimeoutSeconds) * time.Second
	registry := initiateRegistry(cfg.Platforms, credentialStore)

	var verifier usecase.MediaVerifier
	if cfg.Staging.VerifyMedia {
		verifier = mediastore.NewVerifier(&http.Client{Timeout: 15 * time.Second})
	}
	stager := usecase.NewMediaStager(st.staged, verifier, time.Duration(cfg.Staging.UploadRetryDelayMillis)*time.Millisecond)

	hub := realtime.NewTaskHub()
	publishUsecase := usecase.NewPublishUsecase(st.tasks, stager, credentialStore, registry, workQueue, usecase.PublishConfig{
		DispatchTopic:      cfg.Queue.DispatchTopic,
		ImmediateTolerance: time.Duration(cfg.Scheduler.ImmediateToleranceSeconds) * time.Second,
	})
	dispatcher := usecase.NewDispatcher(st.tasks, st.records, credentialStore, stager, registry, workQueue, hub.BroadcastTaskStatus,
		usecase.DispatcherConfig{
			Topic:         cfg.Queue.DispatchTopic,
			FinalizeTopic: cfg.Queue.FinalizeTopic,
			Workers:       cfg.Dispatch.Workers,
			CallTimeout:   callTimeout,
		})
	finalizer := usecase.NewFinalizer(st.tasks, st.records, credentialStore, stager, registry, workQueue, hub.BroadcastTaskStatus,
		usecase.FinalizerConfig{
			Topic:        cfg.Queue.FinalizeTopic,
			Workers:      cfg.Finalize.Workers,
			PollInterval: time.Duration(cfg.Finalize.PollIntervalSeconds) * time.Second,
			MaxAttempts:  cfg.Finalize.MaxAttempts,
			CallTimeout:  callTimeout,
		})
	scheduler := usecase.NewScheduler(st.tasks, workQueue, usecase.SchedulerConfig{
		Topic:      cfg.Queue.DispatchTopic,
		Interval:   time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second,
		Tolerance:  time.Duration(cfg.Scheduler.ToleranceSeconds) * time.Second,
		StaleAfter: time.Duration(cfg.Scheduler.StaleAfterSeconds) * time.Second,
	}).WithBroadcaster(hub.BroadcastTaskStatus)

	router := server.InitiateRouter(
		httpHandler.NewHealthHandler(checks),
		httpHandler.NewTaskHandler(publishUsecase),
		httpHandler.NewCredentialHandler(credentialStore, registry),
		hub.Serve,
		cfg.App.SecretKey,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return finalizer.Run(gctx) })
	if cfg.Scheduler.Enabled {
		if err := scheduler.Start(gctx); err != nil {
			logger.GetLogger().WithField("error", err).Fatal("Scheduler failed to start")
		}
		defer scheduler.Stop()
	} else {
		logger.GetLogger().Info("Scheduler disabled; tasks publish only on demand")
	}

	app := cfg.App
	logger.GetLogger().WithFields(map[string]interface{}{
		"port":      app.Port,
		"tls":       app.TLSEnabled,
		"queue":     cfg.Queue.Driver,
		"platforms": len(registry.Platforms()),
	}).Info("Starting application")
	g.Go(func() error {
		httpServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", app.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		if app.TLSEnabled {
			cert, key := app.TLSCertFile, app.TLSKeyFile
			if cert == "" || key == "" {
				logger.GetLogger().Error("TLS enabled but cert or key path empty; falling back to HTTP")
			} else {
				logger.GetLogger().WithFields(map[string]interface{}{"cert": cert, "key": key}).Info("Serving HTTPS")
				if err := httpServer.ListenAndServeTLS(cert, key); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			}
		}
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	select {
	case <-interrupt:
		logger.GetLogger().Info("Application shutdown requested")
	case <-gctx.Done():
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}
	if mongoDb != nil {
		_ = mongoDb.Disconnect(shutdownCtx)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.GetLogger().WithField("error", err).Error("Server returned an error")
		os.Exit(2)
	}
}

func initiateMongo(ctx context.Context) *mongo.Client {
	m := configuration.C.Database.Mongo
	client, err := persistence.NewMongoDb(m.Host, m.Port, m.User, m.Password, m.Name)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("MongoDB not available - publish records kept in memory")
		return nil
	}
	if err := client.Ping(ctx, nil); err != nil {
		logger.GetLogger().WithField("error", err).Warn("MongoDB ping failed - publish records kept in memory")
		return nil
	}
	logger.GetLogger().Info("MongoDB connected successfully")
	return client
}

// initiateStores falls back to the in-memory stores for whichever backend is missing.
func initiateStores(psqlDb *sql.DB, mongoDb *mongo.Client) stores {
	st := stores{
		tasks:       persistence.NewMemoryTaskRepository(),
		credentials: persistence.NewMemoryCredentialRepository(),
		staged:      persistence.NewMemoryStagedMediaRepository(),
		records:     persistence.NewMemoryPublishRecordRepository(),
	}
	if psqlDb != nil {
		if err := persistence.EnsurePublishSchema(psqlDb); err != nil {
			logger.GetLogger().WithField("error", err).Error("failed ensuring publish schema")
		}
		st.tasks = persistence.NewTaskRepository(psqlDb)
		st.credentials = persistence.NewCredentialRepository(psqlDb)

		gormDb, err := persistence.NewGormDB(psqlDb)
		if err != nil {
			logger.GetLogger().WithField("error", err).Error("gorm initialization failed - staged media kept in memory")
		} else if err := persistence.EnsureStagedMediaSchema(gormDb); err != nil {
			logger.GetLogger().WithField("error", err).Error("failed ensuring staged media schema")
		} else {
			st.staged = persistence.NewStagedMediaRepository(gormDb)
		}
		logger.GetLogger().Info("PostgreSQL connected successfully")
	}
	if mongoDb != nil {
		st.records = persistence.NewPublishRecordRepository(mongoDb, configuration.C.Database.Mongo.Name)
	}
	return st
}

func initiateRegistry(p configuration.Platforms, credentials usecase.ICredentialStore) *platform.Registry {
	registry := platform.NewRegistry()
	graphClient := &http.Client{Timeout: 60 * time.Second}

	adapters := []struct {
		enabled bool
		adapter platform.Adapter
		cfg     configuration.PlatformClient
	}{
		{p.Facebook.Enabled, facebook.NewClient(p.Facebook.BaseURL, graphClient), p.Facebook},
		{p.Instagram.Enabled, instagram.NewClient(p.Instagram.BaseURL, graphClient), p.Instagram},
		{p.YouTube.Enabled, youtubeclient.NewClient(youtubeclient.Config{
			ClientID:     p.YouTube.ClientID,
			ClientSecret: p.YouTube.ClientSecret,
			Endpoint:     p.YouTube.BaseURL,
		}, credentials, &http.Client{}), p.YouTube},
	}
	for _, a := range adapters {
		if !a.enabled {
			logger.GetLogger().WithField("platform", a.adapter.Name()).Info("platform disabled")
			continue
		}
		if err := registry.Register(a.adapter, a.cfg.RatePerSecond, a.cfg.Burst); err != nil {
			logger.GetLogger().WithField("platform", a.adapter.Name()).WithField("error", err).Error("platform registration failed")
			continue
		}
		logger.GetLogger().
			WithField("platform", a.adapter.Name()).
			WithField("rps", a.cfg.RatePerSecond).
			Info("platform registered")
	}
	return registry
}
