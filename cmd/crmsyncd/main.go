package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/agentworkforce/crmsync/internal/config"
	"github.com/agentworkforce/crmsync/internal/crmapi"
	"github.com/agentworkforce/crmsync/internal/crmsync"
	"github.com/agentworkforce/crmsync/internal/geocode"
	"github.com/agentworkforce/crmsync/internal/httpapi"
	"github.com/agentworkforce/crmsync/internal/scheduler"
	"github.com/agentworkforce/crmsync/internal/store"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	geocoder := geocode.NewHTTPGeocoder(geocode.Options{
		APIKey:  cfg.GeocoderAPIKey,
		BaseURL: cfg.GeocoderBaseURL,
	})
	normalizer := crmsync.NewAddressNormalizer(geocoder, crmsync.DefaultFallbackAddress)
	registry := crmsync.NewRegistry(normalizer)
	client := crmapi.NewHTTPClient(crmapi.Options{
		BaseURL: cfg.CRMBaseURL,
		APIKey:  cfg.CRMAPIKey,
	})
	events := crmsync.NewBroadcaster(0)

	var (
		entityStore crmsync.Store
		queue       syncQueue
	)
	if cfg.MemoryStore {
		memQueue := store.NewMemQueue(cfg.TaskLease)
		entityStore = store.NewMemStore(registry, cfg.CRMEnabled).WithTaskSink(memQueue)
		queue = memQueue
		logger.Info("using in-memory store")
	} else {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to open database", zap.Error(err))
		}
		defer db.Close()
		taskQueue, err := store.NewTaskQueue(db, cfg.TaskLease, logger)
		if err != nil {
			logger.Fatal("failed to init task queue", zap.Error(err))
		}
		pg, err := store.NewPostgresStore(db, registry, taskQueue, cfg.CRMEnabled, logger)
		if err != nil {
			logger.Fatal("failed to init store", zap.Error(err))
		}
		entityStore = pg
		queue = taskQueue
	}

	outbound := crmsync.NewOutbound(entityStore, client, registry, events, logger)
	inbound := crmsync.NewInbound(entityStore, client, registry, events, logger)
	accounts := crmsync.NewAccountResolver(entityStore, client, registry, events, logger,
		cfg.ShelterCategory, cfg.ClinicCategory)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerDone := make(chan struct{})
	if cfg.CRMEnabled {
		workers := scheduler.New(queue, outbound, scheduler.Options{
			Workers:      cfg.Workers,
			PollInterval: cfg.PollInterval,
			BaseBackoff:  cfg.BaseBackoff,
			MaxBackoff:   cfg.MaxBackoff,
		}, logger)
		go func() {
			defer close(workerDone)
			workers.Run(ctx)
		}()
	} else {
		close(workerDone)
		logger.Warn("crm sync disabled, not starting workers")
	}

	api := httpapi.NewServer(httpapi.ServerConfig{
		JWTSecret:  cfg.JWTSecret,
		CRMEnabled: cfg.CRMEnabled,
	}, httpapi.Deps{
		Store:    entityStore,
		Registry: registry,
		Inbound:  inbound,
		Accounts: accounts,
		Queue:    queue,
		Events:   events,
		Notifier: logNotifier{log: logger},
		Log:      logger,
	})

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: api.Router(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server", zap.String("port", cfg.ServerPort))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
	<-workerDone
	logger.Info("server stopped")
}

// syncQueue is what both the scheduler and the HTTP surface need from the
// task queue.
type syncQueue interface {
	scheduler.Queue
	httpapi.Queue
}

// logNotifier stands in for the platform notification pipeline.
type logNotifier struct {
	log *zap.Logger
}

func (n logNotifier) Notify(_ context.Context, userID uuid.UUID, message string) error {
	n.log.Info("user warned", zap.String("user", userID.String()), zap.String("message", message))
	return nil
}
