// Package app wires configuration into the store, slot, broker and services.
package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	gomysql "github.com/go-sql-driver/mysql"

	"truckcount-api/internal/cache"
	"truckcount-api/internal/config"
	"truckcount-api/internal/handler"
	"truckcount-api/internal/logger"
	"truckcount-api/internal/queue"
	"truckcount-api/internal/repository"
	"truckcount-api/internal/router"
	"truckcount-api/internal/service"
)

// App holds the long-lived components of the service.
type App struct {
	cfg       *config.Config
	store     repository.Store
	slot      cache.Slot
	Approvals *service.ApprovalService
	Summaries *service.SummaryService
	Review    *service.ReviewService
	Scheduler *service.SyncScheduler
}

// NewStore opens the approval and summary store selected by cfg.Type.
func NewStore(cfg config.StoreConfig) (repository.Store, error) {
	switch cfg.Type {
	case "mongodb", "mongo":
		if cfg.MongoURI == "" {
			return nil, fmt.Errorf("MONGODB_URI is required for store type %q", cfg.Type)
		}
		return repository.NewMongoStore(cfg.MongoURI, cfg.MongoDatabase)
	case "postgres", "postgresql":
		return repository.NewPostgresStore(cfg.PostgresDSN())
	case "mysql":
		myCfg := gomysql.NewConfig()
		myCfg.User = cfg.User
		myCfg.Passwd = cfg.Password
		myCfg.Net = "tcp"
		myCfg.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		myCfg.DBName = cfg.Name
		return repository.NewMySQLStore(myCfg)
	case "sqlite", "":
		return repository.NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown STORE_TYPE %q", cfg.Type)
	}
}

// NewSlot builds the pending-message slot selected by cfg.Backend.
func NewSlot(cfg config.SlotConfig) (cache.Slot, error) {
	if cfg.Backend == "redis" {
		return cache.NewRedisSlot(cache.RedisSlotConfig{
			Addr:      cfg.RedisAddress(),
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.KeyPrefix,
			LockTTL:   cfg.LockTTL,
		})
	}
	return cache.NewMemorySlot(), nil
}

// NewBroker connects to the configured SQS queue.
func NewBroker(ctx context.Context, cfg config.QueueConfig) (*queue.SQSBroker, error) {
	return queue.NewSQSBroker(ctx, queue.SQSConfig{
		Region:    cfg.Region,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		QueueURL:  cfg.URL,
		Endpoint:  cfg.Endpoint,
	})
}

// New builds every component. On error, anything already opened is closed.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	loc, err := cfg.App.Location()
	if err != nil {
		return nil, err
	}

	store, err := NewStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Type, err)
	}
	logger.Info("store initialized", "component", "app", "type", cfg.Store.Type)

	slot, err := NewSlot(cfg.Slot)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open %s slot: %w", cfg.Slot.Backend, err)
	}

	broker, err := NewBroker(ctx, cfg.Queue)
	if err != nil {
		closeSlot(slot)
		store.Close()
		return nil, err
	}
	logger.Info("queue broker initialized", "component", "app", "region", cfg.Queue.Region, "purge_mode", cfg.Queue.PurgeMode)

	consumer := queue.NewConsumer(broker, slot, queue.Config{
		WaitTime:          cfg.Queue.WaitTime,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		PurgeBatch:        cfg.Queue.PurgeBatch,
		PurgeMode:         cfg.Queue.PurgeMode,
		PurgeMaxRounds:    cfg.Queue.PurgeMaxRounds,
	})

	approvals := service.NewApprovalService(store)
	summaries := service.NewSummaryService(store, store, loc)

	return &App{
		cfg:       cfg,
		store:     store,
		slot:      slot,
		Approvals: approvals,
		Summaries: summaries,
		Review:    service.NewReviewService(consumer, approvals),
		Scheduler: service.NewSyncScheduler(summaries, service.SyncConfig{Interval: cfg.Scheduler.SyncInterval}),
	}, nil
}

// Router builds the HTTP handler tree.
func (a *App) Router() http.Handler {
	checks := []handler.ReadinessCheck{
		{Name: "store", Check: a.store.Ping},
		{Name: "slot", Check: func(ctx context.Context) error {
			_, err := a.slot.Peek(ctx)
			return err
		}},
	}

	return router.New(router.Config{
		Handler:         handler.New(a.cfg.App.Name, a.cfg.App.Version, checks...),
		MessageHandler:  handler.NewMessageHandler(a.Review),
		ApprovalHandler: handler.NewApprovalHandler(a.Approvals),
		SummaryHandler:  handler.NewSummaryHandler(a.Summaries),
		AdminHandler:    handler.NewAdminHandler(a.store, a.Review, a.cfg.Store.Type, a.cfg.Slot.Backend),
	})
}

// Close stops the scheduler and releases the slot and store.
func (a *App) Close() {
	a.Scheduler.Stop()
	closeSlot(a.slot)
	if err := a.store.Close(); err != nil {
		logger.Warn("store close failed", "component", "app", "error", err)
	}
}

func closeSlot(slot cache.Slot) {
	if c, ok := slot.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("slot close failed", "component", "app", "error", err)
		}
	}
}
