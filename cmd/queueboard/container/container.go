package container

import (
	"context"
	"fmt"

	"github.com/lyzr/queueboard/cmd/queueboard/broadcast"
	"github.com/lyzr/queueboard/cmd/queueboard/repository"
	"github.com/lyzr/queueboard/cmd/queueboard/service"
	"github.com/lyzr/queueboard/cmd/queueboard/ticker"
	"github.com/lyzr/queueboard/common/bootstrap"
	"github.com/lyzr/queueboard/common/queuedate"
	"github.com/lyzr/queueboard/common/ratelimit"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	Components *bootstrap.Components

	// Store is Postgres when a database is configured, memory otherwise
	Store repository.Store

	// Services
	Publisher  *service.Publisher
	Queue      *service.QueueService
	Staff      *service.StaffService
	Auth       *service.AuthService
	Admin      *service.AdminService
	Dispatcher *service.Dispatcher

	Hub *broadcast.Hub

	// Shared across replicas when the event bus runs on Redis
	Limiter ratelimit.Limiter

	// Background tasks
	Elapsed *ticker.ElapsedTicker
	Stats   *ticker.StatsTicker
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	loc, err := queuedate.Location(cfg.Service.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue timezone: %w", err)
	}

	var store repository.Store
	storeName := "postgres"
	if components.DB != nil {
		store = repository.NewPostgresStore(components.DB)
	} else {
		storeName = "memory"
		mem := repository.NewMemoryStore()
		for _, d := range defaultDoctors {
			mem.AddDoctor(d[0], d[1])
		}
		store = mem
		log.Warn("using in-memory store, data is lost on restart")
	}

	// Initialize services (bottom-up: dependencies first)
	publisher := service.NewPublisher(components.Queue, cfg.Queue.Topic, components.Metrics, log)

	opts := []service.Option{
		service.WithLocation(loc),
		service.WithMetrics(components.Metrics),
	}
	if components.Cache != nil {
		opts = append(opts, service.WithSnapshotCache(components.Cache, cfg.Cache.SnapshotTTL))
	}
	queueService := service.NewQueueService(store, publisher, log, opts...)
	staffService := service.NewStaffService(store, publisher, queueService, log)
	dispatcher := service.NewDispatcher(queueService, staffService)

	hub := broadcast.NewHub(cfg.Broadcast, dispatcher, components.Metrics, log)

	adminService := service.NewAdminService(store, hub, components.Health, service.ServerStatus{
		Service:     cfg.Service.Name,
		Environment: cfg.Service.Environment,
		Store:       storeName,
		EventBus:    cfg.Queue.Type,
	}, log)

	authService := service.NewAuthService(cfg.Auth, log)

	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter()
	if components.Redis != nil {
		limiter = ratelimit.NewRedisLimiter(components.Redis.GetUnderlying(), "queueboard:ratelimit:", log)
	}

	elapsed := ticker.NewElapsedTicker(store, queueService, log).
		WithInterval(cfg.Ticker.ElapsedInterval).
		WithMetrics(components.Metrics)
	stats := ticker.NewStatsTicker(queueService, log).
		WithInterval(cfg.Ticker.StatsInterval).
		WithMetrics(components.Metrics)

	return &Container{
		Components: components,
		Store:      store,
		Publisher:  publisher,
		Queue:      queueService,
		Staff:      staffService,
		Auth:       authService,
		Admin:      adminService,
		Dispatcher: dispatcher,
		Hub:        hub,
		Limiter:    limiter,
		Elapsed:    elapsed,
		Stats:      stats,
	}, nil
}

// Start attaches the hub to the event bus and launches the tickers.
// Everything stops when ctx is done.
func (c *Container) Start(ctx context.Context) error {
	if err := c.Hub.Attach(ctx, c.Components.Queue, c.Publisher.Topic()); err != nil {
		return err
	}

	go c.Elapsed.Start(ctx)
	go c.Stats.Start(ctx)
	return nil
}

// rooms available without a database, matching the migration seed
var defaultDoctors = [][2]string{
	{"Dr. Kim", "1R"},
	{"Dr. Lee", "2R"},
	{"Dr. Park", "3R"},
	{"Dr. Choi", "CT"},
	{"Dr. Jung", "MR"},
}
