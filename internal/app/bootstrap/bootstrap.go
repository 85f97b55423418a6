package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	campaignengine "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine"
	enginepostgres "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/adapters/postgres"
	engineworkers "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/application/workers"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/ports"
	messageevents "github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events"
	eventspostgres "github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/adapters/postgres"
	eventsworkers "github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/application/workers"
	"github.com/Nex2i/dripiq-sub001/internal/platform/config"
	"github.com/Nex2i/dripiq-sub001/internal/platform/db"
	"github.com/Nex2i/dripiq-sub001/internal/platform/httpserver"
	"github.com/Nex2i/dripiq-sub001/internal/platform/messaging"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type APIApp struct {
	server   *httpserver.Server
	postgres *db.Postgres
	logger   *slog.Logger
}

type WorkerApp struct {
	postgres   *db.Postgres
	dispatcher engineworkers.Dispatcher
	reclaimer  engineworkers.LeaseReclaimer
	consumer   engineworkers.EngagementConsumer
	relay      eventsworkers.OutboxRelay

	pollInterval  time.Duration
	runDispatcher bool
	runReclaimer  bool
	runRelay      bool
	startConsumer bool
	logger        *slog.Logger
}

// NoopProvider is bound in the API process, which never dispatches. The
// worker process replaces it with a real provider client.
type NoopProvider struct{}

func (NoopProvider) Send(_ context.Context, req ports.SendRequest) (string, error) {
	return "noop-" + req.DedupeKey, nil
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "api")
	pg, err := connectPostgres(cfg)
	if err != nil {
		return nil, err
	}

	bus, err := messaging.NewKafka(cfg.KafkaBrokers, logger)
	if err != nil {
		return nil, err
	}

	engineRepo := enginepostgres.NewRepository(pg.DB, logger)
	engineModule := campaignengine.NewModule(campaignengine.Dependencies{
		Plans:       engineRepo,
		Instances:   engineRepo,
		Queue:       engineRepo,
		Suppression: engineRepo,
		RateLimits:  engineRepo,
		Messages:    engineRepo,
		Transitions: engineRepo,
		Dedup:       engineRepo,
		Subscriber:  bus,
		Provider:    NoopProvider{},
		Clock:       enginepostgres.SystemClock{},
		IDGen:       enginepostgres.UUIDGenerator{},
		BatchSize:   cfg.ClaimBatchSize,
		LeaseTTL:    cfg.LeaseTTL,
		DedupTTL:    cfg.DedupTTL,
		Logger:      logger,
	})

	eventsRepo := eventspostgres.NewRepository(pg.DB, logger)
	eventsModule := messageevents.NewModule(messageevents.Dependencies{
		Archive:   eventsRepo,
		Outbox:    eventsRepo,
		OutboxRep: eventsRepo,
		Publisher: bus,
		Clock:     eventspostgres.SystemClock{},
		IDGen:     eventspostgres.UUIDGenerator{},
		BatchSize: 100,
		Logger:    logger,
	})

	server := httpserver.New(engineModule, eventsModule, logger, normalizeAddr(cfg.HTTPPort))
	return &APIApp{
		server:   server,
		postgres: pg,
		logger:   logger,
	}, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	pg, err := connectPostgres(cfg)
	if err != nil {
		return nil, err
	}

	bus, err := messaging.NewKafka(cfg.KafkaBrokers, logger)
	if err != nil {
		return nil, err
	}

	engineRepo := enginepostgres.NewRepository(pg.DB, logger)
	engineModule := campaignengine.NewModule(campaignengine.Dependencies{
		Plans:       engineRepo,
		Instances:   engineRepo,
		Queue:       engineRepo,
		Suppression: engineRepo,
		RateLimits:  engineRepo,
		Messages:    engineRepo,
		Transitions: engineRepo,
		Dedup:       engineRepo,
		Subscriber:  bus,
		Provider:    NoopProvider{},
		Clock:       enginepostgres.SystemClock{},
		IDGen:       enginepostgres.UUIDGenerator{},
		BatchSize:   cfg.ClaimBatchSize,
		LeaseTTL:    cfg.LeaseTTL,
		DedupTTL:    cfg.DedupTTL,
		Logger:      logger,
	})

	eventsRepo := eventspostgres.NewRepository(pg.DB, logger)
	eventsModule := messageevents.NewModule(messageevents.Dependencies{
		Archive:   eventsRepo,
		Outbox:    eventsRepo,
		OutboxRep: eventsRepo,
		Publisher: bus,
		Clock:     eventspostgres.SystemClock{},
		IDGen:     eventspostgres.UUIDGenerator{},
		BatchSize: 100,
		Logger:    logger,
	})

	return &WorkerApp{
		postgres:      pg,
		dispatcher:    engineModule.Dispatcher,
		reclaimer:     engineModule.Reclaimer,
		consumer:      engineModule.Consumer,
		relay:         eventsModule.Relay,
		pollInterval:  cfg.PollInterval,
		runDispatcher: cfg.EnableDispatcher,
		runReclaimer:  cfg.EnableLeaseReclaimer,
		runRelay:      cfg.EnableOutboxRelay,
		startConsumer: cfg.EnableEngagementConsumer,
		logger:        logger,
	}, nil
}

func (a *APIApp) Run(_ context.Context) error {
	if a.logger != nil {
		a.logger.Info("api app started",
			"event", "bootstrap_api_started",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
	}
	return a.server.Start()
}

func (a *APIApp) Close() error {
	if a.postgres != nil {
		return a.postgres.Close()
	}
	return nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	if w.startConsumer {
		if err := w.consumer.Start(ctx); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", w.pollInterval.String(),
	)

	for {
		if w.runReclaimer {
			if err := w.reclaimer.RunOnce(ctx); err != nil {
				return err
			}
		}
		if w.runRelay {
			if err := w.relay.RunOnce(ctx); err != nil {
				return err
			}
		}
		if w.runDispatcher {
			if err := w.dispatcher.RunOnce(ctx); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *WorkerApp) Close() error {
	if w.postgres != nil {
		return w.postgres.Close()
	}
	return nil
}

func connectPostgres(cfg config.Config) (*db.Postgres, error) {
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}
	pg, err := db.Connect(db.Options{
		DSN:          cfg.PostgresDSN,
		MaxOpenConns: cfg.PostgresMaxConns,
	})
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := pg.AutoMigrate(enginepostgres.AutoMigrate, eventspostgres.AutoMigrate); err != nil {
			_ = pg.Close()
			return nil, err
		}
	}
	return pg, nil
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
