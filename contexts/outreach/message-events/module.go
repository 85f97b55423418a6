package messageevents

import (
	"log/slog"

	httpadapter "github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/adapters/http"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/adapters/memory"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/application/commands"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/application/workers"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/ports"
)

type Module struct {
	Handler httpadapter.Handler
	Relay   workers.OutboxRelay

	// Store is only populated by NewInMemoryModule.
	Store *memory.Store
}

type Dependencies struct {
	Archive   ports.WebhookArchive
	Outbox    ports.OutboxWriter
	OutboxRep ports.OutboxRepository
	Publisher ports.EventPublisher
	Clock     ports.Clock
	IDGen     ports.IDGenerator
	BatchSize int
	Logger    *slog.Logger
}

func NewModule(deps Dependencies) Module {
	return Module{
		Handler: httpadapter.Handler{
			Ingest: commands.IngestWebhookUseCase{
				Archive: deps.Archive,
				Outbox:  deps.Outbox,
				Clock:   deps.Clock,
				IDGen:   deps.IDGen,
				Logger:  deps.Logger,
			},
			Replay: commands.ReplayDeliveryUseCase{
				Archive: deps.Archive,
				Outbox:  deps.Outbox,
				Clock:   deps.Clock,
				Logger:  deps.Logger,
			},
			Logger: deps.Logger,
		},
		Relay: workers.OutboxRelay{
			Outbox:    deps.OutboxRep,
			Publisher: deps.Publisher,
			Clock:     deps.Clock,
			BatchSize: deps.BatchSize,
			Logger:    deps.Logger,
		},
	}
}

func NewInMemoryModule(publisher ports.EventPublisher, logger *slog.Logger) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Archive:   store,
		Outbox:    store,
		OutboxRep: store,
		Publisher: publisher,
		Clock:     store,
		IDGen:     store,
		BatchSize: 100,
		Logger:    logger,
	})
	module.Store = store
	return module
}
