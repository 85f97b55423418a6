package campaignengine

import (
	"log/slog"
	"time"

	httpadapter "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/adapters/http"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/adapters/memory"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/application"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/application/commands"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/application/queries"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/application/workers"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/ports"
)

type Module struct {
	Handler    httpadapter.Handler
	Dispatcher workers.Dispatcher
	Reclaimer  workers.LeaseReclaimer
	Consumer   workers.EngagementConsumer

	// Store is only populated by NewInMemoryModule.
	Store    *memory.Store
	Provider *memory.FakeProvider
}

type Dependencies struct {
	Plans       ports.PlanRepository
	Instances   ports.InstanceRepository
	Queue       ports.ActionQueueStore
	Suppression ports.SuppressionStore
	RateLimits  ports.RateLimitStore
	Messages    ports.MessageStore
	Transitions ports.TransitionLog
	Dedup       ports.EventDedupStore
	Subscriber  ports.EventSubscriber
	Provider    ports.ProviderClient
	Clock       ports.Clock
	IDGen       ports.IDGenerator
	BatchSize   int
	LeaseTTL    time.Duration
	DedupTTL    time.Duration
	Logger      *slog.Logger
}

func NewModule(deps Dependencies) Module {
	advancer := application.Advancer{
		Plans:       deps.Plans,
		Instances:   deps.Instances,
		Queue:       deps.Queue,
		Transitions: deps.Transitions,
		Clock:       deps.Clock,
		IDGen:       deps.IDGen,
		Logger:      deps.Logger,
	}

	handler := httpadapter.Handler{
		CreateCampaign: commands.CreateCampaignUseCase{
			Plans:  deps.Plans,
			Clock:  deps.Clock,
			IDGen:  deps.IDGen,
			Logger: deps.Logger,
		},
		Enroll: commands.EnrollContactUseCase{
			Plans:       deps.Plans,
			Instances:   deps.Instances,
			Queue:       deps.Queue,
			Transitions: deps.Transitions,
			Advancer:    advancer,
			Clock:       deps.Clock,
			IDGen:       deps.IDGen,
			Logger:      deps.Logger,
		},
		ChangeStatus: commands.ChangeInstanceStatusUseCase{
			Instances:   deps.Instances,
			Transitions: deps.Transitions,
			Advancer:    advancer,
			Clock:       deps.Clock,
			IDGen:       deps.IDGen,
			Logger:      deps.Logger,
		},
		Reschedule: commands.RescheduleStepUseCase{
			Instances:   deps.Instances,
			Queue:       deps.Queue,
			Transitions: deps.Transitions,
			Clock:       deps.Clock,
			IDGen:       deps.IDGen,
			Logger:      deps.Logger,
		},
		Cancel: commands.CancelCampaignUseCase{
			Queue:       deps.Queue,
			Transitions: deps.Transitions,
			Clock:       deps.Clock,
			IDGen:       deps.IDGen,
			Logger:      deps.Logger,
		},
		Instances: queries.GetInstanceUseCase{
			Instances:   deps.Instances,
			Transitions: deps.Transitions,
			Logger:      deps.Logger,
		},
		Progress: queries.CampaignProgressUseCase{
			Instances: deps.Instances,
			Logger:    deps.Logger,
		},
		Logger: deps.Logger,
	}

	dispatcher := workers.Dispatcher{
		Queue:       deps.Queue,
		Plans:       deps.Plans,
		Instances:   deps.Instances,
		Suppression: deps.Suppression,
		RateLimits:  deps.RateLimits,
		Messages:    deps.Messages,
		Transitions: deps.Transitions,
		Provider:    deps.Provider,
		Advancer:    advancer,
		Clock:       deps.Clock,
		IDGen:       deps.IDGen,
		BatchSize:   deps.BatchSize,
		LeaseTTL:    deps.LeaseTTL,
		Logger:      deps.Logger,
	}

	reclaimer := workers.LeaseReclaimer{
		Queue:  deps.Queue,
		Clock:  deps.Clock,
		Logger: deps.Logger,
	}

	consumer := workers.EngagementConsumer{
		Subscriber:  deps.Subscriber,
		Messages:    deps.Messages,
		Instances:   deps.Instances,
		Queue:       deps.Queue,
		Suppression: deps.Suppression,
		Transitions: deps.Transitions,
		Dedup:       deps.Dedup,
		Advancer:    advancer,
		Clock:       deps.Clock,
		IDGen:       deps.IDGen,
		DedupTTL:    deps.DedupTTL,
		Logger:      deps.Logger,
	}

	return Module{
		Handler:    handler,
		Dispatcher: dispatcher,
		Reclaimer:  reclaimer,
		Consumer:   consumer,
	}
}

func NewInMemoryModule(subscriber ports.EventSubscriber, logger *slog.Logger) Module {
	store := memory.NewStore()
	provider := memory.NewFakeProvider()
	module := NewModule(Dependencies{
		Plans:       store,
		Instances:   store,
		Queue:       store,
		Suppression: store,
		RateLimits:  store,
		Messages:    store,
		Transitions: store,
		Dedup:       store,
		Subscriber:  subscriber,
		Provider:    provider,
		Clock:       store,
		IDGen:       store,
		BatchSize:   50,
		LeaseTTL:    5 * time.Minute,
		DedupTTL:    24 * time.Hour,
		Logger:      logger,
	})
	module.Store = store
	module.Provider = provider
	return module
}
