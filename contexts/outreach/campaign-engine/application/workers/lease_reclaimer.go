package workers

import (
	"context"
	"log/slog"

	application "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/application"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/ports"
)

// LeaseReclaimer sweeps claimed and executing actions whose lease lapsed back
// to pending. A worker that dies mid-dispatch never strands its action.
type LeaseReclaimer struct {
	Queue  ports.ActionQueueStore
	Clock  ports.Clock
	Logger *slog.Logger
}

func (r LeaseReclaimer) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(r.Logger)

	now := r.Clock.Now().UTC()
	reclaimed, err := r.Queue.ReclaimExpired(ctx, now)
	if err != nil {
		logger.Error("lease reclaim sweep failed",
			"event", "action_lease_reclaim_failed",
			"module", "outreach/campaign-engine",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	if reclaimed > 0 {
		logger.Info("lease reclaim sweep completed",
			"event", "action_lease_reclaim_completed",
			"module", "outreach/campaign-engine",
			"layer", "worker",
			"reclaimed_count", reclaimed,
		)
	}
	return nil
}
