package httpadapter

import (
	"context"
	"log/slog"
	"time"

	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/application/commands"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/application/queries"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/entities"
	httptransport "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/transport/http"
)

type Handler struct {
	CreateCampaign commands.CreateCampaignUseCase
	Enroll         commands.EnrollContactUseCase
	ChangeStatus   commands.ChangeInstanceStatusUseCase
	Reschedule     commands.RescheduleStepUseCase
	Cancel         commands.CancelCampaignUseCase
	Instances      queries.GetInstanceUseCase
	Progress       queries.CampaignProgressUseCase
	Logger         *slog.Logger
}

func (h Handler) CreateCampaignHandler(
	ctx context.Context,
	tenantID string,
	req httptransport.CreateCampaignRequest,
) (httptransport.CampaignResponse, error) {
	steps := make([]entities.CampaignStepTemplate, 0, len(req.Steps))
	for i, step := range req.Steps {
		steps = append(steps, entities.CampaignStepTemplate{
			Position:         i,
			Channel:          entities.Channel(step.Channel),
			Identity:         step.Identity,
			Subject:          step.Subject,
			Body:             step.Body,
			Offset:           time.Duration(step.OffsetSeconds) * time.Second,
			FromPriorOutcome: step.FromPriorOutcome,
		})
	}
	result, err := h.CreateCampaign.Execute(ctx, commands.CreateCampaignCommand{
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		Steps:       steps,
	})
	if err != nil {
		return httptransport.CampaignResponse{}, err
	}
	return httptransport.CampaignResponse{
		CampaignID:  result.Template.CampaignID,
		Name:        result.Template.Name,
		PlanVersion: result.Plan.Version,
		StepCount:   len(result.Plan.Steps),
	}, nil
}

func (h Handler) EnrollContactHandler(
	ctx context.Context,
	tenantID string,
	campaignID string,
	req httptransport.EnrollContactRequest,
) (httptransport.InstanceResponse, error) {
	result, err := h.Enroll.Execute(ctx, commands.EnrollContactCommand{
		TenantID:     tenantID,
		CampaignID:   campaignID,
		ContactID:    req.ContactID,
		EmailAddress: req.EmailAddress,
		PhoneNumber:  req.PhoneNumber,
		PlanVersion:  req.PlanVersion,
	})
	if err != nil {
		return httptransport.InstanceResponse{}, err
	}
	response := mapInstance(result.Instance, result.Steps, nil)
	response.Replayed = result.Replayed
	return response, nil
}

func (h Handler) GetInstanceHandler(
	ctx context.Context,
	tenantID string,
	instanceID string,
) (httptransport.InstanceResponse, error) {
	result, err := h.Instances.Execute(ctx, queries.GetInstanceQuery{
		TenantID:   tenantID,
		InstanceID: instanceID,
	})
	if err != nil {
		return httptransport.InstanceResponse{}, err
	}
	return mapInstance(result.Instance, result.Steps, result.Transitions), nil
}

func (h Handler) PauseInstanceHandler(ctx context.Context, tenantID, instanceID, reason string) error {
	return h.ChangeStatus.Execute(ctx, commands.ChangeInstanceStatusCommand{
		TenantID:   tenantID,
		InstanceID: instanceID,
		Action:     commands.InstanceActionPause,
		Reason:     reason,
	})
}

func (h Handler) ResumeInstanceHandler(ctx context.Context, tenantID, instanceID, reason string) error {
	return h.ChangeStatus.Execute(ctx, commands.ChangeInstanceStatusCommand{
		TenantID:   tenantID,
		InstanceID: instanceID,
		Action:     commands.InstanceActionResume,
		Reason:     reason,
	})
}

func (h Handler) RescheduleStepHandler(
	ctx context.Context,
	tenantID string,
	stepInstanceID string,
	req httptransport.RescheduleStepRequest,
) error {
	return h.Reschedule.Execute(ctx, commands.RescheduleStepCommand{
		TenantID:       tenantID,
		StepInstanceID: stepInstanceID,
		NewTime:        req.NewTime,
		Reason:         req.Reason,
	})
}

func (h Handler) CancelCampaignHandler(
	ctx context.Context,
	tenantID string,
	campaignID string,
	req httptransport.CancelCampaignRequest,
) (httptransport.CancelCampaignResponse, error) {
	result, err := h.Cancel.Execute(ctx, commands.CancelCampaignCommand{
		TenantID:   tenantID,
		CampaignID: campaignID,
		Reason:     req.Reason,
	})
	if err != nil {
		return httptransport.CancelCampaignResponse{}, err
	}
	return httptransport.CancelCampaignResponse{
		CampaignID:      campaignID,
		CanceledActions: result.CanceledActions,
	}, nil
}

func (h Handler) CampaignProgressHandler(
	ctx context.Context,
	tenantID string,
	campaignID string,
) (httptransport.CampaignProgressResponse, error) {
	result, err := h.Progress.Execute(ctx, queries.CampaignProgressQuery{
		TenantID:   tenantID,
		CampaignID: campaignID,
	})
	if err != nil {
		return httptransport.CampaignProgressResponse{}, err
	}
	byStatus := make(map[string]int, len(result.StepsByStatus))
	for status, count := range result.StepsByStatus {
		byStatus[string(status)] = count
	}
	return httptransport.CampaignProgressResponse{
		CampaignID:    result.CampaignID,
		Enrolled:      result.Enrolled,
		StepsByStatus: byStatus,
	}, nil
}

func mapInstance(
	instance entities.ContactCampaignInstance,
	steps []entities.CampaignStepInstance,
	transitions []entities.CampaignTransition,
) httptransport.InstanceResponse {
	stepItems := make([]httptransport.StepInstanceResponse, 0, len(steps))
	for _, step := range steps {
		stepItems = append(stepItems, httptransport.StepInstanceResponse{
			StepInstanceID: step.StepInstanceID,
			Position:       step.Position,
			Channel:        string(step.Channel),
			Status:         string(step.Status),
			ScheduledAt:    step.ScheduledAt,
			AttemptEpoch:   step.AttemptEpoch,
			BranchOutcome:  step.BranchOutcome,
			LastError:      step.LastError,
			SentAt:         step.SentAt,
		})
	}
	transitionItems := make([]httptransport.TransitionResponse, 0, len(transitions))
	for _, transition := range transitions {
		transitionItems = append(transitionItems, httptransport.TransitionResponse{
			TransitionID: transition.TransitionID,
			Entity:       string(transition.Entity),
			EntityID:     transition.EntityID,
			FromState:    transition.FromState,
			ToState:      transition.ToState,
			Reason:       transition.Reason,
			CreatedAt:    transition.CreatedAt,
		})
	}
	return httptransport.InstanceResponse{
		InstanceID:  instance.InstanceID,
		CampaignID:  instance.CampaignID,
		ContactID:   instance.ContactID,
		PlanVersion: instance.PlanVersion,
		Status:      string(instance.Status),
		EnrolledAt:  instance.EnrolledAt,
		CompletedAt: instance.CompletedAt,
		Steps:       stepItems,
		Transitions: transitionItems,
	}
}
