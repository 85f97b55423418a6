package postgresadapter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/entities"
	domainerrors "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/errors"
	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var terminalActionStatuses = []string{
	string(entities.ActionStatusDone),
	string(entities.ActionStatusFailed),
	string(entities.ActionStatusCanceled),
}

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) CreateTemplate(ctx context.Context, template entities.CampaignTemplate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := campaignTemplateModel{
			CampaignID:  strings.TrimSpace(template.CampaignID),
			TenantID:    strings.TrimSpace(template.TenantID),
			Name:        strings.TrimSpace(template.Name),
			Description: template.Description,
			CreatedAt:   template.CreatedAt.UTC(),
			UpdatedAt:   template.UpdatedAt.UTC(),
		}
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrInvalidCampaignInput
			}
			return r.logError("campaign_repo_create_template_failed", err,
				"campaign_id", row.CampaignID,
				"tenant_id", row.TenantID,
			)
		}
		for _, step := range template.Steps {
			stepRow := stepTemplateModel{
				StepID:           strings.TrimSpace(step.StepID),
				CampaignID:       row.CampaignID,
				Position:         step.Position,
				Channel:          string(step.Channel),
				Identity:         strings.TrimSpace(step.Identity),
				Subject:          step.Subject,
				Body:             step.Body,
				OffsetSeconds:    int64(step.Offset / time.Second),
				FromPriorOutcome: step.FromPriorOutcome,
			}
			if stepRow.StepID == "" {
				stepRow.StepID = uuid.NewString()
			}
			if err := tx.Create(&stepRow).Error; err != nil {
				return r.logError("campaign_repo_create_step_template_failed", err,
					"campaign_id", row.CampaignID,
					"position", step.Position,
				)
			}
		}
		return nil
	})
}

func (r *Repository) GetTemplate(ctx context.Context, tenantID, campaignID string) (entities.CampaignTemplate, error) {
	var row campaignTemplateModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("campaign_id = ?", strings.TrimSpace(campaignID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.CampaignTemplate{}, domainerrors.ErrCampaignNotFound
		}
		return entities.CampaignTemplate{}, r.logError("campaign_repo_get_template_failed", err,
			"campaign_id", strings.TrimSpace(campaignID),
		)
	}

	var stepRows []stepTemplateModel
	if err := r.db.WithContext(ctx).
		Where("campaign_id = ?", row.CampaignID).
		Order("position ASC").
		Find(&stepRows).Error; err != nil {
		return entities.CampaignTemplate{}, r.logError("campaign_repo_get_template_steps_failed", err,
			"campaign_id", row.CampaignID,
		)
	}

	steps := make([]entities.CampaignStepTemplate, 0, len(stepRows))
	for _, stepRow := range stepRows {
		steps = append(steps, entities.CampaignStepTemplate{
			StepID:           stepRow.StepID,
			Position:         stepRow.Position,
			Channel:          entities.Channel(stepRow.Channel),
			Identity:         stepRow.Identity,
			Subject:          stepRow.Subject,
			Body:             stepRow.Body,
			Offset:           time.Duration(stepRow.OffsetSeconds) * time.Second,
			FromPriorOutcome: stepRow.FromPriorOutcome,
		})
	}
	return entities.CampaignTemplate{
		CampaignID:  row.CampaignID,
		TenantID:    row.TenantID,
		Name:        row.Name,
		Description: row.Description,
		Steps:       steps,
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}, nil
}

func (r *Repository) SnapshotPlan(ctx context.Context, tenantID, campaignID string) (entities.CampaignPlanVersion, error) {
	template, err := r.GetTemplate(ctx, tenantID, campaignID)
	if err != nil {
		return entities.CampaignPlanVersion{}, err
	}

	var plan entities.CampaignPlanVersion
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest planVersionModel
		nextVersion := 1
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("campaign_id = ?", template.CampaignID).
			Order("version DESC").
			First(&latest).
			Error
		switch {
		case err == nil:
			nextVersion = latest.Version + 1
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return r.logError("campaign_repo_snapshot_latest_failed", err, "campaign_id", template.CampaignID)
		}

		now := time.Now().UTC()
		versionRow := planVersionModel{
			CampaignID: template.CampaignID,
			Version:    nextVersion,
			TenantID:   template.TenantID,
			CreatedAt:  now,
		}
		if err := tx.Create(&versionRow).Error; err != nil {
			return r.logError("campaign_repo_snapshot_insert_failed", err,
				"campaign_id", template.CampaignID,
				"version", nextVersion,
			)
		}
		for _, step := range template.Steps {
			stepRow := planStepModel{
				CampaignID:       template.CampaignID,
				Version:          nextVersion,
				Position:         step.Position,
				StepID:           step.StepID,
				Channel:          string(step.Channel),
				Identity:         step.Identity,
				Subject:          step.Subject,
				Body:             step.Body,
				OffsetSeconds:    int64(step.Offset / time.Second),
				FromPriorOutcome: step.FromPriorOutcome,
			}
			if err := tx.Create(&stepRow).Error; err != nil {
				return r.logError("campaign_repo_snapshot_step_failed", err,
					"campaign_id", template.CampaignID,
					"version", nextVersion,
					"position", step.Position,
				)
			}
		}
		plan = entities.CampaignPlanVersion{
			CampaignID: template.CampaignID,
			TenantID:   template.TenantID,
			Version:    nextVersion,
			Steps:      template.Steps,
			CreatedAt:  now,
		}
		return nil
	})
	if err != nil {
		return entities.CampaignPlanVersion{}, err
	}
	return plan, nil
}

func (r *Repository) GetPlanVersion(ctx context.Context, tenantID, campaignID string, version int) (entities.CampaignPlanVersion, error) {
	var row planVersionModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("campaign_id = ?", strings.TrimSpace(campaignID)).
		Where("version = ?", version).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.CampaignPlanVersion{}, domainerrors.ErrPlanVersionNotFound
		}
		return entities.CampaignPlanVersion{}, r.logError("campaign_repo_get_plan_version_failed", err,
			"campaign_id", strings.TrimSpace(campaignID),
			"version", version,
		)
	}
	return r.loadPlan(ctx, row)
}

func (r *Repository) LatestPlanVersion(ctx context.Context, tenantID, campaignID string) (entities.CampaignPlanVersion, error) {
	var row planVersionModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("campaign_id = ?", strings.TrimSpace(campaignID)).
		Order("version DESC").
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.CampaignPlanVersion{}, domainerrors.ErrPlanVersionNotFound
		}
		return entities.CampaignPlanVersion{}, r.logError("campaign_repo_latest_plan_version_failed", err,
			"campaign_id", strings.TrimSpace(campaignID),
		)
	}
	return r.loadPlan(ctx, row)
}

func (r *Repository) loadPlan(ctx context.Context, row planVersionModel) (entities.CampaignPlanVersion, error) {
	var stepRows []planStepModel
	if err := r.db.WithContext(ctx).
		Where("campaign_id = ?", row.CampaignID).
		Where("version = ?", row.Version).
		Order("position ASC").
		Find(&stepRows).Error; err != nil {
		return entities.CampaignPlanVersion{}, r.logError("campaign_repo_load_plan_steps_failed", err,
			"campaign_id", row.CampaignID,
			"version", row.Version,
		)
	}
	steps := make([]entities.CampaignStepTemplate, 0, len(stepRows))
	for _, stepRow := range stepRows {
		steps = append(steps, stepTemplateFromPlanStep(stepRow))
	}
	return entities.CampaignPlanVersion{
		CampaignID: row.CampaignID,
		TenantID:   row.TenantID,
		Version:    row.Version,
		Steps:      steps,
		CreatedAt:  row.CreatedAt.UTC(),
	}, nil
}

func (r *Repository) CreateInstance(
	ctx context.Context,
	instance entities.ContactCampaignInstance,
	steps []entities.CampaignStepInstance,
) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := instanceModelFromEntity(instance)
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrContactAlreadyEnrolled
			}
			return r.logError("campaign_repo_create_instance_failed", err,
				"instance_id", row.InstanceID,
				"contact_id", row.ContactID,
			)
		}
		for _, step := range steps {
			stepRow := stepInstanceModelFromEntity(step)
			if err := tx.Create(&stepRow).Error; err != nil {
				return r.logError("campaign_repo_create_step_instance_failed", err,
					"instance_id", row.InstanceID,
					"step_instance_id", stepRow.StepInstanceID,
				)
			}
		}
		return nil
	})
}

func (r *Repository) GetInstance(ctx context.Context, tenantID, instanceID string) (entities.ContactCampaignInstance, error) {
	var row instanceModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("instance_id = ?", strings.TrimSpace(instanceID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.ContactCampaignInstance{}, domainerrors.ErrInstanceNotFound
		}
		return entities.ContactCampaignInstance{}, r.logError("campaign_repo_get_instance_failed", err,
			"instance_id", strings.TrimSpace(instanceID),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) FindInstanceByContact(
	ctx context.Context,
	tenantID, campaignID, contactID string,
) (entities.ContactCampaignInstance, error) {
	var row instanceModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("campaign_id = ?", strings.TrimSpace(campaignID)).
		Where("contact_id = ?", strings.TrimSpace(contactID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.ContactCampaignInstance{}, domainerrors.ErrInstanceNotFound
		}
		return entities.ContactCampaignInstance{}, r.logError("campaign_repo_find_instance_by_contact_failed", err,
			"campaign_id", strings.TrimSpace(campaignID),
			"contact_id", strings.TrimSpace(contactID),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) UpdateInstanceStatus(
	ctx context.Context,
	tenantID, instanceID string,
	status entities.InstanceStatus,
	updatedAt time.Time,
) error {
	updates := map[string]any{
		"status":     string(status),
		"updated_at": updatedAt.UTC(),
	}
	if status == entities.InstanceStatusCompleted {
		updates["completed_at"] = updatedAt.UTC()
	} else {
		updates["completed_at"] = nil
	}
	result := r.db.WithContext(ctx).
		Model(&instanceModel{}).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("instance_id = ?", strings.TrimSpace(instanceID)).
		Updates(updates)
	if result.Error != nil {
		return r.logError("campaign_repo_update_instance_status_failed", result.Error,
			"instance_id", strings.TrimSpace(instanceID),
			"status", string(status),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrInstanceNotFound
	}
	return nil
}

func (r *Repository) ListInstancesByCampaign(ctx context.Context, tenantID, campaignID string) ([]entities.ContactCampaignInstance, error) {
	var rows []instanceModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("campaign_id = ?", strings.TrimSpace(campaignID)).
		Order("enrolled_at ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("campaign_repo_list_instances_failed", err,
			"campaign_id", strings.TrimSpace(campaignID),
		)
	}
	items := make([]entities.ContactCampaignInstance, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) GetStepInstance(ctx context.Context, tenantID, stepInstanceID string) (entities.CampaignStepInstance, error) {
	var row stepInstanceModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("step_instance_id = ?", strings.TrimSpace(stepInstanceID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.CampaignStepInstance{}, domainerrors.ErrStepInstanceNotFound
		}
		return entities.CampaignStepInstance{}, r.logError("campaign_repo_get_step_instance_failed", err,
			"step_instance_id", strings.TrimSpace(stepInstanceID),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) ListStepInstances(ctx context.Context, tenantID, instanceID string) ([]entities.CampaignStepInstance, error) {
	var rows []stepInstanceModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("instance_id = ?", strings.TrimSpace(instanceID)).
		Order("position ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("campaign_repo_list_step_instances_failed", err,
			"instance_id", strings.TrimSpace(instanceID),
		)
	}
	items := make([]entities.CampaignStepInstance, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) UpdateStepInstance(ctx context.Context, step entities.CampaignStepInstance) error {
	row := stepInstanceModelFromEntity(step)
	result := r.db.WithContext(ctx).
		Model(&stepInstanceModel{}).
		Where("tenant_id = ?", row.TenantID).
		Where("step_instance_id = ?", row.StepInstanceID).
		Updates(map[string]any{
			"status":         row.Status,
			"scheduled_at":   row.ScheduledAt,
			"attempt_epoch":  row.AttemptEpoch,
			"branch_outcome": row.BranchOutcome,
			"last_error":     row.LastError,
			"sent_at":        row.SentAt,
			"updated_at":     row.UpdatedAt,
		})
	if result.Error != nil {
		return r.logError("campaign_repo_update_step_instance_failed", result.Error,
			"step_instance_id", row.StepInstanceID,
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrStepInstanceNotFound
	}
	return nil
}

func (r *Repository) CountStepStatuses(ctx context.Context, tenantID, campaignID string) (map[entities.StepStatus]int, error) {
	type statusCount struct {
		Status string `gorm:"column:status"`
		Total  int    `gorm:"column:total"`
	}
	var rows []statusCount
	err := r.db.WithContext(ctx).
		Table("campaign_step_instances AS s").
		Select("s.status AS status, COUNT(*) AS total").
		Joins("JOIN contact_campaign_instances AS i ON i.instance_id = s.instance_id").
		Where("i.tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("i.campaign_id = ?", strings.TrimSpace(campaignID)).
		Group("s.status").
		Scan(&rows).
		Error
	if err != nil {
		return nil, r.logError("campaign_repo_count_step_statuses_failed", err,
			"campaign_id", strings.TrimSpace(campaignID),
		)
	}
	counts := make(map[entities.StepStatus]int, len(rows))
	for _, row := range rows {
		counts[entities.StepStatus(row.Status)] = row.Total
	}
	return counts, nil
}

func (r *Repository) Enqueue(ctx context.Context, action entities.ScheduledAction) error {
	stepInstanceID := strings.TrimSpace(action.StepInstanceID)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock the parent step row first: under read committed two
		// concurrent enqueues would otherwise both pass the open-count
		// check and open two actions for one step.
		var step stepInstanceModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("step_instance_id = ?", stepInstanceID).
			First(&step).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrStepInstanceNotFound
			}
			return err
		}

		var open int64
		if err := tx.Model(&actionModel{}).
			Where("step_instance_id = ?", stepInstanceID).
			Where("status NOT IN ?", terminalActionStatuses).
			Count(&open).
			Error; err != nil {
			return err
		}
		if open > 0 {
			return domainerrors.ErrActionNotClaimable
		}

		row := actionModelFromEntity(action)
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "action_id"}},
			DoNothing: true,
		}).Create(&row).Error
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrActionNotClaimable) || errors.Is(err, domainerrors.ErrStepInstanceNotFound) {
			return err
		}
		return r.logError("campaign_repo_enqueue_failed", err,
			"step_instance_id", stepInstanceID,
			"action_id", strings.TrimSpace(action.ActionID),
		)
	}
	return nil
}

// ClaimDue relies on FOR UPDATE SKIP LOCKED so concurrent workers never claim
// the same row. Attempts is counted per claim, not per execution.
func (r *Repository) ClaimDue(
	ctx context.Context,
	tenantID string,
	now time.Time,
	maxBatch int,
	leaseTTL time.Duration,
) ([]entities.ScheduledAction, error) {
	if maxBatch <= 0 {
		maxBatch = 50
	}
	lease := now.Add(leaseTTL).UTC()

	query := `
		UPDATE scheduled_actions
		SET status = ?, lease_expires_at = ?, attempts = attempts + 1, updated_at = ?
		WHERE action_id IN (
			SELECT action_id
			FROM scheduled_actions
			WHERE status = ?
			  AND scheduled_at <= ?
	`
	args := []any{
		string(entities.ActionStatusClaimed),
		lease,
		now.UTC(),
		string(entities.ActionStatusPending),
		now.UTC(),
	}
	if strings.TrimSpace(tenantID) != "" {
		query += "	  AND tenant_id = ?\n"
		args = append(args, strings.TrimSpace(tenantID))
	}
	query += `
			ORDER BY scheduled_at ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`
	args = append(args, maxBatch)

	var rows []actionModel
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, r.logError("campaign_repo_claim_due_failed", err,
			"tenant_id", strings.TrimSpace(tenantID),
			"max_batch", maxBatch,
		)
	}
	claimed := make([]entities.ScheduledAction, 0, len(rows))
	for _, row := range rows {
		claimed = append(claimed, row.toEntity())
	}
	return claimed, nil
}

func (r *Repository) MarkExecuting(ctx context.Context, tenantID, actionID string, leaseExpiresAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&actionModel{}).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("action_id = ?", strings.TrimSpace(actionID)).
		Where("status = ?", string(entities.ActionStatusClaimed)).
		Updates(map[string]any{
			"status":           string(entities.ActionStatusExecuting),
			"lease_expires_at": leaseExpiresAt.UTC(),
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return r.logError("campaign_repo_mark_executing_failed", result.Error,
			"action_id", strings.TrimSpace(actionID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrActionNotClaimable
	}
	return nil
}

func (r *Repository) MarkDone(ctx context.Context, tenantID, actionID string, now time.Time) error {
	return r.finishAction(ctx, tenantID, actionID, entities.ActionStatusDone, "", now)
}

func (r *Repository) MarkFailed(ctx context.Context, tenantID, actionID, reason string, now time.Time) error {
	return r.finishAction(ctx, tenantID, actionID, entities.ActionStatusFailed, reason, now)
}

func (r *Repository) finishAction(
	ctx context.Context,
	tenantID, actionID string,
	status entities.ActionStatus,
	reason string,
	now time.Time,
) error {
	updates := map[string]any{
		"status":           string(status),
		"lease_expires_at": nil,
		"updated_at":       now.UTC(),
	}
	if reason != "" {
		updates["last_error"] = reason
	}
	result := r.db.WithContext(ctx).
		Model(&actionModel{}).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("action_id = ?", strings.TrimSpace(actionID)).
		Where("status NOT IN ?", terminalActionStatuses).
		Updates(updates)
	if result.Error != nil {
		return r.logError("campaign_repo_finish_action_failed", result.Error,
			"action_id", strings.TrimSpace(actionID),
			"status", string(status),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrActionNotClaimable
	}
	return nil
}

func (r *Repository) Release(ctx context.Context, tenantID, actionID string, nextAt time.Time, reason string) error {
	result := r.db.WithContext(ctx).
		Model(&actionModel{}).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("action_id = ?", strings.TrimSpace(actionID)).
		Where("status NOT IN ?", terminalActionStatuses).
		Updates(map[string]any{
			"status":           string(entities.ActionStatusPending),
			"scheduled_at":     nextAt.UTC(),
			"lease_expires_at": nil,
			"last_error":       reason,
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return r.logError("campaign_repo_release_action_failed", result.Error,
			"action_id", strings.TrimSpace(actionID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrActionNotClaimable
	}
	return nil
}

func (r *Repository) CancelByCampaign(ctx context.Context, tenantID, campaignID string, now time.Time) (int, error) {
	result := r.db.WithContext(ctx).
		Model(&actionModel{}).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("campaign_id = ?", strings.TrimSpace(campaignID)).
		Where("status = ?", string(entities.ActionStatusPending)).
		Updates(map[string]any{
			"status":     string(entities.ActionStatusCanceled),
			"updated_at": now.UTC(),
		})
	if result.Error != nil {
		return 0, r.logError("campaign_repo_cancel_by_campaign_failed", result.Error,
			"campaign_id", strings.TrimSpace(campaignID),
		)
	}
	return int(result.RowsAffected), nil
}

func (r *Repository) ReclaimExpired(ctx context.Context, now time.Time) (int, error) {
	result := r.db.WithContext(ctx).
		Model(&actionModel{}).
		Where("status IN ?", []string{
			string(entities.ActionStatusClaimed),
			string(entities.ActionStatusExecuting),
		}).
		Where("lease_expires_at IS NOT NULL").
		Where("lease_expires_at <= ?", now.UTC()).
		Updates(map[string]any{
			"status":           string(entities.ActionStatusPending),
			"lease_expires_at": nil,
			"updated_at":       now.UTC(),
		})
	if result.Error != nil {
		return 0, r.logError("campaign_repo_reclaim_expired_failed", result.Error)
	}
	return int(result.RowsAffected), nil
}

func (r *Repository) GetOpenActionByStep(ctx context.Context, tenantID, stepInstanceID string) (entities.ScheduledAction, bool, error) {
	var row actionModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("step_instance_id = ?", strings.TrimSpace(stepInstanceID)).
		Where("status NOT IN ?", terminalActionStatuses).
		Order("created_at DESC").
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.ScheduledAction{}, false, nil
		}
		return entities.ScheduledAction{}, false, r.logError("campaign_repo_get_open_action_failed", err,
			"step_instance_id", strings.TrimSpace(stepInstanceID),
		)
	}
	return row.toEntity(), true, nil
}

func (r *Repository) IsBlocked(ctx context.Context, tenantID string, channel entities.Channel, address string) (bool, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return true, nil
	}

	var suppressed int64
	if err := r.db.WithContext(ctx).
		Model(&suppressionModel{}).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("channel = ?", string(channel)).
		Where("LOWER(address) = ?", address).
		Count(&suppressed).Error; err != nil {
		return false, r.logError("campaign_repo_is_blocked_suppression_failed", err, "channel", string(channel))
	}
	if suppressed > 0 {
		return true, nil
	}

	var unsubscribed int64
	if err := r.db.WithContext(ctx).
		Model(&unsubscribeModel{}).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("channel = ?", string(channel)).
		Where("LOWER(address) = ?", address).
		Count(&unsubscribed).Error; err != nil {
		return false, r.logError("campaign_repo_is_blocked_unsubscribe_failed", err, "channel", string(channel))
	}
	if unsubscribed > 0 {
		return true, nil
	}

	if channel == entities.ChannelEmail {
		var invalid int64
		if err := r.db.WithContext(ctx).
			Model(&validationModel{}).
			Where("tenant_id = ?", strings.TrimSpace(tenantID)).
			Where("LOWER(address) = ?", address).
			Where("valid = ?", false).
			Count(&invalid).Error; err != nil {
			return false, r.logError("campaign_repo_is_blocked_validation_failed", err)
		}
		if invalid > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (r *Repository) AddSuppression(ctx context.Context, item entities.CommunicationSuppression) error {
	row := suppressionModel{
		SuppressionID: strings.TrimSpace(item.SuppressionID),
		TenantID:      strings.TrimSpace(item.TenantID),
		Channel:       string(item.Channel),
		Address:       strings.ToLower(strings.TrimSpace(item.Address)),
		Reason:        strings.TrimSpace(item.Reason),
		CreatedAt:     item.CreatedAt.UTC(),
	}
	if row.SuppressionID == "" {
		row.SuppressionID = uuid.NewString()
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "channel"}, {Name: "address"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("campaign_repo_add_suppression_failed", create.Error,
			"channel", row.Channel,
		)
	}
	return nil
}

func (r *Repository) AddUnsubscribe(ctx context.Context, item entities.ContactUnsubscribe) error {
	row := unsubscribeModel{
		UnsubscribeID: strings.TrimSpace(item.UnsubscribeID),
		TenantID:      strings.TrimSpace(item.TenantID),
		Channel:       string(item.Channel),
		Address:       strings.ToLower(strings.TrimSpace(item.Address)),
		CreatedAt:     item.CreatedAt.UTC(),
	}
	if row.UnsubscribeID == "" {
		row.UnsubscribeID = uuid.NewString()
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "channel"}, {Name: "address"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("campaign_repo_add_unsubscribe_failed", create.Error,
			"channel", row.Channel,
		)
	}
	return nil
}

func (r *Repository) PutValidationRecord(ctx context.Context, item entities.EmailValidationRecord) error {
	row := validationModel{
		ValidationID: strings.TrimSpace(item.ValidationID),
		TenantID:     strings.TrimSpace(item.TenantID),
		Address:      strings.ToLower(strings.TrimSpace(item.Address)),
		Valid:        item.Valid,
		CheckedAt:    item.CheckedAt.UTC(),
	}
	if row.ValidationID == "" {
		row.ValidationID = uuid.NewString()
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "address"}},
		DoUpdates: clause.Assignments(map[string]any{
			"valid":      row.Valid,
			"checked_at": row.CheckedAt,
		}),
	}).Create(&row)
	if create.Error != nil {
		return r.logError("campaign_repo_put_validation_failed", create.Error)
	}
	return nil
}

// TryAcquire serializes concurrent callers on the policy row lock, so the
// windowed count plus insert stays within the configured ceiling.
func (r *Repository) TryAcquire(
	ctx context.Context,
	tenantID string,
	channel entities.Channel,
	identity string,
	now time.Time,
) (bool, error) {
	granted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var policy rateLimitPolicyModel
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("tenant_id = ?", strings.TrimSpace(tenantID)).
			Where("channel = ?", string(channel)).
			Where("identity = ?", strings.TrimSpace(identity)).
			First(&policy).
			Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Identity-scoped policies take precedence over channel-wide ones.
			err = tx.
				Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("tenant_id = ?", strings.TrimSpace(tenantID)).
				Where("channel = ?", string(channel)).
				Where("identity = ?", "").
				First(&policy).
				Error
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			granted = true
			return nil
		}
		if err != nil {
			return r.logError("campaign_repo_rate_limit_lock_failed", err,
				"channel", string(channel),
				"identity", strings.TrimSpace(identity),
			)
		}

		windowStart := now.UTC().Add(-time.Duration(policy.WindowSeconds) * time.Second)
		var used int64
		if err := tx.
			Model(&rateGrantModel{}).
			Where("limit_id = ?", policy.LimitID).
			Where("granted_at > ?", windowStart).
			Count(&used).Error; err != nil {
			return r.logError("campaign_repo_rate_limit_count_failed", err, "limit_id", policy.LimitID)
		}
		if used >= int64(policy.MaxPerWindow) {
			return nil
		}

		grant := rateGrantModel{
			GrantID:   uuid.NewString(),
			LimitID:   policy.LimitID,
			GrantedAt: now.UTC(),
		}
		if err := tx.Create(&grant).Error; err != nil {
			return r.logError("campaign_repo_rate_limit_grant_failed", err, "limit_id", policy.LimitID)
		}
		granted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return granted, nil
}

func (r *Repository) PutPolicy(ctx context.Context, policy entities.SendRateLimit) error {
	row := rateLimitPolicyModel{
		LimitID:       strings.TrimSpace(policy.LimitID),
		TenantID:      strings.TrimSpace(policy.TenantID),
		Channel:       string(policy.Channel),
		Identity:      strings.TrimSpace(policy.Identity),
		MaxPerWindow:  policy.MaxPerWindow,
		WindowSeconds: int64(policy.Window / time.Second),
		CreatedAt:     policy.CreatedAt.UTC(),
	}
	if row.LimitID == "" {
		row.LimitID = uuid.NewString()
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "limit_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"max_per_window": row.MaxPerWindow,
			"window_seconds": row.WindowSeconds,
		}),
	}).Create(&row)
	if create.Error != nil {
		return r.logError("campaign_repo_put_policy_failed", create.Error, "limit_id", row.LimitID)
	}
	return nil
}

func (r *Repository) CreateOutboundMessage(ctx context.Context, message entities.OutboundMessage) (entities.OutboundMessage, error) {
	row := outboundMessageModelFromEntity(message)
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "dedupe_key"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		if !isUniqueViolation(create.Error) {
			return entities.OutboundMessage{}, r.logError("campaign_repo_create_outbound_failed", create.Error,
				"dedupe_key", row.DedupeKey,
			)
		}
		create.RowsAffected = 0
	}
	if create.RowsAffected > 0 {
		return row.toEntity(), nil
	}

	existing, found, err := r.FindMessageByDedupeKey(ctx, message.TenantID, message.DedupeKey)
	if err != nil {
		return entities.OutboundMessage{}, err
	}
	if !found {
		return entities.OutboundMessage{}, r.logError("campaign_repo_create_outbound_load_existing_failed",
			gorm.ErrRecordNotFound, "dedupe_key", row.DedupeKey)
	}
	return existing, domainerrors.ErrDuplicateDedupeKey
}

func (r *Repository) FindMessageByDedupeKey(ctx context.Context, tenantID, dedupeKey string) (entities.OutboundMessage, bool, error) {
	var row outboundMessageModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("dedupe_key = ?", strings.TrimSpace(dedupeKey)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.OutboundMessage{}, false, nil
		}
		return entities.OutboundMessage{}, false, r.logError("campaign_repo_find_by_dedupe_key_failed", err,
			"dedupe_key", strings.TrimSpace(dedupeKey),
		)
	}
	return row.toEntity(), true, nil
}

func (r *Repository) GetMessageByProviderID(ctx context.Context, tenantID, providerMessageID string) (entities.OutboundMessage, error) {
	var row outboundMessageModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("provider_message_id = ?", strings.TrimSpace(providerMessageID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.OutboundMessage{}, domainerrors.ErrMessageNotFound
		}
		return entities.OutboundMessage{}, r.logError("campaign_repo_get_by_provider_id_failed", err,
			"provider_message_id", strings.TrimSpace(providerMessageID),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) UpdateMessageStatus(
	ctx context.Context,
	tenantID, messageID string,
	status entities.MessageStatus,
	updatedAt time.Time,
) error {
	result := r.db.WithContext(ctx).
		Model(&outboundMessageModel{}).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("message_id = ?", strings.TrimSpace(messageID)).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": updatedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("campaign_repo_update_message_status_failed", result.Error,
			"message_id", strings.TrimSpace(messageID),
			"status", string(status),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrMessageNotFound
	}
	return nil
}

func (r *Repository) AppendMessageEvent(ctx context.Context, event entities.MessageEvent) error {
	row := messageEventModel{
		EventID:    strings.TrimSpace(event.EventID),
		TenantID:   strings.TrimSpace(event.TenantID),
		MessageID:  strings.TrimSpace(event.MessageID),
		Kind:       string(event.Kind),
		EventAt:    event.EventAt.UTC(),
		RecordedAt: event.RecordedAt.UTC(),
	}
	if row.EventID == "" {
		row.EventID = uuid.NewString()
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("campaign_repo_append_message_event_failed", create.Error,
			"message_id", row.MessageID,
			"kind", row.Kind,
		)
	}
	return nil
}

func (r *Repository) CreateInboundMessage(ctx context.Context, inbound entities.InboundMessage) error {
	row := inboundMessageModel{
		InboundID:      strings.TrimSpace(inbound.InboundID),
		TenantID:       strings.TrimSpace(inbound.TenantID),
		InstanceID:     strings.TrimSpace(inbound.InstanceID),
		StepInstanceID: strings.TrimSpace(inbound.StepInstanceID),
		Channel:        string(inbound.Channel),
		FromAddress:    strings.TrimSpace(inbound.FromAddress),
		Body:           inbound.Body,
		ReceivedAt:     inbound.ReceivedAt.UTC(),
	}
	if row.InboundID == "" {
		row.InboundID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return r.logError("campaign_repo_create_inbound_failed", err, "instance_id", row.InstanceID)
	}
	return nil
}

func (r *Repository) Append(ctx context.Context, transition entities.CampaignTransition) error {
	row := transitionModel{
		TransitionID: strings.TrimSpace(transition.TransitionID),
		TenantID:     strings.TrimSpace(transition.TenantID),
		InstanceID:   strings.TrimSpace(transition.InstanceID),
		Entity:       string(transition.Entity),
		EntityID:     strings.TrimSpace(transition.EntityID),
		FromState:    transition.FromState,
		ToState:      transition.ToState,
		Reason:       transition.Reason,
		CreatedAt:    transition.CreatedAt.UTC(),
	}
	if row.TransitionID == "" {
		row.TransitionID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return r.logError("campaign_repo_append_transition_failed", err,
			"entity", row.Entity,
			"entity_id", row.EntityID,
		)
	}
	return nil
}

func (r *Repository) ListByInstance(ctx context.Context, tenantID, instanceID string) ([]entities.CampaignTransition, error) {
	var rows []transitionModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("instance_id = ?", strings.TrimSpace(instanceID)).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("campaign_repo_list_transitions_failed", err,
			"instance_id", strings.TrimSpace(instanceID),
		)
	}
	items := make([]entities.CampaignTransition, 0, len(rows))
	for _, row := range rows {
		items = append(items, entities.CampaignTransition{
			TransitionID: row.TransitionID,
			TenantID:     row.TenantID,
			InstanceID:   row.InstanceID,
			Entity:       entities.TransitionEntity(row.Entity),
			EntityID:     row.EntityID,
			FromState:    row.FromState,
			ToState:      row.ToState,
			Reason:       row.Reason,
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) ReserveEvent(ctx context.Context, eventID string, payloadHash string, expiresAt time.Time) (bool, error) {
	row := eventDedupModel{
		EventID:     strings.TrimSpace(eventID),
		PayloadHash: strings.TrimSpace(payloadHash),
		ExpiresAt:   expiresAt.UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return false, r.logError("campaign_repo_reserve_event_failed", create.Error,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	return create.RowsAffected == 0, nil
}

func (r *Repository) ReleaseEvent(ctx context.Context, eventID string) error {
	result := r.db.WithContext(ctx).
		Where("event_id = ?", strings.TrimSpace(eventID)).
		Delete(&eventDedupModel{})
	if result.Error != nil {
		return r.logError("campaign_repo_release_event_failed", result.Error,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	return nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "outreach/campaign-engine",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("campaign engine repository operation failed", fields...)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ ports.PlanRepository = (*Repository)(nil)
var _ ports.InstanceRepository = (*Repository)(nil)
var _ ports.ActionQueueStore = (*Repository)(nil)
var _ ports.SuppressionStore = (*Repository)(nil)
var _ ports.RateLimitStore = (*Repository)(nil)
var _ ports.MessageStore = (*Repository)(nil)
var _ ports.TransitionLog = (*Repository)(nil)
var _ ports.EventDedupStore = (*Repository)(nil)
