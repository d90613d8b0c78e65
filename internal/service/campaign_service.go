package service

import (
	"context"
	"time"

	"zapcast/internal/database"
	"zapcast/internal/errors"
	"zapcast/internal/models"
	"zapcast/internal/validation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CreateCampaignRequest carries the caller-supplied fields of a new draft.
type CreateCampaignRequest struct {
	Name            string                  `json:"name"`
	Content         string                  `json:"content"`
	GroupID         string                  `json:"groupId"`
	Channel         string                  `json:"channel"`
	Priority        models.CampaignPriority `json:"priority"`
	SendImmediately bool                    `json:"sendImmediately"`
	ScheduledFor    *time.Time              `json:"scheduledFor,omitempty"`
	MaxRecipients   int                     `json:"maxRecipients,omitempty"`
	CreatedBy       string                  `json:"createdBy"`
	CreatorRole     string                  `json:"creatorRole"`
	ContactFilter   models.ContactFilter    `json:"contactFilter"`
	ManualContacts  []models.ManualContact  `json:"manualContacts,omitempty"`
}

// UpdateCampaignRequest mutates a draft or pending campaign. Nil fields
// are left untouched.
type UpdateCampaignRequest struct {
	Actor        string                   `json:"actor"`
	Name         *string                  `json:"name,omitempty"`
	Content      *string                  `json:"content,omitempty"`
	Priority     *models.CampaignPriority `json:"priority,omitempty"`
	ScheduledFor *time.Time               `json:"scheduledFor,omitempty"`
}

type CampaignService interface {
	Create(ctx context.Context, req *CreateCampaignRequest) (*models.Campaign, error)
	Update(ctx context.Context, id string, req *UpdateCampaignRequest) (*models.Campaign, error)
	Get(ctx context.Context, id string) (*models.Campaign, error)
	ListByStatus(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error)
	ListRecipients(ctx context.Context, id string) ([]*models.Recipient, error)
	AuditTrail(ctx context.Context, id string, since, until time.Time, limit int) ([]*models.AuditEntry, error)
}

type campaignService struct {
	store          Store
	logger         *logrus.Logger
	defaultLimit   int
	maxRecipients  int
	defaultChannel string
}

func NewCampaignService(store Store, maxRecipients int, defaultChannel string, logger *logrus.Logger) CampaignService {
	return &campaignService{
		store:          store,
		logger:         logger,
		defaultLimit:   100,
		maxRecipients:  maxRecipients,
		defaultChannel: defaultChannel,
	}
}

func (s *campaignService) Create(ctx context.Context, req *CreateCampaignRequest) (*models.Campaign, error) {
	if err := validation.ValidateCampaignName(req.Name); err != nil {
		return nil, err
	}
	if err := validation.ValidateContent(req.Content); err != nil {
		return nil, err
	}
	if err := validation.ValidatePriority(req.Priority); err != nil {
		return nil, err
	}
	if err := validation.ValidateContactFilter(req.ContactFilter); err != nil {
		return nil, err
	}
	if err := validation.ValidateManualContacts(req.ManualContacts); err != nil {
		return nil, err
	}
	if req.GroupID == "" && len(req.ManualContacts) == 0 {
		return nil, errors.New(errors.ErrCodeValidationFailed, "campaign needs a target group or manual contacts")
	}
	if req.SendImmediately && req.ScheduledFor != nil {
		return nil, errors.New(errors.ErrCodeValidationFailed, "sendImmediately and scheduledFor are mutually exclusive")
	}
	if req.ScheduledFor != nil && req.ScheduledFor.Before(time.Now()) {
		return nil, errors.New(errors.ErrCodeValidationFailed, "scheduledFor must be in the future")
	}

	if req.GroupID != "" {
		group, err := s.store.GetTargetGroup(ctx, req.GroupID)
		if err != nil {
			return nil, err
		}
		if group == nil {
			return nil, errors.New(errors.ErrCodeNotFound, "target group not found")
		}
	}

	maxRecipients := req.MaxRecipients
	if maxRecipients <= 0 || maxRecipients > s.maxRecipients {
		maxRecipients = s.maxRecipients
	}

	// The channel keys the shared rate limiter, so it must never be
	// empty.
	channel := req.Channel
	if channel == "" {
		channel = s.defaultChannel
	}

	campaign := &models.Campaign{
		ID:              uuid.New().String(),
		Name:            req.Name,
		Content:         req.Content,
		GroupID:         req.GroupID,
		Channel:         channel,
		Status:          models.CampaignStatusDraft,
		Priority:        req.Priority,
		SendImmediately: req.SendImmediately,
		ScheduledFor:    req.ScheduledFor,
		MaxRecipients:   maxRecipients,
		CreatedBy:       req.CreatedBy,
		CreatorRole:     req.CreatorRole,
		ContactFilter:   req.ContactFilter,
		ManualContacts:  req.ManualContacts,
		Version:         1,
	}

	if err := s.store.SaveCampaign(ctx, campaign); err != nil {
		return nil, err
	}

	audit(ctx, s.store, s.logger, campaignAudit(models.AuditCampaignCreated, campaign, req.CreatedBy, ""))

	s.logger.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"priority":    campaign.Priority,
	}).Info("Campaign created")

	return campaign, nil
}

func (s *campaignService) Update(ctx context.Context, id string, req *UpdateCampaignRequest) (*models.Campaign, error) {
	campaign, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, errors.New(errors.ErrCodeNotFound, "campaign not found")
	}
	if !campaign.Status.IsMutable() {
		return nil, errors.StateConflict("campaign", id, string(campaign.Status), "update")
	}

	now := time.Now()
	changed := false

	if req.Name != nil && *req.Name != campaign.Name {
		if err := validation.ValidateCampaignName(*req.Name); err != nil {
			return nil, err
		}
		campaign.ChangeLog = append(campaign.ChangeLog, models.ChangeLogEntry{
			Actor: req.Actor, Field: "name", OldValue: campaign.Name, NewValue: *req.Name, At: now,
		})
		campaign.Name = *req.Name
		changed = true
	}
	if req.Content != nil && *req.Content != campaign.Content {
		if err := validation.ValidateContent(*req.Content); err != nil {
			return nil, err
		}
		campaign.ChangeLog = append(campaign.ChangeLog, models.ChangeLogEntry{
			Actor: req.Actor, Field: "content", OldValue: campaign.Content, NewValue: *req.Content, At: now,
		})
		campaign.Content = *req.Content
		changed = true
	}
	if req.Priority != nil && *req.Priority != campaign.Priority {
		if err := validation.ValidatePriority(*req.Priority); err != nil {
			return nil, err
		}
		campaign.ChangeLog = append(campaign.ChangeLog, models.ChangeLogEntry{
			Actor: req.Actor, Field: "priority", OldValue: string(campaign.Priority), NewValue: string(*req.Priority), At: now,
		})
		campaign.Priority = *req.Priority
		changed = true
	}
	if req.ScheduledFor != nil {
		if req.ScheduledFor.Before(now) {
			return nil, errors.New(errors.ErrCodeValidationFailed, "scheduledFor must be in the future")
		}
		old := ""
		if campaign.ScheduledFor != nil {
			old = campaign.ScheduledFor.Format(time.RFC3339)
		}
		campaign.ChangeLog = append(campaign.ChangeLog, models.ChangeLogEntry{
			Actor: req.Actor, Field: "scheduled_for", OldValue: old, NewValue: req.ScheduledFor.Format(time.RFC3339), At: now,
		})
		campaign.ScheduledFor = req.ScheduledFor
		campaign.SendImmediately = false
		changed = true
	}

	if !changed {
		return campaign, nil
	}

	if err := s.store.UpdateCampaign(ctx, campaign); err != nil {
		return nil, err
	}

	audit(ctx, s.store, s.logger, campaignAudit(models.AuditCampaignUpdated, campaign, req.Actor, campaign.Status))

	return campaign, nil
}

func (s *campaignService) Get(ctx context.Context, id string) (*models.Campaign, error) {
	campaign, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, errors.New(errors.ErrCodeNotFound, "campaign not found")
	}
	return campaign, nil
}

func (s *campaignService) ListByStatus(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error) {
	return s.store.ListCampaignsByStatus(ctx, status)
}

func (s *campaignService) ListRecipients(ctx context.Context, id string) ([]*models.Recipient, error) {
	return s.store.ListRecipientsByCampaign(ctx, id)
}

func (s *campaignService) AuditTrail(ctx context.Context, id string, since, until time.Time, limit int) ([]*models.AuditEntry, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	return s.store.QueryAuditEntries(ctx, database.AuditQuery{
		EntityType: "campaign",
		EntityID:   id,
		Since:      since,
		Until:      until,
		Limit:      limit,
	})
}
