package service

import (
	"context"
	"time"

	"zapcast/internal/errors"
	"zapcast/internal/metrics"
	"zapcast/internal/models"
	"zapcast/internal/validation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Activator moves an approved campaign into dispatch. Implemented by the
// orchestrator; split out so the gate stays free of queue plumbing.
type Activator interface {
	Activate(ctx context.Context, campaign *models.Campaign) error
}

// DecisionRequest is one approver's verdict on a pending campaign.
type DecisionRequest struct {
	Approver      string `json:"approver"`
	ApproverRole  string `json:"approverRole"`
	Approve       bool   `json:"approve"`
	Reason        string `json:"reason,omitempty"`
	EditedContent string `json:"editedContent,omitempty"`
}

// ApprovalGate owns the draft -> pending_approval -> approved/rejected
// portion of the campaign state machine.
type ApprovalGate interface {
	Submit(ctx context.Context, campaignID, actor string) (*models.Campaign, error)
	Decide(ctx context.Context, campaignID string, req *DecisionRequest) (*models.Campaign, error)
	ListDecisions(ctx context.Context, campaignID string) ([]*models.ApprovalDecision, error)
}

type approvalGate struct {
	store     Store
	activator Activator
	logger    *logrus.Logger
}

func NewApprovalGate(store Store, activator Activator, logger *logrus.Logger) ApprovalGate {
	return &approvalGate{
		store:     store,
		activator: activator,
		logger:    logger,
	}
}

// Submit moves a draft into pending_approval. Campaigns targeting an
// auto-approve group skip the gate and go straight to activation.
func (g *approvalGate) Submit(ctx context.Context, campaignID, actor string) (*models.Campaign, error) {
	campaign, err := g.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, errors.New(errors.ErrCodeNotFound, "campaign not found")
	}
	if campaign.Status != models.CampaignStatusDraft {
		return nil, errors.StateConflict("campaign", campaignID, string(campaign.Status), "submit")
	}

	autoApprove := false
	if campaign.GroupID != "" {
		group, err := g.store.GetTargetGroup(ctx, campaign.GroupID)
		if err != nil {
			return nil, err
		}
		if group == nil {
			return nil, errors.New(errors.ErrCodeNotFound, "target group not found")
		}
		autoApprove = group.AutoApprove
	}

	oldStatus := campaign.Status

	if autoApprove {
		campaign.ContentSnapshot = campaign.Content
		campaign.Status = models.CampaignStatusApproved
		if err := g.store.UpdateCampaign(ctx, campaign); err != nil {
			return nil, err
		}
		audit(ctx, g.store, g.logger, campaignAudit(models.AuditCampaignApproved, campaign, "system:auto_approve", oldStatus))
		metrics.IncrementCounter("campaigns_auto_approved_total", nil, "Campaigns approved via auto-approve groups")

		g.logger.WithField("campaign_id", campaignID).Info("Campaign auto-approved")

		if err := g.activator.Activate(ctx, campaign); err != nil {
			return nil, err
		}
		return campaign, nil
	}

	campaign.Status = models.CampaignStatusPendingApproval
	if err := g.store.UpdateCampaign(ctx, campaign); err != nil {
		return nil, err
	}
	audit(ctx, g.store, g.logger, campaignAudit(models.AuditCampaignSubmitted, campaign, actor, oldStatus))

	g.logger.WithField("campaign_id", campaignID).Info("Campaign submitted for approval")

	return campaign, nil
}

// Decide records one approver's verdict. A single rejection vetoes the
// campaign; a single approval releases it. Each approver gets exactly
// one decision per campaign.
func (g *approvalGate) Decide(ctx context.Context, campaignID string, req *DecisionRequest) (*models.Campaign, error) {
	if req.Approver == "" {
		return nil, errors.New(errors.ErrCodeValidationFailed, "approver is required")
	}
	if !models.IsApproverRole(req.ApproverRole) {
		return nil, errors.New(errors.ErrCodeUnauthorized, "role is not authorized to approve campaigns").
			WithContext("role", req.ApproverRole)
	}
	if !req.Approve && req.Reason == "" {
		return nil, errors.New(errors.ErrCodeValidationFailed, "rejection requires a reason")
	}
	if req.EditedContent != "" {
		if err := validation.ValidateContent(req.EditedContent); err != nil {
			return nil, err
		}
	}

	campaign, err := g.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, errors.New(errors.ErrCodeNotFound, "campaign not found")
	}
	if campaign.Status != models.CampaignStatusPendingApproval {
		return nil, errors.StateConflict("campaign", campaignID, string(campaign.Status), "decide")
	}

	now := time.Now()
	status := models.DecisionRejected
	if req.Approve {
		status = models.DecisionApproved
	}

	decision := &models.ApprovalDecision{
		ID:              uuid.New().String(),
		CampaignID:      campaignID,
		Approver:        req.Approver,
		ApproverRole:    req.ApproverRole,
		Status:          status,
		Reason:          req.Reason,
		OriginalContent: campaign.Content,
		EditedContent:   req.EditedContent,
		DecidedAt:       &now,
	}

	// Uniqueness of (campaign, approver) is enforced by the store; a
	// second verdict from the same approver surfaces as DUPLICATE_DECISION.
	if err := g.store.SaveDecision(ctx, decision); err != nil {
		return nil, err
	}

	audit(ctx, g.store, g.logger, &models.AuditEntry{
		Action:     models.AuditDecisionRecorded,
		EntityType: "approval_decision",
		EntityID:   decision.ID,
		Actor:      req.Approver,
		NewState:   string(status),
		Detail: map[string]string{
			"campaign_id": campaignID,
			"role":        req.ApproverRole,
		},
	})

	oldStatus := campaign.Status

	if !req.Approve {
		campaign.Status = models.CampaignStatusRejected
		if err := g.store.UpdateCampaign(ctx, campaign); err != nil {
			return nil, err
		}
		audit(ctx, g.store, g.logger, campaignAudit(models.AuditCampaignRejected, campaign, req.Approver, oldStatus))
		metrics.IncrementCounter("campaigns_rejected_total", nil, "Campaigns rejected at the approval gate")

		g.logger.WithFields(logrus.Fields{
			"campaign_id": campaignID,
			"approver":    req.Approver,
		}).Info("Campaign rejected")

		return campaign, nil
	}

	// Freeze the content that will go on the wire. An approver edit
	// replaces the draft text for dispatch purposes only.
	campaign.ContentSnapshot = campaign.Content
	if req.EditedContent != "" {
		campaign.ContentSnapshot = req.EditedContent
	}
	campaign.Status = models.CampaignStatusApproved

	if err := g.store.UpdateCampaign(ctx, campaign); err != nil {
		return nil, err
	}
	audit(ctx, g.store, g.logger, campaignAudit(models.AuditCampaignApproved, campaign, req.Approver, oldStatus))
	metrics.IncrementCounter("campaigns_approved_total", nil, "Campaigns approved at the approval gate")

	g.logger.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"approver":    req.Approver,
	}).Info("Campaign approved")

	if err := g.activator.Activate(ctx, campaign); err != nil {
		return nil, err
	}

	return campaign, nil
}

func (g *approvalGate) ListDecisions(ctx context.Context, campaignID string) ([]*models.ApprovalDecision, error) {
	return g.store.ListDecisionsByCampaign(ctx, campaignID)
}
