package service

import (
	"context"
	"time"

	"zapcast/internal/database"
	"zapcast/internal/models"

	"github.com/sirupsen/logrus"
)

// Store is the persistence surface the services depend on. It is
// satisfied by *database.Database and re-implemented by test doubles.
type Store interface {
	SaveCampaign(ctx context.Context, c *models.Campaign) error
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	UpdateCampaign(ctx context.Context, c *models.Campaign) error
	ListCampaignsByStatus(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error)
	ListDueScheduledCampaigns(ctx context.Context, now time.Time) ([]*models.Campaign, error)

	SaveDecision(ctx context.Context, dec *models.ApprovalDecision) error
	GetDecision(ctx context.Context, campaignID, approver string) (*models.ApprovalDecision, error)
	ListDecisionsByCampaign(ctx context.Context, campaignID string) ([]*models.ApprovalDecision, error)

	SaveTargetGroup(ctx context.Context, g *models.TargetGroup) error
	GetTargetGroup(ctx context.Context, id string) (*models.TargetGroup, error)
	SaveGroupMembers(ctx context.Context, groupID string, members []models.GroupMember) error
	ListGroupMembers(ctx context.Context, groupID string) ([]models.GroupMember, error)

	SaveRecipients(ctx context.Context, recipients []*models.Recipient) error
	GetRecipient(ctx context.Context, id string) (*models.Recipient, error)
	GetRecipientByTransportMsgID(ctx context.Context, transportMsgID string) (*models.Recipient, error)
	UpdateRecipient(ctx context.Context, r *models.Recipient) error
	ListRecipientsByCampaign(ctx context.Context, campaignID string) ([]*models.Recipient, error)
	ListUnsentRecipients(ctx context.Context) ([]*models.Recipient, error)
	CountRecipientsByStatus(ctx context.Context, campaignID string) (map[models.MessageStatus]int, error)

	AppendAuditEntry(ctx context.Context, e *models.AuditEntry) error
	QueryAuditEntries(ctx context.Context, q database.AuditQuery) ([]*models.AuditEntry, error)
	CleanupOldAuditEntries(retentionDays int) error
}

// audit appends an entry and logs instead of failing the caller when the
// write does not land. Audit gaps are reported, not propagated.
func audit(ctx context.Context, store Store, logger *logrus.Logger, e *models.AuditEntry) {
	if err := store.AppendAuditEntry(ctx, e); err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"action":    e.Action,
			"entity_id": e.EntityID,
		}).Error("Failed to append audit entry")
	}
}

func campaignAudit(action models.AuditAction, c *models.Campaign, actor string, oldStatus models.CampaignStatus) *models.AuditEntry {
	return &models.AuditEntry{
		Action:     action,
		EntityType: "campaign",
		EntityID:   c.ID,
		Actor:      actor,
		OldState:   string(oldStatus),
		NewState:   string(c.Status),
	}
}
