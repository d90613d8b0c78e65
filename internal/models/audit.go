package models

import "time"

type AuditAction string

const (
	AuditCampaignCreated   AuditAction = "campaign_created"
	AuditCampaignUpdated   AuditAction = "campaign_updated"
	AuditCampaignSubmitted AuditAction = "campaign_submitted"
	AuditCampaignApproved  AuditAction = "campaign_approved"
	AuditCampaignRejected  AuditAction = "campaign_rejected"
	AuditCampaignScheduled AuditAction = "campaign_scheduled"
	AuditCampaignSending   AuditAction = "campaign_sending"
	AuditCampaignSent      AuditAction = "campaign_sent"
	AuditCampaignFailed    AuditAction = "campaign_failed"
	AuditCampaignCancelled AuditAction = "campaign_cancelled"
	AuditDecisionRecorded  AuditAction = "decision_recorded"
	AuditDispatchAttempt   AuditAction = "dispatch_attempt"
	AuditReceiptApplied    AuditAction = "receipt_applied"
	AuditReceiptIgnored    AuditAction = "receipt_ignored"
)

// AuditEntry is one immutable row in the append-only audit log. Insertion
// is the only mutation the store permits.
type AuditEntry struct {
	ID         int64             `json:"id"`
	Action     AuditAction       `json:"action"`
	EntityType string            `json:"entityType"`
	EntityID   string            `json:"entityId"`
	Actor      string            `json:"actor"`
	OldState   string            `json:"oldState,omitempty"`
	NewState   string            `json:"newState,omitempty"`
	Detail     map[string]string `json:"detail,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}
