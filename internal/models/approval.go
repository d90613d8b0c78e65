package models

import "time"

type DecisionStatus string

const (
	DecisionPending   DecisionStatus = "pending"
	DecisionApproved  DecisionStatus = "approved"
	DecisionRejected  DecisionStatus = "rejected"
	DecisionCancelled DecisionStatus = "cancelled"
)

// ApprovalDecision is one approver's verdict on a campaign. At most one
// row exists per (campaign, approver) pair; decisions are never deleted.
type ApprovalDecision struct {
	ID              string         `json:"id"`
	CampaignID      string         `json:"campaignId"`
	Approver        string         `json:"approver"`
	ApproverRole    string         `json:"approverRole"`
	Status          DecisionStatus `json:"status"`
	Reason          string         `json:"reason,omitempty"`
	OriginalContent string         `json:"originalContent,omitempty"`
	EditedContent   string         `json:"editedContent,omitempty"`
	DecidedAt       *time.Time     `json:"decidedAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// ApproverRoles lists the roles authorized to decide a campaign.
var ApproverRoles = map[string]bool{
	"manager": true,
	"admin":   true,
}

func IsApproverRole(role string) bool {
	return ApproverRoles[role]
}
