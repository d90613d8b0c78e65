package models

import "time"

type CampaignStatus string

const (
	CampaignStatusDraft           CampaignStatus = "draft"
	CampaignStatusPendingApproval CampaignStatus = "pending_approval"
	CampaignStatusApproved        CampaignStatus = "approved"
	CampaignStatusScheduled       CampaignStatus = "scheduled"
	CampaignStatusSending         CampaignStatus = "sending"
	CampaignStatusSent            CampaignStatus = "sent"
	CampaignStatusFailed          CampaignStatus = "failed"
	CampaignStatusCancelled       CampaignStatus = "cancelled"
	CampaignStatusRejected        CampaignStatus = "rejected"
)

// IsTerminal reports whether no further campaign transition is possible.
func (s CampaignStatus) IsTerminal() bool {
	switch s {
	case CampaignStatusSent, CampaignStatusFailed, CampaignStatusCancelled, CampaignStatusRejected:
		return true
	}
	return false
}

// IsMutable reports whether campaign content may still be edited.
func (s CampaignStatus) IsMutable() bool {
	return s == CampaignStatusDraft || s == CampaignStatusPendingApproval
}

type CampaignPriority string

const (
	PriorityHigh   CampaignPriority = "high"
	PriorityMedium CampaignPriority = "medium"
	PriorityLow    CampaignPriority = "low"
)

// Rank orders priorities for queue admission; higher rank dequeues first.
func (p CampaignPriority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 0
	}
	return 0
}

func (p CampaignPriority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// ContactFilter narrows the resolved group membership. It replaces the
// free-form JSON filter column of earlier iterations with a schema the
// store validates on write.
type ContactFilter struct {
	IncludeTags    []string `json:"includeTags,omitempty"`
	ExcludeNumbers []string `json:"excludeNumbers,omitempty"`
}

// ManualContact is a recipient added outside of group resolution.
type ManualContact struct {
	PhoneNumber string `json:"phoneNumber"`
	DisplayName string `json:"displayName,omitempty"`
}

// ChangeLogEntry records one field mutation on a draft campaign.
type ChangeLogEntry struct {
	Actor    string    `json:"actor"`
	Field    string    `json:"field"`
	OldValue string    `json:"oldValue"`
	NewValue string    `json:"newValue"`
	At       time.Time `json:"at"`
}

// CampaignCounters aggregates recipient outcomes for a campaign.
type CampaignCounters struct {
	TotalRecipients   int `json:"totalRecipients"`
	MessagesSent      int `json:"messagesSent"`
	MessagesDelivered int `json:"messagesDelivered"`
	MessagesRead      int `json:"messagesRead"`
	MessagesFailed    int `json:"messagesFailed"`
	MessagesCancelled int `json:"messagesCancelled"`
}

type Campaign struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Content         string           `json:"content"`
	ContentSnapshot string           `json:"contentSnapshot,omitempty"` // frozen at approval time
	GroupID         string           `json:"groupId"`
	Channel         string           `json:"channel"`
	Status          CampaignStatus   `json:"status"`
	Priority        CampaignPriority `json:"priority"`
	SendImmediately bool             `json:"sendImmediately"`
	ScheduledFor    *time.Time       `json:"scheduledFor,omitempty"`
	MaxRecipients   int              `json:"maxRecipients"`
	CreatedBy       string           `json:"createdBy"`
	CreatorRole     string           `json:"creatorRole"`
	ContactFilter   ContactFilter    `json:"contactFilter"`
	ManualContacts  []ManualContact  `json:"manualContacts,omitempty"`
	ChangeLog       []ChangeLogEntry `json:"changeLog,omitempty"`
	Counters        CampaignCounters `json:"counters"`
	Version         int64            `json:"version"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// DispatchContent returns the content that must go on the wire: the
// snapshot taken at approval, never the live record.
func (c *Campaign) DispatchContent() string {
	if c.ContentSnapshot != "" {
		return c.ContentSnapshot
	}
	return c.Content
}
