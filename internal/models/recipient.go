package models

import "time"

type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusCancelled MessageStatus = "cancelled"
)

// IsTerminal reports whether a recipient has reached a final outcome.
// "sent" is not terminal: a delivery or read receipt may still arrive.
func (s MessageStatus) IsTerminal() bool {
	switch s {
	case MessageStatusDelivered, MessageStatusRead, MessageStatusFailed, MessageStatusCancelled:
		return true
	}
	return false
}

// rank orders statuses along the forward-only delivery path. Receipt
// events may only ever move a recipient to a higher rank.
func (s MessageStatus) rank() int {
	switch s {
	case MessageStatusPending:
		return 0
	case MessageStatusSending:
		return 1
	case MessageStatusSent:
		return 2
	case MessageStatusDelivered:
		return 3
	case MessageStatusRead:
		return 4
	}
	// failed and cancelled sit outside the delivery path
	return -1
}

// CanAdvanceTo reports whether a receipt-driven transition to next is a
// strictly forward move on the delivery path.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	if s.IsTerminal() && s != MessageStatusDelivered {
		return false
	}
	return next.rank() > s.rank() && next.rank() > 0
}

// Recipient is one dispatch work item: a single message owed to a single
// destination. Rows are never deleted; they are the audit trail of the
// dispatch and the source the queue is rebuilt from after a restart.
type Recipient struct {
	ID             string        `json:"id"`
	CampaignID     string        `json:"campaignId"`
	PhoneNumber    string        `json:"phoneNumber"`
	DisplayName    string        `json:"displayName,omitempty"`
	Status         MessageStatus `json:"status"`
	TransportMsgID string        `json:"transportMsgId,omitempty"`
	LastError      string        `json:"lastError,omitempty"`
	SendAttempts   int           `json:"sendAttempts"`
	QueuedAt       time.Time     `json:"queuedAt"`
	SentAt         *time.Time    `json:"sentAt,omitempty"`
	DeliveredAt    *time.Time    `json:"deliveredAt,omitempty"`
	ReadAt         *time.Time    `json:"readAt,omitempty"`
	FailedAt       *time.Time    `json:"failedAt,omitempty"`
	Version        int64         `json:"version"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}
