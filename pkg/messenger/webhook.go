package messenger

import "time"

// Webhook event names the transport posts back to us.
const (
	EventMessageDelivered = "message.delivered"
	EventMessageRead      = "message.read"
	EventMessageFailed    = "message.failed"
)

// DeliveryEvent is the payload of a status webhook from the transport.
// MessageID is the transport's identifier returned from SendText.
type DeliveryEvent struct {
	Event     string    `json:"event"`
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}
