package service

import (
	"context"
	"strconv"
	"time"

	"zapcast/internal/errors"
	"zapcast/internal/metrics"
	"zapcast/internal/models"
	"zapcast/internal/privacy"

	"github.com/sirupsen/logrus"
)

// DeliveryTracker owns the per-recipient status machine. Every mutation
// is idempotent: replayed attempt results and duplicate receipts leave
// the stored row unchanged.
type DeliveryTracker interface {
	BeginAttempt(ctx context.Context, recipientID string) (*models.Recipient, error)
	RecordSuccess(ctx context.Context, recipient *models.Recipient, transportMsgID string) error
	RecordFailure(ctx context.Context, recipient *models.Recipient, sendErr error, maxAttempts int) (final bool, err error)
	MarkCancelled(ctx context.Context, recipientID string) error
	HandleReceipt(ctx context.Context, transportMsgID string, next models.MessageStatus, at time.Time) error
	HandleFailureReport(ctx context.Context, transportMsgID, reason string, at time.Time) error
}

type deliveryTracker struct {
	store   Store
	logger  *logrus.Logger
	refresh func(ctx context.Context, campaignID string)
}

// NewDeliveryTracker builds a tracker. refresh is invoked after any
// mutation so campaign counters follow recipient outcomes; it must be
// safe to call concurrently.
func NewDeliveryTracker(store Store, logger *logrus.Logger, refresh func(ctx context.Context, campaignID string)) DeliveryTracker {
	if refresh == nil {
		refresh = func(context.Context, string) {}
	}
	return &deliveryTracker{store: store, logger: logger, refresh: refresh}
}

// BeginAttempt claims a recipient for a send. Recipients that already
// reached a terminal outcome, or that already went on the wire, are
// refused so a replayed work item cannot double-send.
func (t *deliveryTracker) BeginAttempt(ctx context.Context, recipientID string) (*models.Recipient, error) {
	recipient, err := t.store.GetRecipient(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	if recipient == nil {
		return nil, errors.New(errors.ErrCodeNotFound, "recipient not found")
	}
	if recipient.Status.IsTerminal() {
		return nil, errors.New(errors.ErrCodeAlreadyTerminal, "recipient already settled").
			WithContext("status", string(recipient.Status))
	}
	if recipient.Status == models.MessageStatusSent {
		return nil, errors.New(errors.ErrCodeAlreadyTerminal, "recipient already sent").
			WithContext("transport_msg_id", privacy.MaskTransportMessageID(recipient.TransportMsgID))
	}

	recipient.Status = models.MessageStatusSending
	recipient.SendAttempts++
	if err := t.store.UpdateRecipient(ctx, recipient); err != nil {
		return nil, err
	}
	return recipient, nil
}

func (t *deliveryTracker) RecordSuccess(ctx context.Context, recipient *models.Recipient, transportMsgID string) error {
	// Replay of a result we already recorded; nothing to do.
	if recipient.Status == models.MessageStatusSent && recipient.TransportMsgID == transportMsgID {
		return nil
	}

	now := time.Now()
	recipient.Status = models.MessageStatusSent
	recipient.TransportMsgID = transportMsgID
	recipient.SentAt = &now
	recipient.LastError = ""

	if err := t.store.UpdateRecipient(ctx, recipient); err != nil {
		return err
	}

	audit(ctx, t.store, t.logger, &models.AuditEntry{
		Action:     models.AuditDispatchAttempt,
		EntityType: "recipient",
		EntityID:   recipient.ID,
		Actor:      "dispatcher",
		NewState:   string(models.MessageStatusSent),
		Detail: map[string]string{
			"campaign_id": recipient.CampaignID,
			"attempt":     strconv.Itoa(recipient.SendAttempts),
		},
	})
	metrics.IncrementCounter("messages_sent_total", map[string]string{"outcome": "sent"}, "Dispatch attempts by outcome")

	t.refresh(ctx, recipient.CampaignID)
	return nil
}

// RecordFailure stores the error and settles the recipient as failed
// once the attempt budget is spent. It reports whether the failure is
// final; a non-final failure is eligible for a delayed retry.
func (t *deliveryTracker) RecordFailure(ctx context.Context, recipient *models.Recipient, sendErr error, maxAttempts int) (bool, error) {
	recipient.LastError = sendErr.Error()

	final := recipient.SendAttempts >= maxAttempts
	if final {
		now := time.Now()
		recipient.Status = models.MessageStatusFailed
		recipient.FailedAt = &now
	} else {
		// Back to pending so a restart re-queues it.
		recipient.Status = models.MessageStatusPending
	}

	if err := t.store.UpdateRecipient(ctx, recipient); err != nil {
		return final, err
	}

	audit(ctx, t.store, t.logger, &models.AuditEntry{
		Action:     models.AuditDispatchAttempt,
		EntityType: "recipient",
		EntityID:   recipient.ID,
		Actor:      "dispatcher",
		NewState:   string(recipient.Status),
		Detail: map[string]string{
			"campaign_id": recipient.CampaignID,
			"attempt":     strconv.Itoa(recipient.SendAttempts),
			"error":       recipient.LastError,
		},
	})
	metrics.IncrementCounter("messages_sent_total", map[string]string{"outcome": "failed"}, "Dispatch attempts by outcome")

	if final {
		t.refresh(ctx, recipient.CampaignID)
	}
	return final, nil
}

// MarkCancelled settles a recipient that will never be dispatched.
// Recipients that already went on the wire keep their delivery status.
func (t *deliveryTracker) MarkCancelled(ctx context.Context, recipientID string) error {
	recipient, err := t.store.GetRecipient(ctx, recipientID)
	if err != nil {
		return err
	}
	if recipient == nil || recipient.Status.IsTerminal() {
		return nil
	}
	if recipient.Status == models.MessageStatusSent {
		return nil
	}

	recipient.Status = models.MessageStatusCancelled
	if err := t.store.UpdateRecipient(ctx, recipient); err != nil {
		return err
	}

	t.refresh(ctx, recipient.CampaignID)
	return nil
}

// HandleReceipt applies a delivery or read receipt from the transport.
// Receipts only ever move a recipient forward; late or duplicate ones
// are recorded in the audit log and otherwise ignored.
func (t *deliveryTracker) HandleReceipt(ctx context.Context, transportMsgID string, next models.MessageStatus, at time.Time) error {
	if next != models.MessageStatusDelivered && next != models.MessageStatusRead {
		return errors.New(errors.ErrCodeValidationFailed, "unsupported receipt status").
			WithContext("status", string(next))
	}

	recipient, err := t.store.GetRecipientByTransportMsgID(ctx, transportMsgID)
	if err != nil {
		return err
	}
	if recipient == nil {
		t.logger.WithField("transport_msg_id", privacy.MaskTransportMessageID(transportMsgID)).
			Warn("Receipt for unknown transport message")
		return errors.New(errors.ErrCodeNotFound, "no recipient for transport message")
	}

	if !recipient.Status.CanAdvanceTo(next) {
		audit(ctx, t.store, t.logger, &models.AuditEntry{
			Action:     models.AuditReceiptIgnored,
			EntityType: "recipient",
			EntityID:   recipient.ID,
			Actor:      "transport",
			OldState:   string(recipient.Status),
			NewState:   string(next),
			Detail:     map[string]string{"campaign_id": recipient.CampaignID},
		})
		metrics.IncrementCounter("receipts_total", map[string]string{"result": "ignored"}, "Transport receipts by result")
		return nil
	}

	oldStatus := recipient.Status
	recipient.Status = next
	switch next {
	case models.MessageStatusDelivered:
		recipient.DeliveredAt = &at
	case models.MessageStatusRead:
		recipient.ReadAt = &at
		// A read receipt implies delivery even if that receipt was lost.
		if recipient.DeliveredAt == nil {
			recipient.DeliveredAt = &at
		}
	}

	if err := t.store.UpdateRecipient(ctx, recipient); err != nil {
		return err
	}

	audit(ctx, t.store, t.logger, &models.AuditEntry{
		Action:     models.AuditReceiptApplied,
		EntityType: "recipient",
		EntityID:   recipient.ID,
		Actor:      "transport",
		OldState:   string(oldStatus),
		NewState:   string(next),
		Detail:     map[string]string{"campaign_id": recipient.CampaignID},
	})
	metrics.IncrementCounter("receipts_total", map[string]string{"result": "applied"}, "Transport receipts by result")

	t.refresh(ctx, recipient.CampaignID)
	return nil
}

// HandleFailureReport applies a transport-side failure notice for a
// message that was accepted but never delivered. Only recipients still
// waiting in sent move to failed; anything already settled keeps its
// outcome.
func (t *deliveryTracker) HandleFailureReport(ctx context.Context, transportMsgID, reason string, at time.Time) error {
	recipient, err := t.store.GetRecipientByTransportMsgID(ctx, transportMsgID)
	if err != nil {
		return err
	}
	if recipient == nil {
		t.logger.WithField("transport_msg_id", privacy.MaskTransportMessageID(transportMsgID)).
			Warn("Failure report for unknown transport message")
		return errors.New(errors.ErrCodeNotFound, "no recipient for transport message")
	}

	if recipient.Status != models.MessageStatusSent {
		audit(ctx, t.store, t.logger, &models.AuditEntry{
			Action:     models.AuditReceiptIgnored,
			EntityType: "recipient",
			EntityID:   recipient.ID,
			Actor:      "transport",
			OldState:   string(recipient.Status),
			NewState:   string(models.MessageStatusFailed),
			Detail:     map[string]string{"campaign_id": recipient.CampaignID},
		})
		metrics.IncrementCounter("receipts_total", map[string]string{"result": "ignored"}, "Transport receipts by result")
		return nil
	}

	recipient.Status = models.MessageStatusFailed
	recipient.LastError = reason
	recipient.FailedAt = &at

	if err := t.store.UpdateRecipient(ctx, recipient); err != nil {
		return err
	}

	audit(ctx, t.store, t.logger, &models.AuditEntry{
		Action:     models.AuditReceiptApplied,
		EntityType: "recipient",
		EntityID:   recipient.ID,
		Actor:      "transport",
		OldState:   string(models.MessageStatusSent),
		NewState:   string(models.MessageStatusFailed),
		Detail: map[string]string{
			"campaign_id": recipient.CampaignID,
			"reason":      reason,
		},
	})
	metrics.IncrementCounter("receipts_total", map[string]string{"result": "applied"}, "Transport receipts by result")

	t.refresh(ctx, recipient.CampaignID)
	return nil
}
