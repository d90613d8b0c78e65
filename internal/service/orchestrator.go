package service

import (
	"context"
	"strings"
	"time"

	"zapcast/internal/errors"
	"zapcast/internal/metrics"
	"zapcast/internal/models"
	"zapcast/internal/privacy"
	"zapcast/internal/queue"
	"zapcast/internal/tracing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const counterRefreshAttempts = 3

// Orchestrator drives approved campaigns through dispatch: it expands
// the target audience into recipient rows, feeds the queue, keeps the
// campaign counters consistent with recipient outcomes, and settles the
// campaign once every recipient has an outcome.
type Orchestrator struct {
	store  Store
	queue  *queue.DispatchQueue
	logger *logrus.Logger
}

func NewOrchestrator(store Store, q *queue.DispatchQueue, logger *logrus.Logger) *Orchestrator {
	o := &Orchestrator{store: store, queue: q, logger: logger}
	q.OnSkipped(o.handleSkipped)
	return o
}

// Activate routes a freshly approved campaign: immediate campaigns start
// dispatching now, scheduled ones wait for the scheduler sweep.
func (o *Orchestrator) Activate(ctx context.Context, campaign *models.Campaign) error {
	if campaign.Status != models.CampaignStatusApproved {
		return errors.StateConflict("campaign", campaign.ID, string(campaign.Status), "activate")
	}

	if !campaign.SendImmediately && campaign.ScheduledFor != nil && campaign.ScheduledFor.After(time.Now()) {
		oldStatus := campaign.Status
		campaign.Status = models.CampaignStatusScheduled
		if err := o.store.UpdateCampaign(ctx, campaign); err != nil {
			return err
		}
		audit(ctx, o.store, o.logger, campaignAudit(models.AuditCampaignScheduled, campaign, "system", oldStatus))

		o.logger.WithFields(logrus.Fields{
			"campaign_id":   campaign.ID,
			"scheduled_for": campaign.ScheduledFor,
		}).Info("Campaign scheduled")
		return nil
	}

	return o.Start(ctx, campaign)
}

// Start expands the audience and begins dispatching. Valid from
// approved (immediate) and scheduled (sweep fired).
func (o *Orchestrator) Start(ctx context.Context, campaign *models.Campaign) error {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.start",
		attribute.String("campaign.id", campaign.ID))
	defer span.End()

	if campaign.Status != models.CampaignStatusApproved && campaign.Status != models.CampaignStatusScheduled {
		return errors.StateConflict("campaign", campaign.ID, string(campaign.Status), "start")
	}

	// A previous start may have persisted the expansion and then failed
	// on the status write. Reuse the stored rows so retrying never
	// duplicates recipients.
	recipients, err := o.store.ListRecipientsByCampaign(ctx, campaign.ID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	if len(recipients) > 0 {
		o.logger.WithFields(logrus.Fields{
			"campaign_id": campaign.ID,
			"recipients":  len(recipients),
		}).Info("Resuming campaign from persisted recipient expansion")
	} else {
		recipients, err = o.expandRecipients(ctx, campaign)
		if err != nil {
			tracing.RecordError(ctx, err)
			return err
		}
		if len(recipients) == 0 {
			return errors.New(errors.ErrCodeValidationFailed, "campaign resolves to zero recipients").
				WithContext("campaign_id", campaign.ID)
		}

		if err := o.store.SaveRecipients(ctx, recipients); err != nil {
			tracing.RecordError(ctx, err)
			return err
		}
	}

	oldStatus := campaign.Status
	campaign.Status = models.CampaignStatusSending
	campaign.Counters = models.CampaignCounters{TotalRecipients: len(recipients)}
	if err := o.store.UpdateCampaign(ctx, campaign); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	audit(ctx, o.store, o.logger, campaignAudit(models.AuditCampaignSending, campaign, "system", oldStatus))

	o.enqueueRecipients(campaign, recipients)
	metrics.SetGauge("dispatch_queue_depth", float64(o.queue.Len()), nil, "Work items waiting in the dispatch queue")

	o.logger.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"recipients":  len(recipients),
	}).Info("Campaign dispatch started")

	return nil
}

// expandRecipients resolves group members through the contact filter,
// appends manual contacts, dedupes by phone number, and truncates to the
// campaign's recipient cap. Order is group members first, manual
// contacts after, both in stored order, so truncation is deterministic.
func (o *Orchestrator) expandRecipients(ctx context.Context, campaign *models.Campaign) ([]*models.Recipient, error) {
	now := time.Now()
	seen := make(map[string]bool)
	var recipients []*models.Recipient

	add := func(phone, display string) {
		if seen[phone] {
			return
		}
		seen[phone] = true
		recipients = append(recipients, &models.Recipient{
			ID:          uuid.New().String(),
			CampaignID:  campaign.ID,
			PhoneNumber: phone,
			DisplayName: display,
			Status:      models.MessageStatusPending,
			QueuedAt:    now,
			Version:     1,
		})
	}

	if campaign.GroupID != "" {
		members, err := o.store.ListGroupMembers(ctx, campaign.GroupID)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if !matchesFilter(m, campaign.ContactFilter) {
				continue
			}
			add(m.PhoneNumber, m.DisplayName)
		}
	}

	for _, c := range campaign.ManualContacts {
		add(c.PhoneNumber, c.DisplayName)
	}

	if campaign.MaxRecipients > 0 && len(recipients) > campaign.MaxRecipients {
		o.logger.WithFields(logrus.Fields{
			"campaign_id": campaign.ID,
			"resolved":    len(recipients),
			"cap":         campaign.MaxRecipients,
		}).Warn("Recipient list truncated to campaign cap")
		recipients = recipients[:campaign.MaxRecipients]
	}

	return recipients, nil
}

func matchesFilter(m models.GroupMember, f models.ContactFilter) bool {
	for _, excluded := range f.ExcludeNumbers {
		if m.PhoneNumber == excluded {
			return false
		}
	}
	if len(f.IncludeTags) == 0 {
		return true
	}
	for _, want := range f.IncludeTags {
		for _, tag := range m.Tags {
			if strings.EqualFold(tag, want) {
				return true
			}
		}
	}
	return false
}

// enqueueRecipients feeds undispatched rows to the queue. Rows that
// already have an outcome (possible when resuming a persisted
// expansion) stay settled.
func (o *Orchestrator) enqueueRecipients(campaign *models.Campaign, recipients []*models.Recipient) {
	content := campaign.DispatchContent()
	items := make([]*queue.WorkItem, 0, len(recipients))
	for _, r := range recipients {
		if r.Status != models.MessageStatusPending {
			continue
		}
		items = append(items, &queue.WorkItem{
			RecipientID: r.ID,
			CampaignID:  campaign.ID,
			PhoneNumber: r.PhoneNumber,
			DisplayName: r.DisplayName,
			Content:     content,
			Channel:     campaign.Channel,
			Priority:    campaign.Priority,
			Attempt:     r.SendAttempts + 1,
		})
	}
	o.queue.Enqueue(items...)
}

// RebuildQueue reloads undispatched recipients after a restart. Rows in
// pending or sending whose campaign is still live go back on the queue;
// a row stuck in sending means the process died mid-attempt, which the
// tracker's idempotency makes safe to replay.
func (o *Orchestrator) RebuildQueue(ctx context.Context) error {
	recipients, err := o.store.ListUnsentRecipients(ctx)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return nil
	}

	campaigns := make(map[string]*models.Campaign)
	restored := 0
	var resume []*models.Campaign
	for _, r := range recipients {
		campaign, ok := campaigns[r.CampaignID]
		if !ok {
			campaign, err = o.store.GetCampaign(ctx, r.CampaignID)
			if err != nil {
				return err
			}
			if campaign == nil {
				o.logger.WithField("campaign_id", r.CampaignID).Warn("Recipient references missing campaign, skipping")
				continue
			}
			campaigns[r.CampaignID] = campaign
			// An approved campaign with persisted rows died between the
			// expansion and the status write; restart it through Start,
			// which reuses the rows. Scheduled ones wait for the sweep.
			if campaign.Status == models.CampaignStatusApproved {
				resume = append(resume, campaign)
			}
		}
		if campaign.Status != models.CampaignStatusSending {
			continue
		}

		o.queue.Enqueue(&queue.WorkItem{
			RecipientID: r.ID,
			CampaignID:  campaign.ID,
			PhoneNumber: r.PhoneNumber,
			DisplayName: r.DisplayName,
			Content:     campaign.DispatchContent(),
			Channel:     campaign.Channel,
			Priority:    campaign.Priority,
			Attempt:     r.SendAttempts + 1,
		})
		restored++
	}

	for _, campaign := range resume {
		if err := o.Start(ctx, campaign); err != nil {
			o.logger.WithError(err).WithField("campaign_id", campaign.ID).Error("Failed to resume interrupted campaign")
		}
	}

	if restored > 0 {
		o.logger.WithField("restored", restored).Info("Dispatch queue rebuilt from storage")
	}
	metrics.SetGauge("dispatch_queue_depth", float64(o.queue.Len()), nil, "Work items waiting in the dispatch queue")
	return nil
}

// Cancel stops a campaign from any non-terminal state. Messages already
// on the wire stay as they are; everything still owed is settled as
// cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, campaignID, actor string) (*models.Campaign, error) {
	campaign, err := o.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, errors.New(errors.ErrCodeNotFound, "campaign not found")
	}
	if campaign.Status.IsTerminal() {
		return nil, errors.StateConflict("campaign", campaignID, string(campaign.Status), "cancel")
	}

	// Stop new work from leaving the queue before touching storage.
	o.queue.CancelCampaign(campaignID)

	recipients, err := o.store.ListRecipientsByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	for _, r := range recipients {
		if r.Status.IsTerminal() || r.Status == models.MessageStatusSent {
			continue
		}
		r.Status = models.MessageStatusCancelled
		if err := o.store.UpdateRecipient(ctx, r); err != nil {
			o.logger.WithError(err).WithField("recipient_id", r.ID).Error("Failed to cancel recipient")
		}
	}

	oldStatus := campaign.Status
	campaign.Status = models.CampaignStatusCancelled
	if err := o.store.UpdateCampaign(ctx, campaign); err != nil {
		return nil, err
	}
	audit(ctx, o.store, o.logger, campaignAudit(models.AuditCampaignCancelled, campaign, actor, oldStatus))
	metrics.IncrementCounter("campaigns_cancelled_total", nil, "Campaigns cancelled before completion")

	o.RefreshCounters(ctx, campaignID)

	o.logger.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"actor":       actor,
	}).Info("Campaign cancelled")

	return o.store.GetCampaign(ctx, campaignID)
}

// RefreshCounters recomputes a campaign's counters from recipient rows
// and settles the campaign once nothing is left in flight. Safe to call
// concurrently from workers and the webhook path; optimistic update
// conflicts are retried against a fresh read.
func (o *Orchestrator) RefreshCounters(ctx context.Context, campaignID string) {
	for attempt := 0; attempt < counterRefreshAttempts; attempt++ {
		campaign, err := o.store.GetCampaign(ctx, campaignID)
		if err != nil || campaign == nil {
			return
		}

		counts, err := o.store.CountRecipientsByStatus(ctx, campaignID)
		if err != nil {
			o.logger.WithError(err).WithField("campaign_id", campaignID).Error("Failed to count recipients")
			return
		}

		total := 0
		for _, n := range counts {
			total += n
		}
		campaign.Counters = models.CampaignCounters{
			TotalRecipients: total,
			MessagesSent: counts[models.MessageStatusSent] +
				counts[models.MessageStatusDelivered] +
				counts[models.MessageStatusRead],
			MessagesDelivered: counts[models.MessageStatusDelivered] + counts[models.MessageStatusRead],
			MessagesRead:      counts[models.MessageStatusRead],
			MessagesFailed:    counts[models.MessageStatusFailed],
			MessagesCancelled: counts[models.MessageStatusCancelled],
		}

		oldStatus := campaign.Status
		inFlight := counts[models.MessageStatusPending] + counts[models.MessageStatusSending]
		if campaign.Status == models.CampaignStatusSending && inFlight == 0 && total > 0 {
			if campaign.Counters.MessagesSent > 0 {
				campaign.Status = models.CampaignStatusSent
			} else {
				campaign.Status = models.CampaignStatusFailed
			}
		}

		err = o.store.UpdateCampaign(ctx, campaign)
		if err == nil {
			if campaign.Status != oldStatus {
				action := models.AuditCampaignSent
				if campaign.Status == models.CampaignStatusFailed {
					action = models.AuditCampaignFailed
				}
				audit(ctx, o.store, o.logger, campaignAudit(action, campaign, "system", oldStatus))
				o.logger.WithFields(logrus.Fields{
					"campaign_id": campaignID,
					"status":      campaign.Status,
				}).Info("Campaign settled")
			}
			return
		}
		if !errors.HasCode(err, errors.ErrCodeConcurrencyConflict) {
			o.logger.WithError(err).WithField("campaign_id", campaignID).Error("Failed to refresh campaign counters")
			return
		}
		// Lost the race to a concurrent refresh; reload and try again.
	}
	o.logger.WithField("campaign_id", campaignID).Warn("Counter refresh gave up after repeated conflicts")
}

// handleSkipped settles work items the queue dropped because their
// campaign was cancelled between enqueue and dequeue.
func (o *Orchestrator) handleSkipped(item *queue.WorkItem) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	recipient, err := o.store.GetRecipient(ctx, item.RecipientID)
	if err != nil || recipient == nil {
		return
	}
	if recipient.Status.IsTerminal() || recipient.Status == models.MessageStatusSent {
		return
	}
	recipient.Status = models.MessageStatusCancelled
	if err := o.store.UpdateRecipient(ctx, recipient); err != nil {
		o.logger.WithError(err).WithFields(logrus.Fields{
			"recipient_id": recipient.ID,
			"phone":        privacy.MaskPhoneNumber(recipient.PhoneNumber),
		}).Error("Failed to settle skipped work item")
	}
}
