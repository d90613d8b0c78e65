package service

import (
	"context"
	"sync"
	"time"

	"zapcast/internal/errors"
	"zapcast/internal/metrics"
	"zapcast/internal/privacy"
	"zapcast/internal/queue"
	"zapcast/internal/ratelimit"
	"zapcast/internal/retry"
	"zapcast/internal/tracing"
	"zapcast/pkg/messenger"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// WorkerPool drains the dispatch queue. Each worker takes one item at a
// time: rate-limit admission, then a single transport attempt, then the
// outcome goes through the tracker. Failed attempts with budget left are
// re-queued with exponential backoff.
type WorkerPool struct {
	queue       *queue.DispatchQueue
	limiter     *ratelimit.Limiter
	client      messenger.Client
	tracker     DeliveryTracker
	backoff     *retry.Backoff
	logger      *logrus.Logger
	workers     int
	maxAttempts int
	sendTimeout time.Duration

	wg sync.WaitGroup
}

type WorkerPoolOptions struct {
	Workers     int
	MaxAttempts int
	SendTimeout time.Duration
}

func NewWorkerPool(q *queue.DispatchQueue, limiter *ratelimit.Limiter, client messenger.Client, tracker DeliveryTracker, backoff *retry.Backoff, opts WorkerPoolOptions, logger *logrus.Logger) *WorkerPool {
	return &WorkerPool{
		queue:       q,
		limiter:     limiter,
		client:      client,
		tracker:     tracker,
		backoff:     backoff,
		logger:      logger,
		workers:     opts.Workers,
		maxAttempts: opts.MaxAttempts,
		sendTimeout: opts.SendTimeout,
	}
}

// Start launches the workers. They exit when ctx is cancelled or the
// queue is closed.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.logger.WithField("workers", p.workers).Info("Dispatch workers started")
}

// Wait blocks until every worker has exited.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.WithField("worker", id)

	for {
		item, err := p.queue.Dequeue(ctx)
		if err != nil {
			log.WithError(err).Debug("Worker stopping")
			return
		}
		p.process(ctx, item, log)
	}
}

// process handles one work item. A panic in the transport path settles
// only that item; the worker keeps running.
func (p *WorkerPool) process(ctx context.Context, item *queue.WorkItem, log *logrus.Entry) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{
				"panic":        r,
				"recipient_id": item.RecipientID,
			}).Error("Recovered from panic while dispatching")
		}
	}()

	ctx, span := tracing.StartSpan(ctx, "worker.dispatch",
		attribute.String("campaign.id", item.CampaignID),
		attribute.Int("attempt", item.Attempt))
	defer span.End()

	// The cancel set is checked again here because an item can be
	// claimed just before its campaign is cancelled.
	if p.queue.IsCancelled(item.CampaignID) {
		if err := p.tracker.MarkCancelled(ctx, item.RecipientID); err != nil {
			log.WithError(err).WithField("recipient_id", item.RecipientID).Error("Failed to settle cancelled item")
		}
		return
	}

	if err := p.limiter.Acquire(ctx, item.Channel); err != nil {
		// Context cancellation and limiter shutdown both end here. The
		// recipient row stays pending, so a restart re-queues it.
		log.WithError(err).Debug("Rate limit admission aborted")
		return
	}

	recipient, err := p.tracker.BeginAttempt(ctx, item.RecipientID)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeAlreadyTerminal) {
			// Replayed item; the earlier outcome stands.
			return
		}
		log.WithError(err).WithField("recipient_id", item.RecipientID).Error("Failed to claim recipient")
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	resp, sendErr := p.client.SendText(sendCtx, item.PhoneNumber, item.Content)
	cancel()

	if sendErr == nil && resp != nil {
		if err := p.tracker.RecordSuccess(ctx, recipient, resp.MessageID); err != nil {
			log.WithError(err).WithField("recipient_id", recipient.ID).Error("Failed to record send result")
		}
		return
	}
	if sendErr == nil {
		sendErr = errors.New(errors.ErrCodeTransport, "transport returned empty response")
	}

	log.WithError(sendErr).WithFields(logrus.Fields{
		"recipient_id": recipient.ID,
		"phone":        privacy.MaskPhoneNumber(item.PhoneNumber),
		"attempt":      item.Attempt,
	}).Warn("Send attempt failed")
	tracing.RecordError(ctx, sendErr)

	final, err := p.tracker.RecordFailure(ctx, recipient, sendErr, p.maxAttempts)
	if err != nil {
		log.WithError(err).WithField("recipient_id", recipient.ID).Error("Failed to record send failure")
		return
	}
	if final {
		metrics.IncrementCounter("messages_exhausted_total", nil, "Recipients that spent their full attempt budget")
		return
	}

	delay := p.backoff.DelayForAttempt(item.Attempt)
	retryItem := *item
	retryItem.Attempt++
	p.queue.EnqueueDelayed(&retryItem, delay)

	log.WithFields(logrus.Fields{
		"recipient_id": recipient.ID,
		"retry_in":     delay,
	}).Info("Send attempt scheduled for retry")
}
