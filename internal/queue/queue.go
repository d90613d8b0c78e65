package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"zapcast/internal/models"
)

// WorkItem is one pending dispatch: a single message owed to a single
// recipient. Content is the campaign snapshot taken at approval time;
// later edits to the live campaign record never reach the wire.
type WorkItem struct {
	RecipientID string
	CampaignID  string
	PhoneNumber string
	DisplayName string
	Content     string
	Channel     string
	Priority    models.CampaignPriority
	Attempt     int
	ReadyAt     time.Time

	seq uint64
}

// itemHeap orders work by priority rank (high first), then enqueue
// sequence. The sequence tie-break makes cross-campaign ordering
// deterministic for equal priorities.
type itemHeap []*WorkItem

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority.Rank() != h[j].Priority.Rank() {
		return h[i].Priority.Rank() > h[j].Priority.Rank()
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(*WorkItem)) }
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// DispatchQueue is the shared, ordered work queue drained by the
// dispatch workers. FIFO within a campaign, priority then enqueue time
// across campaigns. Cancelling a campaign causes its queued items to be
// skipped on dequeue without consuming a rate limiter grant.
type DispatchQueue struct {
	mu        sync.Mutex
	items     itemHeap
	delayed   []*WorkItem
	cancelled map[string]bool
	nextSeq   uint64
	closed    bool
	notify    chan struct{}
	done      chan struct{}

	// onSkipped is invoked (outside the lock) for every item dropped
	// because its campaign was cancelled.
	onSkipped func(item *WorkItem)
}

func New() *DispatchQueue {
	return &DispatchQueue{
		cancelled: make(map[string]bool),
		notify:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// OnSkipped registers the callback receiving cancelled items. Must be
// set before workers start.
func (q *DispatchQueue) OnSkipped(fn func(item *WorkItem)) {
	q.mu.Lock()
	q.onSkipped = fn
	q.mu.Unlock()
}

// Enqueue adds work items in order. Items for a cancelled campaign are
// reported skipped immediately.
func (q *DispatchQueue) Enqueue(items ...*WorkItem) {
	var skipped []*WorkItem
	q.mu.Lock()
	for _, item := range items {
		if q.cancelled[item.CampaignID] {
			skipped = append(skipped, item)
			continue
		}
		item.seq = q.nextSeq
		q.nextSeq++
		heap.Push(&q.items, item)
	}
	fn := q.onSkipped
	q.mu.Unlock()

	q.wake()
	if fn != nil {
		for _, item := range skipped {
			fn(item)
		}
	}
}

// EnqueueDelayed schedules a retry: the item becomes dequeueable once
// delay has elapsed.
func (q *DispatchQueue) EnqueueDelayed(item *WorkItem, delay time.Duration) {
	q.mu.Lock()
	if q.cancelled[item.CampaignID] {
		fn := q.onSkipped
		q.mu.Unlock()
		if fn != nil {
			fn(item)
		}
		return
	}
	item.seq = q.nextSeq
	q.nextSeq++
	item.ReadyAt = time.Now().Add(delay)
	q.delayed = append(q.delayed, item)
	q.mu.Unlock()
	q.wake()
}

// Dequeue blocks until a work item is available or the context is
// cancelled. Items of cancelled campaigns are skipped, reported through
// OnSkipped, and never returned.
func (q *DispatchQueue) Dequeue(ctx context.Context) (*WorkItem, error) {
	for {
		q.mu.Lock()
		q.promoteReady()

		for q.items.Len() > 0 {
			item := heap.Pop(&q.items).(*WorkItem)
			if q.cancelled[item.CampaignID] {
				fn := q.onSkipped
				q.mu.Unlock()
				if fn != nil {
					fn(item)
				}
				q.mu.Lock()
				continue
			}
			q.mu.Unlock()
			return item, nil
		}

		wait := q.nextReadyIn()
		closed := q.closed
		notifyC := q.notify
		q.mu.Unlock()

		if closed {
			return nil, context.Canceled
		}

		var timer *time.Timer
		var timerC <-chan time.Time
		if wait > 0 {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil, ctx.Err()
		case <-q.done:
			if timer != nil {
				timer.Stop()
			}
			return nil, context.Canceled
		case <-notifyC:
			if timer != nil {
				timer.Stop()
			}
		case <-timerC:
		}
	}
}

// CancelCampaign marks a campaign cancelled and drains its queued items
// through OnSkipped. Items already handed to a worker are unaffected.
func (q *DispatchQueue) CancelCampaign(campaignID string) {
	var skipped []*WorkItem

	q.mu.Lock()
	q.cancelled[campaignID] = true

	var kept itemHeap
	for _, item := range q.items {
		if item.CampaignID == campaignID {
			skipped = append(skipped, item)
		} else {
			kept = append(kept, item)
		}
	}
	heap.Init(&kept)
	q.items = kept

	var keptDelayed []*WorkItem
	for _, item := range q.delayed {
		if item.CampaignID == campaignID {
			skipped = append(skipped, item)
		} else {
			keptDelayed = append(keptDelayed, item)
		}
	}
	q.delayed = keptDelayed
	fn := q.onSkipped
	q.mu.Unlock()

	if fn != nil {
		for _, item := range skipped {
			fn(item)
		}
	}
}

// IsCancelled reports whether a campaign has been cancelled.
func (q *DispatchQueue) IsCancelled(campaignID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelled[campaignID]
}

// Len returns the number of immediately dequeueable items.
func (q *DispatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// DelayedLen returns the number of items awaiting their retry delay.
func (q *DispatchQueue) DelayedLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.delayed)
}

// Close wakes all blocked Dequeue callers; they return once the queue is
// drained of ready items.
func (q *DispatchQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
}

// promoteReady moves delayed items whose delay has elapsed onto the
// heap. Caller holds the lock.
func (q *DispatchQueue) promoteReady() {
	now := time.Now()
	var still []*WorkItem
	for _, item := range q.delayed {
		if !item.ReadyAt.After(now) {
			heap.Push(&q.items, item)
		} else {
			still = append(still, item)
		}
	}
	q.delayed = still
}

// nextReadyIn returns the wait until the earliest delayed item is ready,
// or 0 when there is none. Caller holds the lock.
func (q *DispatchQueue) nextReadyIn() time.Duration {
	if len(q.delayed) == 0 {
		return 0
	}
	earliest := q.delayed[0].ReadyAt
	for _, item := range q.delayed[1:] {
		if item.ReadyAt.Before(earliest) {
			earliest = item.ReadyAt
		}
	}
	d := time.Until(earliest)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// wake releases every blocked Dequeue caller, not just one, so a batch
// enqueue can feed all idle workers at once.
func (q *DispatchQueue) wake() {
	q.mu.Lock()
	close(q.notify)
	q.notify = make(chan struct{})
	q.mu.Unlock()
}
