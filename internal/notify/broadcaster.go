// ABOUTME: In-memory fan-out broadcaster for child-posted events
// ABOUTME: Wakes requesters waiting on a position within a single process

package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Broadcaster provides in-memory pub/sub for ChildPosted events.
// Subscribers register for a parent message ID and receive events as
// children are posted under it.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *ChildPosted // parentID -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *ChildPosted),
		logger:      logger.With("component", "notify", "backend", "memory"),
	}
}

// Subscribe registers a subscriber for events on parentID. The subscription
// is automatically cleaned up when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, parentID string) (<-chan *ChildPosted, error) {
	ch, _ := b.subscribe(ctx, parentID)
	return ch, nil
}

func (b *Broadcaster) subscribe(ctx context.Context, parentID string) (chan *ChildPosted, string) {
	subID := uuid.New().String()
	ch := make(chan *ChildPosted, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[parentID]; !ok {
		b.subscribers[parentID] = make(map[string]chan *ChildPosted)
	}
	b.subscribers[parentID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "parent_id", parentID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(parentID, subID)
	}()

	return ch, subID
}

// Publish sends an event to all subscribers of event.ParentID.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(ctx context.Context, event *ChildPosted) error {
	b.mu.RLock()
	subs, ok := b.subscribers[event.ParentID]
	if !ok || len(subs) == 0 {
		b.mu.RUnlock()
		return nil
	}

	// Send under the read lock: Unsubscribe closes channels under the write lock.
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"parent_id", event.ParentID,
				"message_id", event.MessageID)
		}
	}
	b.mu.RUnlock()
	return nil
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(parentID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[parentID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, parentID)
	}

	b.logger.Debug("subscriber removed", "parent_id", parentID, "sub_id", subID)
}

// SubscriberCount returns the number of live subscriptions on parentID.
func (b *Broadcaster) SubscriberCount(parentID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[parentID])
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for parentID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, parentID)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
	return nil
}

var _ Notifier = (*Broadcaster)(nil)
