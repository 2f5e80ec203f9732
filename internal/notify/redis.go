// ABOUTME: Redis pub/sub notifier for child-posted events across processes
// ABOUTME: One channel per parent message; payloads are JSON-encoded ChildPosted events

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier implements Notifier over Redis pub/sub so a requester waiting
// in one process is woken by a post made in another.
type RedisNotifier struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewRedisNotifier creates a notifier publishing on channels under prefix.
func NewRedisNotifier(client redis.UniversalClient, prefix string, logger *slog.Logger) *RedisNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "notify", "backend", "redis"),
	}
}

func (n *RedisNotifier) channel(parentID string) string {
	return n.prefix + "child:" + parentID
}

// Subscribe opens a pub/sub subscription for parentID. It returns once Redis
// has confirmed the subscription, so any later Publish is observed.
func (n *RedisNotifier) Subscribe(ctx context.Context, parentID string) (<-chan *ChildPosted, error) {
	ps := n.client.Subscribe(ctx, n.channel(parentID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", parentID, err)
	}

	out := make(chan *ChildPosted, subscriberBufferSize)
	msgs := ps.Channel()

	go func() {
		defer close(out)
		defer ps.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event ChildPosted
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					n.logger.Warn("discarding malformed notification",
						"channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- &event:
				default:
					n.logger.Debug("dropped event for slow subscriber",
						"parent_id", parentID, "message_id", event.MessageID)
				}
			}
		}
	}()

	return out, nil
}

// Publish sends the event to every process subscribed to event.ParentID.
func (n *RedisNotifier) Publish(ctx context.Context, event *ChildPosted) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel(event.ParentID), payload).Err(); err != nil {
		return fmt.Errorf("publishing notification: %w", err)
	}
	return nil
}

var _ Notifier = (*RedisNotifier)(nil)
