// ABOUTME: Child-posted notification contract used to wake waiting requesters
// ABOUTME: Notifications are hints; waiters always re-read the store

package notify

import (
	"context"
	"time"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 16

// ChildPosted announces that a message became the current child of ParentID.
type ChildPosted struct {
	ParentID  string    `json:"parent_id"`
	MessageID string    `json:"message_id"`
	RoomID    string    `json:"room_id"`
	PostedAt  time.Time `json:"posted_at"`
}

// Notifier fans out ChildPosted events keyed by parent message ID.
//
// Delivery is best effort: a slow subscriber may miss events, and a
// subscription opened after a post never sees it. Callers must pair
// Subscribe with a store re-check.
type Notifier interface {
	// Subscribe registers for events on parentID. The channel is closed when
	// ctx is cancelled or the notifier shuts down.
	Subscribe(ctx context.Context, parentID string) (<-chan *ChildPosted, error)

	// Publish delivers the event to subscribers of event.ParentID.
	Publish(ctx context.Context, event *ChildPosted) error
}
