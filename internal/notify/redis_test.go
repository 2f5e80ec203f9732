// ABOUTME: Tests for the Redis pub/sub notifier against miniredis
// ABOUTME: Verifies cross-notifier delivery, key isolation and close on cancel

package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisNotifier_DeliversAcrossInstances(t *testing.T) {
	client := newTestClient(t)
	sub := NewRedisNotifier(client, "test:", nil)
	pub := NewRedisNotifier(client, "test:", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := sub.Subscribe(ctx, "p1")
	require.NoError(t, err)

	posted := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, pub.Publish(ctx, &ChildPosted{ParentID: "p1", MessageID: "c1", RoomID: "r1", PostedAt: posted}))

	ev := receive(t, ch)
	assert.Equal(t, "p1", ev.ParentID)
	assert.Equal(t, "c1", ev.MessageID)
	assert.Equal(t, "r1", ev.RoomID)
	assert.True(t, ev.PostedAt.Equal(posted))
}

func TestRedisNotifier_KeyIsolation(t *testing.T) {
	client := newTestClient(t)
	n := NewRedisNotifier(client, "test:", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := n.Subscribe(ctx, "p1")
	require.NoError(t, err)

	require.NoError(t, n.Publish(ctx, &ChildPosted{ParentID: "p2", MessageID: "other"}))
	require.NoError(t, n.Publish(ctx, &ChildPosted{ParentID: "p1", MessageID: "mine"}))

	assert.Equal(t, "mine", receive(t, ch).MessageID)
}

func TestRedisNotifier_ClosesOnCancel(t *testing.T) {
	client := newTestClient(t)
	n := NewRedisNotifier(client, "test:", nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := n.Subscribe(ctx, "p1")
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
