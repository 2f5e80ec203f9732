// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers rooms, members, posting with sibling detachment, ancestors and the child index

package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seedRoom creates a room with two members and returns the room and users.
func seedRoom(t *testing.T, s Store) (*ChatRoom, *User, *User) {
	t.Helper()
	ctx := context.Background()

	alice, err := s.CreateUser(ctx, CreateUserParams{Name: "alice", Role: "host"})
	require.NoError(t, err)
	bob, err := s.CreateUser(ctx, CreateUserParams{Name: "bob", Role: "guest", Persona: "curious"})
	require.NoError(t, err)

	room, err := s.CreateChatRoom(ctx, "lobby")
	require.NoError(t, err)
	require.NoError(t, s.AddChatRoomMembers(ctx, room.ID, []string{alice.ID, bob.ID}))

	return room, alice, bob
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created in nested directory")
}

func TestNewSQLiteStore_Memory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	room, _, _ := seedRoom(t, s)
	got, err := s.GetChatRoom(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, "lobby", got.Name)
}

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	room, _, _ := seedRoom(t, s)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.GetChatRoom(context.Background(), room.ID)
	assert.NoError(t, err)
}

func TestUsersAndMembers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, alice, bob := seedRoom(t, s)

	got, err := s.GetUser(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Name)
	assert.Equal(t, "guest", got.Role)
	assert.Equal(t, "curious", got.Persona)

	// Adding an existing member again is a no-op
	require.NoError(t, s.AddChatRoomMembers(ctx, room.ID, []string{alice.ID}))

	members, err := s.ListChatRoomMembers(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, alice.ID, members[0].ID)
	assert.Equal(t, bob.ID, members[1].ID)
}

func TestAddChatRoomMembers_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, _, _ := seedRoom(t, s)

	err := s.AddChatRoomMembers(ctx, "missing-room", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.AddChatRoomMembers(ctx, room.ID, []string{"missing-user"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetters_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetUser(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetChatRoom(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetMessage(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.ListAncestors(ctx, "nope", 10)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.RemoveParentMessage(ctx, "nope"), ErrNotFound)
}

func TestPostMessage_Root(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, alice, _ := seedRoom(t, s)

	m1, err := s.PostMessage(ctx, PostMessageParams{RoomID: room.ID, AuthorUserID: alice.ID, Content: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, m1.ID)
	assert.Nil(t, m1.ParentMessageID)
	assert.False(t, m1.CreatedAt.IsZero())

	got, err := s.GetMessage(ctx, m1.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, alice.ID, got.AuthorUserID)
	assert.True(t, got.CreatedAt.Equal(m1.CreatedAt))

	child, err := s.FindChildMessage(ctx, m1.ID)
	require.NoError(t, err)
	assert.Nil(t, child)
}

func TestPostMessage_DetachesExistingChild(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, alice, bob := seedRoom(t, s)

	m1, err := s.PostMessage(ctx, PostMessageParams{RoomID: room.ID, AuthorUserID: alice.ID, Content: "m1"})
	require.NoError(t, err)
	m2, err := s.PostMessage(ctx, PostMessageParams{RoomID: room.ID, AuthorUserID: bob.ID, Content: "m2", ParentMessageID: &m1.ID})
	require.NoError(t, err)

	child, err := s.FindChildMessage(ctx, m1.ID)
	require.NoError(t, err)
	require.NotNil(t, child)
	assert.Equal(t, m2.ID, child.ID)

	m3, err := s.PostMessage(ctx, PostMessageParams{RoomID: room.ID, AuthorUserID: bob.ID, Content: "m3", ParentMessageID: &m1.ID})
	require.NoError(t, err)

	child, err = s.FindChildMessage(ctx, m1.ID)
	require.NoError(t, err)
	require.NotNil(t, child)
	assert.Equal(t, m3.ID, child.ID)

	// The replaced sibling is kept for history
	old, err := s.GetMessage(ctx, m2.ID)
	require.NoError(t, err)
	assert.Nil(t, old.ParentMessageID)
	require.NotNil(t, old.DetachedFrom)
	assert.Equal(t, m1.ID, *old.DetachedFrom)
}

func TestPostMessage_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, alice, _ := seedRoom(t, s)
	missing := "missing-parent"

	_, err := s.PostMessage(ctx, PostMessageParams{RoomID: room.ID, AuthorUserID: alice.ID, Content: "x", ParentMessageID: &missing})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.PostMessage(ctx, PostMessageParams{RoomID: "missing-room", AuthorUserID: alice.ID, Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.PostMessage(ctx, PostMessageParams{RoomID: room.ID, AuthorUserID: "missing-user", Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostMessage_ParentInOtherRoom(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, alice, _ := seedRoom(t, s)

	other, err := s.CreateChatRoom(ctx, "other")
	require.NoError(t, err)
	m1, err := s.PostMessage(ctx, PostMessageParams{RoomID: other.ID, AuthorUserID: alice.ID, Content: "elsewhere"})
	require.NoError(t, err)

	_, err = s.PostMessage(ctx, PostMessageParams{RoomID: room.ID, AuthorUserID: alice.ID, Content: "x", ParentMessageID: &m1.ID})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostMessage_ConcurrentSameParentKeepsSingleChild(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, alice, _ := seedRoom(t, s)

	m1, err := s.PostMessage(ctx, PostMessageParams{RoomID: room.ID, AuthorUserID: alice.ID, Content: "root"})
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.PostMessage(ctx, PostMessageParams{RoomID: room.ID, AuthorUserID: alice.ID, Content: "reply", ParentMessageID: &m1.ID})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var count int
	err = s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE parent_message_id = ?`, m1.ID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	err = s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE detached_from = ?`, m1.ID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, writers-1, count)
}

func TestCurrentChildIndexRejectsSecondChild(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, alice, _ := seedRoom(t, s)

	m1, err := s.PostMessage(ctx, PostMessageParams{RoomID: room.ID, AuthorUserID: alice.ID, Content: "root"})
	require.NoError(t, err)
	_, err = s.PostMessage(ctx, PostMessageParams{RoomID: room.ID, AuthorUserID: alice.ID, Content: "child", ParentMessageID: &m1.ID})
	require.NoError(t, err)

	// A raw insert that skips detachment must be rejected by the index
	_, err = s.db.Exec(
		`INSERT INTO messages (id, room_id, author_user_id, content, parent_message_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		"rogue", room.ID, alice.ID, "rogue", m1.ID, formatTime(m1.CreatedAt),
	)
	require.Error(t, err)
	assert.True(t, isConstraintViolation(err))
}

func TestRemoveParentMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, alice, bob := seedRoom(t, s)

	m1, err := s.PostMessage(ctx, PostMessageParams{RoomID: room.ID, AuthorUserID: alice.ID, Content: "m1"})
	require.NoError(t, err)
	m2, err := s.PostMessage(ctx, PostMessageParams{RoomID: room.ID, AuthorUserID: bob.ID, Content: "m2", ParentMessageID: &m1.ID})
	require.NoError(t, err)

	require.NoError(t, s.RemoveParentMessage(ctx, m2.ID))

	child, err := s.FindChildMessage(ctx, m1.ID)
	require.NoError(t, err)
	assert.Nil(t, child)

	got, err := s.GetMessage(ctx, m2.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ParentMessageID)
	require.NotNil(t, got.DetachedFrom)
	assert.Equal(t, m1.ID, *got.DetachedFrom)
}

func TestListAncestors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, alice, bob := seedRoom(t, s)

	var ids []string
	var parent *string
	for i, author := range []string{alice.ID, bob.ID, alice.ID, bob.ID} {
		msg, err := s.PostMessage(ctx, PostMessageParams{
			RoomID:          room.ID,
			AuthorUserID:    author,
			Content:         string(rune('a' + i)),
			ParentMessageID: parent,
		})
		require.NoError(t, err)
		ids = append(ids, msg.ID)
		parent = &msg.ID
	}

	path, err := s.ListAncestors(ctx, ids[3], 0)
	require.NoError(t, err)
	require.Len(t, path, 4)
	for i, msg := range path {
		assert.Equal(t, ids[i], msg.ID)
	}

	path, err = s.ListAncestors(ctx, ids[3], 2)
	require.NoError(t, err)
	require.Len(t, path, 2)
	assert.Equal(t, ids[2], path[0].ID)
	assert.Equal(t, ids[3], path[1].ID)

	for i, msg := range path {
		assert.Equal(t, i+2, msg.Depth)
	}

	path, err = s.ListAncestors(ctx, ids[3], 1)
	require.NoError(t, err)
	require.Len(t, path, 1)
	assert.Equal(t, ids[3], path[0].ID)
}

func TestPostMessage_KeepExistingChild(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, alice, bob := seedRoom(t, s)

	m1, err := s.PostMessage(ctx, PostMessageParams{RoomID: room.ID, AuthorUserID: alice.ID, Content: "m1"})
	require.NoError(t, err)
	assert.Equal(t, 0, m1.Depth)

	// No child yet: the guarded post goes through
	m2, err := s.PostMessage(ctx, PostMessageParams{
		RoomID: room.ID, AuthorUserID: bob.ID, Content: "m2", ParentMessageID: &m1.ID, KeepExistingChild: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, m2.Depth)

	_, err = s.PostMessage(ctx, PostMessageParams{
		RoomID: room.ID, AuthorUserID: bob.ID, Content: "generated", ParentMessageID: &m1.ID, KeepExistingChild: true,
	})
	assert.ErrorIs(t, err, ErrChildConflict)

	child, err := s.FindChildMessage(ctx, m1.ID)
	require.NoError(t, err)
	require.NotNil(t, child)
	assert.Equal(t, m2.ID, child.ID)
	assert.Equal(t, 1, child.Depth)
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
