// ABOUTME: Tests that MockStore mirrors the SQLite tree semantics
// ABOUTME: Same scenarios as sqlite_test.go run against the in-memory implementation

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_PostDetachesExistingChild(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()
	room, alice, bob := seedRoom(t, s)

	m1, err := s.PostMessage(ctx, PostMessageParams{RoomID: room.ID, AuthorUserID: alice.ID, Content: "m1"})
	require.NoError(t, err)
	m2, err := s.PostMessage(ctx, PostMessageParams{RoomID: room.ID, AuthorUserID: bob.ID, Content: "m2", ParentMessageID: &m1.ID})
	require.NoError(t, err)
	m3, err := s.PostMessage(ctx, PostMessageParams{RoomID: room.ID, AuthorUserID: bob.ID, Content: "m3", ParentMessageID: &m1.ID})
	require.NoError(t, err)

	child, err := s.FindChildMessage(ctx, m1.ID)
	require.NoError(t, err)
	require.NotNil(t, child)
	assert.Equal(t, m3.ID, child.ID)
	assert.Equal(t, 1, s.CurrentChildCount(m1.ID))

	old, err := s.GetMessage(ctx, m2.ID)
	require.NoError(t, err)
	assert.Nil(t, old.ParentMessageID)
	require.NotNil(t, old.DetachedFrom)
	assert.Equal(t, m1.ID, *old.DetachedFrom)
}

func TestMockStore_KeepExistingChild(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()
	room, alice, bob := seedRoom(t, s)

	m1, err := s.PostMessage(ctx, PostMessageParams{RoomID: room.ID, AuthorUserID: alice.ID, Content: "m1"})
	require.NoError(t, err)
	m2, err := s.PostMessage(ctx, PostMessageParams{RoomID: room.ID, AuthorUserID: alice.ID, Content: "mine", ParentMessageID: &m1.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, m2.Depth)

	_, err = s.PostMessage(ctx, PostMessageParams{
		RoomID: room.ID, AuthorUserID: bob.ID, Content: "generated", ParentMessageID: &m1.ID, KeepExistingChild: true,
	})
	assert.ErrorIs(t, err, ErrChildConflict)

	child, err := s.FindChildMessage(ctx, m1.ID)
	require.NoError(t, err)
	assert.Equal(t, m2.ID, child.ID)
	assert.Equal(t, 1, s.CurrentChildCount(m1.ID))
}

func TestMockStore_ReturnsCopies(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()
	room, alice, _ := seedRoom(t, s)

	m1, err := s.PostMessage(ctx, PostMessageParams{RoomID: room.ID, AuthorUserID: alice.ID, Content: "original"})
	require.NoError(t, err)

	m1.Content = "mutated"
	got, err := s.GetMessage(ctx, m1.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", got.Content)
}

func TestMockStore_NotFound(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()
	room, alice, _ := seedRoom(t, s)
	missing := "missing"

	_, err := s.GetMessage(ctx, missing)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.PostMessage(ctx, PostMessageParams{RoomID: room.ID, AuthorUserID: alice.ID, ParentMessageID: &missing})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.RemoveParentMessage(ctx, missing), ErrNotFound)
	_, err = s.ListAncestors(ctx, missing, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	child, err := s.FindChildMessage(ctx, missing)
	require.NoError(t, err)
	assert.Nil(t, child)
}

func TestMockStore_ListAncestorsAndRemoveParent(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()
	room, alice, bob := seedRoom(t, s)

	m1, err := s.PostMessage(ctx, PostMessageParams{RoomID: room.ID, AuthorUserID: alice.ID, Content: "m1"})
	require.NoError(t, err)
	m2, err := s.PostMessage(ctx, PostMessageParams{RoomID: room.ID, AuthorUserID: bob.ID, Content: "m2", ParentMessageID: &m1.ID})
	require.NoError(t, err)
	m3, err := s.PostMessage(ctx, PostMessageParams{RoomID: room.ID, AuthorUserID: alice.ID, Content: "m3", ParentMessageID: &m2.ID})
	require.NoError(t, err)

	path, err := s.ListAncestors(ctx, m3.ID, 0)
	require.NoError(t, err)
	require.Len(t, path, 3)
	assert.Equal(t, []string{m1.ID, m2.ID, m3.ID}, []string{path[0].ID, path[1].ID, path[2].ID})

	path, err = s.ListAncestors(ctx, m3.ID, 1)
	require.NoError(t, err)
	require.Len(t, path, 1)
	assert.Equal(t, m3.ID, path[0].ID)

	require.NoError(t, s.RemoveParentMessage(ctx, m2.ID))
	child, err := s.FindChildMessage(ctx, m1.ID)
	require.NoError(t, err)
	assert.Nil(t, child)
	assert.Equal(t, 0, s.CurrentChildCount(m1.ID))
}
