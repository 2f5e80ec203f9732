// ABOUTME: Store interfaces and data types for nextturn persistence
// ABOUTME: Defines Message, ChatRoom, User and the message-tree operations the chat core consumes

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrChildConflict is returned when an insert would give a parent two current
// children, or when a KeepExistingChild post finds the parent already answered
var ErrChildConflict = errors.New("parent already has a current child")

// User is a conversation participant. Role and Persona feed the content generator.
type User struct {
	ID        string
	Name      string
	Role      string
	Persona   string
	CreatedAt time.Time
}

// ChatRoom groups members and the messages exchanged between them
type ChatRoom struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Message is a node in a room's conversation tree.
//
// ParentMessageID links the message to the message it follows. At most one
// message is the current child of any parent; a replaced child keeps its row
// with a nil ParentMessageID and DetachedFrom set to the former parent.
//
// Depth is the number of messages above this one when it was posted: 0 for a
// root, parent depth + 1 otherwise. It is fixed at insert and is not changed
// by a later detach.
type Message struct {
	ID              string
	RoomID          string
	AuthorUserID    string
	Content         string
	ParentMessageID *string
	DetachedFrom    *string
	Depth           int
	CreatedAt       time.Time
}

// HasParent reports whether the message is currently linked to a parent
func (m *Message) HasParent() bool {
	return m.ParentMessageID != nil && *m.ParentMessageID != ""
}

// PostMessageParams describes a message to append to a room.
// ID and CreatedAt are assigned by the store when empty.
type PostMessageParams struct {
	ID              string
	RoomID          string
	AuthorUserID    string
	Content         string
	ParentMessageID *string
	CreatedAt       time.Time

	// KeepExistingChild makes the post fail with ErrChildConflict instead of
	// detaching a current child of the parent. Generated turns use it so
	// they never displace a message posted while they were being produced.
	KeepExistingChild bool
}

// CreateUserParams describes a user to create
type CreateUserParams struct {
	Name    string
	Role    string
	Persona string
}

// MessageStore holds the conversation tree.
type MessageStore interface {
	GetMessage(ctx context.Context, id string) (*Message, error)

	// FindChildMessage returns the current child of parentID, or nil with a
	// nil error when the parent has no child yet.
	FindChildMessage(ctx context.Context, parentID string) (*Message, error)

	// PostMessage detaches any current child of the parent and inserts the
	// new message as an atomic unit, so readers never see two children.
	PostMessage(ctx context.Context, params PostMessageParams) (*Message, error)

	// RemoveParentMessage clears the parent link of the given message. The
	// service detaches inside PostMessage; this is the standalone detach of
	// the store contract, for callers that prune a reply without replacing it.
	RemoveParentMessage(ctx context.Context, id string) error

	// ListAncestors returns the path ending at id, oldest first, holding at
	// most limit messages (limit <= 0 means the whole path).
	ListAncestors(ctx context.Context, id string, limit int) ([]*Message, error)
}

// RoomStore holds users, rooms and memberships
type RoomStore interface {
	CreateUser(ctx context.Context, params CreateUserParams) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	CreateChatRoom(ctx context.Context, name string) (*ChatRoom, error)
	GetChatRoom(ctx context.Context, id string) (*ChatRoom, error)
	AddChatRoomMembers(ctx context.Context, roomID string, userIDs []string) error
	ListChatRoomMembers(ctx context.Context, roomID string) ([]*User, error)
}

// Store is the full persistence surface used by the service
type Store interface {
	MessageStore
	RoomStore

	// Ping checks that the backing database is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

// StringPtr returns a pointer to s, or nil when s is empty
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
