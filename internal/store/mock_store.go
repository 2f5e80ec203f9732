// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while keeping the same tree semantics

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	users    map[string]*User
	rooms    map[string]*ChatRoom
	members  map[string][]string // keyed by room ID, in join order
	messages map[string]*Message // keyed by message ID
	children map[string]string   // keyed by parent ID -> current child ID
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:    make(map[string]*User),
		rooms:    make(map[string]*ChatRoom),
		members:  make(map[string][]string),
		messages: make(map[string]*Message),
		children: make(map[string]string),
	}
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, params CreateUserParams) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := &User{
		ID:        uuid.New().String(),
		Name:      params.Name,
		Role:      params.Role,
		Persona:   params.Persona,
		CreatedAt: time.Now().UTC(),
	}
	m.users[u.ID] = u

	result := *u
	return &result, nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// CreateChatRoom stores a new room.
func (m *MockStore) CreateChatRoom(ctx context.Context, name string) (*ChatRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := &ChatRoom{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	m.rooms[r.ID] = r

	result := *r
	return &result, nil
}

// GetChatRoom retrieves a room by ID.
func (m *MockStore) GetChatRoom(ctx context.Context, id string) (*ChatRoom, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *r
	return &result, nil
}

// AddChatRoomMembers attaches users to a room, ignoring existing members.
func (m *MockStore) AddChatRoomMembers(ctx context.Context, roomID string, userIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[roomID]; !ok {
		return fmt.Errorf("chat room %s: %w", roomID, ErrNotFound)
	}
	for _, id := range userIDs {
		if _, ok := m.users[id]; !ok {
			return fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
	}

	existing := make(map[string]bool, len(m.members[roomID]))
	for _, id := range m.members[roomID] {
		existing[id] = true
	}
	for _, id := range userIDs {
		if existing[id] {
			continue
		}
		existing[id] = true
		m.members[roomID] = append(m.members[roomID], id)
	}
	return nil
}

// ListChatRoomMembers returns members in join order.
func (m *MockStore) ListChatRoomMembers(ctx context.Context, roomID string) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var users []*User
	for _, id := range m.members[roomID] {
		u := *m.users[id]
		users = append(users, &u)
	}
	return users, nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(msg), nil
}

// FindChildMessage returns the current child of parentID, or nil.
func (m *MockStore) FindChildMessage(ctx context.Context, parentID string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	childID, ok := m.children[parentID]
	if !ok {
		return nil, nil
	}
	return copyMessage(m.messages[childID]), nil
}

// PostMessage detaches the parent's current child, or refuses with
// KeepExistingChild, and inserts the message under a single lock.
func (m *MockStore) PostMessage(ctx context.Context, params PostMessageParams) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[params.RoomID]; !ok {
		return nil, fmt.Errorf("chat room %s: %w", params.RoomID, ErrNotFound)
	}
	if _, ok := m.users[params.AuthorUserID]; !ok {
		return nil, fmt.Errorf("author %s: %w", params.AuthorUserID, ErrNotFound)
	}

	msg := &Message{
		ID:           params.ID,
		RoomID:       params.RoomID,
		AuthorUserID: params.AuthorUserID,
		Content:      params.Content,
		CreatedAt:    params.CreatedAt,
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	if params.ParentMessageID != nil && *params.ParentMessageID != "" {
		parentID := *params.ParentMessageID
		parent, ok := m.messages[parentID]
		if !ok || parent.RoomID != params.RoomID {
			return nil, fmt.Errorf("parent message %s: %w", parentID, ErrNotFound)
		}
		oldID, hasChild := m.children[parentID]
		if hasChild && params.KeepExistingChild {
			return nil, ErrChildConflict
		}
		if hasChild {
			old := m.messages[oldID]
			old.ParentMessageID = nil
			old.DetachedFrom = &parentID
		}
		msg.ParentMessageID = &parentID
		msg.Depth = parent.Depth + 1
		m.children[parentID] = msg.ID
	}

	m.messages[msg.ID] = msg
	return copyMessage(msg), nil
}

// RemoveParentMessage clears a message's parent link.
func (m *MockStore) RemoveParentMessage(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return ErrNotFound
	}
	if msg.ParentMessageID != nil {
		parentID := *msg.ParentMessageID
		if m.children[parentID] == id {
			delete(m.children, parentID)
		}
		msg.DetachedFrom = &parentID
		msg.ParentMessageID = nil
	}
	return nil
}

// ListAncestors walks parent links upward and returns the path oldest first.
func (m *MockStore) ListAncestors(ctx context.Context, id string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cur, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}

	var path []*Message
	for cur != nil && (limit <= 0 || len(path) < limit) {
		path = append(path, copyMessage(cur))
		if cur.ParentMessageID == nil {
			break
		}
		cur = m.messages[*cur.ParentMessageID]
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// Ping always succeeds.
func (m *MockStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// CurrentChildCount counts messages whose parent link points at parentID.
// Tests use it to check the single-current-child invariant directly.
func (m *MockStore) CurrentChildCount(parentID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, msg := range m.messages {
		if msg.ParentMessageID != nil && *msg.ParentMessageID == parentID {
			n++
		}
	}
	return n
}

func copyMessage(msg *Message) *Message {
	c := *msg
	if msg.ParentMessageID != nil {
		p := *msg.ParentMessageID
		c.ParentMessageID = &p
	}
	if msg.DetachedFrom != nil {
		d := *msg.DetachedFrom
		c.DetachedFrom = &d
	}
	return &c
}

// Compile-time interface checks
var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
