// Package store provides persistent storage for nextturn using SQLite.
//
// # Architecture
//
// The store package is interface driven:
//
//   - MessageStore: the conversation tree (messages and parent links)
//   - RoomStore: users, chat rooms and memberships
//   - Store: both of the above plus Ping and Close
//
// SQLiteStore implements Store in a single struct. MockStore is an in-memory
// implementation with the same semantics, used by tests.
//
// # Conversation Tree
//
// Every message may name a parent message. A parent has at most one current
// child at any time:
//
//	M1 ── M2          PostMessage(parent=M1) ──▶   M1 ── M3
//	                                               M2 (detached_from=M1)
//
// PostMessage detaches the existing child and inserts the new one inside a
// single transaction. The partial unique index
//
//	CREATE UNIQUE INDEX idx_messages_current_child
//	    ON messages(parent_message_id) WHERE parent_message_id IS NOT NULL;
//
// rejects any write that would leave two current children, so the invariant
// holds even if a caller bypasses PostMessage. Detached messages are never
// deleted; DetachedFrom records where they used to hang.
//
// With KeepExistingChild set, PostMessage refuses instead of detaching: the
// insert happens only if the parent has no current child. Generated turns
// are posted this way so they cannot displace a message a user posted while
// generation was running.
//
// Each message stores its depth (0 for a root), so the position of a turn is
// known without walking the path. ListAncestors stops after limit rows.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// The pool is limited to one connection so writers are serialized and
// ":memory:" databases behave like a single shared database.
//
// # Error Handling
//
//   - ErrNotFound: requested message, room or user does not exist
//   - ErrChildConflict: an insert raced another writer for the same parent,
//     or a KeepExistingChild post found a current child
//
// FindChildMessage reports "no child yet" as (nil, nil), not ErrNotFound.
package store
