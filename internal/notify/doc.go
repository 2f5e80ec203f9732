// Package notify wakes requesters that are waiting for a position's next
// message.
//
// When a message is posted under a parent, the chat service publishes a
// ChildPosted event keyed by the parent ID. Waiters subscribe to that key
// before re-reading the store, so a post that lands between the read and the
// wait is still observed.
//
// Broadcaster is the in-process backend. RedisNotifier publishes over Redis
// pub/sub for deployments that run several nextturn processes against one
// database. Either way events are hints only: the store stays the source of
// truth, and waiters fall back to bounded polling if an event is dropped.
package notify
