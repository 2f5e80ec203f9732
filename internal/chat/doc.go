// Package chat delivers the next message of a room conversation.
//
// # Overview
//
// A conversation is a path of messages linked by parent IDs. Asking for the
// message after M (RequestNext) has three outcomes:
//
//	child of M exists ──────────────▶ return it (store only)
//	someone is generating from M ───▶ wait for their post
//	otherwise ──────────────────────▶ claim M, generate, post, release
//
// # Ownership
//
// The scheduler.Registry decides who generates. Claims are atomic, so of any
// number of concurrent requesters for M exactly one becomes owner; the rest
// wait. Within one process, callers that race past the registry check join
// the owner's singleflight instead of claiming again.
//
// The owner posts the generated message before releasing its claim. A
// requester that finds no claim therefore either sees the child or becomes
// the next owner, and an owner that claims a position re-reads the store to
// catch a child posted by the previous owner.
//
// Generated turns are posted only if the position is still unanswered. If a
// user posted under it meanwhile, or a second owner took over after the
// first one's claim expired, the generated content is dropped and the
// existing child is returned. Claims should outlive GenerationTimeout; the
// config layer enforces that for the registry TTL.
//
// RequestNext reports ErrNotFound when the message is not in the given room,
// whether or not its child already exists.
//
// # Waiting
//
// Waiters subscribe to notify events for M, then re-read the store on every
// event or on a backoff timer (PollInterval doubling up to MaxPollInterval).
// If the claim disappears with no child (the owner failed), a waiter loops
// back and may become the owner itself.
//
// Cancelling a caller's context ends that caller's wait. Generation runs on a
// detached context bounded by GenerationTimeout and is never cancelled by a
// departing caller.
//
// # Chaining
//
// After a turn is posted the driver can keep going: unless the generator set
// Turn.Stop, up to MaxChainDepth further turns are queued on a bounded worker
// pool. Later RequestNext calls find them as ordinary children.
//
// # Errors
//
//   - ErrNotFound: message, room or user absent, or message not in the room
//   - ErrGenerationFailure: generator failed; nothing was posted
//   - ErrStorageFailure: store or registry failed; posting is not retried
//   - ErrInvalidInput: required request fields missing
package chat
