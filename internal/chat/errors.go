// ABOUTME: Error taxonomy for the chat service
// ABOUTME: Callers match with errors.Is; lock contention never leaves the package

package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/nextturn/internal/store"
)

var (
	// ErrNotFound means a referenced message, room or user does not exist,
	// or a message is not in the room it was addressed through.
	ErrNotFound = store.ErrNotFound

	// ErrGenerationFailure means the content generator failed or produced
	// nothing usable. No message was posted.
	ErrGenerationFailure = errors.New("generation failed")

	// ErrStorageFailure means a store or registry operation failed. Posting
	// is not retried; the caller decides whether to retry the whole request.
	ErrStorageFailure = errors.New("storage failure")

	// ErrInvalidInput means a request was missing required fields.
	ErrInvalidInput = errors.New("invalid input")
)

var (
	// errLockContention means another owner holds the position's claim.
	// RequestNext resolves it by waiting.
	errLockContention = errors.New("position claimed by another owner")

	// errOwnerGone means the position stopped generating without producing a
	// child, so a waiter should try to take over.
	errOwnerGone = errors.New("generation owner gone without result")
)

// storageErr wraps a store or registry error. Not-found and context errors
// keep their identity; everything else becomes ErrStorageFailure.
func storageErr(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrStorageFailure, err)
	}
}
