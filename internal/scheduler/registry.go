// ABOUTME: Generation lock registry interface keyed by conversation position
// ABOUTME: Tracks which message positions currently have a generation owner

package scheduler

import "context"

// Registry tracks, per position (message ID), whether a generation task is
// currently running. MarkGenerating is an atomic claim: exactly one of any
// set of concurrent callers for the same position gets claimed == true.
type Registry interface {
	// IsGenerating reports whether a live claim exists for the position.
	IsGenerating(ctx context.Context, position string) (bool, error)

	// MarkGenerating claims the position. It returns false, with a nil error,
	// when another owner already holds an unexpired claim.
	MarkGenerating(ctx context.Context, position string) (claimed bool, err error)

	// ClearGenerating releases a claim taken by this registry.
	// Clearing a position that is not claimed is not an error.
	ClearGenerating(ctx context.Context, position string) error
}
