// ABOUTME: In-process generation registry with TTL-bounded claims
// ABOUTME: Single-node backend; claims expire so a crashed owner cannot pin a position

package scheduler

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultLockTTL bounds a claim whose owner never clears it.
const DefaultLockTTL = 5 * time.Minute

// claimEntry stores the claim time and list element for a position.
type claimEntry struct {
	claimedAt time.Time
	element   *list.Element
}

// MemoryRegistry is a thread-safe Registry for a single process.
// Claims are kept in claim order in a linked list; since every claim has the
// same TTL, expired claims are always at the front.
type MemoryRegistry struct {
	mu     sync.Mutex
	claims map[string]*claimEntry
	order  *list.List // positions in claim order (oldest at front)
	ttl    time.Duration
	logger *slog.Logger
	done   chan struct{}
	closed bool
}

// NewMemoryRegistry creates a registry whose claims expire after ttl.
// A background goroutine periodically drops expired claims.
func NewMemoryRegistry(ttl time.Duration, logger *slog.Logger) *MemoryRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	r := &MemoryRegistry{
		claims: make(map[string]*claimEntry),
		order:  list.New(),
		ttl:    ttl,
		logger: logger.With("component", "scheduler", "backend", "memory"),
		done:   make(chan struct{}),
	}
	go r.cleanup()
	return r
}

// IsGenerating returns true if the position has an unexpired claim.
func (r *MemoryRegistry) IsGenerating(ctx context.Context, position string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.claims[position]
	if !ok {
		return false, nil
	}
	return time.Since(entry.claimedAt) < r.ttl, nil
}

// MarkGenerating atomically checks for a live claim and takes it if absent.
// An expired claim is treated as absent and replaced.
func (r *MemoryRegistry) MarkGenerating(ctx context.Context, position string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if entry, ok := r.claims[position]; ok {
		if now.Sub(entry.claimedAt) < r.ttl {
			return false, nil
		}
		r.logger.Warn("replacing expired generation claim", "position", position)
		entry.claimedAt = now
		r.order.MoveToBack(entry.element)
		return true, nil
	}

	elem := r.order.PushBack(position)
	r.claims[position] = &claimEntry{
		claimedAt: now,
		element:   elem,
	}
	return true, nil
}

// ClearGenerating drops the claim for position.
func (r *MemoryRegistry) ClearGenerating(ctx context.Context, position string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.claims[position]; ok {
		r.order.Remove(entry.element)
		delete(r.claims, position)
	}
	return nil
}

// Len returns the number of claims held, including expired ones not yet swept.
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.claims)
}

// cleanup runs in a background goroutine, periodically removing expired claims.
func (r *MemoryRegistry) cleanup() {
	interval := r.ttl
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.done:
			return
		}
	}
}

// sweep removes expired claims from the front of the order list.
func (r *MemoryRegistry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for front := r.order.Front(); front != nil; front = r.order.Front() {
		position, _ := front.Value.(string)
		entry := r.claims[position]
		if now.Sub(entry.claimedAt) < r.ttl {
			return
		}
		r.logger.Warn("generation claim expired", "position", position)
		r.order.Remove(front)
		delete(r.claims, position)
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (r *MemoryRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.closed {
		close(r.done)
		r.closed = true
	}
	return nil
}

var _ Registry = (*MemoryRegistry)(nil)
