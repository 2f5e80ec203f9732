// ABOUTME: Waiting for a position's child: notification wakeups plus bounded backoff polling
// ABOUTME: The caller's context is the only cancellation; generation is never affected

package chat

import (
	"context"
	"time"

	"github.com/2389/nextturn/internal/notify"
	"github.com/2389/nextturn/internal/store"
)

// PollingChildMessage blocks until parentID has a current child and returns
// it, or until ctx is done.
func (s *Service) PollingChildMessage(ctx context.Context, parentID string) (*store.Message, error) {
	return s.waitChild(ctx, parentID, nil)
}

// waitForOwner waits for the owner generating from position. It returns
// errOwnerGone if the claim disappears without a child being posted.
func (s *Service) waitForOwner(ctx context.Context, position string) (*store.Message, error) {
	s.logger.Debug("waiting for generation owner", "position", position)
	return s.waitChild(ctx, position, func(ctx context.Context) (bool, error) {
		generating, err := s.registry.IsGenerating(ctx, position)
		if err != nil {
			return false, storageErr("checking registry", err)
		}
		return !generating, nil
	})
}

// waitChild subscribes to child notifications for parentID and re-reads the
// store on every wakeup. The re-read interval doubles from pollMin up to
// pollMax. When ownerGone is set and reports true with no child present,
// waitChild returns errOwnerGone.
func (s *Service) waitChild(ctx context.Context, parentID string, ownerGone func(context.Context) (bool, error)) (*store.Message, error) {
	// Subscribe before the first read so a post between read and wait is seen
	var events <-chan *notify.ChildPosted
	if s.notifier != nil {
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		ch, err := s.notifier.Subscribe(subCtx, parentID)
		if err != nil {
			s.logger.Warn("child notifications unavailable, polling only",
				"parent_id", parentID, "error", err)
		} else {
			events = ch
		}
	}

	interval := s.pollMin
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		child, err := s.store.FindChildMessage(ctx, parentID)
		if err != nil {
			return nil, storageErr("finding child", err)
		}
		if child != nil {
			return child, nil
		}

		if ownerGone != nil {
			gone, err := ownerGone(ctx)
			if err != nil {
				return nil, err
			}
			if gone {
				// The owner posts before it clears, so look once more
				child, err := s.store.FindChildMessage(ctx, parentID)
				if err != nil {
					return nil, storageErr("finding child", err)
				}
				if child != nil {
					return child, nil
				}
				return nil, errOwnerGone
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		case <-timer.C:
			interval = min(interval*2, s.pollMax)
			timer.Reset(interval)
		}
	}
}
