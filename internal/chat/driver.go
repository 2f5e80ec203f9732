// ABOUTME: Generation driver: claims a position, generates one turn, posts it, releases
// ABOUTME: Post-then-clear ordering and chained continuation live here

package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/nextturn/internal/generator"
	"github.com/2389/nextturn/internal/store"
)

// generate extends the conversation by one turn from current and schedules
// the next turn in the background when the chain budget allows.
//
// It returns errLockContention when another owner holds the position.
func (s *Service) generate(ctx context.Context, current *store.Message, depth int) (*store.Message, error) {
	msg, turn, err := s.produce(ctx, current, depth)
	if err != nil {
		return nil, err
	}

	// turn is nil when another owner already answered the position
	if turn != nil && !turn.Stop && depth < s.maxDepth {
		if !s.chain.enqueue(chainTask{current: msg, depth: depth + 1}) {
			s.logger.Warn("chain queue unavailable, continuation dropped",
				"position", msg.ID, "depth", depth+1)
		}
	}
	return msg, nil
}

// produce holds the registry claim for current for exactly the span of one
// turn. The claim is released only after the message is committed, and on
// every failure path.
func (s *Service) produce(ctx context.Context, current *store.Message, depth int) (*store.Message, *generator.Turn, error) {
	claimed, err := s.registry.MarkGenerating(ctx, current.ID)
	if err != nil {
		return nil, nil, storageErr("claiming position", err)
	}
	if !claimed {
		return nil, nil, errLockContention
	}
	defer s.release(ctx, current.ID)

	// A previous owner may have posted and released between our checks.
	child, err := s.store.FindChildMessage(ctx, current.ID)
	if err != nil {
		return nil, nil, storageErr("finding child", err)
	}
	if child != nil {
		return child, nil, nil
	}

	req, err := s.buildRequest(ctx, current, depth)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Debug("generating turn", "position", current.ID, "depth", depth)

	turn, err := s.gen.Generate(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrGenerationFailure, err)
	}
	if turn == nil || turn.Content == "" {
		return nil, nil, fmt.Errorf("%w: generator returned no content", ErrGenerationFailure)
	}

	authorID, err := s.authors.SelectAuthor(req, turn)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: selecting author: %w", ErrGenerationFailure, err)
	}

	msg, err := s.PostMessage(ctx, store.PostMessageParams{
		RoomID:            current.RoomID,
		AuthorUserID:      authorID,
		Content:           turn.Content,
		ParentMessageID:   &current.ID,
		KeepExistingChild: true,
	})
	if errors.Is(err, store.ErrChildConflict) {
		// Someone posted under current while we generated; theirs stands.
		child, err := s.store.FindChildMessage(ctx, current.ID)
		if err != nil {
			return nil, nil, storageErr("finding child", err)
		}
		if child == nil {
			return nil, nil, fmt.Errorf("posting turn: %w: child vanished after conflict", ErrStorageFailure)
		}
		s.logger.Info("generated turn discarded, position already answered",
			"position", current.ID,
			"message_id", child.ID,
			"depth", depth)
		return child, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("turn generated",
		"position", current.ID,
		"message_id", msg.ID,
		"author", authorID,
		"depth", depth,
		"stop", turn.Stop)

	return msg, turn, nil
}

// release clears the claim on position. It runs even when ctx has expired.
func (s *Service) release(ctx context.Context, position string) {
	clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clearTimeout)
	defer cancel()

	if err := s.registry.ClearGenerating(clearCtx, position); err != nil {
		s.logger.Error("failed to clear generation claim", "position", position, "error", err)
	}
}

// buildRequest loads the room, members and the recent conversation path for
// current. Only the last history messages are read; Position comes from the
// stored depth.
func (s *Service) buildRequest(ctx context.Context, current *store.Message, depth int) (*generator.Request, error) {
	room, err := s.store.GetChatRoom(ctx, current.RoomID)
	if err != nil {
		return nil, storageErr("loading chat room", err)
	}
	members, err := s.store.ListChatRoomMembers(ctx, current.RoomID)
	if err != nil {
		return nil, storageErr("listing members", err)
	}
	history, err := s.store.ListAncestors(ctx, current.ID, s.history)
	if err != nil {
		return nil, storageErr("loading conversation path", err)
	}

	return &generator.Request{
		Room:     room,
		Members:  members,
		History:  history,
		Current:  current,
		Position: current.Depth + 1,
		Depth:    depth,
	}, nil
}

// continueChain runs one queued continuation turn. Losing the claim or
// finding an existing child ends the chain quietly.
func (s *Service) continueChain(ctx context.Context, task chainTask) {
	genCtx, cancel := context.WithTimeout(ctx, s.genTimeout)
	defer cancel()

	_, err := s.generate(genCtx, task.current, task.depth)
	switch {
	case err == nil:
	case errors.Is(err, errLockContention):
		s.logger.Debug("continuation position already owned", "position", task.current.ID)
	default:
		s.logger.Warn("chained generation failed",
			"position", task.current.ID,
			"depth", task.depth,
			"error", err)
	}
}
