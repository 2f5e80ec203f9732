// ABOUTME: Chat service: posting, next-message coordination and room setup
// ABOUTME: Every path that reads or extends a conversation goes through here

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/2389/nextturn/internal/generator"
	"github.com/2389/nextturn/internal/notify"
	"github.com/2389/nextturn/internal/scheduler"
	"github.com/2389/nextturn/internal/store"
)

// Default tuning values used when Options leaves them zero.
const (
	DefaultGenerationTimeout = 2 * time.Minute
	DefaultPollInterval      = 100 * time.Millisecond
	DefaultMaxPollInterval   = 2 * time.Second
	DefaultWorkers           = 2
	DefaultQueueSize         = 64
)

// clearTimeout bounds the registry release that runs after generation.
const clearTimeout = 5 * time.Second

// Options configures a Service. Store, Registry and Generator are required.
type Options struct {
	Store     store.Store
	Registry  scheduler.Registry
	Generator generator.Generator

	// Authors picks the author of generated turns. Defaults to round-robin.
	Authors generator.AuthorSelector

	// Notifier wakes waiters when a child is posted. Without one, waiters
	// rely on polling alone.
	Notifier notify.Notifier

	Logger *slog.Logger

	// MaxChainDepth is how many turns are generated in the background after
	// the one returned to the caller. Zero disables chaining.
	MaxChainDepth int

	// HistoryLimit caps how many path messages are handed to the generator.
	// Zero passes the whole path.
	HistoryLimit int

	GenerationTimeout time.Duration
	PollInterval      time.Duration
	MaxPollInterval   time.Duration

	// Workers and QueueSize size the background chain runner.
	Workers   int
	QueueSize int
}

// Service coordinates the conversation tree, the generation registry and the
// content generator.
type Service struct {
	store      store.Store
	registry   scheduler.Registry
	gen        generator.Generator
	authors    generator.AuthorSelector
	notifier   notify.Notifier
	logger     *slog.Logger
	flights    singleflight.Group
	chain      *chainRunner
	maxDepth   int
	history    int
	genTimeout time.Duration
	pollMin    time.Duration
	pollMax    time.Duration
}

// New creates a Service and starts its chain workers.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if opts.Authors == nil {
		opts.Authors = generator.RoundRobin{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = DefaultGenerationTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxPollInterval < opts.PollInterval {
		opts.MaxPollInterval = max(DefaultMaxPollInterval, opts.PollInterval)
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}

	s := &Service{
		store:      opts.Store,
		registry:   opts.Registry,
		gen:        opts.Generator,
		authors:    opts.Authors,
		notifier:   opts.Notifier,
		logger:     opts.Logger.With("component", "chat"),
		maxDepth:   opts.MaxChainDepth,
		history:    opts.HistoryLimit,
		genTimeout: opts.GenerationTimeout,
		pollMin:    opts.PollInterval,
		pollMax:    opts.MaxPollInterval,
	}
	s.chain = newChainRunner(opts.Workers, opts.QueueSize, s.continueChain, s.logger)
	return s, nil
}

// Close stops accepting chained generation and waits for queued turns to
// finish, or for ctx to end.
func (s *Service) Close(ctx context.Context) error {
	return s.chain.close(ctx)
}

// PostMessage appends a message to a room. When a parent is given, the
// parent's current child is detached and the new message takes its place.
func (s *Service) PostMessage(ctx context.Context, params store.PostMessageParams) (*store.Message, error) {
	if params.RoomID == "" || params.AuthorUserID == "" {
		return nil, fmt.Errorf("%w: room and author are required", ErrInvalidInput)
	}

	msg, err := s.store.PostMessage(ctx, params)
	if err != nil {
		return nil, storageErr("posting message", err)
	}

	s.logger.Debug("message posted",
		"message_id", msg.ID,
		"room_id", msg.RoomID,
		"author", msg.AuthorUserID)

	if msg.HasParent() && s.notifier != nil {
		event := &notify.ChildPosted{
			ParentID:  *msg.ParentMessageID,
			MessageID: msg.ID,
			RoomID:    msg.RoomID,
			PostedAt:  msg.CreatedAt,
		}
		if err := s.notifier.Publish(context.WithoutCancel(ctx), event); err != nil {
			// Waiters fall back to polling
			s.logger.Warn("failed to publish child notification",
				"parent_id", event.ParentID, "error", err)
		}
	}
	return msg, nil
}

// RequestNext returns the message that follows messageID in roomID.
//
// An existing child is returned immediately. If another owner is generating
// from messageID, RequestNext waits for its result. Otherwise the caller
// becomes the generation owner and receives the first generated message.
//
// Cancelling ctx abandons this caller's wait only; generation already in
// progress runs to completion and its result is kept.
func (s *Service) RequestNext(ctx context.Context, messageID, roomID string) (*store.Message, error) {
	for {
		child, err := s.store.FindChildMessage(ctx, messageID)
		if err != nil {
			return nil, storageErr("finding child", err)
		}
		if child != nil {
			// A child always shares its parent's room
			if child.RoomID != roomID {
				return nil, fmt.Errorf("message %s in room %s: %w", messageID, roomID, ErrNotFound)
			}
			return child, nil
		}

		current, err := s.position(ctx, messageID, roomID)
		if err != nil {
			return nil, err
		}

		generating, err := s.registry.IsGenerating(ctx, messageID)
		if err != nil {
			return nil, storageErr("checking registry", err)
		}

		if !generating {
			msg, err := s.own(ctx, current)
			if !errors.Is(err, errLockContention) {
				return msg, err
			}
			s.logger.Debug("lost claim, waiting", "position", messageID)
		}

		msg, err := s.waitForOwner(ctx, messageID)
		if errors.Is(err, errOwnerGone) {
			s.logger.Info("generation owner left without result, retrying", "position", messageID)
			continue
		}
		return msg, err
	}
}

// position loads messageID and checks it belongs to roomID.
func (s *Service) position(ctx context.Context, messageID, roomID string) (*store.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, storageErr("loading message", err)
	}
	if msg.RoomID != roomID {
		return nil, fmt.Errorf("message %s in room %s: %w", messageID, roomID, ErrNotFound)
	}
	return msg, nil
}

// own runs the driver for current as this process's single flight for the
// position. Generation is detached from ctx so a departing caller does not
// abort it.
func (s *Service) own(ctx context.Context, current *store.Message) (*store.Message, error) {
	ch := s.flights.DoChan(current.ID, func() (any, error) {
		genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.genTimeout)
		defer cancel()
		return s.generate(genCtx, current, 0)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*store.Message), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InitializeChatParams describes a room and the users to create in it.
type InitializeChatParams struct {
	ChatRoomName string
	Users        []store.CreateUserParams
}

// ChatSetup is the result of InitializeChat.
type ChatSetup struct {
	Room  *store.ChatRoom
	Users []*store.User
}

// InitializeChat creates the users, a room, and adds every user as a member.
func (s *Service) InitializeChat(ctx context.Context, params InitializeChatParams) (*ChatSetup, error) {
	if strings.TrimSpace(params.ChatRoomName) == "" {
		return nil, fmt.Errorf("%w: chat room name is required", ErrInvalidInput)
	}
	if len(params.Users) == 0 {
		return nil, fmt.Errorf("%w: at least one user is required", ErrInvalidInput)
	}

	users := make([]*store.User, 0, len(params.Users))
	ids := make([]string, 0, len(params.Users))
	for _, p := range params.Users {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("%w: user name is required", ErrInvalidInput)
		}
		u, err := s.store.CreateUser(ctx, p)
		if err != nil {
			return nil, storageErr("creating user", err)
		}
		users = append(users, u)
		ids = append(ids, u.ID)
	}

	room, err := s.store.CreateChatRoom(ctx, params.ChatRoomName)
	if err != nil {
		return nil, storageErr("creating chat room", err)
	}
	if err := s.store.AddChatRoomMembers(ctx, room.ID, ids); err != nil {
		return nil, storageErr("adding members", err)
	}

	s.logger.Info("chat initialized", "room_id", room.ID, "members", len(users))
	return &ChatSetup{Room: room, Users: users}, nil
}

// GetMessage returns a message by ID.
func (s *Service) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, storageErr("loading message", err)
	}
	return msg, nil
}

// GetChatRoom returns a room by ID.
func (s *Service) GetChatRoom(ctx context.Context, id string) (*store.ChatRoom, error) {
	room, err := s.store.GetChatRoom(ctx, id)
	if err != nil {
		return nil, storageErr("loading chat room", err)
	}
	return room, nil
}

// ListChatRoomMembers returns a room's members in join order.
func (s *Service) ListChatRoomMembers(ctx context.Context, roomID string) ([]*store.User, error) {
	if _, err := s.GetChatRoom(ctx, roomID); err != nil {
		return nil, err
	}
	members, err := s.store.ListChatRoomMembers(ctx, roomID)
	if err != nil {
		return nil, storageErr("listing members", err)
	}
	return members, nil
}

// ListConversation returns the path from the root to messageID, oldest
// first, keeping at most limit messages (limit <= 0 returns all).
func (s *Service) ListConversation(ctx context.Context, messageID string, limit int) ([]*store.Message, error) {
	path, err := s.store.ListAncestors(ctx, messageID, limit)
	if err != nil {
		return nil, storageErr("listing conversation", err)
	}
	return path, nil
}

// Ping checks that the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
