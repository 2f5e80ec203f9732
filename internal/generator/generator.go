// ABOUTME: Content generator contract and the conversation context passed to it
// ABOUTME: Generators produce the next turn's text and may suggest an author or signal stop

package generator

import (
	"context"
	"errors"

	"github.com/2389/nextturn/internal/store"
)

var (
	// ErrNoMembers is returned when a room has nobody who could author a turn
	ErrNoMembers = errors.New("room has no members")

	// ErrScriptExhausted is returned when a non-looping script has no turn left
	ErrScriptExhausted = errors.New("script has no more turns")
)

// Request is the conversation context for one generated turn.
type Request struct {
	Room    *store.ChatRoom
	Members []*store.User // in join order

	// History is the recent conversation path, oldest first, ending at Current.
	History []*store.Message
	Current *store.Message

	// Position is the index the new message will take on the full path
	// (the root message is index 0).
	Position int

	// Depth counts chained turns: 0 answers a caller, 1+ are continuations.
	Depth int
}

// Member returns the member with the given ID, or nil.
func (r *Request) Member(id string) *store.User {
	for _, m := range r.Members {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// MemberByName returns the first member with the given name, or nil.
func (r *Request) MemberByName(name string) *store.User {
	for _, m := range r.Members {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Turn is a generated message.
type Turn struct {
	Content string

	// AuthorID is the generator's choice of author; empty means no preference.
	AuthorID string

	// Stop asks the driver not to chain further turns after this one.
	Stop bool
}

// Generator produces the next turn of a conversation. Implementations must
// be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*Turn, error)
}

// Func adapts a function to the Generator interface.
type Func func(ctx context.Context, req *Request) (*Turn, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, req *Request) (*Turn, error) {
	return f(ctx, req)
}
