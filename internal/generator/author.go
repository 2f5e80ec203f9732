// ABOUTME: Pluggable author selection strategies for generated turns
// ABOUTME: Round-robin rotation among members or honoring the generator's choice

package generator

import "fmt"

// Author policy names accepted by NewAuthorSelector.
const (
	PolicyRoundRobin = "round_robin"
	PolicyGenerator  = "generator"
)

// AuthorSelector decides who authors a generated turn.
type AuthorSelector interface {
	SelectAuthor(req *Request, turn *Turn) (string, error)
}

// RoundRobin picks the member after the current message's author in join
// order, wrapping around. The generator's suggestion is ignored.
type RoundRobin struct{}

// SelectAuthor implements AuthorSelector.
func (RoundRobin) SelectAuthor(req *Request, _ *Turn) (string, error) {
	next := nextSpeaker(req)
	if next == "" {
		return "", ErrNoMembers
	}
	return next, nil
}

// GeneratorDirected uses the generator's AuthorID when it names a member
// and falls back to Fallback otherwise.
type GeneratorDirected struct {
	Fallback AuthorSelector
}

// SelectAuthor implements AuthorSelector.
func (g GeneratorDirected) SelectAuthor(req *Request, turn *Turn) (string, error) {
	if turn != nil && turn.AuthorID != "" && req.Member(turn.AuthorID) != nil {
		return turn.AuthorID, nil
	}
	fallback := g.Fallback
	if fallback == nil {
		fallback = RoundRobin{}
	}
	return fallback.SelectAuthor(req, turn)
}

// NewAuthorSelector returns the selector for a policy name.
// An empty name selects round-robin.
func NewAuthorSelector(policy string) (AuthorSelector, error) {
	switch policy {
	case "", PolicyRoundRobin:
		return RoundRobin{}, nil
	case PolicyGenerator:
		return GeneratorDirected{Fallback: RoundRobin{}}, nil
	default:
		return nil, fmt.Errorf("unknown author policy %q", policy)
	}
}

// nextSpeaker returns the ID of the member after the current author, or the
// first member when the current author is not in the room.
func nextSpeaker(req *Request) string {
	if len(req.Members) == 0 {
		return ""
	}
	if req.Current == nil {
		return req.Members[0].ID
	}
	for i, m := range req.Members {
		if m.ID == req.Current.AuthorUserID {
			return req.Members[(i+1)%len(req.Members)].ID
		}
	}
	return req.Members[0].ID
}
