// ABOUTME: LLM-backed generator that speaks as the next room member
// ABOUTME: Builds a persona system prompt plus a transcript and calls a TextGenerator

package generator

import (
	"context"
	"fmt"
	"strings"
)

// StopMarker, when it ends a model reply, asks the driver to stop chaining.
const StopMarker = "[END]"

// TextGenerator generates text from a system prompt and user prompt.
// All LLM providers (Ollama, OpenAI-compatible) implement this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// LLMGenerator writes the next turn by asking a language model to speak as
// the next member in round-robin order.
type LLMGenerator struct {
	text TextGenerator
}

// NewLLMGenerator wraps a TextGenerator.
func NewLLMGenerator(text TextGenerator) *LLMGenerator {
	return &LLMGenerator{text: text}
}

// Generate implements Generator.
func (g *LLMGenerator) Generate(ctx context.Context, req *Request) (*Turn, error) {
	speakerID := nextSpeaker(req)
	speaker := req.Member(speakerID)
	if speaker == nil {
		return nil, ErrNoMembers
	}

	reply, err := g.text.GenerateText(ctx, systemPrompt(req, speaker.ID), transcript(req))
	if err != nil {
		return nil, fmt.Errorf("generating text: %w", err)
	}

	reply = strings.TrimSpace(reply)
	stop := false
	if strings.HasSuffix(reply, StopMarker) {
		stop = true
		reply = strings.TrimSpace(strings.TrimSuffix(reply, StopMarker))
	}
	reply = strings.TrimSpace(strings.TrimPrefix(reply, speaker.Name+":"))
	if reply == "" {
		return nil, fmt.Errorf("empty reply from model")
	}

	return &Turn{Content: reply, AuthorID: speaker.ID, Stop: stop}, nil
}

func systemPrompt(req *Request, speakerID string) string {
	var b strings.Builder
	speaker := req.Member(speakerID)

	fmt.Fprintf(&b, "You are %s", speaker.Name)
	if speaker.Role != "" {
		fmt.Fprintf(&b, " (%s)", speaker.Role)
	}
	b.WriteString(", taking part in a group chat")
	if req.Room != nil && req.Room.Name != "" {
		fmt.Fprintf(&b, " called %q", req.Room.Name)
	}
	b.WriteString(".\n")
	if speaker.Persona != "" {
		fmt.Fprintf(&b, "Persona: %s\n", speaker.Persona)
	}

	b.WriteString("Other participants:\n")
	for _, m := range req.Members {
		if m.ID == speakerID {
			continue
		}
		fmt.Fprintf(&b, "- %s", m.Name)
		if m.Role != "" {
			fmt.Fprintf(&b, " (%s)", m.Role)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Reply with your next chat message only, without a name prefix. "+
		"If the conversation has reached a natural end, finish your message with %s.", StopMarker)
	return b.String()
}

func transcript(req *Request) string {
	var b strings.Builder
	for _, msg := range req.History {
		name := "unknown"
		if m := req.Member(msg.AuthorUserID); m != nil {
			name = m.Name
		}
		fmt.Fprintf(&b, "%s: %s\n", name, msg.Content)
	}
	return b.String()
}

var _ Generator = (*LLMGenerator)(nil)
