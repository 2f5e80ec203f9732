// ABOUTME: Scripted generator that replays turns from a TOML conversation script
// ABOUTME: Deterministic content source for demos, fixtures and offline runs

package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Script is a scripted conversation.
//
//	loop = false
//
//	[[turns]]
//	author = "bob"
//	content = "Hi {{author}}, how was the trip?"
//
// Turn i answers the message at path index i, so the first turn replies to
// the root message. Content may use {{author}} (the name of the author of
// the message being answered) and {{room}}.
type Script struct {
	Loop  bool         `toml:"loop"`
	Turns []ScriptTurn `toml:"turns"`
}

// ScriptTurn is one scripted message. Author is a member name; empty leaves
// the choice to the author selector.
type ScriptTurn struct {
	Author  string `toml:"author"`
	Content string `toml:"content"`
}

// LoadScript reads a TOML script from path.
func LoadScript(path string) (*Script, error) {
	var s Script
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("validating script: %w", err)
	}
	return &s, nil
}

// ParseScript decodes a TOML script from a string.
func ParseScript(data string) (*Script, error) {
	var s Script
	if _, err := toml.Decode(data, &s); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("validating script: %w", err)
	}
	return &s, nil
}

// Validate checks that the script has at least one non-empty turn.
func (s *Script) Validate() error {
	if len(s.Turns) == 0 {
		return fmt.Errorf("script has no turns")
	}
	for i, t := range s.Turns {
		if strings.TrimSpace(t.Content) == "" {
			return fmt.Errorf("turns[%d]: content is required", i)
		}
	}
	return nil
}

// ScriptGenerator replays a Script.
type ScriptGenerator struct {
	script *Script
}

// NewScriptGenerator creates a generator for script.
func NewScriptGenerator(script *Script) *ScriptGenerator {
	return &ScriptGenerator{script: script}
}

// Generate implements Generator.
func (g *ScriptGenerator) Generate(ctx context.Context, req *Request) (*Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := len(g.script.Turns)
	idx := req.Position - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		if !g.script.Loop {
			return nil, ErrScriptExhausted
		}
		idx %= n
	}
	st := g.script.Turns[idx]

	turn := &Turn{
		Content: g.render(st.Content, req),
		Stop:    !g.script.Loop && idx == n-1,
	}
	if st.Author != "" {
		if m := req.MemberByName(st.Author); m != nil {
			turn.AuthorID = m.ID
		}
	}
	return turn, nil
}

func (g *ScriptGenerator) render(content string, req *Request) string {
	author := ""
	if req.Current != nil {
		if m := req.Member(req.Current.AuthorUserID); m != nil {
			author = m.Name
		}
	}
	room := ""
	if req.Room != nil {
		room = req.Room.Name
	}
	return strings.NewReplacer("{{author}}", author, "{{room}}", room).Replace(content)
}

var _ Generator = (*ScriptGenerator)(nil)
