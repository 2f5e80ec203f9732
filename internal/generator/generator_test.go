// ABOUTME: Tests for author selection and the scripted generator
// ABOUTME: Uses hand-built requests; no store or network involved

package generator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/nextturn/internal/store"
)

func testRequest(position int, currentAuthor string) *Request {
	members := []*store.User{
		{ID: "u-alice", Name: "alice", Role: "host", Persona: "cheerful"},
		{ID: "u-bob", Name: "bob", Role: "guest"},
		{ID: "u-carol", Name: "carol", Role: "guest"},
	}
	current := &store.Message{ID: "m-current", AuthorUserID: currentAuthor, Content: "hello"}
	return &Request{
		Room:     &store.ChatRoom{ID: "r1", Name: "lobby"},
		Members:  members,
		History:  []*store.Message{current},
		Current:  current,
		Position: position,
	}
}

func TestRoundRobin(t *testing.T) {
	tests := []struct {
		name    string
		current string
		want    string
	}{
		{"first to second", "u-alice", "u-bob"},
		{"middle", "u-bob", "u-carol"},
		{"wraps around", "u-carol", "u-alice"},
		{"non-member author", "u-stranger", "u-alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RoundRobin{}.SelectAuthor(testRequest(1, tt.current), &Turn{AuthorID: "u-carol"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoundRobin_NoMembers(t *testing.T) {
	req := testRequest(1, "u-alice")
	req.Members = nil
	_, err := RoundRobin{}.SelectAuthor(req, nil)
	assert.ErrorIs(t, err, ErrNoMembers)
}

func TestGeneratorDirected(t *testing.T) {
	sel := GeneratorDirected{Fallback: RoundRobin{}}
	req := testRequest(1, "u-alice")

	got, err := sel.SelectAuthor(req, &Turn{AuthorID: "u-carol"})
	require.NoError(t, err)
	assert.Equal(t, "u-carol", got)

	// Unknown or empty suggestion falls back to rotation
	got, err = sel.SelectAuthor(req, &Turn{AuthorID: "u-stranger"})
	require.NoError(t, err)
	assert.Equal(t, "u-bob", got)

	got, err = sel.SelectAuthor(req, &Turn{})
	require.NoError(t, err)
	assert.Equal(t, "u-bob", got)
}

func TestNewAuthorSelector(t *testing.T) {
	sel, err := NewAuthorSelector("")
	require.NoError(t, err)
	assert.IsType(t, RoundRobin{}, sel)

	sel, err = NewAuthorSelector(PolicyGenerator)
	require.NoError(t, err)
	assert.IsType(t, GeneratorDirected{}, sel)

	_, err = NewAuthorSelector("coin_flip")
	assert.Error(t, err)
}

const testScript = `
[[turns]]
author = "bob"
content = "Hi {{author}}, welcome to {{room}}"

[[turns]]
content = "Second line"
`

func TestScriptGenerator(t *testing.T) {
	script, err := ParseScript(testScript)
	require.NoError(t, err)
	gen := NewScriptGenerator(script)
	ctx := context.Background()

	turn, err := gen.Generate(ctx, testRequest(1, "u-alice"))
	require.NoError(t, err)
	assert.Equal(t, "Hi alice, welcome to lobby", turn.Content)
	assert.Equal(t, "u-bob", turn.AuthorID)
	assert.False(t, turn.Stop)

	turn, err = gen.Generate(ctx, testRequest(2, "u-bob"))
	require.NoError(t, err)
	assert.Equal(t, "Second line", turn.Content)
	assert.Empty(t, turn.AuthorID)
	assert.True(t, turn.Stop, "last turn of a non-looping script stops the chain")

	_, err = gen.Generate(ctx, testRequest(3, "u-carol"))
	assert.ErrorIs(t, err, ErrScriptExhausted)
}

func TestScriptGenerator_Loop(t *testing.T) {
	script, err := ParseScript("loop = true\n" + testScript)
	require.NoError(t, err)
	gen := NewScriptGenerator(script)

	turn, err := gen.Generate(context.Background(), testRequest(3, "u-carol"))
	require.NoError(t, err)
	assert.Equal(t, "Hi carol, welcome to lobby", turn.Content)
	assert.False(t, turn.Stop)
}

func TestScriptGenerator_CancelledContext(t *testing.T) {
	script, err := ParseScript(testScript)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewScriptGenerator(script).Generate(ctx, testRequest(1, "u-alice"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.toml")
	require.NoError(t, os.WriteFile(path, []byte(testScript), 0644))

	script, err := LoadScript(path)
	require.NoError(t, err)
	assert.Len(t, script.Turns, 2)
	assert.Equal(t, "bob", script.Turns[0].Author)
}

func TestLoadScript_Invalid(t *testing.T) {
	_, err := ParseScript("loop = true\n")
	assert.Error(t, err)

	_, err = ParseScript("[[turns]]\nauthor = \"bob\"\n")
	assert.Error(t, err)

	_, err = LoadScript(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
