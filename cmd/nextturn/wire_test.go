// ABOUTME: Tests for assembling the server from configuration
// ABOUTME: Covers the memory and redis backends, generator providers and the color log handler

package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/nextturn/internal/chat"
	"github.com/2389/nextturn/internal/config"
	"github.com/2389/nextturn/internal/generator"
	"github.com/2389/nextturn/internal/scheduler"
	"github.com/2389/nextturn/internal/store"
)

const testScript = `
[[turns]]
content = "Hi {{author}}"

[[turns]]
content = "Bye"
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "script.toml")
	require.NoError(t, os.WriteFile(scriptPath, []byte(testScript), 0644))

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(dir, "nextturn.db")
	cfg.Generation.ScriptPath = scriptPath
	cfg.Polling.Interval = 5 * time.Millisecond
	cfg.Polling.MaxInterval = 20 * time.Millisecond
	return cfg
}

// converse creates a room with a root message and asks for the next one.
func converse(t *testing.T, svc *chat.Service) *store.Message {
	t.Helper()
	ctx := context.Background()

	setup, err := svc.InitializeChat(ctx, chat.InitializeChatParams{
		ChatRoomName: "lobby",
		Users:        []store.CreateUserParams{{Name: "alice"}, {Name: "bob"}},
	})
	require.NoError(t, err)

	root, err := svc.PostMessage(ctx, store.PostMessageParams{
		RoomID:       setup.Room.ID,
		AuthorUserID: setup.Users[0].ID,
		Content:      "hello",
	})
	require.NoError(t, err)

	next, err := svc.RequestNext(ctx, root.ID, setup.Room.ID)
	require.NoError(t, err)
	return next
}

func TestBuild_MemoryBackend(t *testing.T) {
	cfg := testConfig(t)

	a, err := build(context.Background(), cfg, slog.Default())
	require.NoError(t, err)

	assert.IsType(t, &scheduler.MemoryRegistry{}, a.registry)
	assert.NotNil(t, a.broadcaster)
	assert.Nil(t, a.redis)

	next := converse(t, a.chat)
	assert.Equal(t, "Hi alice", next.Content)

	require.NoError(t, a.Close(context.Background()))
}

func TestBuild_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Scheduler.Backend = config.BackendRedis
	cfg.Redis.Addr = mr.Addr()

	a, err := build(context.Background(), cfg, slog.Default())
	require.NoError(t, err)

	assert.IsType(t, &scheduler.RedisRegistry{}, a.registry)
	assert.Nil(t, a.broadcaster)

	next := converse(t, a.chat)
	assert.Equal(t, "Hi alice", next.Content)

	require.NoError(t, a.Close(context.Background()))
}

func TestBuild_RedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.Backend = config.BackendRedis
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err := build(context.Background(), cfg, slog.Default())
	assert.ErrorContains(t, err, "connecting to redis")
}

func TestBuildGenerator(t *testing.T) {
	cfg := testConfig(t)

	gen, err := buildGenerator(cfg.Generation)
	require.NoError(t, err)
	assert.IsType(t, &generator.ScriptGenerator{}, gen)

	gen, err = buildGenerator(config.GenerationConfig{Provider: config.ProviderOpenAI, BaseURL: "http://localhost", Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &generator.LLMGenerator{}, gen)

	gen, err = buildGenerator(config.GenerationConfig{Provider: config.ProviderOllama, Model: "llama3"})
	require.NoError(t, err)
	assert.IsType(t, &generator.LLMGenerator{}, gen)

	_, err = buildGenerator(config.GenerationConfig{Provider: config.ProviderScript, ScriptPath: filepath.Join(t.TempDir(), "missing.toml")})
	assert.Error(t, err)

	_, err = buildGenerator(config.GenerationConfig{Provider: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestColorHandler_SharesWriter(t *testing.T) {
	var buf bytes.Buffer
	h := &colorHandler{mu: &sync.Mutex{}, out: &buf, level: slog.LevelInfo}
	logger := slog.New(h).With("component", "chat")

	logger.Debug("hidden")
	logger.WithGroup("req").Info("served", "status", 200)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "served")
	assert.Contains(t, out, "component=")
	assert.Contains(t, out, "req.status=")
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("NEXTTURN_CONFIG", "/etc/nextturn.yaml")
	assert.Equal(t, "/etc/nextturn.yaml", getConfigPath())

	t.Setenv("NEXTTURN_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "nextturn", "server.yaml"), getConfigPath())
}
