// ABOUTME: Builds the store, scheduler, notifier and generator named by the config
// ABOUTME: and assembles them into the chat service; app.Close tears them down in reverse

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/2389/nextturn/internal/chat"
	"github.com/2389/nextturn/internal/config"
	"github.com/2389/nextturn/internal/generator"
	"github.com/2389/nextturn/internal/notify"
	"github.com/2389/nextturn/internal/scheduler"
	"github.com/2389/nextturn/internal/store"
)

type closableRegistry interface {
	scheduler.Registry
	Close() error
}

// app holds every component owned by a running server.
type app struct {
	store       store.Store
	registry    closableRegistry
	broadcaster *notify.Broadcaster // nil with the redis backend
	redis       *redis.Client
	chat        *chat.Service
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	gen, err := buildGenerator(cfg.Generation)
	if err != nil {
		return nil, err
	}

	authors, err := generator.NewAuthorSelector(cfg.Generation.AuthorPolicy)
	if err != nil {
		return nil, err
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	a := &app{store: st}

	var notifier notify.Notifier
	switch cfg.Scheduler.Backend {
	case config.BackendRedis:
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			_ = a.Close(context.Background())
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		a.registry = scheduler.NewRedisRegistry(a.redis, cfg.Redis.KeyPrefix, cfg.Scheduler.LockTTL, logger)
		notifier = notify.NewRedisNotifier(a.redis, cfg.Redis.KeyPrefix, logger)
	default:
		a.registry = scheduler.NewMemoryRegistry(cfg.Scheduler.LockTTL, logger)
		a.broadcaster = notify.NewBroadcaster(logger)
		notifier = a.broadcaster
	}

	a.chat, err = chat.New(chat.Options{
		Store:             st,
		Registry:          a.registry,
		Generator:         gen,
		Authors:           authors,
		Notifier:          notifier,
		Logger:            logger,
		MaxChainDepth:     cfg.Generation.MaxChainDepth,
		HistoryLimit:      cfg.Generation.HistoryLimit,
		GenerationTimeout: cfg.Generation.Timeout,
		PollInterval:      cfg.Polling.Interval,
		MaxPollInterval:   cfg.Polling.MaxInterval,
		Workers:           cfg.Generation.Workers,
	})
	if err != nil {
		_ = a.Close(context.Background())
		return nil, fmt.Errorf("creating chat service: %w", err)
	}
	return a, nil
}

func buildGenerator(cfg config.GenerationConfig) (generator.Generator, error) {
	switch cfg.Provider {
	case config.ProviderScript:
		script, err := generator.LoadScript(cfg.ScriptPath)
		if err != nil {
			return nil, err
		}
		return generator.NewScriptGenerator(script), nil
	case config.ProviderOpenAI:
		return generator.NewLLMGenerator(
			generator.NewOpenAICompat(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout)), nil
	case config.ProviderOllama:
		return generator.NewLLMGenerator(
			generator.NewOllama(cfg.BaseURL, cfg.Model, cfg.Timeout)), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}

// Close drains chained generation, then releases components in reverse
// order of construction.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.chat != nil {
		errs = appendCloseError(errs, "chat service", a.chat.Close(ctx))
	}
	if a.broadcaster != nil {
		errs = appendCloseError(errs, "broadcaster", a.broadcaster.Close())
	}
	if a.registry != nil {
		errs = appendCloseError(errs, "registry", a.registry.Close())
	}
	if a.redis != nil {
		errs = appendCloseError(errs, "redis client", a.redis.Close())
	}
	errs = appendCloseError(errs, "store close", a.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}
