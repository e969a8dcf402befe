package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"proposalsync/internal/cache"
	"proposalsync/internal/config"
	"proposalsync/internal/durable"
	"proposalsync/internal/logging"
	"proposalsync/internal/metrics"
	"proposalsync/internal/remote"
	"proposalsync/internal/session"
)

// clientEnv is what every command works against: the local store, the
// session restored from it, and an API client whose cached reads live in the
// same store.
type clientEnv struct {
	cfg      config.Config
	logger   *slog.Logger
	local    durable.Store
	session  *session.Session
	cache    *cache.Cache
	client   *remote.Client
	cached   *remote.Cached
	registry *prometheus.Registry
}

func openEnv(ctx context.Context, cfg config.Config, stderr io.Writer) (*clientEnv, error) {
	logger := logging.New(stderr, cfg.LogLevel, "text")

	local, err := durable.Open(cfg.LocalDriver, cfg.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	registry := prometheus.NewRegistry()
	c := cache.New(cache.Config{
		Store:     local,
		Namespace: cfg.CacheNamespace,
		Logger:    logger.With("component", "cache"),
		Metrics:   metrics.NewCache(registry, "client"),
	})

	sess := session.New()
	// Signing out or switching users must not leave the previous user's
	// reads behind. Registered before Restore so an expired stored session
	// clears them too.
	sess.OnClear(func() {
		c.Clear(context.WithoutCancel(ctx))
	})
	if _, err := sess.Restore(ctx, local); err != nil {
		logger.Warn("session restore failed", "err", err)
	}

	client := remote.NewClient(cfg.APIURL, nil, sess)
	return &clientEnv{
		cfg:      cfg,
		logger:   logger,
		local:    local,
		session:  sess,
		cache:    c,
		client:   client,
		cached:   remote.NewCached(client, c, remote.TTLs{Profile: cfg.ProfileTTL, Templates: cfg.TemplatesTTL, Comments: cfg.CommentsTTL}),
		registry: registry,
	}, nil
}

// requireSession fails early with a hint instead of letting the first API
// call report a missing token.
func (e *clientEnv) requireSession() error {
	if _, ok := e.session.Current(); !ok {
		return fmt.Errorf("not logged in, run 'proposalsync login <name>' first")
	}
	return nil
}

// close persists the session state so a 401 or logout during the command is
// remembered, then releases the local store.
func (e *clientEnv) close(ctx context.Context) {
	if err := e.session.Persist(context.WithoutCancel(ctx), e.local); err != nil {
		e.logger.Warn("session persist failed", "err", err)
	}
	if err := e.local.Close(); err != nil {
		e.logger.Warn("local store close failed", "err", err)
	}
}
