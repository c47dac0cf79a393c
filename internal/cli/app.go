// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jeranaias/ragchat/internal/config"
	"github.com/jeranaias/ragchat/internal/conversation"
	"github.com/jeranaias/ragchat/internal/glossary"
	"github.com/jeranaias/ragchat/internal/markup"
	"github.com/jeranaias/ragchat/internal/persist"
	"github.com/jeranaias/ragchat/internal/render"
	"github.com/jeranaias/ragchat/internal/session"
	"github.com/jeranaias/ragchat/internal/stream"
)

// =============================================================================
// APP
// =============================================================================

// AppOptions customizes NewApp.
type AppOptions struct {
	// Observer receives message and error events from the coordinator.
	Observer session.Observer
	// Notifier is told when saving a conversation gives up.
	Notifier conversation.Notifier
	// Backend replaces the configured persistence backend.
	Backend persist.Backend
}

// App is the set of components a chat front end runs on, built from config.
type App struct {
	Config      *config.Config
	Backend     persist.Backend
	Client      *stream.Client
	Glossary    *glossary.Source
	Store       *conversation.Store
	Syncer      *conversation.Syncer
	Coordinator *session.Coordinator

	cancel context.CancelFunc
}

// NewApp wires the chat components for cfg. A glossary that cannot be loaded
// is logged and left empty; queries are then sent unrewritten.
func NewApp(ctx context.Context, cfg *config.Config, opts AppOptions) (*App, error) {
	client, err := newStreamClient(cfg)
	if err != nil {
		return nil, err
	}

	backend := opts.Backend
	if backend == nil {
		backend, err = persist.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("open conversation store: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	src := glossary.NewSource(nil)
	if err := loadGlossary(ctx, cfg, src); err != nil {
		log.Warn().Err(err).Str("component", "cli").Msg("glossary unavailable, queries are sent unchanged")
	}

	store := conversation.NewStore(nil)
	syncCfg := conversation.SyncConfigFrom(cfg.Persistence)
	syncCfg.Notifier = opts.Notifier
	syncer := conversation.NewSyncer(store, persist.Writer(backend), syncCfg)

	coord := session.New(session.Deps{
		Store:     store,
		Syncer:    syncer,
		Streams:   stream.NewController(client, stream.Options{TypesetInterval: cfg.Render.TypesetInterval.Duration}),
		Documents: client,
		Glossary:  src,
	}, session.Options{
		Render:       renderConfig(cfg),
		DrainTimeout: cfg.Render.DrainTimeout.Duration,
		Locale:       cfg.UI.Locale,
		Tags:         cfg.Backend.Tags,
		Observer:     opts.Observer,
	})

	return &App{
		Config:      cfg,
		Backend:     backend,
		Client:      client,
		Glossary:    src,
		Store:       store,
		Syncer:      syncer,
		Coordinator: coord,
		cancel:      cancel,
	}, nil
}

// Close stops a running query, writes out pending saves and releases the
// backend.
func (a *App) Close() error {
	a.Coordinator.Stop()

	timeout := a.Config.Persistence.SaveTimeout.Duration
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	flushErr := a.Syncer.Flush(ctx)

	a.Syncer.Close()
	a.cancel()
	return errors.Join(flushErr, a.Backend.Close())
}

// =============================================================================
// COMPONENT CONSTRUCTION
// =============================================================================

func newStreamClient(cfg *config.Config) (*stream.Client, error) {
	ccfg, err := stream.ClientConfigFrom(cfg)
	if err != nil {
		return nil, err
	}
	return stream.NewClient(ccfg), nil
}

func renderConfig(cfg *config.Config) render.Config {
	return render.Config{
		TickInterval: cfg.Render.TickInterval.Duration,
		Markup: markup.Options{
			WithImages: cfg.Render.WithImages,
			Proxy:      markup.ImageProxy{Path: cfg.Images.ProxyPath, Param: cfg.Images.ProxyParam},
		},
	}
}

// loadGlossary fills src from the configured glossary file, watching it if
// asked, or from the backend glossary endpoint.
func loadGlossary(ctx context.Context, cfg *config.Config, src *glossary.Source) error {
	switch {
	case cfg.Glossary.File != "":
		if err := src.LoadFile(cfg.Glossary.File); err != nil {
			return err
		}
		if cfg.Glossary.Watch {
			return src.Watch(ctx, cfg.Glossary.File)
		}
		return nil

	case cfg.Glossary.Remote:
		url, err := cfg.Endpoint(cfg.Backend.GlossaryPath)
		if err != nil {
			return err
		}
		timeout := cfg.Backend.RequestTimeout.Duration
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		fetchCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return src.LoadRemote(fetchCtx, url)
	}
	return nil
}
