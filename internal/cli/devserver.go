// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ragchat/internal/config"
	"github.com/jeranaias/ragchat/internal/devserver"
	"github.com/jeranaias/ragchat/internal/glossary"
	"github.com/jeranaias/ragchat/internal/persist"
)

// ShutdownTimeout bounds how long open streams may take to finish.
const ShutdownTimeout = 5 * time.Second

func newDevServerCommand(g *globals) *cobra.Command {
	var (
		addr      string
		redisAddr string
		corpus    string
		failSaves int
	)
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local backend that streams canned answers",
		Long: `Run a local backend implementing the query, document, glossary and
conversation endpoints. Answers come from a YAML corpus; conversations are
kept in memory, or in redis with --redis.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := g.cfg.DevServer
			if addr != "" {
				cfg.Addr = addr
			}
			if redisAddr != "" {
				cfg.RedisAddr = redisAddr
			}
			if corpus != "" {
				cfg.Corpus = corpus
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts, err := devServerOptions(ctx, g.cfg, cfg)
			if err != nil {
				return err
			}
			srv := devserver.New(opts)
			srv.Faults().FailSaves(failSaves)

			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()
			fmt.Fprintf(cmd.OutOrStdout(), "dev backend on http://%s (Ctrl+C to stop)\n", cfg.Addr)

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&redisAddr, "redis", "", "store conversations in redis at this address")
	cmd.Flags().StringVar(&corpus, "corpus", "", "YAML corpus of canned answers")
	cmd.Flags().IntVar(&failSaves, "fail-saves", 0, "fail this many conversation saves first")
	return cmd
}

// devServerOptions builds the server options from config.
func devServerOptions(ctx context.Context, root *config.Config, cfg config.DevServerConfig) (devserver.Options, error) {
	opts := devserver.Options{
		Addr:       cfg.Addr,
		ChunkRunes: cfg.ChunkRunes,
		ChunkDelay: cfg.ChunkDelay.Duration,
	}

	if cfg.Corpus != "" {
		c, err := devserver.LoadCorpus(cfg.Corpus)
		if err != nil {
			return opts, err
		}
		opts.Corpus = c
	}

	if root.Glossary.File != "" {
		src := glossary.NewSource(nil)
		if err := src.LoadFile(root.Glossary.File); err != nil {
			return opts, err
		}
		if root.Glossary.Watch {
			if err := src.Watch(ctx, root.Glossary.File); err != nil {
				log.Warn().Err(err).Str("component", "cli").Msg("glossary watch unavailable")
			}
		}
		opts.Glossary = src
	}

	if cfg.RedisAddr != "" {
		backend, err := persist.NewRedisBackend(ctx, cfg.RedisAddr)
		if err != nil {
			return opts, fmt.Errorf("connect to redis: %w", err)
		}
		opts.Conversations = backend
	}
	return opts, nil
}
