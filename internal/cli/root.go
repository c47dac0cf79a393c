// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ragchat/internal/config"
	"github.com/jeranaias/ragchat/internal/logging"
	"github.com/jeranaias/ragchat/internal/ui/styles"
)

// Version information (set at build time)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// globals holds the persistent flags and what they resolve to.
type globals struct {
	configPath string
	noColor    bool
	logLevel   string

	cfg       *config.Config
	logCloser io.Closer
}

// load reads the configuration and installs the logger. quiet keeps log
// output off the console for full-screen commands.
func (g *globals) load(quiet bool) error {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.LoadFromPath(g.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	g.cfg = cfg

	closer, err := logging.Setup(cfg.Log, logging.Options{Quiet: quiet})
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	g.logCloser = closer

	if g.noColor || os.Getenv("NO_COLOR") != "" {
		styles.DisableColor()
	}
	log.Debug().Str("version", Version).Msg("configuration loaded")
	return nil
}

func (g *globals) close() {
	if g.logCloser != nil {
		_ = g.logCloser.Close()
	}
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "ragchat",
		Short: "Chat with your document collection",
		Long: `ragchat asks questions against a document-retrieval backend and shows
the answers as they stream in, with the documents they came from.`,
		Version:       fmt.Sprintf("%s (%s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.load(cmd.Annotations["fullscreen"] == "true")
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			g.close()
		},
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (default ~/.ragchat/config.toml)")
	root.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "disable colored output")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	tui := newTUICommand(g)
	root.RunE = tui.RunE
	root.Annotations = tui.Annotations

	root.AddCommand(
		tui,
		newChatCommand(g),
		newAskCommand(g),
		newHistoryCommand(g),
		newGlossaryCommand(g),
		newDevServerCommand(g),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context) int {
	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return ExitCode(err)
	}
	return ExitSuccess
}
