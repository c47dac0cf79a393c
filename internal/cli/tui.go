// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ragchat/internal/ui/chat"
	"github.com/jeranaias/ragchat/internal/ui/styles"
)

func newTUICommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:         "tui",
		Short:       "Open the full-screen chat (default)",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"fullscreen": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, g)
		},
	}
}

func runTUI(cmd *cobra.Command, g *globals) (err error) {
	bridge := chat.NewBridge()
	app, err := NewApp(cmd.Context(), g.cfg, AppOptions{Observer: bridge, Notifier: bridge})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); err == nil && cerr != nil {
			err = commandError("tui", "save", cerr)
		}
	}()

	theme := styles.NewTheme(g.cfg.UI.Theme)
	model := chat.New(app.Coordinator, theme, bridge, chat.WithContext(cmd.Context()))

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	bridge.Attach(p)
	_, err = p.Run()
	return err
}
