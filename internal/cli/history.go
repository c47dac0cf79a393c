// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ragchat/internal/conversation"
	"github.com/jeranaias/ragchat/internal/markup"
	"github.com/jeranaias/ragchat/internal/persist"
	"github.com/jeranaias/ragchat/internal/ui/styles"
	"github.com/jeranaias/ragchat/internal/util"
)

func newHistoryCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List, show and delete saved conversations",
	}
	cmd.AddCommand(
		newHistoryListCommand(g),
		newHistoryShowCommand(g),
		newHistoryDeleteCommand(g),
	)
	return cmd
}

// withBackend opens the configured backend for the duration of fn.
func withBackend(g *globals, fn func(persist.Backend) error) error {
	backend, err := persist.Open(g.cfg)
	if err != nil {
		return err
	}
	defer backend.Close()
	return fn(backend)
}

func newHistoryListCommand(g *globals) *cobra.Command {
	var page, perPage int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(g, func(b persist.Backend) error {
				p, err := b.List(cmd.Context(), page, perPage)
				if err != nil {
					return commandError("history", "list", err)
				}
				writeSummaries(cmd.OutOrStdout(), p)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&perPage, "per-page", persist.DefaultPerPage, "conversations per page")
	return cmd
}

func writeSummaries(w io.Writer, p persist.Page) {
	if len(p.Items) == 0 {
		fmt.Fprintln(w, "No saved conversations.")
		return
	}
	rows := make([][]string, 0, len(p.Items))
	for _, s := range p.Items {
		rows = append(rows, []string{
			s.ID,
			util.TruncateWidth(s.Title, 40),
			strconv.Itoa(s.MessageCount),
			s.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(styles.Overlay)).
		Headers("ID", "TITLE", "MESSAGES", "UPDATED").
		Rows(rows...)
	fmt.Fprintln(w, t.String())
	fmt.Fprintf(w, "page %d, %d of %d conversations\n", p.Page, len(p.Items), p.Total)
}

func newHistoryShowCommand(g *globals) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Print a saved conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(g, func(b persist.Backend) error {
				conv, err := persist.LoadConversation(cmd.Context(), b, args[0])
				if err != nil {
					return commandError("history", "show", err)
				}
				md := transcriptMarkdown(conv)
				if raw {
					_, err = io.WriteString(cmd.OutOrStdout(), md)
					return err
				}
				out, err := renderMarkdown(md, glamourStyle(g), GetTerminalWidth())
				if err != nil {
					return err
				}
				_, err = io.WriteString(cmd.OutOrStdout(), out)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print markdown without rendering it")
	return cmd
}

func newHistoryDeleteCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID...",
		Short: "Delete saved conversations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(g, func(b persist.Backend) error {
				for _, id := range args {
					if err := b.Delete(cmd.Context(), id); err != nil {
						return commandError("history", "delete "+id, err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), "deleted", id)
				}
				return nil
			})
		},
	}
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// transcriptMarkdown renders a conversation as markdown. Answers are stored
// as display markup and are reduced to their text.
func transcriptMarkdown(conv conversation.Conversation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", conv.Title)
	for _, m := range conv.Messages {
		who := "You"
		body := m.Content
		if m.Role == conversation.RoleAssistant {
			who = "Assistant"
			body = markup.PlainText(m.Content)
		}
		fmt.Fprintf(&b, "**%s**", who)
		if t, err := time.Parse(conversation.TimeFormat, m.Time); err == nil {
			fmt.Fprintf(&b, " _%s_", t.Local().Format("2006-01-02 15:04"))
		}
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(body))
		b.WriteString("\n\n")
		if m.ReferencedDocs != nil {
			for _, line := range strings.Split(markup.PlainText(*m.ReferencedDocs), "\n") {
				if line = strings.TrimSpace(line); line != "" {
					fmt.Fprintf(&b, "> %s\n", line)
				}
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func glamourStyle(g *globals) string {
	switch {
	case g.noColor || !ColorsEnabled():
		return "notty"
	case g.cfg.UI.Theme == "light":
		return "light"
	default:
		return "dark"
	}
}

func renderMarkdown(md, style string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}
