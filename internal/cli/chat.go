// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ragchat/internal/config"
	"github.com/jeranaias/ragchat/internal/conversation"
	"github.com/jeranaias/ragchat/internal/session"
	"github.com/jeranaias/ragchat/internal/ui/styles"
	"github.com/jeranaias/ragchat/internal/ui/termtext"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Bold(true)

	welcomeStyle = lipgloss.NewStyle().
			Foreground(styles.Purple).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(styles.TextSecondary)

	warningStyle = lipgloss.NewStyle().
			Foreground(styles.Amber)
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader reads prompts with line editing and a persistent history.
type lineReader struct {
	line        *liner.State
	historyFile string
}

func newLineReader() *lineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &lineReader{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(r.historyFile); err == nil {
		_, _ = r.line.ReadHistory(f)
		f.Close()
	}
	return r
}

func (r *lineReader) read(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

func (r *lineReader) close() {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = r.line.WriteHistory(f)
			f.Close()
		}
	}
	r.line.Close()
}

// =============================================================================
// CHAT COMMAND
// =============================================================================

func newChatCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat in line mode",
		Long: `Chat in line mode. Answers are printed as they are revealed.

Commands:
  /new     start a new conversation
  /help    show this help
  /quit    exit

Ctrl+C stops a running answer; Ctrl+D exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			app, err := NewApp(cmd.Context(), g.cfg, AppOptions{
				Notifier: conversation.NotifierFunc(func(id string, err error) {
					fmt.Fprintln(os.Stderr, warningStyle.Render("conversation not saved: "+err.Error()))
				}),
			})
			if err != nil {
				return err
			}
			defer func() {
				if cerr := app.Close(); err == nil && cerr != nil {
					err = commandError("chat", "save", cerr)
				}
			}()

			reader := newLineReader()
			defer reader.close()
			return runChat(cmd.Context(), app.Coordinator, reader.read, cmd.OutOrStdout())
		},
	}
}

// runChat is the read-eval-print loop. read returns io.EOF or
// liner.ErrPromptAborted to end the session.
func runChat(ctx context.Context, coord *session.Coordinator, read func(string) (string, error), out io.Writer) error {
	fmt.Fprintln(out, welcomeStyle.Render("ragchat")+" "+infoStyle.Render("type /help for commands"))

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		for range interrupts {
			coord.Stop()
		}
	}()

	for {
		input, err := read(promptStyle.Render("> "))
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return err
		}

		switch text := strings.TrimSpace(input); text {
		case "":
			continue
		case "/quit", "/q", "/exit":
			return nil
		case "/help", "/h":
			fmt.Fprintln(out, infoStyle.Render("/new  start a new conversation\n/quit exit"))
		case "/new":
			if _, err := coord.NewConversation(); err != nil {
				fmt.Fprintln(out, warningStyle.Render(err.Error()))
				continue
			}
			fmt.Fprintln(out, infoStyle.Render("started a new conversation"))
		default:
			if err := ask(ctx, coord, text, out); err != nil {
				fmt.Fprintln(out, warningStyle.Render("error: "+err.Error()))
			}
		}
	}
}

// ask sends one query and prints the answer while it is revealed.
func ask(ctx context.Context, coord *session.Coordinator, text string, out io.Writer) error {
	printer := termtext.NewPrinter(out)
	_, err := coord.Send(ctx, session.SendRequest{Text: text, Target: printer})
	fmt.Fprint(out, "\n\n")
	return err
}
