// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/ragchat/internal/conversation"
	"github.com/jeranaias/ragchat/internal/markup"
	"github.com/jeranaias/ragchat/internal/session"
	"github.com/jeranaias/ragchat/internal/ui/termtext"
)

// askResult is the --json output of ask.
type askResult struct {
	ConversationID string  `json:"conversation_id"`
	Query          string  `json:"query"`
	State          string  `json:"state"`
	Answer         string  `json:"answer"`
	AnswerMarkup   string  `json:"answer_markup"`
	ReferencedDocs *string `json:"referenced_docs,omitempty"`
}

func newAskCommand(g *globals) *cobra.Command {
	var (
		asJSON bool
		tags   []string
		docs   []string
	)
	cmd := &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Ask a single question",
		Example: `  ragchat ask "김포공항 운영시간?"
  ragchat ask --tags airport --json "when do gates open?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			app, err := NewApp(cmd.Context(), g.cfg, AppOptions{
				Notifier: conversation.NotifierFunc(func(id string, err error) {
					fmt.Fprintln(os.Stderr, "conversation not saved:", err)
				}),
			})
			if err != nil {
				return err
			}
			defer func() {
				if cerr := app.Close(); err == nil && cerr != nil {
					err = commandError("ask", "save", cerr)
				}
			}()

			out := cmd.OutOrStdout()
			req := session.SendRequest{Text: strings.Join(args, " "), Tags: tags, Docs: docs}
			if !asJSON {
				req.Target = termtext.NewPrinter(out)
			}
			reply, err := app.Coordinator.Send(cmd.Context(), req)
			if err != nil {
				return err
			}

			if !asJSON {
				fmt.Fprintln(out)
				return nil
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(askResult{
				ConversationID: reply.ConversationID,
				Query:          reply.Query,
				State:          reply.State.String(),
				Answer:         markup.PlainText(reply.Assistant.Content),
				AnswerMarkup:   reply.Assistant.Content,
				ReferencedDocs: reply.Assistant.ReferencedDocs,
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the finished answer as JSON")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "restrict retrieval to these tags")
	cmd.Flags().StringSliceVar(&docs, "docs", nil, "restrict retrieval to these documents")
	return cmd
}
