// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/ragchat/internal/glossary"
)

func newGlossaryCommand(g *globals) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "glossary",
		Short: "Inspect the glossary and preview query rewrites",
	}
	cmd.PersistentFlags().StringVar(&file, "file", "", "glossary file (overrides config)")

	// source loads the glossary the chat commands would use.
	source := func(cmd *cobra.Command) (*glossary.Source, error) {
		cfg := *g.cfg
		if file != "" {
			cfg.Glossary.File = file
			cfg.Glossary.Watch = false
		}
		src := glossary.NewSource(nil)
		if err := loadGlossary(cmd.Context(), &cfg, src); err != nil {
			return nil, commandError("glossary", "load", err)
		}
		return src, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "rewrite QUERY...",
		Short:   "Show how a query is annotated before it is sent",
		Example: `  ragchat glossary rewrite "김포공항 운영시간?"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := source(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), glossary.Rewrite(strings.Join(args, " "), src.Current()))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List glossary terms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := source(cmd)
			if err != nil {
				return err
			}
			entries := src.Current().Entries()
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Glossary is empty.")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", e.Key, strings.Join(e.Values, ", "))
			}
			return nil
		},
	})
	return cmd
}
