// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the ragchat command line.
//
// # Commands
//
//   - tui: full-screen chat (the default when no command is given)
//   - chat: line-mode chat with input history
//   - ask: a single query, answer on stdout
//   - history: list, show and delete saved conversations
//   - glossary: inspect the glossary and preview query rewrites
//   - devserver: a local backend serving canned answers
//
// Every command reads ~/.ragchat/config.toml unless --config names another
// file. RAGCHAT_* environment variables, also read from a .env file in the
// working directory, override the file.
//
// # Usage
//
//	os.Exit(cli.Execute(ctx))
package cli
