// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package persist stores conversations.
//
// Three backends implement Backend:
//
//   - HTTPBackend talks to the remote persistence endpoint. Saves post
//     {conversation_id, title, messages} with messages encoded as a JSON
//     string; responses are wrapped in {success, data, message}.
//   - FileBackend keeps one JSON file per conversation under ~/.ragchat.
//   - SQLiteBackend keeps a local SQLite database.
//
// Writer adapts any backend to the conversation syncer.
package persist
