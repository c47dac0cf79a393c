// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package glossary rewrites free-text queries against a table of facility
// definitions before they are sent to the retrieval backend.
//
// A definition maps a phrase to one or more canonical values. Rewrite finds
// each phrase in the query (ignoring case and whitespace, longest phrase
// first) and appends its values in parentheses:
//
//	g := glossary.New(map[string][]string{"김포공항": {"GMP", "Gimpo"}})
//	glossary.Rewrite("what is 김포공항 운영시간?", g)
//	// "what is 김포공항(GMP, Gimpo) 운영시간?"
//
// Multi-word phrases whose words are all defined act as compound rules that
// collapse the per-word annotations into one; pairs of single words whose
// values overlap collapse to the shared values.
//
// # Loading
//
// Glossaries load from JSON, YAML or TOML files (LoadFile) or from the
// backend (Source.LoadRemote). A Source hands out immutable snapshots and
// can watch a file for changes.
package glossary
