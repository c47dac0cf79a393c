// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across ragchat.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth: display-width truncation for terminal columns
//   - CollapseSpace: whitespace normalisation for titles and previews
//
// File Operations:
//   - WritePrivateFile: crash-safe owner-only file replacement
//
// # Usage
//
//	title := util.TruncateRunes(util.CollapseSpace(text), 30)
//	err := util.WritePrivateFile(path, data)
package util
