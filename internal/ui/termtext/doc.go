// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package termtext shows answer markup on a terminal.
//
// Render converts the markup produced by the content pipeline (line
// breaks, headings, emphasis, code, HTML tables, images, the referenced
// documents block and the stopped marker) into lipgloss-styled text.
// Printer is a render target for line-mode output that prints only what
// is new since the last redraw.
package termtext
