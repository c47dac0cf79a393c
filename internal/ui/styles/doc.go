// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling system for the terminal clients.

All colors use Lip Gloss AdaptiveColor so the same palette works on light and
dark terminals. A Theme bundles the styles for the chat layout, the answer
markup (headings, code, tables, the referenced documents block, the stopped
marker) and the status line.

	theme := styles.NewTheme("auto")
	theme.SetSize(width, height)
	line := theme.StatusSaved.Render(styles.StatusIndicators.Success + " saved")

DisableColor forces plain output, for --no-color and non-terminal stdout.
*/
package styles
