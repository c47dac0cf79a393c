// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render implements the typewriter display of a streaming answer.
//
// A Buffer receives the whole answer text each time it grows (OnAppend) and
// reveals it on a Target a few characters per tick: one wide character, or up
// to three ASCII letters, digits or spaces. Every frame is the markup
// pipeline applied to a prefix of the text, cut before any unfinished image
// tag. Finalize renders the complete text at stream end; Stop freezes the
// display on cancellation.
package render
