// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package markup turns streamed answer text into display markup.
//
// Render runs a fixed sequence of stages: protect existing image tags,
// detect backend image URLs, unwrap pass-through code fences, protect math,
// apply a small markdown subset, continue lists, protect tables, convert
// newlines, clean up line breaks, and finally restore every protected span.
// Spans are protected with opaque tokens from a shared Protector so regex
// stages cannot corrupt them.
//
// Render is called on every prefix of a growing answer, so it must be
// deterministic and must never fail: unterminated constructs pass through
// as literal text.
package markup
