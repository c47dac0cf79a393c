// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package finalize

import (
	"html"
	"strings"

	"github.com/jeranaias/ragchat/internal/logging"
	"github.com/jeranaias/ragchat/internal/markup"
	"github.com/jeranaias/ragchat/internal/render"
)

// Input describes one capture.
type Input struct {
	// Target is read back through CurrentMarkup.
	Target render.Target
	// Header is the references block shown above the answer, if any. It is
	// split off the captured markup and returned as ReferencedDocs.
	Header string
	// Raw is the received text, used only when the target shows nothing.
	Raw string
	// Partial marks a capture after user cancellation.
	Partial bool
	// StoppedMarker is the localized text appended to partial captures.
	StoppedMarker string
	// Markup configures the fallback render and image proxying.
	Markup markup.Options
}

// Output is the canonical content of a finished assistant message.
type Output struct {
	Content        string
	ReferencedDocs *string
	// FromRaw is set when the target was empty and Content was rebuilt
	// from the received text.
	FromRaw bool
}

// Capture reconciles what was displayed into the message content. The
// rendered markup is the source of truth since it already carries image and
// math substitutions; each fix-up step is guarded so it can only ever
// improve formatting, never drop content.
func Capture(in Input) Output {
	var out Output

	content := in.Target.CurrentMarkup()
	if in.Header != "" {
		content = strings.TrimPrefix(content, in.Header)
		header := in.Header
		out.ReferencedDocs = &header
	}

	if strings.TrimSpace(content) == "" && strings.TrimSpace(in.Raw) != "" {
		content = markup.Render(in.Raw, in.Markup)
		if strings.TrimSpace(content) == "" {
			content = html.EscapeString(markup.PlainText(in.Raw))
		}
		out.FromRaw = true
	}

	proxy := in.Markup.Proxy
	content = guarded("image-tags", content, func(s string) string { return fixImageTags(s, proxy) })
	content = guarded("math-artifacts", content, stripMathArtifacts)
	// Sanitizing re-encodes entities (a quote becomes &#34;), so the
	// captured markup can differ byte-wise from what was on screen while
	// displaying the same text.
	content = sanitized(content)

	if in.Partial {
		content += StoppedMarkup(in.StoppedMarker)
	}

	out.Content = content
	return out
}

// StoppedMarkup renders the marker appended to a cancelled answer.
func StoppedMarkup(marker string) string {
	if marker == "" {
		marker = StoppedMarker("")
	}
	return `<br><br><em class="stopped-marker">` + html.EscapeString(marker) + `</em>`
}

// =============================================================================
// LOSS GUARD
// =============================================================================

const (
	// guardMinInput is the input size below which a step may shrink freely.
	guardMinInput = 200
	// guardMinRatio is the smallest output/input length ratio accepted for
	// non-trivial inputs.
	guardMinRatio = 0.15
)

// sanitized runs the sanitizer outside the loss guard: removing a large
// script is the point of the step. If the sanitizer panics the content is
// escaped instead of kept as markup.
func sanitized(in string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			logger := logging.Component("finalize")
			logger.Warn().Str("step", "sanitize").Interface("panic", r).Msg("fix-up failed, escaping input")
			out = html.EscapeString(in)
		}
	}()
	return sanitizeFunc(in)
}

// guarded runs one fix-up step and keeps its input if the step panics or
// returns drastically less text than it was given.
func guarded(name, in string, fn func(string) string) (out string) {
	logger := logging.Component("finalize")
	defer func() {
		if r := recover(); r != nil {
			logger.Warn().Str("step", name).Interface("panic", r).Msg("fix-up failed, keeping input")
			out = in
		}
	}()

	out = fn(in)
	if len(in) > guardMinInput && float64(len(out)) < float64(len(in))*guardMinRatio {
		logger.Warn().Str("step", name).
			Int("in", len(in)).Int("out", len(out)).
			Msg("fix-up dropped too much content, keeping input")
		return in
	}
	return out
}
