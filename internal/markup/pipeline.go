// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markup

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Options controls a Render call.
type Options struct {
	// WithImages turns backend image URLs into <img> elements.
	WithImages bool
	// Proxy rewrites image sources; zero value means DefaultProxy.
	Proxy ImageProxy
}

// Render converts streamed answer text into display markup. It is a pure
// function of its input: rendering a longer prefix of the same answer is a
// fresh transform, never a patch of an earlier result. Every stage falls
// back to its input if it fails, so content is never dropped.
func Render(text string, opts Options) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	if opts.Proxy.Path == "" {
		opts.Proxy = DefaultProxy()
	}

	p := NewProtector()
	s := strings.ReplaceAll(stripTokenRunes(text), "\r\n", "\n")

	s = stage("protect-markup", s, func(s string) string { return protectImageTags(s, p) })
	if opts.WithImages {
		s = stage("images", s, func(s string) string { return detectImages(s, p, opts.Proxy) })
	}
	s = stage("fences", s, stripFences)
	s = stage("math", s, func(s string) string { return protectMath(s, p) })
	s = stage("markdown", s, func(s string) string { return formatMarkdown(s, p) })
	s = stage("lists", s, continueLists)
	s = stage("tables", s, func(s string) string { return p.ProtectAll(s, KindTable, tablePattern) })
	s = stage("newlines", s, convertNewlines)
	s = stage("cleanup", s, func(s string) string { return cleanup(p.Restore(s, KindTable)) })

	// Restore in reverse protection order so nested tokens resolve.
	s = p.Restore(s, KindTable)
	s = p.Restore(s, KindCode)
	s = p.Restore(s, KindMath)
	s = p.Restore(s, KindImage)
	return s
}

// stage runs fn and returns in unchanged if fn panics.
func stage(name, in string, fn func(string) string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			log.Debug().Str("component", "markup").Str("stage", name).Interface("panic", r).Msg("stage failed, keeping input")
			out = in
		}
	}()
	return fn(in)
}

// =============================================================================
// STAGES
// =============================================================================

var (
	fencePairPattern = regexp.MustCompile("(?s)```(?:html|HTML|plaintext|text|plain)?[ \\t]*\\n(.*?)\\n?```")
	fenceLonePattern = regexp.MustCompile("(?m)^[ \\t]*```(?:html|HTML|plaintext|text|plain)[ \\t]*\\n?")
)

// stripFences unwraps ```html / ```text blocks, which only exist to pass
// markup through, and drops an opener whose closer has not arrived yet.
func stripFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	s = fencePairPattern.ReplaceAllString(s, "$1")
	return fenceLonePattern.ReplaceAllString(s, "")
}

var (
	blockMathPattern  = regexp.MustCompile(`(?s)\\\[(.*?)\\\]`)
	inlineMathPattern = regexp.MustCompile(`(?s)\\\((.*?)\\\)`)
)

// protectMath wraps complete \[..\] and \(..\) spans in containers and
// hides them from the remaining stages. Unterminated spans stay literal.
func protectMath(s string, p *Protector) string {
	s = blockMathPattern.ReplaceAllStringFunc(s, func(m string) string {
		inner := blockMathPattern.FindStringSubmatch(m)[1]
		return string(p.Protect(KindMath, `<div class="math-block">\[`+html.EscapeString(inner)+`\]</div>`))
	})
	return inlineMathPattern.ReplaceAllStringFunc(s, func(m string) string {
		inner := inlineMathPattern.FindStringSubmatch(m)[1]
		return string(p.Protect(KindMath, `<span class="math-inline">\(`+html.EscapeString(inner)+`\)</span>`))
	})
}

var (
	headingPattern    = regexp.MustCompile(`(?m)^[ \t]*(#{1,4})[ \t]+(.+?)(?:[ \t]+#+)?[ \t]*$`)
	rulePattern       = regexp.MustCompile(`(?m)^[ \t]*(?:-{3,}|\*{3,}|_{3,})[ \t]*$`)
	inlineCodePattern = regexp.MustCompile("`([^`\\n]+)`")
	strongPattern     = regexp.MustCompile(`\*\*([^*\n]+?)\*\*`)
	emphasisPattern   = regexp.MustCompile(`\*([^*\s][^*\n]*?)\*`)
)

// maxInlineCodeWords is the longest backtick span converted to <code>;
// longer spans keep their backticks.
const maxInlineCodeWords = 3

func formatMarkdown(s string, p *Protector) string {
	s = rulePattern.ReplaceAllString(s, "<hr>")
	s = headingPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := headingPattern.FindStringSubmatch(m)
		level := strconv.Itoa(len(sub[1]))
		return "<h" + level + ">" + sub[2] + "</h" + level + ">"
	})
	s = inlineCodePattern.ReplaceAllStringFunc(s, func(m string) string {
		inner := inlineCodePattern.FindStringSubmatch(m)[1]
		if len(strings.Fields(inner)) > maxInlineCodeWords {
			return m
		}
		return string(p.Protect(KindCode, "<code>"+html.EscapeString(inner)+"</code>"))
	})
	s = strongPattern.ReplaceAllString(s, "<strong>$1</strong>")
	return emphasisPattern.ReplaceAllString(s, "<strong>$1</strong>")
}

var listMarkerPattern = regexp.MustCompile(`\n([ \t]*(?:\d+[.)]|[-*•·▪]|->|=>|→|▶)[ \t])`)

// continueLists turns the newline before a list marker into an explicit break.
func continueLists(s string) string {
	return listMarkerPattern.ReplaceAllString(s, "<br>$1")
}

var tablePattern = regexp.MustCompile(`(?is)<table\b.*?</table>`)

func convertNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", "<br>")
}

var (
	breakRunPattern     = regexp.MustCompile(`(?:<br>\s*){3,}`)
	breakBeforeBlock    = regexp.MustCompile(`(?i)(?:<br>\s*)+(<h[1-6]>|<hr>|<table\b)`)
	breakAfterBlock     = regexp.MustCompile(`(?i)(</h[1-6]>|<hr>|</table>)(?:\s*<br>)+`)
	leadingBreakPattern = regexp.MustCompile(`^(?:\s*<br>)+`)
)

func cleanup(s string) string {
	s = breakRunPattern.ReplaceAllString(s, "<br><br>")
	s = breakBeforeBlock.ReplaceAllString(s, "$1")
	s = breakAfterBlock.ReplaceAllString(s, "$1")
	return leadingBreakPattern.ReplaceAllString(s, "")
}
