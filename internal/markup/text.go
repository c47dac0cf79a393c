// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markup

import (
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var mathDelimiters = []string{`\[`, `\]`, `\(`, `\)`}

// HasMathDelimiter reports whether s contains a TeX display or inline delimiter.
func HasMathDelimiter(s string) bool {
	for _, d := range mathDelimiters {
		if strings.Contains(s, d) {
			return true
		}
	}
	return false
}

// TruncateOpenImage cuts s just before a trailing <img tag that has not
// been closed yet, including a partially typed "<im". Other text is kept.
func TruncateOpenImage(s string) string {
	lower := strings.ToLower(s)
	if idx := strings.LastIndex(lower, "<img"); idx >= 0 && !strings.Contains(s[idx:], ">") {
		return s[:idx]
	}
	for _, partial := range []string{"<im", "<i", "<"} {
		if strings.HasSuffix(lower, partial) {
			return s[:len(s)-len(partial)]
		}
	}
	return s
}

var blankRunPattern = regexp.MustCompile(`\n{3,}`)

// PlainText extracts readable text from markup. Line breaks and block
// elements become newlines and images become their alt text.
func PlainText(markup string) string {
	if strings.TrimSpace(markup) == "" {
		return ""
	}

	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				return strings.TrimSpace(markup)
			}
			out := blankRunPattern.ReplaceAllString(sb.String(), "\n\n")
			return strings.TrimSpace(out)

		case html.TextToken:
			sb.Write(z.Text())

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "br", "hr":
				sb.WriteByte('\n')
			case "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "table":
				ensureNewline(&sb)
			case "img":
				alt := ""
				for hasAttr {
					var key, val []byte
					key, val, hasAttr = z.TagAttr()
					if string(key) == "alt" {
						alt = string(val)
					}
				}
				if alt != "" {
					sb.WriteString("[" + alt + "]")
				}
			case "td", "th":
				sb.WriteByte('\t')
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "table":
				ensureNewline(&sb)
			}
		}
	}
}

func ensureNewline(sb *strings.Builder) {
	s := sb.String()
	if s != "" && !strings.HasSuffix(s, "\n") {
		sb.WriteByte('\n')
	}
}
