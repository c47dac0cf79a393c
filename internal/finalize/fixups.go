// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package finalize

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/jeranaias/ragchat/internal/markup"
)

// =============================================================================
// IMAGE TAGS
// =============================================================================

var (
	imgTagPattern       = regexp.MustCompile(`(?i)<img\b[^>]*>`)
	doubledQuotePattern = regexp.MustCompile(`([a-zA-Z-]+)=""([^"\s>][^"]*)""`)
	gluedAttrPattern    = regexp.MustCompile(`"([a-zA-Z][a-zA-Z0-9-]*)=`)
	srcAttrPattern      = regexp.MustCompile(`(?i)\bsrc="([^"]*)"`)
)

// fixImageTags repairs <img> tags damaged in transit: doubled quotes around
// a value, attributes glued together without a space, and backend image
// URLs that were never routed through the proxy.
func fixImageTags(s string, proxy markup.ImageProxy) string {
	if !strings.Contains(strings.ToLower(s), "<img") {
		return s
	}
	return imgTagPattern.ReplaceAllStringFunc(s, func(tag string) string {
		tag = doubledQuotePattern.ReplaceAllString(tag, `$1="$2"`)
		tag = gluedAttrPattern.ReplaceAllString(tag, `" $1=`)
		return srcAttrPattern.ReplaceAllStringFunc(tag, func(attr string) string {
			src := html.UnescapeString(srcAttrPattern.FindStringSubmatch(attr)[1])
			if !markup.IsBackendImage(src) {
				return attr
			}
			return `src="` + html.EscapeString(proxy.Rewrite(src)) + `"`
		})
	})
}

// =============================================================================
// MATH ARTIFACTS
// =============================================================================

var (
	mjxContainerPattern = regexp.MustCompile(`(?is)<mjx-container\b([^>]*)>(.*?)</mjx-container>`)
	latexAttrPattern    = regexp.MustCompile(`(?i)\b(?:data-latex|data-tex|aria-label)="([^"]*)"`)
	displayAttrPattern  = regexp.MustCompile(`(?i)\bdisplay="true"`)
	mathScriptPattern   = regexp.MustCompile(`(?is)<script type="math/tex(; ?mode=display)?">(.*?)</script>`)
)

// stripMathArtifacts replaces typesetter output (mjx-container elements and
// math/tex scripts) with the TeX source it was produced from, so formulas
// survive as text the next time the message is displayed.
func stripMathArtifacts(s string) string {
	lower := strings.ToLower(s)
	if !strings.Contains(lower, "<mjx-container") && !strings.Contains(lower, "math/tex") {
		return s
	}

	s = mjxContainerPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := mjxContainerPattern.FindStringSubmatch(m)
		attrs, inner := sub[1], sub[2]

		tex := ""
		if a := latexAttrPattern.FindStringSubmatch(attrs); a != nil {
			tex = a[1]
		} else {
			tex = html.EscapeString(markup.PlainText(inner))
		}
		if strings.TrimSpace(tex) == "" {
			return ""
		}
		if displayAttrPattern.MatchString(attrs) {
			return `\[` + tex + `\]`
		}
		return `\(` + tex + `\)`
	})

	return mathScriptPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := mathScriptPattern.FindStringSubmatch(m)
		tex := html.EscapeString(sub[2])
		if sub[1] != "" {
			return `\[` + tex + `\]`
		}
		return `\(` + tex + `\)`
	})
}

// =============================================================================
// SANITIZE
// =============================================================================

var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Globally()
	p.AllowAttrs("loading").Matching(regexp.MustCompile(`^(lazy|eager)$`)).OnElements("img")
	p.AllowDataURIImages()
	return p
}

// sanitize drops scripts, event handlers and other markup a chat message
// has no business carrying.
func sanitize(s string) string {
	return policy.Sanitize(s)
}

// sanitizeFunc is swapped in tests.
var sanitizeFunc = sanitize
