// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markup

import (
	"html"
	"net/url"
	"regexp"
	"strings"
)

// =============================================================================
// IMAGE PROXY
// =============================================================================

// ImageProxy rewrites backend-hosted image URLs (http://host:port/images/x.png)
// to a same-origin proxy URL carrying the image path as a query parameter.
type ImageProxy struct {
	Path  string
	Param string
}

// DefaultProxy is the proxy used when Options leaves it empty.
func DefaultProxy() ImageProxy {
	return ImageProxy{Path: "/api/image-proxy", Param: "path"}
}

var backendImagePattern = regexp.MustCompile(`^https?://[^/\s]+:\d+(/images/[^\s?#"'<>]+)`)

// Rewrite returns the proxy URL for a backend image URL. Proxied and data:
// URLs pass through; anything that is not a backend image URL is returned
// cleaned but otherwise unchanged.
func (p ImageProxy) Rewrite(raw string) string {
	if p.Path == "" {
		p = DefaultProxy()
	}
	u := CleanImageURL(raw)
	if u == "" {
		return raw
	}
	if strings.HasPrefix(u, "data:") || p.IsProxied(u) {
		return u
	}
	m := backendImagePattern.FindStringSubmatch(u)
	if m == nil {
		return u
	}
	return p.Path + "?" + p.Param + "=" + url.QueryEscape(m[1])
}

// IsProxied reports whether u already points at the proxy, relative or absolute.
func (p ImageProxy) IsProxied(u string) bool {
	if p.Path == "" {
		p = DefaultProxy()
	}
	if strings.HasPrefix(u, p.Path+"?") {
		return true
	}
	parsed, err := url.Parse(u)
	return err == nil && parsed.Path == p.Path && parsed.Query().Has(p.Param)
}

// IsBackendImage reports whether raw, once cleaned, is a backend image URL.
func IsBackendImage(raw string) bool {
	return backendImagePattern.MatchString(CleanImageURL(raw))
}

// CleanImageURL repairs URLs mangled by markdown: a leading "text](" wrapper,
// trailing "]" or ")" characters, and a scheme written as "http:" or "http:/".
func CleanImageURL(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.LastIndex(s, "]("); i >= 0 {
		s = s[i+2:]
	}
	s = strings.TrimLeft(s, "([")
	s = strings.TrimRight(s, ")]")

	for _, scheme := range []string{"https", "http"} {
		full := scheme + "://"
		lower := strings.ToLower(s)
		switch {
		case strings.HasPrefix(lower, full):
			return s
		case strings.HasPrefix(lower, scheme+":/"):
			return full + s[len(scheme)+2:]
		case strings.HasPrefix(lower, scheme+":"):
			return full + s[len(scheme)+1:]
		}
	}
	return s
}

// =============================================================================
// IMAGE DETECTION
// =============================================================================

// imageURL matches a backend image URL, tolerating a damaged scheme.
const imageURL = `https?:/{0,2}[^\s"'<>()\[\]/]+:\d+/images/[^\s"'<>()\[\]]+`

var (
	imgTagPattern    = regexp.MustCompile(`(?i)<img\b[^>]*>`)
	doubledPattern   = regexp.MustCompile(`\[(` + imageURL + `)\]\((` + imageURL + `)\)`)
	markdownPattern  = regexp.MustCompile(`!?\[([^\]\n]*)\]\((` + imageURL + `)\)`)
	bareImagePattern = regexp.MustCompile(imageURL)
	openImgPattern   = regexp.MustCompile(`(?i)<(img\b)`)
)

const defaultAlt = "image"

// ImageTag renders an <img> element for src with the proxy applied.
func ImageTag(src, alt string, proxy ImageProxy) string {
	if strings.TrimSpace(alt) == "" {
		alt = defaultAlt
	}
	return `<img src="` + html.EscapeString(proxy.Rewrite(src)) + `" alt="` + html.EscapeString(alt) + `" class="chat-image" loading="lazy">`
}

// StandaloneImage wraps ImageTag in the block container used for images
// that stand on their own rather than inside a markdown link.
func StandaloneImage(src string, proxy ImageProxy) string {
	return `<div class="chat-image-wrapper">` + ImageTag(src, defaultAlt, proxy) + `</div>`
}

// protectImageTags hides complete <img> tags and escapes an unclosed one so
// a half-received tag is shown as text, never as a broken element.
func protectImageTags(s string, p *Protector) string {
	s = p.ProtectAll(s, KindImage, imgTagPattern)
	return openImgPattern.ReplaceAllString(s, "&lt;$1")
}

// detectImages converts backend image URLs to protected <img> tokens. Each
// line is handled by the first pattern that matches it: doubled
// [URL](URL), then markdown links, then bare URLs.
func detectImages(text string, p *Protector, proxy ImageProxy) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if !strings.Contains(line, "/images/") {
			continue
		}
		lines[i] = detectLine(line, p, proxy)
	}
	return strings.Join(lines, "\n")
}

func detectLine(line string, p *Protector, proxy ImageProxy) string {
	if doubledPattern.MatchString(line) {
		replaced := false
		out := doubledPattern.ReplaceAllStringFunc(line, func(m string) string {
			sub := doubledPattern.FindStringSubmatch(m)
			if sameImage(sub[1], sub[2]) {
				replaced = true
				return string(p.Protect(KindImage, StandaloneImage(sub[2], proxy)))
			}
			return m
		})
		if replaced {
			return out
		}
	}

	if markdownPattern.MatchString(line) {
		return markdownPattern.ReplaceAllStringFunc(line, func(m string) string {
			sub := markdownPattern.FindStringSubmatch(m)
			alt := strings.TrimSpace(sub[1])
			if alt == "" || IsBackendImage(alt) {
				alt = defaultAlt
			}
			return string(p.Protect(KindImage, ImageTag(sub[2], alt, proxy)))
		})
	}

	return bareImagePattern.ReplaceAllStringFunc(line, func(m string) string {
		return string(p.Protect(KindImage, StandaloneImage(m, proxy)))
	})
}

func sameImage(a, b string) bool {
	ma := backendImagePattern.FindStringSubmatch(CleanImageURL(a))
	mb := backendImagePattern.FindStringSubmatch(CleanImageURL(b))
	if ma == nil || mb == nil {
		return CleanImageURL(a) == CleanImageURL(b)
	}
	return ma[1] == mb[1]
}
