// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markup

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind groups protected spans so they can be restored in a fixed order.
type Kind string

const (
	KindImage Kind = "img"
	KindMath  Kind = "math"
	KindCode  Kind = "code"
	KindTable Kind = "table"
)

// Token delimiters are private-use runes. They are stripped from every input
// before the first stage runs, so a delimiter in the text is always one of ours.
const (
	tokenOpen  = '\uE000'
	tokenClose = '\uE001'
)

// Token is an opaque stand-in for a protected span.
type Token string

var tokenPattern = regexp.MustCompile("\uE000([a-z]+)([0-9]+)\uE001")

// Protector swaps markup spans for tokens and back. One Protector serves a
// single Render call.
type Protector struct {
	spans map[Kind][]string
}

// NewProtector returns an empty Protector.
func NewProtector() *Protector {
	return &Protector{spans: make(map[Kind][]string)}
}

// Protect stores markup and returns the token that replaces it.
func (p *Protector) Protect(kind Kind, markup string) Token {
	idx := len(p.spans[kind])
	p.spans[kind] = append(p.spans[kind], markup)
	return Token(string(tokenOpen) + string(kind) + strconv.Itoa(idx) + string(tokenClose))
}

// ProtectAll replaces every match of re in text with a token of kind.
func (p *Protector) ProtectAll(text string, kind Kind, re *regexp.Regexp) string {
	return re.ReplaceAllStringFunc(text, func(m string) string {
		return string(p.Protect(kind, m))
	})
}

// Restore puts back the spans of kind, including spans of the same kind
// nested inside each other. Tokens of other kinds are left for their own
// Restore call.
func (p *Protector) Restore(text string, kind Kind) string {
	spans := p.spans[kind]
	if len(spans) == 0 {
		return text
	}
	for depth := 0; depth <= len(spans); depth++ {
		found := false
		text = tokenPattern.ReplaceAllStringFunc(text, func(tok string) string {
			m := tokenPattern.FindStringSubmatch(tok)
			if Kind(m[1]) != kind {
				return tok
			}
			found = true
			idx, err := strconv.Atoi(m[2])
			if err != nil || idx >= len(spans) {
				return ""
			}
			return spans[idx]
		})
		if !found {
			break
		}
	}
	return text
}

// Len returns the number of spans protected under kind.
func (p *Protector) Len(kind Kind) int {
	return len(p.spans[kind])
}

// HasTokens reports whether text still contains a token delimiter.
func HasTokens(text string) bool {
	return strings.ContainsRune(text, tokenOpen) || strings.ContainsRune(text, tokenClose)
}

func stripTokenRunes(text string) string {
	if !HasTokens(text) {
		return text
	}
	return strings.Map(func(r rune) rune {
		if r == tokenOpen || r == tokenClose {
			return -1
		}
		return r
	}, text)
}
