// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package glossary

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Rewrite annotates every glossary term found in query with its values, as
// in "김포공항(GMP, Gimpo)". Matching ignores case and whitespace and prefers
// the longest term; annotations are inserted into the original text so its
// casing and spacing survive. Compound and pairwise rules then collapse
// adjacent annotations. A query without any term is returned unchanged.
func Rewrite(query string, g *Glossary) string {
	if g.Len() == 0 || strings.TrimSpace(query) == "" {
		return query
	}

	text := norm.NFC.String(query)
	matches := g.scan(text)
	if len(matches) == 0 {
		return query
	}

	out := applyMatches(text, matches)
	out = g.applyCompounds(out)
	out = g.applyIntersections(out)
	return out
}

// =============================================================================
// COMPACT SCAN
// =============================================================================

// compactText is the whitespace-free, lowercased form of a string with the
// byte span each compact rune occupies in the original.
type compactText struct {
	runes  []rune
	starts []int
	ends   []int
}

func newCompactText(s string) compactText {
	var c compactText
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !unicode.IsSpace(r) {
			c.runes = append(c.runes, unicode.ToLower(r))
			c.starts = append(c.starts, i)
			c.ends = append(c.ends, i+size)
		}
		i += size
	}
	return c
}

type match struct {
	start, end int // byte offsets in the original text
	values     []string
}

// scan finds non-overlapping occurrences of every single term, longest
// terms first. An occurrence touching a span already claimed by a longer
// term is skipped.
func (g *Glossary) scan(text string) []match {
	c := newCompactText(text)
	claimed := make([]bool, len(c.runes))

	var found []match
	for _, t := range g.singles {
		n := len(t.compact)
		if n == 0 || n > len(c.runes) {
			continue
		}
		for pos := 0; pos+n <= len(c.runes); {
			if !equalRunes(c.runes[pos:pos+n], t.compact) {
				pos++
				continue
			}
			if !anyClaimed(claimed[pos : pos+n]) {
				for i := pos; i < pos+n; i++ {
					claimed[i] = true
				}
				found = append(found, match{start: c.starts[pos], end: c.ends[pos+n-1], values: t.values})
			}
			pos += n
		}
	}
	return found
}

// applyMatches inserts annotations back to front so pending offsets stay valid.
func applyMatches(text string, matches []match) string {
	sort.Slice(matches, func(i, j int) bool { return matches[i].start > matches[j].start })
	out := text
	for _, m := range matches {
		out = out[:m.start] + annotate(out[m.start:m.end], m.values) + out[m.end:]
	}
	return out
}

func equalRunes(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func anyClaimed(span []bool) bool {
	for _, c := range span {
		if c {
			return true
		}
	}
	return false
}

// =============================================================================
// COLLAPSE RULES
// =============================================================================

// applyCompounds replaces the annotated components of a multi-word term,
// "A(1, 2) B(3)", with the term's own annotation, "AB(9)".
func (g *Glossary) applyCompounds(text string) string {
	for _, rule := range g.compounds {
		text = replaceGroups(rule.re, text, rule.values)
	}
	return text
}

// applyIntersections collapses "A(1, 2) B(2, 3)" into "AB(2)" for every
// ordered pair of single-word terms whose value lists intersect.
func (g *Glossary) applyIntersections(text string) string {
	compact := compactLower(text)
	var present []string
	for key, form := range g.annotated {
		if strings.Contains(compact, compactLower(form)) {
			present = append(present, key)
		}
	}
	if len(present) < 2 {
		return text
	}
	sort.Strings(present)

	for _, k1 := range present {
		for _, k2 := range present {
			if k1 == k2 {
				continue
			}
			shared := intersect(g.entries[k1], g.entries[k2])
			if len(shared) == 0 {
				continue
			}
			text = replaceGroups(g.pairPattern(k1, k2), text, shared)
		}
	}
	return text
}

// replaceGroups rewrites each match of re as its concatenated capture
// groups followed by an annotation built from values.
func replaceGroups(re *regexp.Regexp, text string, values []string) string {
	return re.ReplaceAllStringFunc(text, func(m string) string {
		sub := re.FindStringSubmatch(m)
		if sub == nil {
			return m
		}
		return annotate(strings.Join(sub[1:], ""), values)
	})
}

func compactLower(s string) string {
	return string(compactKey(s))
}

// =============================================================================
// ANNOTATION STRIPPING
// =============================================================================

var annotationPattern = regexp.MustCompile(`(\S)\([^()]*\)`)

// StripAnnotations removes "(v1, v2)" groups attached to a preceding word,
// turning a rewritten query back into readable text.
func StripAnnotations(text string) string {
	for {
		next := annotationPattern.ReplaceAllString(text, "$1")
		if next == text {
			return next
		}
		text = next
	}
}
