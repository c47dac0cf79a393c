// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package glossary

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// TYPES
// =============================================================================

// Entry is one facility definition: a phrase and its canonical expansions.
type Entry struct {
	Key    string   `json:"key" yaml:"key" toml:"key"`
	Values []string `json:"values" yaml:"values" toml:"values"`
}

// Glossary is an immutable snapshot of facility definitions. Build one with
// New; a snapshot never changes after construction, so it can be shared
// freely between goroutines.
type Glossary struct {
	entries map[string][]string

	// singles are keys matched by the compact scan, longest compact form first.
	singles []term
	// compounds collapse annotated component terms into one annotation.
	compounds []compoundRule
	// annotated maps a single key to its lowercased annotated form, used to
	// prefilter pairwise rules.
	annotated map[string]string

	pairMu    sync.Mutex
	pairCache map[[2]string]*regexp.Regexp
}

type term struct {
	key     string
	compact []rune
	values  []string
}

type compoundRule struct {
	key    string
	re     *regexp.Regexp
	values []string
}

// New builds a snapshot. Keys and values are NFC-normalised and trimmed;
// empty values are dropped and keys left without values are skipped.
func New(entries map[string][]string) *Glossary {
	g := &Glossary{
		entries:   make(map[string][]string, len(entries)),
		annotated: make(map[string]string),
		pairCache: make(map[[2]string]*regexp.Regexp),
	}

	for rawKey, rawValues := range entries {
		key := strings.Join(strings.Fields(norm.NFC.String(rawKey)), " ")
		if key == "" {
			continue
		}
		values := cleanValues(rawValues)
		if len(values) == 0 {
			continue
		}
		g.entries[key] = values
	}

	for key, values := range g.entries {
		if strings.Contains(key, " ") && g.partsDefined(key) {
			continue
		}
		g.singles = append(g.singles, term{key: key, compact: compactKey(key), values: values})
		if !strings.Contains(key, " ") {
			g.annotated[key] = strings.ToLower(annotate(key, values))
		}
	}
	sort.Slice(g.singles, func(i, j int) bool {
		if len(g.singles[i].compact) != len(g.singles[j].compact) {
			return len(g.singles[i].compact) > len(g.singles[j].compact)
		}
		return g.singles[i].key < g.singles[j].key
	})

	for key, values := range g.entries {
		if !strings.Contains(key, " ") || !g.partsDefined(key) {
			continue
		}
		g.compounds = append(g.compounds, compoundRule{key: key, re: g.compoundPattern(key), values: values})
	}
	sort.Slice(g.compounds, func(i, j int) bool {
		if len(g.compounds[i].key) != len(g.compounds[j].key) {
			return len(g.compounds[i].key) > len(g.compounds[j].key)
		}
		return g.compounds[i].key < g.compounds[j].key
	})

	return g
}

// Empty returns a snapshot with no definitions.
func Empty() *Glossary {
	return New(nil)
}

// Len returns the number of usable definitions.
func (g *Glossary) Len() int {
	if g == nil {
		return 0
	}
	return len(g.entries)
}

// Values returns the expansions for key, matched case- and space-insensitively.
func (g *Glossary) Values(key string) ([]string, bool) {
	if g == nil {
		return nil, false
	}
	want := string(compactKey(key))
	for k, v := range g.entries {
		if string(compactKey(k)) == want {
			return append([]string(nil), v...), true
		}
	}
	return nil, false
}

// Entries returns the definitions sorted by key.
func (g *Glossary) Entries() []Entry {
	if g == nil {
		return nil
	}
	out := make([]Entry, 0, len(g.entries))
	for k, v := range g.entries {
		out = append(out, Entry{Key: k, Values: append([]string(nil), v...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// =============================================================================
// HELPERS
// =============================================================================

func cleanValues(values []string) []string {
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(norm.NFC.String(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// partsDefined reports whether every word of a multi-word key is itself a
// single-word definition, in which case the key acts only through its
// compound rule.
func (g *Glossary) partsDefined(key string) bool {
	for _, part := range strings.Fields(key) {
		if _, ok := g.entries[part]; !ok {
			return false
		}
	}
	return true
}

func annotate(text string, values []string) string {
	return text + "(" + strings.Join(values, ", ") + ")"
}

// compactKey lowercases s and drops whitespace.
func compactKey(s string) []rune {
	s = norm.NFC.String(s)
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		out = append(out, unicode.ToLower(r))
	}
	return out
}

// spacedPattern matches the characters of s in order with optional
// whitespace between them.
func spacedPattern(s string) string {
	var parts []string
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if !unicode.IsSpace(r) {
			parts = append(parts, regexp.QuoteMeta(s[:size]))
		}
		s = s[size:]
	}
	return strings.Join(parts, `\s*`)
}

func (g *Glossary) compoundPattern(key string) *regexp.Regexp {
	var sb strings.Builder
	sb.WriteString(`(?i)`)
	for i, part := range strings.Fields(key) {
		if i > 0 {
			sb.WriteString(`\s*`)
		}
		sb.WriteString(`(` + spacedPattern(part) + `)`)
		sb.WriteString(regexp.QuoteMeta("(" + strings.Join(g.entries[part], ", ") + ")"))
	}
	return regexp.MustCompile(sb.String())
}

func (g *Glossary) pairPattern(k1, k2 string) *regexp.Regexp {
	g.pairMu.Lock()
	defer g.pairMu.Unlock()

	id := [2]string{k1, k2}
	if re, ok := g.pairCache[id]; ok {
		return re
	}
	re := regexp.MustCompile(`(?i)(` + spacedPattern(k1) + `)` +
		regexp.QuoteMeta("("+strings.Join(g.entries[k1], ", ")+")") +
		`\s*(` + spacedPattern(k2) + `)` +
		regexp.QuoteMeta("("+strings.Join(g.entries[k2], ", ")+")"))
	g.pairCache[id] = re
	return re
}

func intersect(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, v := range b {
		in[v] = true
	}
	var out []string
	for _, v := range a {
		if in[v] {
			out = append(out, v)
			delete(in, v)
		}
	}
	return out
}
