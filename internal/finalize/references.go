// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package finalize

import (
	"fmt"
	"html"
	"strings"
)

// Reference is one document the answer was drawn from.
type Reference struct {
	Filename     string
	PageNumber   *int
	SectionTitle string
}

// Label renders the reference as "file.pdf (p. 3) - Section".
func (r Reference) Label() string {
	label := r.Filename
	if r.PageNumber != nil {
		label += fmt.Sprintf(" (p. %d)", *r.PageNumber)
	}
	if r.SectionTitle != "" {
		label += " - " + r.SectionTitle
	}
	return label
}

// ReferencesMarkup builds the referenced-documents block shown above an
// answer. Duplicates are listed once; an empty list yields "".
func ReferencesMarkup(refs []Reference, title string) string {
	seen := make(map[string]bool, len(refs))
	var items []string
	for _, r := range refs {
		if strings.TrimSpace(r.Filename) == "" {
			continue
		}
		label := r.Label()
		if seen[label] {
			continue
		}
		seen[label] = true
		items = append(items, "<li>"+html.EscapeString(label)+"</li>")
	}
	if len(items) == 0 {
		return ""
	}
	if title == "" {
		title = ReferencesTitle("")
	}
	return `<div class="referenced-docs"><div class="referenced-docs-title">` +
		html.EscapeString(title) + `</div><ul>` + strings.Join(items, "") + `</ul></div>`
}

// =============================================================================
// LOCALIZED STRINGS
// =============================================================================

var (
	stoppedMarkers = map[string]string{
		"ko": "(사용자에 의해 답변이 중지되었습니다)",
		"en": "(Stopped by user)",
	}
	referenceTitles = map[string]string{
		"ko": "참고 문서",
		"en": "Referenced documents",
	}
)

// StoppedMarker returns the cancellation marker for locale (default Korean).
func StoppedMarker(locale string) string {
	if s, ok := stoppedMarkers[locale]; ok {
		return s
	}
	return stoppedMarkers["ko"]
}

// ReferencesTitle returns the references block heading for locale.
func ReferencesTitle(locale string) string {
	if s, ok := referenceTitles[locale]; ok {
		return s
	}
	return referenceTitles["ko"]
}
