// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package finalize

import (
	"html"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ragchat/internal/markup"
	"github.com/jeranaias/ragchat/internal/render"
)

func targetWith(markup string) *render.MemoryTarget {
	t := &render.MemoryTarget{}
	t.SetMarkup(markup)
	return t
}

// =============================================================================
// CAPTURE
// =============================================================================

func TestCaptureCompleted(t *testing.T) {
	header := ReferencesMarkup([]Reference{{Filename: "hours.pdf"}}, "참고 문서")
	body := "운영시간은 <strong>06:00</strong>입니다."

	out := Capture(Input{
		Target: targetWith(header + body),
		Header: header,
		Raw:    "운영시간은 **06:00**입니다.",
	})

	assert.Equal(t, body, out.Content)
	require.NotNil(t, out.ReferencedDocs)
	assert.Equal(t, header, *out.ReferencedDocs)
	assert.False(t, out.FromRaw)
}

func TestCapturePartialAppendsMarker(t *testing.T) {
	out := Capture(Input{
		Target:        targetWith("운영시간은"),
		Raw:           "운영시간은 06:00",
		Partial:       true,
		StoppedMarker: StoppedMarker("en"),
	})

	assert.Equal(t, "운영시간은"+StoppedMarkup("(Stopped by user)"), out.Content)
	assert.Nil(t, out.ReferencedDocs)
}

func TestCapturePartialBeforeAnyOutput(t *testing.T) {
	out := Capture(Input{Target: &render.MemoryTarget{}, Partial: true})
	assert.NotEmpty(t, out.Content)
	assert.Contains(t, out.Content, StoppedMarker("ko"))
}

func TestCaptureFallsBackToRaw(t *testing.T) {
	out := Capture(Input{
		Target: &render.MemoryTarget{},
		Raw:    "**hi** there",
	})
	assert.Equal(t, "<strong>hi</strong> there", out.Content)
	assert.True(t, out.FromRaw)
}

func TestCaptureIgnoresRawWhenTargetHasContent(t *testing.T) {
	out := Capture(Input{
		Target: targetWith("displayed"),
		Raw:    "something else entirely",
	})
	assert.Equal(t, "displayed", out.Content)
}

func TestCaptureSanitizes(t *testing.T) {
	out := Capture(Input{Target: targetWith(`<p>hi</p><script>alert(1)</script>`)})
	assert.Equal(t, "<p>hi</p>", out.Content)
}

func TestCaptureSanitizesMostlyScriptMessage(t *testing.T) {
	displayed := "<p>ok</p><script>" + strings.Repeat("steal(document.cookie);", 20) + "</script>"
	require.Greater(t, len(displayed), guardMinInput)

	out := Capture(Input{Target: targetWith(displayed)})
	assert.Equal(t, "<p>ok</p>", out.Content)
}

func TestCaptureEscapesWhenSanitizerPanics(t *testing.T) {
	prev := sanitizeFunc
	sanitizeFunc = func(string) string { panic("policy failure") }
	t.Cleanup(func() { sanitizeFunc = prev })

	out := Capture(Input{Target: targetWith(`<p>hi</p><script>alert(1)</script>`)})
	assert.Equal(t, html.EscapeString(`<p>hi</p><script>alert(1)</script>`), out.Content)
}

func TestCapturePartialKeepsDisplayedText(t *testing.T) {
	displayed := `<p>Gate "12" &amp; lounge</p>`
	marker := StoppedMarker("en")

	out := Capture(Input{Target: targetWith(displayed), Partial: true, StoppedMarker: marker})

	body, ok := strings.CutSuffix(out.Content, StoppedMarkup(marker))
	require.True(t, ok)
	assert.NotEqual(t, displayed, body, "entities are re-encoded")
	assert.Equal(t, markup.PlainText(displayed), markup.PlainText(body))
}

func TestCaptureKeepsPipelineMarkup(t *testing.T) {
	rendered := markup.Render("# Title\n`ls -la` and \\(x^2\\)\n![map](http://10.0.0.5:8000/images/map.png)",
		markup.Options{WithImages: true})
	out := Capture(Input{Target: targetWith(rendered)})

	assert.Contains(t, out.Content, "<h1>Title</h1>")
	assert.Contains(t, out.Content, "<code>ls -la</code>")
	assert.Contains(t, out.Content, `class="math-inline"`)
	assert.Contains(t, out.Content, `src="/api/image-proxy?path=%2Fimages%2Fmap.png"`)
	assert.Contains(t, out.Content, `class="chat-image"`)
}

// =============================================================================
// FIX-UPS
// =============================================================================

func TestFixImageTags(t *testing.T) {
	proxy := markup.DefaultProxy()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "doubled quotes and glued attribute",
			input: `<img src=""http://10.0.0.5:8000/images/a.png""alt="x">`,
			want:  `<img src="/api/image-proxy?path=%2Fimages%2Fa.png" alt="x">`,
		},
		{
			name:  "unproxied backend url",
			input: `<img src="http://10.0.0.5:8000/images/b.png" alt="">`,
			want:  `<img src="/api/image-proxy?path=%2Fimages%2Fb.png" alt="">`,
		},
		{
			name:  "already proxied",
			input: `<img src="/api/image-proxy?path=%2Fimages%2Fc.png">`,
			want:  `<img src="/api/image-proxy?path=%2Fimages%2Fc.png">`,
		},
		{
			name:  "external image untouched",
			input: `<img src="https://example.com/x.png">`,
			want:  `<img src="https://example.com/x.png">`,
		},
		{
			name:  "no images",
			input: "plain",
			want:  "plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fixImageTags(tt.input, proxy); got != tt.want {
				t.Errorf("fixImageTags() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStripMathArtifacts(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "inline container with latex attribute",
			input: `x <mjx-container class="MathJax" data-latex="a^2"><mjx-math>junk</mjx-math></mjx-container> y`,
			want:  `x \(a^2\) y`,
		},
		{
			name:  "display container",
			input: `<mjx-container display="true" data-latex="E=mc^2"><mjx-math/></mjx-container>`,
			want:  `\[E=mc^2\]`,
		},
		{
			name:  "plain text fallback",
			input: `<mjx-container><mjx-assistive-mml>x+y</mjx-assistive-mml></mjx-container>`,
			want:  `\(x+y\)`,
		},
		{
			name:  "tex script",
			input: `<script type="math/tex; mode=display">a<b</script>`,
			want:  `\[a&lt;b\]`,
		},
		{
			name:  "untouched",
			input: `<span class="math-inline">\(x\)</span>`,
			want:  `<span class="math-inline">\(x\)</span>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripMathArtifacts(tt.input); got != tt.want {
				t.Errorf("stripMathArtifacts() = %q, want %q", got, tt.want)
			}
		})
	}
}

// =============================================================================
// LOSS GUARD
// =============================================================================

func TestGuardedKeepsInputOnLargeLoss(t *testing.T) {
	big := strings.Repeat("content ", 40)
	drop := func(string) string { return "x" }

	assert.Equal(t, big, guarded("drop", big, drop), "step that drops most of a large input is rejected")
	assert.Equal(t, "x", guarded("drop", "short input", drop), "small inputs may shrink")

	keep := func(s string) string { return s[:len(s)/2] }
	assert.Equal(t, big[:len(big)/2], guarded("half", big, keep))
}

func TestGuardedRecoversPanics(t *testing.T) {
	got := guarded("boom", "input", func(string) string { panic("bad") })
	assert.Equal(t, "input", got)
}

// =============================================================================
// REFERENCES
// =============================================================================

func TestReferencesMarkup(t *testing.T) {
	page := 3
	refs := []Reference{
		{Filename: "hours.pdf", PageNumber: &page, SectionTitle: "Parking"},
		{Filename: "hours.pdf", PageNumber: &page, SectionTitle: "Parking"},
		{Filename: ""},
		{Filename: "a<b>.txt"},
	}

	got := ReferencesMarkup(refs, "")
	want := `<div class="referenced-docs"><div class="referenced-docs-title">참고 문서</div><ul>` +
		`<li>hours.pdf (p. 3) - Parking</li><li>a&lt;b&gt;.txt</li></ul></div>`
	assert.Equal(t, want, got)

	assert.Empty(t, ReferencesMarkup(nil, "x"))
}

func TestLocalizedStrings(t *testing.T) {
	assert.Equal(t, "(Stopped by user)", StoppedMarker("en"))
	assert.Equal(t, StoppedMarker("ko"), StoppedMarker("fr"))
	assert.Equal(t, "Referenced documents", ReferencesTitle("en"))
}
