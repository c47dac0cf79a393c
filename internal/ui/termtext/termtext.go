// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package termtext

import (
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"
	"golang.org/x/net/html"

	"github.com/jeranaias/ragchat/internal/ui/styles"
)

// =============================================================================
// RENDERING
// =============================================================================

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Render turns answer markup into styled terminal text wrapped at width
// (0 disables wrapping). Unknown tags are dropped and their text kept.
func Render(markup string, theme *styles.Theme, width int) string {
	if strings.TrimSpace(markup) == "" {
		return ""
	}
	r := &renderer{theme: theme}
	r.run(markup)

	out := blankRuns.ReplaceAllString(r.out.String(), "\n\n")
	out = strings.Trim(out, "\n")
	if width > 0 {
		out = wrap.String(wordwrap.String(out, width), width)
	}
	return out
}

type renderer struct {
	theme *styles.Theme
	out   strings.Builder

	// inline is the stack of open inline styles, innermost last.
	inline []inlineStyle
	pre    int
	list   []int // per open list: 0 for <ul>, next number for <ol>

	table  *tableState
	href   string
	linked bool
}

type inlineStyle struct {
	tag   string
	style lipgloss.Style
}

type tableState struct {
	header []string
	rows   [][]string
	row    []string
	cell   strings.Builder
	inCell bool
	isHead bool
}

func (r *renderer) run(markup string) {
	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				r.text(markup)
			}
			r.flushTable()
			return
		case html.TextToken:
			r.text(string(z.Text()))
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			attrs := map[string]string{}
			for hasAttr {
				var k, v []byte
				k, v, hasAttr = z.TagAttr()
				attrs[string(k)] = string(v)
			}
			r.start(string(name), attrs)
		case html.EndTagToken:
			name, _ := z.TagName()
			r.end(string(name))
		}
	}
}

func (r *renderer) start(tag string, attrs map[string]string) {
	t := r.theme
	class := attrs["class"]

	switch tag {
	case "br":
		r.write("\n")
	case "hr":
		r.block()
		r.write(t.Rule.Render(strings.Repeat("─", 24)))
		r.block()
	case "h1", "h2", "h3", "h4", "h5", "h6":
		r.block()
		r.push(tag, t.Heading)
	case "p":
		r.block()
	case "div":
		r.block()
		switch class {
		case "referenced-docs":
			r.push(tag, t.References)
		case "referenced-docs-title":
			r.push(tag, t.ReferencesTitle)
		default:
			r.push(tag, lipgloss.NewStyle())
		}
	case "strong", "b":
		r.push(tag, t.Strong)
	case "em", "i":
		if class == "stopped-marker" {
			r.push(tag, t.Stopped)
		} else {
			r.push(tag, t.Emphasis)
		}
	case "code":
		r.push(tag, t.Code)
	case "pre":
		r.block()
		r.pre++
	case "a":
		r.href = attrs["href"]
		r.linked = false
		r.push(tag, t.Link)
	case "img":
		label := attrs["alt"]
		if label == "" {
			label = attrs["src"]
		}
		r.write(t.Image.Render("[image: " + label + "]"))
	case "ul":
		r.block()
		r.list = append(r.list, 0)
	case "ol":
		r.block()
		r.list = append(r.list, 1)
	case "li":
		r.newline()
		r.listMarker()
	case "table":
		r.block()
		r.table = &tableState{}
	case "tr":
		if r.table != nil {
			r.table.row = nil
			r.table.isHead = false
		}
	case "th", "td":
		if r.table != nil {
			r.table.inCell = true
			r.table.cell.Reset()
			if tag == "th" {
				r.table.isHead = true
			}
		}
	}
}

func (r *renderer) end(tag string) {
	switch tag {
	case "h1", "h2", "h3", "h4", "h5", "h6", "p":
		r.pop(tag)
		r.block()
	case "div":
		r.pop(tag)
		r.newline()
	case "strong", "b", "em", "i", "code":
		r.pop(tag)
	case "pre":
		if r.pre > 0 {
			r.pre--
		}
		r.block()
	case "a":
		r.pop(tag)
		if r.href != "" && !r.linked {
			r.write(" (" + r.href + ")")
		}
		r.href = ""
	case "ul", "ol":
		if n := len(r.list); n > 0 {
			r.list = r.list[:n-1]
		}
		r.block()
	case "th", "td":
		if r.table != nil && r.table.inCell {
			r.table.row = append(r.table.row, strings.TrimSpace(r.table.cell.String()))
			r.table.inCell = false
		}
	case "tr":
		if ts := r.table; ts != nil && ts.row != nil {
			if ts.isHead && ts.header == nil {
				ts.header = ts.row
			} else {
				ts.rows = append(ts.rows, ts.row)
			}
			ts.row = nil
		}
	case "table":
		r.flushTable()
		r.block()
	}
}

// text writes a text run with the open inline styles applied.
func (r *renderer) text(s string) {
	if s == "" {
		return
	}
	if ts := r.table; ts != nil {
		if ts.inCell {
			ts.cell.WriteString(s)
		}
		return
	}
	if r.pre == 0 {
		s = strings.ReplaceAll(s, "\n", " ")
	}
	if r.href != "" && strings.TrimSpace(s) == r.href {
		r.linked = true
	}

	style := r.current()
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if i > 0 {
			r.write("\n")
		}
		if line != "" {
			r.write(style.Render(line))
		}
	}
}

func (r *renderer) current() lipgloss.Style {
	style := lipgloss.NewStyle()
	for i := len(r.inline) - 1; i >= 0; i-- {
		style = style.Inherit(r.inline[i].style)
	}
	return style
}

func (r *renderer) push(tag string, style lipgloss.Style) {
	r.inline = append(r.inline, inlineStyle{tag: tag, style: style})
}

// pop closes the innermost open tag of that name.
func (r *renderer) pop(tag string) {
	for i := len(r.inline) - 1; i >= 0; i-- {
		if r.inline[i].tag == tag {
			r.inline = append(r.inline[:i], r.inline[i+1:]...)
			return
		}
	}
}

func (r *renderer) listMarker() {
	indent := ""
	if n := len(r.list); n > 1 {
		indent = strings.Repeat("  ", n-1)
	}
	if n := len(r.list); n > 0 && r.list[n-1] > 0 {
		r.write(indent + r.theme.Bullet.Render(strconv.Itoa(r.list[n-1])+".") + " ")
		r.list[n-1]++
		return
	}
	r.write(indent + r.theme.Bullet.Render("•") + " ")
}

func (r *renderer) flushTable() {
	ts := r.table
	if ts == nil {
		return
	}
	r.table = nil
	if ts.header == nil && len(ts.rows) == 0 {
		return
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(r.theme.TableBorder).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.theme.TableHeader
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	if ts.header != nil {
		t = t.Headers(ts.header...)
	}
	t = t.Rows(ts.rows...)
	r.write(t.String())
	r.block()
}

func (r *renderer) write(s string) {
	r.out.WriteString(s)
}

// newline ends the current line unless it is already ended.
func (r *renderer) newline() {
	s := r.out.String()
	if s != "" && !strings.HasSuffix(s, "\n") {
		r.out.WriteByte('\n')
	}
}

// block leaves one blank line before the next block.
func (r *renderer) block() {
	s := r.out.String()
	if s == "" || strings.HasSuffix(s, "\n\n") {
		return
	}
	if strings.HasSuffix(s, "\n") {
		r.out.WriteByte('\n')
		return
	}
	r.out.WriteString("\n\n")
}
