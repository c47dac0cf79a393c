// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package termtext

import (
	"io"
	"strings"
	"sync"

	"github.com/jeranaias/ragchat/internal/markup"
)

// clearLine returns the cursor to column 0 and erases the line.
const clearLine = "\r\x1b[K"

// =============================================================================
// STREAM PRINTER
// =============================================================================

// Printer is a render target for line-mode terminals. Each update prints the
// plain text not yet on screen. Lines that have been ended with a newline
// are final; the line still being written is redrawn in place when a later
// update changes it (a closing ** turning literal asterisks into bold text,
// for example).
type Printer struct {
	mu        sync.Mutex
	w         io.Writer
	markup    string
	committed []string
	live      string
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// SetMarkup implements render.Target.
func (p *Printer) SetMarkup(m string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markup = m

	lines := strings.Split(markup.PlainText(m), "\n")
	for i := len(p.committed); i < len(lines); i++ {
		p.writeLive(lines[i])
		if i < len(lines)-1 {
			_, _ = io.WriteString(p.w, "\n")
			p.committed = append(p.committed, p.live)
			p.live = ""
		}
	}
}

func (p *Printer) writeLive(line string) {
	switch {
	case line == p.live:
		return
	case strings.HasPrefix(line, p.live):
		_, _ = io.WriteString(p.w, line[len(p.live):])
	default:
		_, _ = io.WriteString(p.w, clearLine+line)
	}
	p.live = line
}

// CurrentMarkup implements render.Target.
func (p *Printer) CurrentMarkup() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.markup
}

// Printed returns the text on screen.
func (p *Printer) Printed() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(append(append([]string(nil), p.committed...), p.live), "\n")
}
