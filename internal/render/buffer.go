// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"

	"github.com/jeranaias/ragchat/internal/markup"
	"github.com/jeranaias/ragchat/internal/util"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

const (
	// DefaultTickInterval is the reveal cadence (~33 steps per second).
	DefaultTickInterval = 30 * time.Millisecond

	// narrowRunStep is how many ASCII letters, digits or spaces one tick
	// reveals; wide characters reveal one per tick.
	narrowRunStep = 3
)

// Config configures a Buffer.
type Config struct {
	TickInterval time.Duration
	Markup       markup.Options
	Clock        clockwork.Clock
}

// =============================================================================
// BUFFER
// =============================================================================

// Buffer reveals a growing answer on a Target at a steady rate, independent
// of how the network delivers it. The displayed markup is always the
// pipeline rendering of a prefix of the received text, cut before any
// half-received <img tag.
//
// Buffer is safe for concurrent use: OnAppend is called from the stream
// reader while ticks run on timer goroutines.
type Buffer struct {
	mu     sync.Mutex
	target Target
	cfg    Config
	clock  clockwork.Clock

	raw      string
	rendered int // bytes of raw revealed so far
	header   string

	timer     clockwork.Timer
	scheduled bool
	stopped   bool
	idle      chan struct{}
}

// New creates a Buffer writing to target.
func New(target Target, cfg Config) *Buffer {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Buffer{
		target: target,
		cfg:    cfg,
		clock:  cfg.Clock,
		idle:   closedChan(),
	}
}

// SetHeader sets markup shown above the answer, such as the referenced
// documents block, and redraws immediately.
func (b *Buffer) SetHeader(header string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.header = header
	b.target.SetMarkup(b.header + b.renderPrefix(b.rendered, true))
}

// Header returns the markup set with SetHeader.
func (b *Buffer) Header() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.header
}

// OnAppend is called with the whole received text every time it grows.
// A shorter buffer than already seen is ignored; received text never shrinks.
func (b *Buffer) OnAppend(buffer string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped || len(buffer) < len(b.raw) {
		return
	}
	b.raw = buffer
	if b.rendered < len(b.raw) && !b.scheduled {
		b.schedule()
	}
}

// Typeset asks the target to lay out math, if it can.
func (b *Buffer) Typeset() {
	if ts, ok := b.target.(Typesetter); ok {
		ts.Typeset()
	}
}

// Rendered returns how many bytes of the received text have been revealed.
func (b *Buffer) Rendered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rendered
}

// Len returns how many bytes have been received.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.raw)
}

// Raw returns the received text.
func (b *Buffer) Raw() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.raw
}

// Drain waits until everything received so far has been revealed, or ctx ends.
func (b *Buffer) Drain(ctx context.Context) error {
	b.mu.Lock()
	idle := b.idle
	b.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finalize stops the reveal and renders the complete buffer at once.
// It returns the body markup (without header).
func (b *Buffer) Finalize(buffer string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cancelTimer()
	if len(buffer) >= len(b.raw) {
		b.raw = buffer
	}
	b.rendered = len(b.raw)
	b.stopped = true
	body := b.renderPrefix(b.rendered, false)
	b.target.SetMarkup(b.header + body)
	b.markIdle()

	if markup.HasMathDelimiter(b.raw) {
		b.Typeset()
	}
	return body
}

// Stop freezes the display where it is. Used on cancellation, where the
// partially revealed answer is what gets kept.
func (b *Buffer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelTimer()
	b.stopped = true
	b.markIdle()
}

// =============================================================================
// TICK
// =============================================================================

// schedule arms the next tick. Caller holds mu.
func (b *Buffer) schedule() {
	b.scheduled = true
	if b.isIdle() {
		b.idle = make(chan struct{})
	}
	b.timer = b.clock.AfterFunc(b.cfg.TickInterval, b.tick)
}

func (b *Buffer) tick() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.scheduled = false
	b.timer = nil
	if b.stopped {
		return
	}

	revealed := b.step()
	if markup.HasMathDelimiter(revealed) {
		b.Typeset()
	}

	if b.rendered < len(b.raw) {
		b.schedule()
		return
	}
	b.target.SetMarkup(b.header + b.renderPrefix(b.rendered, true))
	b.markIdle()
}

// step reveals the next few characters and redraws. It returns the newly
// revealed text plus one preceding byte, so a delimiter split across two
// ticks is still seen. Caller holds mu.
func (b *Buffer) step() string {
	from := b.rendered
	next := advance(b.raw, from)

	b.target.SetMarkup(b.header + b.renderPrefix(next, true))
	b.rendered = next

	start := from
	if start > 0 {
		start--
	}
	return b.raw[start:next]
}

// renderPrefix renders raw[:n], optionally cut before an unfinished image tag.
func (b *Buffer) renderPrefix(n int, safe bool) string {
	prefix := b.raw[:n]
	if safe {
		prefix = markup.TruncateOpenImage(prefix)
	}
	return markup.Render(prefix, b.cfg.Markup)
}

// advance returns the byte offset after the characters revealed by one tick
// starting at from: one wide character, or a run of up to three ASCII
// letters, digits or spaces, or one other character.
func advance(raw string, from int) int {
	if from >= len(raw) {
		return len(raw)
	}
	r, size := utf8.DecodeRuneInString(raw[from:])
	if util.IsWide(r) || !isNarrowRun(r) {
		return from + size
	}
	pos := from + size
	for n := 1; n < narrowRunStep && pos < len(raw); n++ {
		r, size = utf8.DecodeRuneInString(raw[pos:])
		if !isNarrowRun(r) {
			break
		}
		pos += size
	}
	return pos
}

func isNarrowRun(r rune) bool {
	return r == ' ' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func (b *Buffer) cancelTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.scheduled = false
}

func (b *Buffer) isIdle() bool {
	select {
	case <-b.idle:
		return true
	default:
		return false
	}
}

func (b *Buffer) markIdle() {
	if !b.isIdle() {
		close(b.idle)
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
