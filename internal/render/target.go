// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import "sync"

// Target is where rendered markup is displayed. CurrentMarkup returns the
// last value passed to SetMarkup; the finalizer reads it back as the source
// of truth for the finished message.
type Target interface {
	SetMarkup(markup string)
	CurrentMarkup() string
}

// Typesetter is implemented by targets that can lay out TeX math.
// Typeset may run asynchronously but must not block the caller.
type Typesetter interface {
	Typeset()
}

// MemoryTarget is a Target that only remembers what it was given.
type MemoryTarget struct {
	mu       sync.Mutex
	markup   string
	writes   int
	typesets int
}

// SetMarkup implements Target.
func (m *MemoryTarget) SetMarkup(markup string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markup = markup
	m.writes++
}

// CurrentMarkup implements Target.
func (m *MemoryTarget) CurrentMarkup() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markup
}

// Typeset implements Typesetter by counting calls.
func (m *MemoryTarget) Typeset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typesets++
}

// Writes returns the number of SetMarkup calls.
func (m *MemoryTarget) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Typesets returns the number of Typeset calls.
func (m *MemoryTarget) Typesets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.typesets
}
