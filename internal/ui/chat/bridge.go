// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/ragchat/internal/conversation"
)

// =============================================================================
// BRIDGE
// =============================================================================

// Bridge forwards events from background goroutines into a running Bubble Tea
// program. It implements session.Observer and conversation.Notifier, so it can
// be wired into the coordinator and syncer before the program exists.
// Messages sent before Attach are dropped.
type Bridge struct {
	mu   sync.RWMutex
	send func(tea.Msg)
}

// NewBridge creates an unattached bridge.
func NewBridge() *Bridge {
	return &Bridge{}
}

// Attach routes messages to p.
func (b *Bridge) Attach(p *tea.Program) {
	b.AttachFunc(p.Send)
}

// AttachFunc routes messages to send.
func (b *Bridge) AttachFunc(send func(tea.Msg)) {
	b.mu.Lock()
	b.send = send
	b.mu.Unlock()
}

// Send posts msg to the attached program.
func (b *Bridge) Send(msg tea.Msg) {
	b.mu.RLock()
	send := b.send
	b.mu.RUnlock()
	if send != nil {
		send(msg)
	}
}

// OnMessage implements session.Observer.
func (b *Bridge) OnMessage(conversationID string, m conversation.Message) {
	b.Send(MessageMsg{ConversationID: conversationID, Message: m})
}

// OnError implements session.Observer.
func (b *Bridge) OnError(err error) {
	b.Send(ErrorMsg{Err: err})
}

// SaveFailed implements conversation.Notifier.
func (b *Bridge) SaveFailed(conversationID string, err error) {
	b.Send(SaveFailedMsg{ConversationID: conversationID, Err: err})
}

// =============================================================================
// RENDER TARGET
// =============================================================================

// Target is the render target of one streaming answer. Every update is
// posted to the program as a MarkupMsg.
type Target struct {
	bridge *Bridge

	mu     sync.Mutex
	markup string
}

// NewTarget creates a target posting through b.
func NewTarget(b *Bridge) *Target {
	return &Target{bridge: b}
}

// SetMarkup implements render.Target.
func (t *Target) SetMarkup(markup string) {
	t.mu.Lock()
	t.markup = markup
	t.mu.Unlock()
	t.bridge.Send(MarkupMsg{Markup: markup})
}

// CurrentMarkup implements render.Target.
func (t *Target) CurrentMarkup() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.markup
}
