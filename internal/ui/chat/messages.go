// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/jeranaias/ragchat/internal/conversation"
	"github.com/jeranaias/ragchat/internal/session"
)

// =============================================================================
// STREAMING MESSAGES
// =============================================================================

// MarkupMsg carries the markup currently displayed for the streaming answer.
type MarkupMsg struct {
	Markup string
}

// ReplyMsg is sent when a query has finished, successfully or not.
type ReplyMsg struct {
	Reply session.Reply
	Err   error
}

// =============================================================================
// CONVERSATION MESSAGES
// =============================================================================

// MessageMsg is sent when a message is added to or finalized in a
// conversation.
type MessageMsg struct {
	ConversationID string
	Message        conversation.Message
}

// SaveFailedMsg is sent when the syncer gave up saving a conversation.
type SaveFailedMsg struct {
	ConversationID string
	Err            error
}

// =============================================================================
// NOTICES
// =============================================================================

// ErrorMsg reports a failed query.
type ErrorMsg struct {
	Err error
}

// toastExpiredMsg clears the toast with the matching sequence number.
type toastExpiredMsg struct {
	seq int
}
