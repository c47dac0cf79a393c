// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// MESSAGE
// =============================================================================

// Role is who wrote a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TransientPrefix marks the id of an assistant message that is still
// streaming. Such messages are never persisted.
const TransientPrefix = "streaming-"

// TimeFormat is the layout of Message.Time.
const TimeFormat = time.RFC3339

// Message is one turn of a conversation.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Time    string `json:"time"`
	// ReferencedDocs is the references block markup shown above an answer.
	ReferencedDocs *string `json:"referencedDocs"`
}

// NewMessageID returns a fresh id for a finished message.
func NewMessageID() string {
	return "msg_" + uuid.NewString()
}

// NewTransientID returns a fresh id for an in-progress assistant message.
func NewTransientID() string {
	return TransientPrefix + uuid.NewString()
}

// Transient reports whether the message is an in-progress placeholder.
func (m Message) Transient() bool {
	return strings.HasPrefix(m.ID, TransientPrefix)
}

// Valid reports whether the message may be persisted: it needs a stable id
// and a known role. Empty assistant content is fine as long as the message
// is not a placeholder.
func (m Message) Valid() bool {
	if strings.TrimSpace(m.ID) == "" || m.Transient() {
		return false
	}
	return m.Role == RoleUser || m.Role == RoleAssistant
}

// =============================================================================
// CONVERSATION
// =============================================================================

// PlaceholderTitle is the title of a conversation that has not been saved yet.
const PlaceholderTitle = "New conversation"

// Conversation is an ordered list of messages with an id and a title.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversationID returns a fresh conversation id.
func NewConversationID() string {
	return "conv_" + uuid.NewString()
}

// Clone returns a deep copy.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		if m.ReferencedDocs != nil {
			docs := *m.ReferencedDocs
			m.ReferencedDocs = &docs
		}
		out.Messages[i] = m
	}
	return out
}

// Persistable returns the messages that may be written, in order.
func (c Conversation) Persistable() []Message {
	var out []Message
	for _, m := range c.Messages {
		if m.Valid() {
			out = append(out, m)
		}
	}
	return out
}

// FirstUserMessage returns the content of the first user message.
func (c Conversation) FirstUserMessage() (string, bool) {
	for _, m := range c.Messages {
		if m.Role == RoleUser && strings.TrimSpace(m.Content) != "" {
			return m.Content, true
		}
	}
	return "", false
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrConversationNotFound is returned for an unknown conversation id.
	ErrConversationNotFound = &Error{Message: "conversation not found"}
	// ErrMessageNotFound is returned for an unknown message id.
	ErrMessageNotFound = &Error{Message: "message not found"}
)

// Error is a conversation-store error. Errors compare equal by message, so
// errors.Is works against the sentinels above.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is implements errors.Is support.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Message == t.Message
}
