// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// WIRE FORMAT
// =============================================================================

// Envelope wraps every persistence endpoint response.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// WireConversation is a conversation as exchanged with the persistence
// endpoint. Messages travel as a JSON-encoded string.
type WireConversation struct {
	ConversationID string        `json:"conversation_id"`
	Title          string        `json:"title"`
	Messages       MessagesField `json:"messages"`
	CreatedAt      *time.Time    `json:"created_at,omitempty"`
	UpdatedAt      *time.Time    `json:"updated_at,omitempty"`
}

// MessagesField holds a JSON array of messages. It is written as a string
// containing that array and read from either form.
type MessagesField json.RawMessage

// MarshalJSON implements json.Marshaler.
func (m MessagesField) MarshalJSON() ([]byte, error) {
	raw := []byte(m)
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("[]")
	}
	return json.Marshal(string(raw))
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *MessagesField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*m = nil
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if !json.Valid([]byte(s)) {
			return fmt.Errorf("messages string is not valid JSON")
		}
		*m = MessagesField(s)
		return nil
	case data[0] == '[':
		*m = MessagesField(append([]byte(nil), data...))
		return nil
	default:
		return fmt.Errorf("messages must be a JSON string or array")
	}
}

// ToWire converts a record for the endpoint.
func ToWire(r Record) WireConversation {
	w := WireConversation{ConversationID: r.ID, Title: r.Title, Messages: MessagesField(r.Messages)}
	if !r.CreatedAt.IsZero() {
		created := r.CreatedAt
		w.CreatedAt = &created
	}
	if !r.UpdatedAt.IsZero() {
		updated := r.UpdatedAt
		w.UpdatedAt = &updated
	}
	return w
}

// Record converts a wire conversation back.
func (w WireConversation) Record() Record {
	r := Record{ID: w.ConversationID, Title: w.Title, Messages: json.RawMessage(w.Messages)}
	if w.CreatedAt != nil {
		r.CreatedAt = *w.CreatedAt
	}
	if w.UpdatedAt != nil {
		r.UpdatedAt = *w.UpdatedAt
	}
	return r
}
