// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
)

// =============================================================================
// STORE
// =============================================================================

// Store holds the conversations of one client and which one is current.
// Exactly one conversation is current at any time. It is safe for
// concurrent use; every accessor returns copies.
type Store struct {
	mu            sync.Mutex
	clock         clockwork.Clock
	conversations map[string]*Conversation
	current       string
}

// NewStore creates a store with a fresh, empty current conversation.
func NewStore(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Store{
		clock:         clock,
		conversations: make(map[string]*Conversation),
	}
	s.newLocked()
	return s
}

// New starts a new empty conversation and makes it current.
func (s *Store) New() Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newLocked().Clone()
}

func (s *Store) newLocked() *Conversation {
	now := s.clock.Now()
	c := &Conversation{
		ID:        NewConversationID(),
		Title:     PlaceholderTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[c.ID] = c
	s.current = c.ID
	return c
}

// Current returns a copy of the current conversation.
func (s *Store) Current() Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversations[s.current].Clone()
}

// CurrentID returns the id of the current conversation.
func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Select makes an existing conversation current.
func (s *Store) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return ErrConversationNotFound
	}
	s.current = id
	return nil
}

// Load adds (or replaces) a conversation fetched from persistence and makes
// it current.
func (s *Store) Load(c Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loaded := c.Clone()
	if loaded.ID == "" {
		loaded.ID = NewConversationID()
	}
	if loaded.Title == "" {
		loaded.Title = PlaceholderTitle
	}
	s.conversations[loaded.ID] = &loaded
	s.current = loaded.ID
}

// Snapshot returns a copy of the conversation with the given id.
func (s *Store) Snapshot(id string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, false
	}
	return c.Clone(), true
}

// List returns every conversation, most recently updated first.
func (s *Store) List() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Delete drops a conversation. Deleting the current one starts a new one.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return ErrConversationNotFound
	}
	delete(s.conversations, id)
	if s.current == id {
		s.newLocked()
	}
	return nil
}

// SetTitle replaces a conversation's title.
func (s *Store) SetTitle(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	c.Title = title
	return nil
}

// =============================================================================
// MESSAGES (CURRENT CONVERSATION)
// =============================================================================

// Append adds a message to the current conversation and returns the
// conversation id it went to.
func (s *Store) Append(m Message) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conversations[s.current]
	if m.Time == "" {
		m.Time = s.clock.Now().Format(TimeFormat)
	}
	c.Messages = append(c.Messages, m)
	c.UpdatedAt = s.clock.Now()
	return c.ID
}

// Update applies fn to a message of the given conversation in place.
func (s *Store) Update(conversationID, messageID string, fn func(*Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	for i := range c.Messages {
		if c.Messages[i].ID == messageID {
			fn(&c.Messages[i])
			c.UpdatedAt = s.clock.Now()
			return nil
		}
	}
	return ErrMessageNotFound
}

// Remove deletes a message from the given conversation.
func (s *Store) Remove(conversationID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	for i := range c.Messages {
		if c.Messages[i].ID == messageID {
			c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
			c.UpdatedAt = s.clock.Now()
			return nil
		}
	}
	return ErrMessageNotFound
}
