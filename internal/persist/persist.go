// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jeranaias/ragchat/internal/config"
	"github.com/jeranaias/ragchat/internal/conversation"
	"github.com/jeranaias/ragchat/internal/util"
)

// =============================================================================
// BACKEND
// =============================================================================

// Record is a conversation as stored: messages stay encoded as a JSON array.
type Record struct {
	ID        string
	Title     string
	Messages  json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary describes a stored conversation for listings.
type Summary struct {
	ID           string    `json:"conversation_id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Page is one page of a listing, most recently updated first.
type Page struct {
	Items   []Summary `json:"items"`
	Page    int       `json:"page"`
	PerPage int       `json:"per_page"`
	Total   int       `json:"total"`
}

// Backend stores conversations.
type Backend interface {
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, page, perPage int) (Page, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Page size limits.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// previewLength is the preview budget in characters.
const previewLength = 80

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned for an unknown conversation id.
	ErrNotFound = conversation.ErrConversationNotFound
	// ErrInvalidID is returned for ids that cannot name a stored conversation.
	ErrInvalidID = errors.New("invalid conversation id")
	// ErrUnknownBackend is returned by Open for an unsupported backend kind.
	ErrUnknownBackend = errors.New("unknown persistence backend")
)

// BackendError is a failure reported by the persistence endpoint itself.
type BackendError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s conversation: backend returned %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s conversation: %s", e.Op, e.Message)
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// ValidID reports whether id is safe to use as a key or file name.
func ValidID(id string) bool {
	return idPattern.MatchString(id) && id != "." && id != ".."
}

// =============================================================================
// CONVERSION
// =============================================================================

// FromConversation encodes a conversation for storage.
func FromConversation(c conversation.Conversation) (Record, error) {
	msgs := c.Messages
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return Record{}, fmt.Errorf("failed to encode messages: %w", err)
	}
	return Record{
		ID:        c.ID,
		Title:     c.Title,
		Messages:  data,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}, nil
}

// Conversation decodes a stored record.
func (r Record) Conversation() (conversation.Conversation, error) {
	var msgs []conversation.Message
	if len(r.Messages) > 0 {
		if err := json.Unmarshal(r.Messages, &msgs); err != nil {
			return conversation.Conversation{}, fmt.Errorf("failed to decode messages of %s: %w", r.ID, err)
		}
	}
	return conversation.Conversation{
		ID:        r.ID,
		Title:     r.Title,
		Messages:  msgs,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

// Summarize builds the listing entry for a record.
func Summarize(r Record) Summary {
	s := Summary{ID: r.ID, Title: r.Title, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
	c, err := r.Conversation()
	if err != nil {
		return s
	}
	s.MessageCount = len(c.Messages)
	if first, ok := c.FirstUserMessage(); ok {
		s.Preview = util.TruncateRunes(util.CollapseSpace(first), previewLength)
	}
	return s
}

// Writer adapts a backend to the conversation syncer.
func Writer(b Backend) conversation.Writer {
	return conversation.WriterFunc(func(ctx context.Context, c conversation.Conversation) error {
		rec, err := FromConversation(c)
		if err != nil {
			return err
		}
		return b.Save(ctx, rec)
	})
}

// LoadConversation fetches and decodes one conversation.
func LoadConversation(ctx context.Context, b Backend, id string) (conversation.Conversation, error) {
	rec, err := b.Load(ctx, id)
	if err != nil {
		return conversation.Conversation{}, err
	}
	return rec.Conversation()
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

// pageOf slices sorted summaries into one page.
func pageOf(all []Summary, page, perPage int) Page {
	page, perPage = normalizePage(page, perPage)
	p := Page{Page: page, PerPage: perPage, Total: len(all), Items: []Summary{}}
	start := (page - 1) * perPage
	if start >= len(all) {
		return p
	}
	end := start + perPage
	if end > len(all) {
		end = len(all)
	}
	p.Items = append(p.Items, all[start:end]...)
	return p
}

// =============================================================================
// SELECTION
// =============================================================================

// Open creates the backend named by the persistence config.
func Open(cfg *config.Config) (Backend, error) {
	switch strings.ToLower(cfg.Persistence.Backend) {
	case "", "http":
		url, err := cfg.Endpoint(cfg.Backend.ConversationsPath)
		if err != nil {
			return nil, err
		}
		return NewHTTPBackend(HTTPConfig{URL: url, Timeout: cfg.Persistence.SaveTimeout.Duration}), nil

	case "file":
		dir := cfg.Persistence.Dir
		if dir == "" {
			base, err := config.ConfigDir()
			if err != nil {
				return nil, err
			}
			dir = filepath.Join(base, "conversations")
		}
		return NewFileBackend(dir)

	case "sqlite":
		path := cfg.Persistence.SQLitePath
		if path == "" {
			base, err := config.ConfigDir()
			if err != nil {
				return nil, err
			}
			path = filepath.Join(base, "conversations.db")
		}
		return NewSQLiteBackend(path)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Persistence.Backend)
	}
}
