// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jeranaias/ragchat/internal/util"
)

// =============================================================================
// FILE BACKEND
// =============================================================================

// FileBackend keeps one JSON file per conversation in a directory. It is
// used when no persistence endpoint is reachable.
type FileBackend struct {
	// BaseDir holds <id>.json files.
	BaseDir string

	// MaxConversations limits stored conversations (0 = unlimited). The
	// least recently updated are removed first.
	MaxConversations int

	mu sync.Mutex
}

// storedConversation is the on-disk form.
type storedConversation struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Messages  json.RawMessage `json:"messages"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewFileBackend creates the directory if needed.
func NewFileBackend(baseDir string) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, util.PrivateDirMode); err != nil {
		return nil, fmt.Errorf("failed to create conversation directory: %w", err)
	}
	return &FileBackend{BaseDir: baseDir, MaxConversations: 500}, nil
}

// Save writes the conversation atomically.
func (b *FileBackend) Save(ctx context.Context, rec Record) error {
	if !ValidID(rec.ID) {
		return ErrInvalidID
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	stored := storedConversation{
		ID:        rec.ID,
		Title:     rec.Title,
		Messages:  rec.Messages,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if existing, err := b.read(rec.ID); err == nil && !existing.CreatedAt.IsZero() {
		stored.CreatedAt = existing.CreatedAt
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = stored.UpdatedAt
	}
	if len(stored.Messages) == 0 {
		stored.Messages = json.RawMessage("[]")
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}
	if err := util.WritePrivateFile(b.filePath(rec.ID), data); err != nil {
		return fmt.Errorf("failed to write conversation %s: %w", rec.ID, err)
	}

	if b.MaxConversations > 0 {
		b.enforceLimit()
	}
	return nil
}

// Load reads one conversation.
func (b *FileBackend) Load(ctx context.Context, id string) (Record, error) {
	if !ValidID(id) {
		return Record{}, ErrInvalidID
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	stored, err := b.read(id)
	if err != nil {
		return Record{}, err
	}
	return Record(stored), nil
}

// List returns one page of summaries, most recent first.
func (b *FileBackend) List(ctx context.Context, page, perPage int) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	all, err := b.summaries()
	if err != nil {
		return Page{}, err
	}
	return pageOf(all, page, perPage), nil
}

// Delete removes one conversation.
func (b *FileBackend) Delete(ctx context.Context, id string) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.Remove(b.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Close implements Backend.
func (b *FileBackend) Close() error { return nil }

// =============================================================================
// HELPERS
// =============================================================================

func (b *FileBackend) filePath(id string) string {
	return filepath.Join(b.BaseDir, id+".json")
}

func (b *FileBackend) read(id string) (storedConversation, error) {
	data, err := os.ReadFile(b.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return storedConversation{}, ErrNotFound
		}
		return storedConversation{}, err
	}
	var stored storedConversation
	if err := json.Unmarshal(data, &stored); err != nil {
		return storedConversation{}, fmt.Errorf("corrupt conversation file %s: %w", id, err)
	}
	return stored, nil
}

// summaries lists every readable conversation, most recently updated first.
// Corrupt files are skipped.
func (b *FileBackend) summaries() ([]Summary, error) {
	entries, err := os.ReadDir(b.BaseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Summary{}, nil
		}
		return nil, err
	}

	var all []Summary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		stored, err := b.read(id)
		if err != nil {
			log.Debug().Err(err).Str("component", "persist").Str("file", entry.Name()).Msg("skipping unreadable conversation")
			continue
		}
		all = append(all, Summarize(Record(stored)))
	}

	sortSummaries(all)
	return all, nil
}

// enforceLimit removes the oldest conversations beyond MaxConversations.
func (b *FileBackend) enforceLimit() {
	all, err := b.summaries()
	if err != nil || len(all) <= b.MaxConversations {
		return
	}
	for _, s := range all[b.MaxConversations:] {
		if err := os.Remove(b.filePath(s.ID)); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("component", "persist").Str("conversation", s.ID).Msg("failed to prune conversation")
		}
	}
}
