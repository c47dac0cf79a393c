// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// =============================================================================
// MEMORY BACKEND
// =============================================================================

// MemoryBackend keeps conversations in a map. The dev server uses it when
// no redis address is configured.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]Record)}
}

// Save stores a copy of rec, keeping the original creation time.
func (b *MemoryBackend) Save(ctx context.Context, rec Record) error {
	if !ValidID(rec.ID) {
		return ErrInvalidID
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.records[rec.ID]; ok && !existing.CreatedAt.IsZero() {
		rec.CreatedAt = existing.CreatedAt
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	if len(rec.Messages) == 0 {
		rec.Messages = json.RawMessage("[]")
	}
	rec.Messages = append(json.RawMessage(nil), rec.Messages...)
	b.records[rec.ID] = rec
	return nil
}

// Load returns one conversation.
func (b *MemoryBackend) Load(ctx context.Context, id string) (Record, error) {
	if !ValidID(id) {
		return Record{}, ErrInvalidID
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Messages = append(json.RawMessage(nil), rec.Messages...)
	return rec, nil
}

// List returns one page of summaries, most recently updated first.
func (b *MemoryBackend) List(ctx context.Context, page, perPage int) (Page, error) {
	b.mu.RLock()
	all := make([]Summary, 0, len(b.records))
	for _, rec := range b.records {
		all = append(all, Summarize(rec))
	}
	b.mu.RUnlock()

	sortSummaries(all)
	return pageOf(all, page, perPage), nil
}

// Delete removes one conversation.
func (b *MemoryBackend) Delete(ctx context.Context, id string) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.records[id]; !ok {
		return ErrNotFound
	}
	delete(b.records, id)
	return nil
}

// Close is a no-op.
func (b *MemoryBackend) Close() error { return nil }

// sortSummaries orders by UpdatedAt descending, then id.
func sortSummaries(all []Summary) {
	sort.Slice(all, func(i, j int) bool {
		if all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})
}
