// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// SQLITE BACKEND
// =============================================================================

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id            TEXT PRIMARY KEY,
	title         TEXT NOT NULL,
	messages      TEXT NOT NULL,
	message_count INTEGER NOT NULL,
	preview       TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at DESC);
`

// SQLiteBackend stores conversations in a local SQLite database.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (and creates if needed) the database at path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Save inserts or replaces a conversation, keeping its original creation time.
func (b *SQLiteBackend) Save(ctx context.Context, rec Record) error {
	if !ValidID(rec.ID) {
		return ErrInvalidID
	}
	if len(rec.Messages) == 0 {
		rec.Messages = json.RawMessage("[]")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	summary := Summarize(rec)

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, messages, message_count, preview, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			messages = excluded.messages,
			message_count = excluded.message_count,
			preview = excluded.preview,
			updated_at = excluded.updated_at`,
		rec.ID, rec.Title, string(rec.Messages), summary.MessageCount, summary.Preview,
		rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", rec.ID, err)
	}
	return nil
}

// Load reads one conversation.
func (b *SQLiteBackend) Load(ctx context.Context, id string) (Record, error) {
	var (
		rec              Record
		messages         string
		created, updated int64
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT id, title, messages, created_at, updated_at FROM conversations WHERE id = ?`, id).
		Scan(&rec.ID, &rec.Title, &messages, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}
	rec.Messages = json.RawMessage(messages)
	rec.CreatedAt = time.UnixMilli(created)
	rec.UpdatedAt = time.UnixMilli(updated)
	return rec, nil
}

// List returns one page of summaries, most recent first.
func (b *SQLiteBackend) List(ctx context.Context, page, perPage int) (Page, error) {
	page, perPage = normalizePage(page, perPage)
	p := Page{Page: page, PerPage: perPage, Items: []Summary{}}

	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&p.Total); err != nil {
		return Page{}, fmt.Errorf("failed to count conversations: %w", err)
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT id, title, message_count, preview, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC, id ASC
		LIMIT ? OFFSET ?`, perPage, (page-1)*perPage)
	if err != nil {
		return Page{}, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s Summary
		var created, updated int64
		if err := rows.Scan(&s.ID, &s.Title, &s.MessageCount, &s.Preview, &created, &updated); err != nil {
			return Page{}, fmt.Errorf("failed to scan conversation: %w", err)
		}
		s.CreatedAt = time.UnixMilli(created)
		s.UpdatedAt = time.UnixMilli(updated)
		p.Items = append(p.Items, s)
	}
	return p, rows.Err()
}

// Delete removes one conversation.
func (b *SQLiteBackend) Delete(ctx context.Context, id string) error {
	res, err := b.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
