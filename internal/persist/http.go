// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// HTTP BACKEND
// =============================================================================

// HTTPConfig locates the conversation persistence endpoint.
type HTTPConfig struct {
	// URL is the collection endpoint, e.g. http://host/api/conversations.
	URL string
	// Timeout bounds each request when the caller's context has no deadline.
	Timeout time.Duration
	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

// HTTPBackend stores conversations through the remote persistence endpoint.
type HTTPBackend struct {
	config     HTTPConfig
	httpClient *http.Client
}

// NewHTTPBackend creates an HTTP backend.
func NewHTTPBackend(cfg HTTPConfig) *HTTPBackend {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPBackend{config: cfg, httpClient: client}
}

// Save posts {conversation_id, title, messages}.
func (b *HTTPBackend) Save(ctx context.Context, rec Record) error {
	body, err := json.Marshal(ToWire(rec))
	if err != nil {
		return fmt.Errorf("failed to encode conversation: %w", err)
	}
	_, err = b.do(ctx, "save", http.MethodPost, b.config.URL, body)
	return err
}

// Load fetches one conversation.
func (b *HTTPBackend) Load(ctx context.Context, id string) (Record, error) {
	if !ValidID(id) {
		return Record{}, ErrInvalidID
	}
	data, err := b.do(ctx, "load", http.MethodGet, b.config.URL+"/"+url.PathEscape(id), nil)
	if err != nil {
		return Record{}, err
	}
	var w WireConversation
	if err := json.Unmarshal(data, &w); err != nil {
		return Record{}, fmt.Errorf("invalid conversation payload: %w", err)
	}
	if w.ConversationID == "" {
		w.ConversationID = id
	}
	return w.Record(), nil
}

// List fetches one page of summaries.
func (b *HTTPBackend) List(ctx context.Context, page, perPage int) (Page, error) {
	page, perPage = normalizePage(page, perPage)
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))

	data, err := b.do(ctx, "list", http.MethodGet, b.config.URL+"?"+q.Encode(), nil)
	if err != nil {
		return Page{}, err
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []Summary
		if err := json.Unmarshal(data, &items); err != nil {
			return Page{}, fmt.Errorf("invalid conversation list: %w", err)
		}
		return Page{Items: items, Page: page, PerPage: perPage, Total: len(items)}, nil
	}

	var p Page
	if err := json.Unmarshal(data, &p); err != nil {
		return Page{}, fmt.Errorf("invalid conversation list: %w", err)
	}
	if p.Items == nil {
		p.Items = []Summary{}
	}
	return p, nil
}

// Delete removes one conversation.
func (b *HTTPBackend) Delete(ctx context.Context, id string) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	_, err := b.do(ctx, "delete", http.MethodDelete, b.config.URL+"/"+url.PathEscape(id), nil)
	return err
}

// Close implements Backend.
func (b *HTTPBackend) Close() error {
	b.httpClient.CloseIdleConnections()
	return nil
}

// do sends one request and unwraps the envelope, returning its data.
func (b *HTTPBackend) do(ctx context.Context, op, method, target string, body []byte) (json.RawMessage, error) {
	if b.config.URL == "" {
		return nil, &BackendError{Op: op, Message: "persistence endpoint not configured"}
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.Timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s conversation: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("%s conversation: failed to read response: %w", op, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &BackendError{Op: op, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return nil, fmt.Errorf("%s conversation: invalid response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Message
		if msg == "" {
			msg = resp.Status
		}
		return nil, &BackendError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "request was not successful"
		}
		return nil, &BackendError{Op: op, Message: msg}
	}
	return env.Data, nil
}
