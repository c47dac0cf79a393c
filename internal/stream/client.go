// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jeranaias/ragchat/internal/config"
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig locates the backend endpoints.
type ClientConfig struct {
	// QueryURL receives the query and answers with an event stream.
	QueryURL string
	// DocumentsURL answers with the documents a query draws on.
	DocumentsURL string
	// Timeout bounds document lookups. Streams are bounded only by their context.
	Timeout time.Duration
	// CacheTTL keeps document lookups for identical requests (0 disables).
	CacheTTL time.Duration
	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

// ClientConfigFrom builds a ClientConfig from the application config.
func ClientConfigFrom(cfg *config.Config) (ClientConfig, error) {
	queryURL, err := cfg.Endpoint(cfg.Backend.QueryPath)
	if err != nil {
		return ClientConfig{}, err
	}
	docsURL, err := cfg.Endpoint(cfg.Backend.DocumentsPath)
	if err != nil {
		return ClientConfig{}, err
	}
	return ClientConfig{
		QueryURL:     queryURL,
		DocumentsURL: docsURL,
		Timeout:      cfg.Backend.RequestTimeout.Duration,
		CacheTTL:     cfg.Backend.DocumentsCacheTTL.Duration,
	}, nil
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the query stream and document-context endpoints.
// It is safe for concurrent use.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	docs       *cache.Cache
}

// NewClient creates a client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// No client timeout: streams run as long as their context allows.
		httpClient = &http.Client{}
	}

	c := &Client{config: cfg, httpClient: httpClient}
	if cfg.CacheTTL > 0 {
		c.docs = cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	return c
}

// Open posts the query and returns the event stream body. The caller owns
// the body; cancelling ctx aborts a read in progress.
func (c *Client) Open(ctx context.Context, req Request) (io.ReadCloser, error) {
	if c.config.QueryURL == "" {
		return nil, ErrNoEndpoint
	}

	httpReq, err := c.newRequest(ctx, c.config.QueryURL, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("query request failed: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Documents asks which documents back the query. Identical requests are
// answered from cache while the entry is fresh.
func (c *Client) Documents(ctx context.Context, req Request) ([]Document, error) {
	if c.config.DocumentsURL == "" {
		return nil, ErrNoEndpoint
	}

	key := cacheKey(req)
	if c.docs != nil {
		if cached, ok := c.docs.Get(key); ok {
			return cached.([]Document), nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	httpReq, err := c.newRequest(ctx, c.config.DocumentsURL, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("document lookup failed: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read document list: %w", err)
	}
	docs, err := decodeDocuments(body)
	if err != nil {
		return nil, err
	}

	if c.docs != nil {
		c.docs.Set(key, docs, cache.DefaultExpiration)
	}
	return docs, nil
}

func (c *Client) newRequest(ctx context.Context, url string, req Request) (*http.Request, error) {
	if req.Tags == nil {
		req.Tags = []string{}
	}
	if req.Docs == nil {
		req.Docs = []string{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// checkStatus turns a non-2xx response into a *StatusError, closing the body.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(snippet)),
	}
}

// decodeDocuments accepts a bare list or a list wrapped in "data" or
// "documents".
func decodeDocuments(body []byte) ([]Document, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	if body[0] == '[' {
		var docs []Document
		if err := json.Unmarshal(body, &docs); err != nil {
			return nil, fmt.Errorf("invalid document list: %w", err)
		}
		return docs, nil
	}

	var envelope struct {
		Data      []Document `json:"data"`
		Documents []Document `json:"documents"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("invalid document list: %w", err)
	}
	if envelope.Data != nil {
		return envelope.Data, nil
	}
	return envelope.Documents, nil
}

func cacheKey(req Request) string {
	return req.Query + "\x00" + strings.Join(req.Tags, "\x1f") + "\x00" + strings.Join(req.Docs, "\x1f")
}
