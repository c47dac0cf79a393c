// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"fmt"
)

// ErrNoEndpoint is returned when the client has no URL for a request.
var ErrNoEndpoint = errors.New("stream: endpoint not configured")

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	StatusCode int
	Status     string
	// Body holds the start of the response body, if any.
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("backend returned %s: %s", e.Status, e.Body)
	}
	return "backend returned " + e.Status
}

// ContentError is an error reported by the backend inside the stream.
type ContentError struct {
	Message string
}

func (e *ContentError) Error() string {
	return "backend error: " + e.Message
}

// FrameError is a frame whose payload could not be decoded.
type FrameError struct {
	Payload string
	Err     error
}

func (e *FrameError) Error() string {
	payload := e.Payload
	if len(payload) > 80 {
		payload = payload[:80] + "..."
	}
	return fmt.Sprintf("malformed stream frame %q: %v", payload, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}
