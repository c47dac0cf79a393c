// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

// =============================================================================
// REQUEST / RESPONSE TYPES
// =============================================================================

// Request is the body posted to the query and document-context endpoints.
type Request struct {
	Query string   `json:"query"`
	Tags  []string `json:"tags"`
	Docs  []string `json:"docs"`
}

// Document is one entry of the document-context response.
type Document struct {
	Filename     string `json:"filename" yaml:"filename"`
	PageNumber   *int   `json:"page_number,omitempty" yaml:"page_number"`
	SectionTitle string `json:"section_title,omitempty" yaml:"section_title"`
}

// Sink receives the session's growing buffer. render.Buffer implements it.
type Sink interface {
	// OnAppend is called with the whole raw buffer after every fragment.
	OnAppend(buffer string)
	// Typeset requests a math typesetting pass.
	Typeset()
}

// =============================================================================
// STATE
// =============================================================================

// State is the lifecycle state of a stream session.
type State int

const (
	StateIdle State = iota
	StateOpening
	StateStreaming
	StateCompleted
	StateCancelled
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Result is the outcome of a finished session.
type Result struct {
	State State
	// Raw is everything appended before the session ended.
	Raw string
	// Err is set only for StateFailed.
	Err error
}
