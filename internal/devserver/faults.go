// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package devserver

import "sync"

// =============================================================================
// FAULT INJECTION
// =============================================================================

// Faults makes the next requests fail on purpose, so clients can be tried
// against save retries, refused streams and mid-stream errors.
type Faults struct {
	mu          sync.Mutex
	saves       int
	queries     int
	errorAfter  int
	errorFrames int
}

// FailSaves makes the next n conversation saves answer 500.
func (f *Faults) FailSaves(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = n
}

// FailQueries makes the next n queries answer 503 before streaming.
func (f *Faults) FailQueries(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = n
}

// ErrorAfter makes the next stream send an error frame after n content
// frames.
func (f *Faults) ErrorAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errorAfter = n
	f.errorFrames = 1
}

func (f *Faults) takeSave() bool {
	if f == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saves > 0 {
		f.saves--
		return true
	}
	return false
}

func (f *Faults) takeQuery() bool {
	if f == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queries > 0 {
		f.queries--
		return true
	}
	return false
}

// takeStreamError returns how many frames to send before an error frame,
// or -1 for a clean stream.
func (f *Faults) takeStreamError() int {
	if f == nil {
		return -1
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errorFrames > 0 {
		f.errorFrames--
		return f.errorAfter
	}
	return -1
}
