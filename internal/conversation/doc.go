// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation keeps the client's conversations in memory and
// writes the current one to persistence.
//
// Store holds the records. Syncer runs the save cycle:
//
//	Idle -> Debouncing -> Saving -> Succeeded
//	                        |
//	                        +-> Retrying -> Saving ... -> GivenUp
//
// Only one write is ever in flight. Requests made while a cycle is running
// collapse into a single pending flag. In-progress assistant messages
// (ids starting with "streaming-") are never written.
package conversation
