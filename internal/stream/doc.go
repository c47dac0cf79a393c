// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream consumes the backend's answer stream.
//
// A Controller opens one Session per query. The session reads the event
// stream, decodes "data:" frames incrementally, appends each text fragment
// to its raw buffer and hands the buffer to a Sink (the typewriter
// renderer). Sessions move through Opening, Streaming and one of Completed,
// Cancelled or Failed; transport and in-band errors are reported once and
// never retried here.
//
// The Client also answers document-context lookups used for the references
// block shown above an answer.
package stream
