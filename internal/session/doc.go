// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session coordinates one chat client.
//
// A Coordinator takes a user query through the whole pipeline: glossary
// rewrite, user message and debounced save, document lookup and stream open
// in parallel, typewriter rendering onto the caller's target, capture of the
// final answer and a second debounced save. It refuses a second query while
// one is running and owns cancellation of the running one.
//
// Example:
//
//	coord := session.New(session.Deps{
//	    Store:   store,
//	    Syncer:  syncer,
//	    Streams: stream.NewController(client, stream.Options{}),
//	}, session.Options{Locale: "en"})
//	reply, err := coord.Send(ctx, session.SendRequest{Text: "what is 김포공항 운영시간?"})
package session
