// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat is the full-screen chat view.
//
// The model shows the current conversation in a viewport, takes queries from
// a single-line input and runs them through a session.Coordinator. Answers
// are displayed while they stream: a Target posts every markup update into
// the Bubble Tea program, where it is rendered to terminal text.
//
// Keys:
//
//	enter    send the query
//	ctrl+s   stop the running answer
//	ctrl+y   copy the last answer
//	ctrl+n   start a new conversation
//	ctrl+c   quit
//
// Wiring:
//
//	bridge := chat.NewBridge()
//	cfg.Notifier = bridge                // save failures become toasts
//	coord := session.New(deps, session.Options{Observer: bridge})
//	m := chat.New(coord, theme, bridge)
//	p := tea.NewProgram(m, tea.WithAltScreen())
//	bridge.Attach(p)
//	_, err := p.Run()
package chat
