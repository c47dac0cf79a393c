// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/ragchat/internal/conversation"
	"github.com/jeranaias/ragchat/internal/ui/styles"
	"github.com/jeranaias/ragchat/internal/ui/termtext"
	"github.com/jeranaias/ragchat/internal/util"
)

// =============================================================================
// VIEW
// =============================================================================

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.renderInput(),
		m.renderStatusBar(),
	)
}

func (m Model) renderHeader() string {
	conv := m.coord.Store().Current()
	title := m.theme.HeaderTitle.Render("ragchat")
	subtitle := m.theme.HeaderSubtitle.Render(conv.Title)
	return m.theme.Header.Width(m.theme.Width).Render(title + " " + subtitle)
}

func (m Model) renderInput() string {
	content := m.input.View()
	if m.toast != "" {
		style := m.theme.Toast
		if m.toastErr {
			style = m.theme.ErrorText
		}
		content = style.Render(m.toast) + "\n" + content
	}
	return m.theme.InputContainer.Width(max(m.theme.Width-2, 10)).Render(content)
}

func (m Model) renderStatusBar() string {
	parts := []string{m.renderSaveState()}
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		parts = append(parts, m.theme.ShortcutKey.Render(h.Key)+" "+m.theme.ShortcutDesc.Render(h.Desc))
	}
	return m.theme.StatusBar.Width(m.theme.Width).Render(strings.Join(parts, "  "))
}

// saveErrorWidth bounds the failure cause shown in the status bar.
const saveErrorWidth = 32

func (m Model) renderSaveState() string {
	switch state := m.coord.Syncer().State(); state {
	case conversation.StateSucceeded:
		return m.theme.StatusSaved.Render(styles.StatusIndicators.Success + " saved")
	case conversation.StateGivenUp:
		text := styles.StatusIndicators.Error + " not saved"
		if err := m.coord.Syncer().LastError(); err != nil {
			text += ": " + util.TruncateWidth(err.Error(), saveErrorWidth)
		}
		return m.theme.StatusFailed.Render(text)
	case conversation.StateIdle:
		return m.theme.StatusSaved.Render(styles.StatusIndicators.Pending + " idle")
	default:
		return m.theme.StatusPending.Render(styles.StatusIndicators.Warning + " " + state.String())
	}
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// refresh re-renders the current conversation into the viewport.
func (m *Model) refresh() {
	conv := m.coord.Store().Current()
	width := m.theme.ContentWidth()

	blocks := make([]string, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		blocks = append(blocks, m.renderMessage(msg, width))
	}

	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(strings.Join(blocks, "\n\n"))
	if atBottom || m.state == StateStreaming {
		m.viewport.GotoBottom()
	}
}

func (m *Model) renderMessage(msg conversation.Message, width int) string {
	stamp := ""
	if t, err := time.Parse(conversation.TimeFormat, msg.Time); err == nil {
		stamp = " " + m.theme.Timestamp.Render(t.Format("15:04"))
	}

	if msg.Role == conversation.RoleUser {
		label := m.theme.UserLabel.Render("You") + stamp
		return label + "\n" + m.theme.UserBubble.Width(width).Render(msg.Content)
	}

	label := m.theme.AssistantLabel.Render("Assistant") + stamp
	var body string
	switch {
	case msg.Transient() && m.streaming == "":
		body = m.spinner.View() + " Searching documents..."
	case msg.Transient():
		// The streaming markup already carries the references block.
		body = termtext.Render(m.streaming, m.theme, width-2)
	default:
		text := msg.Content
		if msg.ReferencedDocs != nil {
			text = *msg.ReferencedDocs + text
		}
		body = termtext.Render(text, m.theme, width-2)
	}
	return label + "\n" + m.theme.AssistantBubble.Width(width).Render(body)
}
