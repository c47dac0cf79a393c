// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/ragchat/internal/conversation"
	"github.com/jeranaias/ragchat/internal/markup"
	"github.com/jeranaias/ragchat/internal/session"
	"github.com/jeranaias/ragchat/internal/ui/styles"
)

// =============================================================================
// CHAT STATE
// =============================================================================

// State is the state of the chat view.
type State int

const (
	StateReady     State = iota // Ready for input
	StateStreaming              // An answer is streaming
)

// DefaultToastDuration is how long notices stay on screen.
const DefaultToastDuration = 4 * time.Second

// Layout heights around the viewport.
const (
	headerHeight = 2
	inputHeight  = 3
	statusHeight = 1
)

// =============================================================================
// CHAT MODEL
// =============================================================================

// Model is the Bubble Tea model of the chat view.
type Model struct {
	coord  *session.Coordinator
	bridge *Bridge
	theme  *styles.Theme
	keys   KeyMap
	ctx    context.Context

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	state     State
	streaming string // markup of the answer in flight
	ready     bool

	toast         string
	toastErr      bool
	toastSeq      int
	toastDuration time.Duration

	copy func(string) error
}

// Option configures a Model.
type Option func(*Model)

// WithClipboard replaces the clipboard writer.
func WithClipboard(fn func(string) error) Option {
	return func(m *Model) { m.copy = fn }
}

// WithContext sets the parent context of every query.
func WithContext(ctx context.Context) Option {
	return func(m *Model) { m.ctx = ctx }
}

// WithToastDuration sets how long notices stay on screen.
func WithToastDuration(d time.Duration) Option {
	return func(m *Model) { m.toastDuration = d }
}

// New creates the chat view. bridge must be the one attached to the program
// running the model.
func New(coord *session.Coordinator, theme *styles.Theme, bridge *Bridge, opts ...Option) Model {
	input := textinput.New()
	input.Placeholder = "Ask about your documents..."
	input.Prompt = theme.InputPrompt.Render("> ")
	input.CharLimit = 2000
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.Spinner

	m := Model{
		coord:         coord,
		bridge:        bridge,
		theme:         theme,
		keys:          DefaultKeyMap(),
		ctx:           context.Background(),
		input:         input,
		viewport:      viewport.New(80, 20),
		spinner:       sp,
		toastDuration: DefaultToastDuration,
		copy:          clipboard.WriteAll,
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.refresh()
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// State returns the current state.
func (m Model) State() State {
	return m.state
}

// Toast returns the notice on screen, if any.
func (m Model) Toast() string {
	return m.toast
}

// =============================================================================
// UPDATE
// =============================================================================

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case MarkupMsg:
		if m.state == StateStreaming {
			m.streaming = msg.Markup
			m.refresh()
		}
		return m, nil

	case MessageMsg:
		if msg.ConversationID == m.coord.Store().CurrentID() {
			m.refresh()
		}
		return m, nil

	case ReplyMsg:
		return m.handleReply(msg)

	case ErrorMsg:
		return m.showToast(msg.Err.Error(), true)

	case SaveFailedMsg:
		return m.showToast(fmt.Sprintf("Could not save conversation: %v", msg.Err), true)

	case toastExpiredMsg:
		if msg.seq == m.toastSeq {
			m.toast = ""
		}
		return m, nil

	case spinner.TickMsg:
		if m.state != StateStreaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.streaming == "" {
			m.refresh()
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.theme.SetSize(msg.Width, msg.Height)
	m.viewport.Width = msg.Width
	m.viewport.Height = max(msg.Height-headerHeight-inputHeight-statusHeight, 3)
	m.input.Width = max(msg.Width-6, 10)
	m.ready = true
	m.refresh()
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.coord.Stop()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Stop):
		if m.state == StateStreaming {
			m.coord.Stop()
		}
		return m, nil

	case key.Matches(msg, m.keys.Copy):
		return m.copyLastAnswer()

	case key.Matches(msg, m.keys.New):
		if _, err := m.coord.NewConversation(); err != nil {
			return m.showToast(err.Error(), true)
		}
		m.streaming = ""
		m.refresh()
		return m.showToast("Started a new conversation", false)

	case key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.PageDown):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case key.Matches(msg, m.keys.Submit):
		return m.submit()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if m.state == StateStreaming {
		return m.showToast(session.ErrBusy.Error(), true)
	}
	m.input.Reset()
	m.state = StateStreaming
	m.streaming = ""

	coord, ctx := m.coord, m.ctx
	target := NewTarget(m.bridge)
	send := func() tea.Msg {
		reply, err := coord.Send(ctx, session.SendRequest{Text: text, Target: target})
		return ReplyMsg{Reply: reply, Err: err}
	}
	return m, tea.Batch(send, m.spinner.Tick)
}

func (m Model) handleReply(msg ReplyMsg) (tea.Model, tea.Cmd) {
	m.state = StateReady
	m.streaming = ""
	m.refresh()
	// Failed streams already surfaced through ErrorMsg.
	if errors.Is(msg.Err, session.ErrBusy) || errors.Is(msg.Err, session.ErrEmptyQuery) {
		return m.showToast(msg.Err.Error(), true)
	}
	return m, nil
}

func (m Model) copyLastAnswer() (tea.Model, tea.Cmd) {
	conv := m.coord.Store().Current()
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		msg := conv.Messages[i]
		if msg.Role != conversation.RoleAssistant || msg.Transient() || msg.Content == "" {
			continue
		}
		text := markup.PlainText(msg.Content)
		if err := m.copy(text); err != nil {
			return m.showToast("Failed to copy: "+err.Error(), true)
		}
		return m.showToast(fmt.Sprintf("Copied answer (%d chars)", len([]rune(text))), false)
	}
	return m.showToast("No answer to copy", false)
}

func (m Model) showToast(text string, isErr bool) (tea.Model, tea.Cmd) {
	m.toast = text
	m.toastErr = isErr
	m.toastSeq++
	seq := m.toastSeq
	return m, tea.Tick(m.toastDuration, func(time.Time) tea.Msg {
		return toastExpiredMsg{seq: seq}
	})
}
