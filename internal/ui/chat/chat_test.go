// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ragchat/internal/conversation"
	"github.com/jeranaias/ragchat/internal/devserver"
	"github.com/jeranaias/ragchat/internal/render"
	"github.com/jeranaias/ragchat/internal/session"
	"github.com/jeranaias/ragchat/internal/stream"
	"github.com/jeranaias/ragchat/internal/ui/styles"
)

// =============================================================================
// HELPERS
// =============================================================================

type harness struct {
	coord  *session.Coordinator
	bridge *Bridge
	msgs   chan tea.Msg
	copied []string

	failSaves atomic.Bool
}

func newHarness(t *testing.T, opts devserver.Options) *harness {
	t.Helper()
	lipgloss.SetColorProfile(termenv.Ascii)

	srv := devserver.New(opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	h := &harness{bridge: NewBridge(), msgs: make(chan tea.Msg, 4096)}

	syncCfg := conversation.DefaultSyncConfig()
	syncCfg.RetryBase = time.Millisecond
	syncCfg.RetryMax = time.Millisecond
	syncCfg.MaxAttempts = 2
	store := conversation.NewStore(nil)
	syncer := conversation.NewSyncer(store, conversation.WriterFunc(func(context.Context, conversation.Conversation) error {
		if h.failSaves.Load() {
			return errors.New("backend down")
		}
		return nil
	}), syncCfg)
	t.Cleanup(syncer.Close)

	h.bridge.AttachFunc(func(msg tea.Msg) {
		select {
		case h.msgs <- msg:
		default:
		}
	})

	client := stream.NewClient(stream.ClientConfig{
		QueryURL:     ts.URL + "/api/query",
		DocumentsURL: ts.URL + "/api/documents",
	})
	h.coord = session.New(session.Deps{
		Store:     store,
		Syncer:    syncer,
		Streams:   stream.NewController(client, stream.Options{}),
		Documents: client,
	}, session.Options{
		Render:   render.Config{TickInterval: time.Millisecond},
		Locale:   "en",
		Observer: h.bridge,
	})
	return h
}

func (h *harness) model() Model {
	m := New(h.coord, styles.NewTheme("dark"), h.bridge,
		WithClipboard(func(s string) error {
			h.copied = append(h.copied, s)
			return nil
		}),
		WithToastDuration(time.Millisecond),
	)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(Model)
}

// run executes cmd and every command it batches, returning the messages.
func run(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, run(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func replyOf(t *testing.T, msgs []tea.Msg) ReplyMsg {
	t.Helper()
	for _, msg := range msgs {
		if r, ok := msg.(ReplyMsg); ok {
			return r
		}
	}
	t.Fatal("no ReplyMsg produced")
	return ReplyMsg{}
}

func press(m Model, k tea.KeyType) (Model, tea.Cmd) {
	next, cmd := m.Update(tea.KeyMsg{Type: k})
	return next.(Model), cmd
}

func ask(t *testing.T, m Model, text string) (Model, ReplyMsg) {
	t.Helper()
	m.input.SetValue(text)
	m, cmd := press(m, tea.KeyEnter)
	require.Equal(t, StateStreaming, m.State())
	reply := replyOf(t, run(cmd))
	next, _ := m.Update(reply)
	return next.(Model), reply
}

// =============================================================================
// BRIDGE AND TARGET
// =============================================================================

func TestBridgeDropsUntilAttached(t *testing.T) {
	b := NewBridge()
	b.Send(ErrorMsg{Err: errors.New("lost")})

	var got []tea.Msg
	b.AttachFunc(func(msg tea.Msg) { got = append(got, msg) })
	b.SaveFailed("c1", errors.New("boom"))
	b.OnMessage("c1", conversation.Message{ID: "m1"})

	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].(SaveFailedMsg).ConversationID)
	assert.Equal(t, "m1", got[1].(MessageMsg).Message.ID)
}

func TestTargetPostsMarkup(t *testing.T) {
	b := NewBridge()
	var got []tea.Msg
	b.AttachFunc(func(msg tea.Msg) { got = append(got, msg) })

	target := NewTarget(b)
	target.SetMarkup("<p>a</p>")
	target.SetMarkup("<p>ab</p>")

	assert.Equal(t, "<p>ab</p>", target.CurrentMarkup())
	require.Len(t, got, 2)
	assert.Equal(t, MarkupMsg{Markup: "<p>a</p>"}, got[0])
}

// =============================================================================
// QUERIES
// =============================================================================

func TestViewBeforeResize(t *testing.T) {
	h := newHarness(t, devserver.Options{})
	m := New(h.coord, styles.NewTheme("dark"), h.bridge)
	assert.Equal(t, "Loading...", m.View())
}

func TestSubmitStreamsAnswer(t *testing.T) {
	h := newHarness(t, devserver.Options{ChunkRunes: 16})
	m, reply := ask(t, h.model(), "which gate do I use?")

	require.NoError(t, reply.Err)
	assert.Equal(t, stream.StateCompleted, reply.Reply.State)
	assert.Equal(t, StateReady, m.State())
	assert.Equal(t, "", m.input.Value())

	view := m.View()
	assert.Contains(t, view, "which gate do I use?")
	assert.Contains(t, view, "90 minutes")
	assert.Contains(t, view, "wayfinding.md")

	var sawMarkup bool
	for len(h.msgs) > 0 {
		if _, ok := (<-h.msgs).(MarkupMsg); ok {
			sawMarkup = true
		}
	}
	assert.True(t, sawMarkup, "streaming target should post markup updates")
}

func TestSubmitIgnoresBlankInput(t *testing.T) {
	h := newHarness(t, devserver.Options{})
	m := h.model()
	m.input.SetValue("   ")
	m, cmd := press(m, tea.KeyEnter)
	assert.Nil(t, cmd)
	assert.Equal(t, StateReady, m.State())
}

func TestSubmitWhileStreamingShowsBusy(t *testing.T) {
	h := newHarness(t, devserver.Options{})
	m := h.model()
	m.state = StateStreaming
	m.input.SetValue("again")
	m, _ = press(m, tea.KeyEnter)
	assert.Equal(t, session.ErrBusy.Error(), m.Toast())
	assert.Equal(t, "again", m.input.Value())
}

func TestStopKeepsPartialAnswer(t *testing.T) {
	h := newHarness(t, devserver.Options{ChunkRunes: 2, ChunkDelay: 20 * time.Millisecond})
	m := h.model()
	m.input.SetValue("gate?")
	m, cmd := press(m, tea.KeyEnter)

	done := make(chan []tea.Msg, 1)
	go func() { done <- run(cmd) }()

	require.Eventually(t, func() bool {
		for {
			select {
			case msg := <-h.msgs:
				if mm, ok := msg.(MarkupMsg); ok && mm.Markup != "" {
					return true
				}
			default:
				return false
			}
		}
	}, 5*time.Second, 5*time.Millisecond)

	m, _ = press(m, tea.KeyCtrlS)

	var msgs []tea.Msg
	select {
	case msgs = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("query did not stop")
	}
	reply := replyOf(t, msgs)
	require.NoError(t, reply.Err)
	assert.Equal(t, stream.StateCancelled, reply.Reply.State)

	next, _ := m.Update(reply)
	assert.Contains(t, next.(Model).View(), "(Stopped by user)")
}

// =============================================================================
// SHORTCUTS AND NOTICES
// =============================================================================

func TestCopyLastAnswer(t *testing.T) {
	h := newHarness(t, devserver.Options{ChunkRunes: 32})
	m, _ := ask(t, h.model(), "gate?")

	m, _ = press(m, tea.KeyCtrlY)
	require.Len(t, h.copied, 1)
	assert.Contains(t, h.copied[0], "Gates are assigned about 90 minutes before departure.")
	assert.NotContains(t, h.copied[0], "<strong>")
	assert.Contains(t, m.Toast(), "Copied answer")
}

func TestCopyWithoutAnswer(t *testing.T) {
	h := newHarness(t, devserver.Options{})
	m, _ := press(h.model(), tea.KeyCtrlY)
	assert.Empty(t, h.copied)
	assert.Equal(t, "No answer to copy", m.Toast())
}

func TestCopyFailureShowsError(t *testing.T) {
	h := newHarness(t, devserver.Options{ChunkRunes: 32})
	m, _ := ask(t, h.model(), "gate?")
	m.copy = func(string) error { return errors.New("no clipboard") }

	m, _ = press(m, tea.KeyCtrlY)
	assert.Equal(t, "Failed to copy: no clipboard", m.Toast())
}

func TestNewConversationClearsTranscript(t *testing.T) {
	h := newHarness(t, devserver.Options{ChunkRunes: 32})
	m, reply := ask(t, h.model(), "gate?")

	m, _ = press(m, tea.KeyCtrlN)
	current := h.coord.Store().Current()
	assert.NotEqual(t, reply.Reply.ConversationID, current.ID)
	assert.Empty(t, current.Messages)
	assert.NotContains(t, m.View(), "90 minutes")
	assert.Equal(t, "Started a new conversation", m.Toast())
}

func TestSaveFailedToastExpires(t *testing.T) {
	h := newHarness(t, devserver.Options{})
	m := h.model()

	next, cmd := m.Update(SaveFailedMsg{ConversationID: "c1", Err: errors.New("backend down")})
	m = next.(Model)
	assert.Equal(t, "Could not save conversation: backend down", m.Toast())
	assert.Contains(t, m.View(), "backend down")

	// A newer toast survives the expiry of the older one.
	next, _ = m.Update(ErrorMsg{Err: errors.New("stream failed")})
	m = next.(Model)
	next, _ = m.Update(cmd())
	m = next.(Model)
	assert.Equal(t, "stream failed", m.Toast())

	next, _ = m.Update(toastExpiredMsg{seq: m.toastSeq})
	assert.Empty(t, next.(Model).Toast())
}

func TestRenderMessageShowsTimestamp(t *testing.T) {
	h := newHarness(t, devserver.Options{})
	m := h.model()

	stamped := conversation.Message{
		ID:      "msg_1",
		Role:    conversation.RoleUser,
		Content: "which gate?",
		Time:    time.Date(2025, 3, 4, 9, 41, 0, 0, time.UTC).Format(conversation.TimeFormat),
	}
	out := m.renderMessage(stamped, m.theme.ContentWidth())
	assert.Contains(t, out, "09:41")
	assert.Contains(t, out, "which gate?")

	stamped.Time = "yesterday"
	out = m.renderMessage(stamped, m.theme.ContentWidth())
	assert.NotContains(t, out, "yesterday")
	assert.Contains(t, out, "which gate?")
}

func TestStatusBarShowsSaveFailure(t *testing.T) {
	h := newHarness(t, devserver.Options{ChunkRunes: 32})
	m, _ := ask(t, h.model(), "gate?")

	h.failSaves.Store(true)
	h.coord.Syncer().RequestSave(conversation.SaveOptions{Force: true})
	require.Eventually(t, func() bool {
		return h.coord.Syncer().State() == conversation.StateGivenUp
	}, 2*time.Second, 5*time.Millisecond)

	assert.Contains(t, m.renderSaveState(), "not saved: backend down")
}
