// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ragchat/internal/conversation"
	"github.com/jeranaias/ragchat/internal/glossary"
	"github.com/jeranaias/ragchat/internal/render"
	"github.com/jeranaias/ragchat/internal/stream"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// fakeBackend serves a canned stream and document list.
type fakeBackend struct {
	body    string
	openErr error
	docs    []stream.Document
	docsErr error
	// docsDelay slows the document lookup down.
	docsDelay time.Duration
	// hold keeps the stream open until the context ends.
	hold bool

	mu      sync.Mutex
	queries []string
	opened  chan struct{}
}

func (f *fakeBackend) Open(ctx context.Context, req stream.Request) (io.ReadCloser, error) {
	f.mu.Lock()
	f.queries = append(f.queries, req.Query)
	opened := f.opened
	f.mu.Unlock()

	if f.openErr != nil {
		return nil, f.openErr
	}
	if !f.hold {
		return io.NopCloser(strings.NewReader(f.body)), nil
	}
	pr, pw := io.Pipe()
	go func() {
		if f.body != "" {
			_, _ = pw.Write([]byte(f.body))
		}
		if opened != nil {
			close(opened)
		}
		<-ctx.Done()
		pw.CloseWithError(ctx.Err())
	}()
	return pr, nil
}

func (f *fakeBackend) Documents(ctx context.Context, req stream.Request) ([]stream.Document, error) {
	if f.docsDelay > 0 {
		time.Sleep(f.docsDelay)
	}
	return f.docs, f.docsErr
}

// recordingTarget keeps every markup it was given.
type recordingTarget struct {
	mu     sync.Mutex
	writes []string
}

func (r *recordingTarget) SetMarkup(m string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, m)
}

func (r *recordingTarget) CurrentMarkup() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.writes) == 0 {
		return ""
	}
	return r.writes[len(r.writes)-1]
}

type countingWriter struct {
	mu    sync.Mutex
	saved []conversation.Conversation
}

func (w *countingWriter) Write(ctx context.Context, c conversation.Conversation) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.saved = append(w.saved, c)
	return nil
}

func (w *countingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.saved)
}

func (w *countingWriter) last() conversation.Conversation {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.saved[len(w.saved)-1]
}

type harness struct {
	coord  *Coordinator
	clock  *clockwork.FakeClock
	writer *countingWriter
	errs   chan error
}

func newHarness(t *testing.T, backend *fakeBackend, g *glossary.Glossary) *harness {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := conversation.NewStore(clock)
	writer := &countingWriter{}
	cfg := conversation.DefaultSyncConfig()
	cfg.Clock = clock
	syncer := conversation.NewSyncer(store, writer, cfg)
	t.Cleanup(syncer.Close)

	errs := make(chan error, 4)
	coord := New(Deps{
		Store:     store,
		Syncer:    syncer,
		Streams:   stream.NewController(backend, stream.Options{}),
		Documents: backend,
		Glossary:  glossary.NewSource(g),
	}, Options{
		Render:       render.Config{TickInterval: time.Millisecond},
		DrainTimeout: time.Second,
		Locale:       "en",
		Observer:     ObserverFuncs{Error: func(err error) { errs <- err }},
	})
	return &harness{coord: coord, clock: clock, writer: writer, errs: errs}
}

func sse(fragments ...string) string {
	var b strings.Builder
	for _, f := range fragments {
		b.WriteString(`data: {"content": "` + f + `"}` + "\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

// =============================================================================
// SEND
// =============================================================================

func TestSendEndToEnd(t *testing.T) {
	backend := &fakeBackend{body: sse("운영시간은 ", "06:00-23:00입니다.")}
	h := newHarness(t, backend, glossary.New(map[string][]string{"김포공항": {"GMP", "Gimpo"}}))
	target := &render.MemoryTarget{}

	reply, err := h.coord.Send(context.Background(), SendRequest{Text: "김포공항 운영시간?", Target: target})
	require.NoError(t, err)

	assert.Equal(t, stream.StateCompleted, reply.State)
	assert.Equal(t, "김포공항(GMP, Gimpo) 운영시간?", reply.Query)
	assert.Equal(t, []string{"김포공항(GMP, Gimpo) 운영시간?"}, backend.queries)
	assert.Equal(t, "운영시간은 06:00-23:00입니다.", reply.Assistant.Content)
	assert.Nil(t, reply.Assistant.ReferencedDocs)
	assert.False(t, reply.Assistant.Transient())
	assert.Equal(t, "운영시간은 06:00-23:00입니다.", target.CurrentMarkup())

	conv := h.coord.Store().Current()
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, conversation.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, reply.Assistant.ID, conv.Messages[1].ID)
	assert.NotEmpty(t, conv.Messages[1].Time)

	// Both debounced saves collapse into one write.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return h.writer.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return h.writer.count() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	saved := h.writer.last()
	assert.Equal(t, "김포공항 운영시간?", saved.Title)
	assert.Len(t, saved.Messages, 2)
}

func TestSendWithReferences(t *testing.T) {
	page := 3
	backend := &fakeBackend{
		body: sse("answer"),
		docs: []stream.Document{
			{Filename: "manual.pdf", PageNumber: &page, SectionTitle: "Hours"},
			{Filename: "manual.pdf", PageNumber: &page, SectionTitle: "Hours"},
		},
	}
	h := newHarness(t, backend, nil)
	target := &render.MemoryTarget{}

	reply, err := h.coord.Send(context.Background(), SendRequest{Text: "hours?", Target: target})
	require.NoError(t, err)

	require.NotNil(t, reply.Assistant.ReferencedDocs)
	header := *reply.Assistant.ReferencedDocs
	assert.Contains(t, header, "Referenced documents")
	assert.Equal(t, 1, strings.Count(header, "<li>"))
	assert.Equal(t, "answer", reply.Assistant.Content)
	assert.True(t, strings.HasPrefix(target.CurrentMarkup(), header))
}

func TestHeaderIsShownBeforeAnswer(t *testing.T) {
	backend := &fakeBackend{
		body:      sse("first ", "second"),
		docs:      []stream.Document{{Filename: "slow.pdf"}},
		docsDelay: 30 * time.Millisecond,
	}
	h := newHarness(t, backend, nil)
	target := &recordingTarget{}

	_, err := h.coord.Send(context.Background(), SendRequest{Text: "q", Target: target})
	require.NoError(t, err)

	require.NotEmpty(t, target.writes)
	for _, w := range target.writes {
		assert.True(t, strings.HasPrefix(w, `<div class="referenced-docs">`), "markup without header: %q", w)
	}
}

func TestSendDocumentLookupFailureIsNotFatal(t *testing.T) {
	backend := &fakeBackend{body: sse("fine"), docsErr: errors.New("documents down")}
	h := newHarness(t, backend, nil)

	reply, err := h.coord.Send(context.Background(), SendRequest{Text: "q"})
	require.NoError(t, err)
	assert.Equal(t, "fine", reply.Assistant.Content)
	assert.Nil(t, reply.Assistant.ReferencedDocs)
}

func TestSendFailureRemovesTransient(t *testing.T) {
	backend := &fakeBackend{openErr: &stream.StatusError{StatusCode: 502, Status: "502 Bad Gateway"}}
	h := newHarness(t, backend, nil)

	reply, err := h.coord.Send(context.Background(), SendRequest{Text: "q"})
	require.Error(t, err)

	var statusErr *stream.StatusError
	assert.ErrorAs(t, err, &statusErr)
	assert.Equal(t, stream.StateFailed, reply.State)

	conv := h.coord.Store().Current()
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, conversation.RoleUser, conv.Messages[0].Role)

	select {
	case got := <-h.errs:
		assert.Equal(t, err, got)
	default:
		t.Fatal("observer was not told about the failure")
	}
	assert.False(t, h.coord.Active())
}

func TestSendContentErrorFails(t *testing.T) {
	backend := &fakeBackend{body: "data: {\"content\": \"part\"}\n\ndata: {\"error\": \"model overloaded\"}\n\n"}
	h := newHarness(t, backend, nil)

	_, err := h.coord.Send(context.Background(), SendRequest{Text: "q"})
	var contentErr *stream.ContentError
	require.ErrorAs(t, err, &contentErr)
	assert.Len(t, h.coord.Store().Current().Messages, 1)
}

func TestStopKeepsPartialAnswer(t *testing.T) {
	backend := &fakeBackend{
		body:   `data: {"content": "partial answer"}` + "\n\n",
		hold:   true,
		opened: make(chan struct{}),
	}
	h := newHarness(t, backend, nil)
	target := &render.MemoryTarget{}

	done := make(chan struct{})
	var (
		reply Reply
		err   error
	)
	go func() {
		defer close(done)
		reply, err = h.coord.Send(context.Background(), SendRequest{Text: "q", Target: target})
	}()

	<-backend.opened
	require.Eventually(t, func() bool {
		return strings.Contains(target.CurrentMarkup(), "partial answer")
	}, time.Second, time.Millisecond)
	assert.True(t, h.coord.Active())
	assert.True(t, h.coord.Stop())
	<-done

	require.NoError(t, err)
	assert.Equal(t, stream.StateCancelled, reply.State)
	assert.Contains(t, reply.Assistant.Content, "partial answer")
	assert.Contains(t, reply.Assistant.Content, "(Stopped by user)")
	assert.Equal(t, reply.Assistant.Content, target.CurrentMarkup())
	assert.False(t, h.coord.Stop())
}

func TestSendRejectsConcurrentQuery(t *testing.T) {
	backend := &fakeBackend{hold: true, opened: make(chan struct{})}
	h := newHarness(t, backend, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.coord.Send(context.Background(), SendRequest{Text: "first"})
	}()
	<-backend.opened

	_, err := h.coord.Send(context.Background(), SendRequest{Text: "second"})
	assert.ErrorIs(t, err, ErrBusy)
	_, err = h.coord.NewConversation()
	assert.ErrorIs(t, err, ErrBusy)

	h.coord.Stop()
	<-done
	assert.False(t, h.coord.Active())
}

func TestSendEmptyQuery(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, nil)
	_, err := h.coord.Send(context.Background(), SendRequest{Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Empty(t, h.coord.Store().Current().Messages)
}

func TestNewConversationSavesCurrent(t *testing.T) {
	backend := &fakeBackend{body: sse("a")}
	h := newHarness(t, backend, nil)

	_, err := h.coord.Send(context.Background(), SendRequest{Text: "q"})
	require.NoError(t, err)
	first := h.coord.Store().CurrentID()

	conv, err := h.coord.NewConversation()
	require.NoError(t, err)
	assert.NotEqual(t, first, conv.ID)
	assert.Equal(t, conv.ID, h.coord.Store().CurrentID())

	require.Eventually(t, func() bool { return h.writer.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, first, h.writer.last().ID)
}
