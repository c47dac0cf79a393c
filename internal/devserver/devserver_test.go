// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package devserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ragchat/internal/conversation"
	"github.com/jeranaias/ragchat/internal/devserver"
	"github.com/jeranaias/ragchat/internal/glossary"
	"github.com/jeranaias/ragchat/internal/markup"
	"github.com/jeranaias/ragchat/internal/persist"
	"github.com/jeranaias/ragchat/internal/render"
	"github.com/jeranaias/ragchat/internal/session"
	"github.com/jeranaias/ragchat/internal/stream"
)

func newTestServer(t *testing.T, opts devserver.Options) (*devserver.Server, *httptest.Server) {
	t.Helper()
	srv := devserver.New(opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func newClient(ts *httptest.Server) *stream.Client {
	return stream.NewClient(stream.ClientConfig{
		QueryURL:     ts.URL + "/api/query",
		DocumentsURL: ts.URL + "/api/documents",
	})
}

// =============================================================================
// QUERY STREAM
// =============================================================================

func TestQueryStreamsFramesAndDone(t *testing.T) {
	_, ts := newTestServer(t, devserver.Options{ChunkRunes: 3})

	body, err := newClient(ts).Open(context.Background(), stream.Request{Query: "gate?"})
	require.NoError(t, err)
	defer body.Close()
	raw, err := io.ReadAll(body)
	require.NoError(t, err)

	var dec stream.Decoder
	payloads := dec.Feed(raw)
	require.NotEmpty(t, payloads)
	assert.Equal(t, stream.DoneSentinel, payloads[len(payloads)-1])

	var text strings.Builder
	for _, p := range payloads[:len(payloads)-1] {
		frag, err := stream.ParseFrame(p)
		require.NoError(t, err)
		assert.LessOrEqual(t, len([]rune(frag)), 3)
		text.WriteString(frag)
	}
	a, ok := devserver.DefaultCorpus().Match("gate")
	require.True(t, ok)
	assert.Equal(t, a.Answer, text.String())
}

func TestQueryThroughController(t *testing.T) {
	_, ts := newTestServer(t, devserver.Options{})
	ctrl := stream.NewController(newClient(ts), stream.Options{})

	target := &render.MemoryTarget{}
	s, err := ctrl.Start(context.Background(), stream.Request{Query: "unknown topic"}, render.New(target, render.Config{}))
	require.NoError(t, err)
	res := s.Wait()

	assert.Equal(t, stream.StateCompleted, res.State)
	assert.Equal(t, devserver.DefaultCorpus().Fallback, res.Raw)
}

func TestQueryFaults(t *testing.T) {
	srv, ts := newTestServer(t, devserver.Options{ChunkRunes: 2})
	ctrl := stream.NewController(newClient(ts), stream.Options{})

	srv.Faults().FailQueries(1)
	_, err := ctrl.Start(context.Background(), stream.Request{Query: "gate"}, render.New(&render.MemoryTarget{}, render.Config{}))
	var statusErr *stream.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)

	srv.Faults().ErrorAfter(2)
	s, err := ctrl.Start(context.Background(), stream.Request{Query: "gate"}, render.New(&render.MemoryTarget{}, render.Config{}))
	require.NoError(t, err)
	res := s.Wait()
	assert.Equal(t, stream.StateFailed, res.State)
	var contentErr *stream.ContentError
	require.ErrorAs(t, res.Err, &contentErr)
	assert.Len(t, []rune(res.Raw), 4)

	// Faults are one-shot.
	s, err = ctrl.Start(context.Background(), stream.Request{Query: "gate"}, render.New(&render.MemoryTarget{}, render.Config{}))
	require.NoError(t, err)
	assert.Equal(t, stream.StateCompleted, s.Wait().State)
}

func TestQueryRejectsEmpty(t *testing.T) {
	_, ts := newTestServer(t, devserver.Options{})
	resp, err := http.Post(ts.URL+"/api/query", "application/json", strings.NewReader(`{"query": "  "}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var env persist.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.False(t, env.Success)
	assert.Equal(t, "query is required", env.Message)
}

func TestCancelledStreamStopsServer(t *testing.T) {
	_, ts := newTestServer(t, devserver.Options{ChunkRunes: 1, ChunkDelay: 20 * time.Millisecond})
	ctrl := stream.NewController(newClient(ts), stream.Options{})

	target := &render.MemoryTarget{}
	s, err := ctrl.Start(context.Background(), stream.Request{Query: "김포"}, render.New(target, render.Config{}))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Raw() != "" }, time.Second, 5*time.Millisecond)

	s.Cancel()
	res := s.Wait()
	assert.Equal(t, stream.StateCancelled, res.State)
	assert.Less(t, len(res.Raw), len(devserver.DefaultCorpus().Articles[0].Answer))
}

// =============================================================================
// DOCUMENTS AND GLOSSARY
// =============================================================================

func TestDocuments(t *testing.T) {
	_, ts := newTestServer(t, devserver.Options{})
	client := newClient(ts)

	docs, err := client.Documents(context.Background(), stream.Request{Query: "김포공항 운영시간"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "gmp-operations.pdf", docs[0].Filename)
	require.NotNil(t, docs[0].PageNumber)
	assert.Equal(t, 4, *docs[0].PageNumber)

	docs, err = client.Documents(context.Background(), stream.Request{Query: "nothing relevant"})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestGlossaryLoadsRemotely(t *testing.T) {
	_, ts := newTestServer(t, devserver.Options{})

	src := glossary.NewSource(nil)
	require.NoError(t, src.LoadRemote(context.Background(), ts.URL+"/api/glossary"))
	assert.Equal(t, "김포공항(GMP, Gimpo) 운영시간?", glossary.Rewrite("김포공항 운영시간?", src.Current()))
}

func TestLoadCorpus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.yaml")
	data := `
articles:
  - keywords: [parking, 주차]
    answer: "Parking is in **P1**."
    documents:
      - filename: parking.pdf
        page_number: 2
        section_title: Rates
fallback: "no idea"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	c, err := devserver.LoadCorpus(path)
	require.NoError(t, err)
	assert.Equal(t, "Parking is in **P1**.", c.Answer("Where is PARKING?"))
	assert.Equal(t, "no idea", c.Answer("weather"))

	docs := c.Documents("주차 요금")
	require.Len(t, docs, 1)
	require.NotNil(t, docs[0].PageNumber)
	assert.Equal(t, 2, *docs[0].PageNumber)
	assert.Equal(t, "Rates", docs[0].SectionTitle)

	require.NoError(t, os.WriteFile(path, []byte("articles: []\n"), 0600))
	_, err = devserver.LoadCorpus(path)
	assert.Error(t, err)
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

func TestConversationsThroughHTTPBackend(t *testing.T) {
	_, ts := newTestServer(t, devserver.Options{})
	b := persist.NewHTTPBackend(persist.HTTPConfig{URL: ts.URL + "/api/conversations"})
	ctx := context.Background()

	conv := conversation.Conversation{
		ID:    "conv_1",
		Title: "김포공항 운영시간?",
		Messages: []conversation.Message{
			{ID: "m1", Role: conversation.RoleUser, Content: "김포공항(GMP, Gimpo) 운영시간?"},
			{ID: "m2", Role: conversation.RoleAssistant, Content: "운영시간은..."},
		},
		UpdatedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, persist.Writer(b).Write(ctx, conv))

	loaded, err := persist.LoadConversation(ctx, b, "conv_1")
	require.NoError(t, err)
	assert.Equal(t, conv.Title, loaded.Title)
	assert.Equal(t, conv.Messages, loaded.Messages)

	page, err := b.List(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 2, page.Items[0].MessageCount)

	require.NoError(t, b.Delete(ctx, "conv_1"))
	_, err = b.Load(ctx, "conv_1")
	assert.ErrorIs(t, err, persist.ErrNotFound)
	assert.ErrorIs(t, b.Delete(ctx, "conv_1"), persist.ErrNotFound)
}

func TestSaveRejectsBadID(t *testing.T) {
	_, ts := newTestServer(t, devserver.Options{})
	resp, err := http.Post(ts.URL+"/api/conversations", "application/json",
		strings.NewReader(`{"conversation_id": "../etc", "title": "x", "messages": "[]"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInjectedSaveFailure(t *testing.T) {
	srv, ts := newTestServer(t, devserver.Options{})
	b := persist.NewHTTPBackend(persist.HTTPConfig{URL: ts.URL + "/api/conversations"})

	srv.Faults().FailSaves(1)
	err := b.Save(context.Background(), persist.Record{ID: "conv_x", Messages: json.RawMessage("[]")})
	var backendErr *persist.BackendError
	require.True(t, errors.As(err, &backendErr))
	assert.Equal(t, http.StatusInternalServerError, backendErr.StatusCode)

	assert.NoError(t, b.Save(context.Background(), persist.Record{ID: "conv_x", Messages: json.RawMessage("[]")}))
}

// =============================================================================
// END TO END
// =============================================================================

// TestCoordinatorAgainstDevServer drives a whole query: remote glossary,
// streamed answer with references, and a save that survives two injected
// failures.
func TestCoordinatorAgainstDevServer(t *testing.T) {
	srv, ts := newTestServer(t, devserver.Options{ChunkRunes: 8})
	ctx := context.Background()

	src := glossary.NewSource(nil)
	require.NoError(t, src.LoadRemote(ctx, ts.URL+"/api/glossary"))

	backend := persist.NewHTTPBackend(persist.HTTPConfig{URL: ts.URL + "/api/conversations"})
	store := conversation.NewStore(nil)
	cfg := conversation.DefaultSyncConfig()
	cfg.Debounce = 10 * time.Millisecond
	cfg.RetryBase = 5 * time.Millisecond
	cfg.RetryMax = 20 * time.Millisecond
	syncer := conversation.NewSyncer(store, persist.Writer(backend), cfg)
	defer syncer.Close()

	client := newClient(ts)
	coord := session.New(session.Deps{
		Store:     store,
		Syncer:    syncer,
		Streams:   stream.NewController(client, stream.Options{}),
		Documents: client,
		Glossary:  src,
	}, session.Options{
		Render: render.Config{TickInterval: time.Millisecond, Markup: markup.Options{WithImages: true}},
		Locale: "ko",
	})

	srv.Faults().FailSaves(2)
	reply, err := coord.Send(ctx, session.SendRequest{Text: "김포공항 운영시간?"})
	require.NoError(t, err)

	assert.Equal(t, "김포공항(GMP, Gimpo) 운영시간?", reply.Query)
	assert.Contains(t, reply.Assistant.Content, "<table")
	assert.Contains(t, reply.Assistant.Content, "/api/image-proxy?path=")
	require.NotNil(t, reply.Assistant.ReferencedDocs)
	assert.Contains(t, *reply.Assistant.ReferencedDocs, "gmp-operations.pdf (p. 4) - 운영시간")

	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, syncer.Flush(flushCtx))

	var saved conversation.Conversation
	require.Eventually(t, func() bool {
		saved, err = persist.LoadConversation(ctx, backend, reply.ConversationID)
		return err == nil && len(saved.Messages) == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "김포공항 운영시간?", saved.Title)
	assert.Equal(t, reply.Assistant.Content, saved.Messages[1].Content)
}
