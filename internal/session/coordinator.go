// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/ragchat/internal/conversation"
	"github.com/jeranaias/ragchat/internal/finalize"
	"github.com/jeranaias/ragchat/internal/glossary"
	"github.com/jeranaias/ragchat/internal/logging"
	"github.com/jeranaias/ragchat/internal/render"
	"github.com/jeranaias/ragchat/internal/stream"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrBusy is returned when a query is sent while another is running.
	ErrBusy = errors.New("a query is already in progress")
	// ErrEmptyQuery is returned for a blank query.
	ErrEmptyQuery = errors.New("query is empty")
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// DocumentLookup answers which documents back a query. *stream.Client
// implements it.
type DocumentLookup interface {
	Documents(ctx context.Context, req stream.Request) ([]stream.Document, error)
}

// Observer is told about message changes and surfaced errors.
type Observer interface {
	// OnMessage is called when a message is added or finalized.
	OnMessage(conversationID string, m conversation.Message)
	// OnError is called once for a failed query.
	OnError(err error)
}

// ObserverFuncs adapts functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Message func(conversationID string, m conversation.Message)
	Error   func(err error)
}

// OnMessage implements Observer.
func (o ObserverFuncs) OnMessage(conversationID string, m conversation.Message) {
	if o.Message != nil {
		o.Message(conversationID, m)
	}
}

// OnError implements Observer.
func (o ObserverFuncs) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}

// Deps are the components a Coordinator drives.
type Deps struct {
	Store     *conversation.Store
	Syncer    *conversation.Syncer
	Streams   *stream.Controller
	Documents DocumentLookup
	Glossary  *glossary.Source
}

// Options tunes a Coordinator.
type Options struct {
	Render       render.Config
	DrainTimeout time.Duration
	Locale       string
	// Tags are sent with every query that does not carry its own.
	Tags     []string
	Observer Observer
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator owns the lifecycle of queries against one conversation store:
// rewrite, send, render, finalize, save. Only one query runs at a time.
type Coordinator struct {
	deps Deps
	opts Options
	log  zerolog.Logger

	mu     sync.Mutex
	active *activeQuery
}

type activeQuery struct {
	cancel  context.CancelFunc
	stopped bool
}

// SendRequest is one user query.
type SendRequest struct {
	Text string
	Tags []string
	Docs []string
	// Target displays the answer while it streams. Nil renders off-screen.
	Target render.Target
}

// Reply is the outcome of a query that produced an assistant message.
type Reply struct {
	ConversationID string
	Query          string
	User           conversation.Message
	Assistant      conversation.Message
	State          stream.State
}

// New creates a coordinator.
func New(deps Deps, opts Options) *Coordinator {
	if deps.Glossary == nil {
		deps.Glossary = glossary.NewSource(nil)
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 3 * time.Second
	}
	if opts.Locale == "" {
		opts.Locale = "ko"
	}
	if opts.Observer == nil {
		opts.Observer = ObserverFuncs{}
	}
	return &Coordinator{
		deps: deps,
		opts: opts,
		log:  logging.Component("session"),
	}
}

// Store returns the conversation store.
func (c *Coordinator) Store() *conversation.Store { return c.deps.Store }

// Syncer returns the save syncer.
func (c *Coordinator) Syncer() *conversation.Syncer { return c.deps.Syncer }

// Glossary returns the glossary source.
func (c *Coordinator) Glossary() *glossary.Source { return c.deps.Glossary }

// Active reports whether a query is running.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Stop cancels the running query, if any. Its answer is kept as far as it
// was displayed, marked as stopped.
func (c *Coordinator) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return false
	}
	c.active.stopped = true
	c.active.cancel()
	return true
}

// NewConversation saves the current conversation and starts a new one.
func (c *Coordinator) NewConversation() (conversation.Conversation, error) {
	if c.Active() {
		return conversation.Conversation{}, ErrBusy
	}
	c.deps.Syncer.RequestSave(conversation.SaveOptions{Immediate: true})
	return c.deps.Store.New(), nil
}

// SelectConversation saves the current conversation and switches to id.
func (c *Coordinator) SelectConversation(id string) error {
	if c.Active() {
		return ErrBusy
	}
	c.deps.Syncer.RequestSave(conversation.SaveOptions{Immediate: true})
	return c.deps.Store.Select(id)
}

// Send runs one query to completion and returns the finalized reply. It
// blocks while the answer streams; call Stop from another goroutine to
// cancel. A failed query leaves no assistant message behind.
func (c *Coordinator) Send(ctx context.Context, req SendRequest) (Reply, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Reply{}, ErrEmptyQuery
	}

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return Reply{}, ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	active := &activeQuery{cancel: cancel}
	c.active = active
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.active = nil
		c.mu.Unlock()
	}()

	return c.run(ctx, active, text, req)
}

func (c *Coordinator) run(ctx context.Context, active *activeQuery, text string, req SendRequest) (Reply, error) {
	store := c.deps.Store
	query := glossary.Rewrite(text, c.deps.Glossary.Current())

	user := conversation.Message{ID: conversation.NewMessageID(), Role: conversation.RoleUser, Content: query}
	convID := store.Append(user)
	c.opts.Observer.OnMessage(convID, user)
	c.deps.Syncer.RequestSave(conversation.SaveOptions{})

	transientID := conversation.NewTransientID()
	store.Append(conversation.Message{ID: transientID, Role: conversation.RoleAssistant})

	tags := req.Tags
	if tags == nil {
		tags = c.opts.Tags
	}
	sreq := stream.Request{Query: query, Tags: tags, Docs: req.Docs}

	target := req.Target
	if target == nil {
		target = &render.MemoryTarget{}
	}
	buf := render.New(target, c.opts.Render)
	gate := &headerGate{buf: buf}

	logger := c.log.With().Str("conversation", convID).Logger()
	logger.Info().Str("query", query).Msg("sending query")

	// Document lookup and stream open run side by side; a failed lookup
	// only costs the references block.
	var (
		docs    []stream.Document
		session *stream.Session
	)
	g, gctx := errgroup.WithContext(ctx)
	if c.deps.Documents != nil {
		g.Go(func() error {
			found, err := c.deps.Documents.Documents(gctx, sreq)
			if err != nil {
				if gctx.Err() == nil {
					logger.Warn().Err(err).Msg("document lookup failed")
				}
				return nil
			}
			docs = found
			return nil
		})
	}
	g.Go(func() error {
		s, err := c.deps.Streams.Start(ctx, sreq, gate)
		session = s
		return err
	})
	openErr := g.Wait()

	header := finalize.ReferencesMarkup(references(docs), finalize.ReferencesTitle(c.opts.Locale))
	if header != "" {
		buf.SetHeader(header)
	}
	gate.release()

	result := stream.Result{State: stream.StateFailed, Err: openErr}
	if openErr == nil {
		result = session.Wait()
	} else if c.wasStopped(active) {
		result = stream.Result{State: stream.StateCancelled}
	}

	var out finalize.Output
	switch result.State {
	case stream.StateCompleted:
		drainCtx, cancel := context.WithTimeout(context.Background(), c.opts.DrainTimeout)
		if err := buf.Drain(drainCtx); err != nil {
			logger.Debug().Err(err).Msg("render did not catch up, finalizing early")
		}
		cancel()
		if result.Raw != "" {
			buf.Finalize(result.Raw)
		} else {
			buf.Stop()
			logger.Warn().Msg("stream completed without content, capturing displayed text")
		}
		out = finalize.Capture(finalize.Input{
			Target: target,
			Header: header,
			Raw:    result.Raw,
			Markup: c.opts.Render.Markup,
		})

	case stream.StateCancelled:
		buf.Stop()
		out = finalize.Capture(finalize.Input{
			Target:        target,
			Header:        header,
			Partial:       true,
			StoppedMarker: finalize.StoppedMarker(c.opts.Locale),
			Markup:        c.opts.Render.Markup,
		})
		target.SetMarkup(header + out.Content)
		logger.Info().Int("bytes", len(result.Raw)).Msg("query stopped by user")

	default:
		buf.Stop()
		if err := store.Remove(convID, transientID); err != nil {
			logger.Debug().Err(err).Msg("transient message already gone")
		}
		err := result.Err
		if err == nil {
			err = errors.New("stream ended unexpectedly")
		}
		logger.Warn().Err(err).Msg("query failed")
		c.opts.Observer.OnError(err)
		return Reply{ConversationID: convID, Query: query, User: user, State: stream.StateFailed}, err
	}

	assistant := conversation.Message{
		ID:             conversation.NewMessageID(),
		Role:           conversation.RoleAssistant,
		Content:        out.Content,
		ReferencedDocs: out.ReferencedDocs,
	}
	err := store.Update(convID, transientID, func(m *conversation.Message) {
		assistant.Time = m.Time
		*m = assistant
	})
	if err != nil {
		// The conversation was deleted while the answer streamed.
		logger.Warn().Err(err).Msg("could not record answer")
	}
	c.opts.Observer.OnMessage(convID, assistant)
	c.deps.Syncer.RequestSave(conversation.SaveOptions{})

	return Reply{
		ConversationID: convID,
		Query:          query,
		User:           user,
		Assistant:      assistant,
		State:          result.State,
	}, nil
}

// headerGate holds stream updates back from the render buffer until the
// references header is set, so the header is displayed before the answer.
type headerGate struct {
	buf *render.Buffer

	mu   sync.Mutex
	open bool
	raw  string
}

// OnAppend implements stream.Sink.
func (g *headerGate) OnAppend(raw string) {
	g.mu.Lock()
	if !g.open {
		g.raw = raw
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	g.buf.OnAppend(raw)
}

// Typeset implements stream.Sink.
func (g *headerGate) Typeset() {
	g.mu.Lock()
	open := g.open
	g.mu.Unlock()
	if open {
		g.buf.Typeset()
	}
}

// release forwards the latest held update and lets later ones through.
func (g *headerGate) release() {
	g.mu.Lock()
	g.open = true
	raw := g.raw
	g.mu.Unlock()
	if raw != "" {
		g.buf.OnAppend(raw)
	}
}

func (c *Coordinator) wasStopped(active *activeQuery) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return active.stopped
}

func references(docs []stream.Document) []finalize.Reference {
	refs := make([]finalize.Reference, 0, len(docs))
	for _, d := range docs {
		refs = append(refs, finalize.Reference{
			Filename:     d.Filename,
			PageNumber:   d.PageNumber,
			SectionTitle: d.SectionTitle,
		})
	}
	return refs
}
