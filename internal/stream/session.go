// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/jeranaias/ragchat/internal/logging"
)

// DefaultTypesetInterval spaces periodic typesetting passes.
const DefaultTypesetInterval = 500 * time.Millisecond

// readSize is the read buffer for the event stream.
const readSize = 4096

// =============================================================================
// CONTROLLER
// =============================================================================

// Opener opens the event stream for a request. *Client implements it.
type Opener interface {
	Open(ctx context.Context, req Request) (io.ReadCloser, error)
}

// Options configures a Controller.
type Options struct {
	// TypesetInterval is the minimum spacing of periodic typeset calls.
	TypesetInterval time.Duration
}

// Controller starts stream sessions.
type Controller struct {
	opener  Opener
	options Options
}

// NewController creates a controller that opens streams through opener.
func NewController(opener Opener, opts Options) *Controller {
	if opts.TypesetInterval <= 0 {
		opts.TypesetInterval = DefaultTypesetInterval
	}
	return &Controller{opener: opener, options: opts}
}

// Start opens the stream and begins feeding sink in the background. It
// blocks only while the request is being opened; an error here means the
// session never reached Streaming. Cancelling ctx cancels the session.
func (c *Controller) Start(ctx context.Context, req Request, sink Sink) (*Session, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ID:     uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
		state:  StateOpening,
		done:   make(chan struct{}),
	}

	body, err := c.opener.Open(ctx, req)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			s.finish(StateCancelled, nil)
		} else {
			s.finish(StateFailed, err)
		}
		close(s.done)
		return nil, err
	}

	s.setState(StateStreaming)
	typeset := &rate.Sometimes{Interval: c.options.TypesetInterval}
	go s.run(body, sink, typeset)
	return s, nil
}

// =============================================================================
// SESSION
// =============================================================================

// Session is one query's response consumption, from open to terminal state.
type Session struct {
	ID string

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
	raw   strings.Builder
	err   error

	done chan struct{}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Raw returns everything appended so far.
func (s *Session) Raw() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raw.String()
}

// Cancel stops the session. The read in progress is aborted and the session
// ends in StateCancelled unless it already ended.
func (s *Session) Cancel() {
	s.cancel()
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session ends and returns its result.
func (s *Session) Wait() Result {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return Result{State: s.state, Raw: s.raw.String(), Err: s.err}
}

func (s *Session) run(body io.ReadCloser, sink Sink, typeset *rate.Sometimes) {
	defer close(s.done)
	defer s.cancel()
	defer body.Close()

	logger := logging.Component("stream").With().Str("session", s.ID).Logger()

	var dec Decoder
	buf := make([]byte, readSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if err := s.consume(dec.Feed(buf[:n]), sink, typeset); err != nil {
				logger.Warn().Err(err).Msg("stream failed")
				s.finish(StateFailed, err)
				return
			}
		}

		if s.ctx.Err() != nil {
			logger.Debug().Int("bytes", s.rawLen()).Msg("stream cancelled")
			s.finish(StateCancelled, nil)
			return
		}

		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			if err := s.consume(dec.Flush(), sink, typeset); err != nil {
				logger.Warn().Err(err).Msg("stream failed")
				s.finish(StateFailed, err)
				return
			}
			logger.Debug().Int("bytes", s.rawLen()).Msg("stream completed")
			s.finish(StateCompleted, nil)
			return
		}

		logger.Warn().Err(readErr).Msg("stream read failed")
		s.finish(StateFailed, readErr)
		return
	}
}

// consume handles the payloads completed by one read. The done sentinel
// ends processing of this batch only; reading continues until EOF.
func (s *Session) consume(payloads []string, sink Sink, typeset *rate.Sometimes) error {
	for _, payload := range payloads {
		if payload == DoneSentinel {
			return nil
		}
		if s.ctx.Err() != nil {
			return nil
		}

		fragment, err := ParseFrame(payload)
		if err != nil {
			return err
		}
		if fragment == "" {
			continue
		}

		raw := s.append(fragment)
		sink.OnAppend(raw)
		typeset.Do(sink.Typeset)
	}
	return nil
}

func (s *Session) append(fragment string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw.WriteString(fragment)
	return s.raw.String()
}

func (s *Session) rawLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raw.Len()
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// finish records the terminal state once.
func (s *Session) finish(state State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = state
	s.err = err
}
