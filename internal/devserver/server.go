// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package devserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/jeranaias/ragchat/internal/glossary"
	"github.com/jeranaias/ragchat/internal/logging"
	"github.com/jeranaias/ragchat/internal/persist"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize bounds every JSON request body.
	MaxRequestBodySize = 4 << 20

	// DefaultChunkRunes is the characters per streamed frame when unset.
	DefaultChunkRunes = 4
)

// ============================================================================
// SERVER
// ============================================================================

// Options configures a Server. Zero values fall back to an in-memory
// conversation store, the built-in corpus and glossary, and no faults.
type Options struct {
	Addr          string
	Conversations persist.Backend
	Glossary      *glossary.Source
	Corpus        *Corpus
	Faults        *Faults
	ChunkRunes    int
	ChunkDelay    time.Duration
}

// Server is a local stand-in for the answer backend: it streams canned
// answers, names the documents behind them, serves the glossary and keeps
// conversations.
type Server struct {
	opts   Options
	router chi.Router
	log    zerolog.Logger

	mu     sync.Mutex
	server *http.Server
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.Conversations == nil {
		opts.Conversations = persist.NewMemoryBackend()
	}
	if opts.Glossary == nil {
		opts.Glossary = glossary.NewSource(DefaultGlossary())
	}
	if opts.Corpus == nil {
		opts.Corpus = DefaultCorpus()
	}
	if opts.Faults == nil {
		opts.Faults = &Faults{}
	}
	if opts.ChunkRunes <= 0 {
		opts.ChunkRunes = DefaultChunkRunes
	}

	s := &Server{
		opts: opts,
		log:  logging.Component("devserver"),
	}
	s.setupRoutes()
	return s
}

// DefaultGlossary is the glossary served when none is configured.
func DefaultGlossary() *glossary.Glossary {
	return glossary.New(map[string][]string{
		"김포공항": {"GMP", "Gimpo"},
		"국내선":  {"domestic"},
		"국제선":  {"international"},
	})
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Faults returns the fault injector.
func (s *Server) Faults() *Faults {
	return s.opts.Faults
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(s.log))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Cache-Control", "Content-Type"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/images/*", s.handleImage)

	r.Route("/api", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Post("/documents", s.handleDocuments)
		r.Get("/glossary", s.handleGlossary)
		r.Get("/image-proxy", s.handleImage)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", s.handleListConversations)
			r.Post("/", s.handleSaveConversation)
			r.Get("/{conversationID}", s.handleGetConversation)
			r.Delete("/{conversationID}", s.handleDeleteConversation)
		})
	})

	s.router = r
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// ListenAndServe serves until Shutdown is called. It returns nil after a
// clean shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("dev backend listening")
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for open streams to finish
// or ctx to end. The conversation store is closed afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	var err error
	if srv != nil {
		s.log.Info().Msg("dev backend shutting down")
		err = srv.Shutdown(ctx)
	}
	if cerr := s.opts.Conversations.Close(); err == nil {
		err = cerr
	}
	return err
}
