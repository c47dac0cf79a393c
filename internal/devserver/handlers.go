// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package devserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeranaias/ragchat/internal/persist"
	"github.com/jeranaias/ragchat/internal/stream"
)

// ============================================================================
// QUERY STREAM
// ============================================================================

// handleQuery streams the matching answer as "data: {"content": ...}"
// frames followed by the [DONE] sentinel.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req stream.Request
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if s.opts.Faults.takeQuery() {
		s.writeError(w, http.StatusServiceUnavailable, "query backend unavailable (injected)")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	errorAfter := s.opts.Faults.takeStreamError()
	chunks := splitRunes(s.opts.Corpus.Answer(req.Query), s.opts.ChunkRunes)

	for i, chunk := range chunks {
		if i == errorAfter {
			s.sendFrame(w, flusher, map[string]string{"error": "generation failed (injected)"})
			return
		}
		if i > 0 && s.opts.ChunkDelay > 0 {
			timer := time.NewTimer(s.opts.ChunkDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				s.log.Debug().Int("frames", i).Msg("client went away mid-stream")
				return
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return
		}
		s.sendFrame(w, flusher, map[string]string{"content": chunk})
	}
	if errorAfter >= len(chunks) {
		s.sendFrame(w, flusher, map[string]string{"error": "generation failed (injected)"})
		return
	}

	fmt.Fprintf(w, "data: %s\n\n", stream.DoneSentinel)
	flusher.Flush()
}

// sendFrame writes one SSE event.
func (s *Server) sendFrame(w http.ResponseWriter, flusher http.Flusher, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// splitRunes cuts s into pieces of at most n characters.
func splitRunes(s string, n int) []string {
	runes := []rune(s)
	out := make([]string, 0, len(runes)/n+1)
	for len(runes) > 0 {
		k := n
		if k > len(runes) {
			k = len(runes)
		}
		out = append(out, string(runes[:k]))
		runes = runes[k:]
	}
	return out
}

// ============================================================================
// DOCUMENTS AND GLOSSARY
// ============================================================================

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	var req stream.Request
	if !s.decode(w, r, &req) {
		return
	}
	s.writeData(w, http.StatusOK, s.opts.Corpus.Documents(req.Query))
}

// handleGlossary serves the glossary as a key to values mapping.
func (s *Server) handleGlossary(w http.ResponseWriter, r *http.Request) {
	entries := s.opts.Glossary.Current().Entries()
	out := make(map[string][]string, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Values
	}
	s.writeData(w, http.StatusOK, out)
}

// placeholderImage is served for every image path.
const placeholderImage = `<svg xmlns="http://www.w3.org/2000/svg" width="320" height="180">` +
	`<rect width="100%" height="100%" fill="#ddd"/>` +
	`<text x="50%" y="50%" text-anchor="middle" fill="#555" font-family="sans-serif">image</text></svg>`

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "max-age=3600")
	_, _ = w.Write([]byte(placeholderImage))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"glossary": s.opts.Glossary.Current().Len(),
	})
}

// ============================================================================
// CONVERSATIONS
// ============================================================================

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	p, err := s.opts.Conversations.List(r.Context(), page, perPage)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, p)
}

func (s *Server) handleSaveConversation(w http.ResponseWriter, r *http.Request) {
	var wire persist.WireConversation
	if !s.decode(w, r, &wire) {
		return
	}
	if !persist.ValidID(wire.ConversationID) {
		s.writeError(w, http.StatusBadRequest, "conversation_id is missing or invalid")
		return
	}
	if s.opts.Faults.takeSave() {
		s.writeError(w, http.StatusInternalServerError, "storage unavailable (injected)")
		return
	}

	rec := wire.Record()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	if err := s.opts.Conversations.Save(r.Context(), rec); err != nil {
		s.storeError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, map[string]string{"conversation_id": rec.ID})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	rec, err := s.opts.Conversations.Load(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, persist.ToWire(rec))
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	if err := s.opts.Conversations.Delete(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, map[string]string{"conversation_id": id})
}

// ============================================================================
// HELPERS
// ============================================================================

// decode reads a JSON body, answering 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, persist.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, persist.ErrInvalidID):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error().Err(err).Msg("conversation store failed")
		s.writeError(w, http.StatusInternalServerError, "storage error")
	}
}

// writeData writes a successful envelope.
func (s *Server) writeData(w http.ResponseWriter, status int, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	s.writeJSON(w, status, persist.Envelope{Success: true, Data: raw})
}

// writeError writes a failed envelope.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, persist.Envelope{Success: false, Message: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
