// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package glossary

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/jeranaias/ragchat/internal/logging"
)

// maxRemoteSize bounds a glossary response body.
const maxRemoteSize = 4 << 20

// Source holds the current glossary snapshot. Readers take a snapshot with
// Current at the start of a query; reloads swap the pointer and never mutate
// a snapshot in place.
type Source struct {
	current  atomic.Pointer[Glossary]
	group    singleflight.Group
	client   *http.Client
	debounce time.Duration
	log      zerolog.Logger
}

// NewSource creates a source seeded with initial (nil means empty).
func NewSource(initial *Glossary) *Source {
	if initial == nil {
		initial = Empty()
	}
	s := &Source{
		client:   &http.Client{Timeout: 15 * time.Second},
		debounce: 200 * time.Millisecond,
		log:      logging.Component("glossary"),
	}
	s.current.Store(initial)
	return s
}

// Current returns the active snapshot.
func (s *Source) Current() *Glossary {
	return s.current.Load()
}

// Set replaces the active snapshot.
func (s *Source) Set(g *Glossary) {
	if g == nil {
		g = Empty()
	}
	s.current.Store(g)
}

// LoadFile replaces the snapshot with the contents of path. On error the
// previous snapshot stays active.
func (s *Source) LoadFile(path string) error {
	g, err := LoadFile(path)
	if err != nil {
		return err
	}
	s.Set(g)
	s.log.Info().Str("path", path).Int("terms", g.Len()).Msg("glossary loaded")
	return nil
}

// LoadRemote fetches the glossary JSON from url. Concurrent calls for the
// same url share one request.
func (s *Source) LoadRemote(ctx context.Context, url string) error {
	v, err, _ := s.group.Do(url, func() (interface{}, error) {
		return s.fetch(ctx, url)
	})
	if err != nil {
		return err
	}
	g := v.(*Glossary)
	s.Set(g)
	s.log.Info().Str("url", url).Int("terms", g.Len()).Msg("glossary fetched")
	return nil
}

func (s *Source) fetch(ctx context.Context, url string) (*Glossary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create glossary request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch glossary: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch glossary: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteSize))
	if err != nil {
		return nil, fmt.Errorf("read glossary: %w", err)
	}
	return Parse(data, FormatJSON)
}

// Watch reloads path whenever it is written, created or renamed into place,
// until ctx is cancelled. The directory is watched so editors that replace
// the file atomically are handled. Reload failures are logged and keep the
// previous snapshot.
func (s *Source) Watch(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create glossary watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go s.watchLoop(ctx, watcher, abs)
	return nil
}

func (s *Source) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	defer watcher.Close()

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(s.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			if err := s.LoadFile(path); err != nil {
				s.log.Warn().Err(err).Str("path", path).Msg("glossary reload failed, keeping previous snapshot")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("glossary watcher error")
		}
	}
}
