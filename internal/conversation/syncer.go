// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jeranaias/ragchat/internal/config"
	"github.com/jeranaias/ragchat/internal/logging"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Writer persists one conversation. The conversation handed over contains
// only persistable messages.
type Writer interface {
	Write(ctx context.Context, c Conversation) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(ctx context.Context, c Conversation) error

// Write implements Writer.
func (f WriterFunc) Write(ctx context.Context, c Conversation) error { return f(ctx, c) }

// Notifier is told when a save cycle gives up.
type Notifier interface {
	SaveFailed(conversationID string, err error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(conversationID string, err error)

// SaveFailed implements Notifier.
func (f NotifierFunc) SaveFailed(conversationID string, err error) { f(conversationID, err) }

// =============================================================================
// STATE
// =============================================================================

// SyncState is the state of the current save cycle.
type SyncState int

const (
	StateIdle SyncState = iota
	StateDebouncing
	StateSaving
	StateRetrying
	StateSucceeded
	StateGivenUp
)

// String returns the state name.
func (s SyncState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDebouncing:
		return "debouncing"
	case StateSaving:
		return "saving"
	case StateRetrying:
		return "retrying"
	case StateSucceeded:
		return "succeeded"
	case StateGivenUp:
		return "given-up"
	default:
		return "unknown"
	}
}

// SaveOptions qualifies a save request.
type SaveOptions struct {
	// Immediate skips the debounce delay.
	Immediate bool
	// Force abandons any cycle in progress and saves now.
	Force bool
}

// SaveTask is the single pending save slot.
type SaveTask struct {
	ConversationID string
	RetryCount     int
	Immediate      bool
	Force          bool
	Generation     uint64
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// SyncConfig tunes the save cycle.
type SyncConfig struct {
	Debounce      time.Duration
	Timeout       time.Duration
	RetryBase     time.Duration
	RetryMax      time.Duration
	MaxAttempts   int
	FollowUpDelay time.Duration

	Clock    clockwork.Clock
	Notifier Notifier
}

// DefaultSyncConfig returns the default timings.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Debounce:      2 * time.Second,
		Timeout:       15 * time.Second,
		RetryBase:     time.Second,
		RetryMax:      30 * time.Second,
		MaxAttempts:   5,
		FollowUpDelay: 300 * time.Millisecond,
	}
}

// SyncConfigFrom converts the persistence section of the config.
func SyncConfigFrom(cfg config.PersistenceConfig) SyncConfig {
	return SyncConfig{
		Debounce:      cfg.Debounce.Duration,
		Timeout:       cfg.SaveTimeout.Duration,
		RetryBase:     cfg.RetryBase.Duration,
		RetryMax:      cfg.RetryMax.Duration,
		MaxAttempts:   cfg.MaxAttempts,
		FollowUpDelay: cfg.FollowUpDelay.Duration,
	}
}

func (c *SyncConfig) setDefaults() {
	d := DefaultSyncConfig()
	if c.Debounce <= 0 {
		c.Debounce = d.Debounce
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.RetryBase <= 0 {
		c.RetryBase = d.RetryBase
	}
	if c.RetryMax <= 0 {
		c.RetryMax = d.RetryMax
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.FollowUpDelay <= 0 {
		c.FollowUpDelay = d.FollowUpDelay
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
}

// Backoff returns the delay before retry number attempt (1-based): base
// doubled per attempt, capped at max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// =============================================================================
// SYNCER
// =============================================================================

// Syncer writes the current conversation to a Writer. Requests are
// debounced; at most one write is in flight; a request that arrives during
// a cycle sets a pending flag that produces exactly one follow-up save.
// Failed writes are retried with exponential backoff until MaxAttempts,
// after which the Notifier is told and the cycle ends.
type Syncer struct {
	mu     sync.Mutex
	store  *Store
	writer Writer
	cfg    SyncConfig

	state     SyncState
	task      *SaveTask
	inFlight  bool
	pending   bool
	pendingID string

	// generation invalidates the results of superseded writes.
	generation uint64
	cancel     context.CancelFunc

	timer    clockwork.Timer
	timerSeq uint64

	idle    chan struct{}
	lastErr error
	closed  bool
}

// NewSyncer creates a syncer for the current conversation of store.
func NewSyncer(store *Store, writer Writer, cfg SyncConfig) *Syncer {
	cfg.setDefaults()
	return &Syncer{
		store:  store,
		writer: writer,
		cfg:    cfg,
		idle:   closedChan(),
	}
}

// RequestSave asks for the current conversation to be saved.
func (s *Syncer) RequestSave(opts SaveOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	id := s.store.CurrentID()

	if opts.Force {
		s.supersedeLocked()
		s.task = &SaveTask{ConversationID: id, Immediate: true, Force: true, Generation: s.generation}
		s.startLocked()
		return
	}

	if s.inFlight || s.state == StateRetrying {
		s.pending = true
		s.pendingID = id
		return
	}

	s.task = &SaveTask{ConversationID: id, Immediate: opts.Immediate, Generation: s.generation}
	if opts.Immediate {
		s.stopTimerLocked()
		s.startLocked()
		return
	}

	s.state = StateDebouncing
	s.busyLocked()
	s.armLocked(s.cfg.Debounce, s.startLocked)
}

// Flush starts any save that is waiting on a timer and blocks until the
// syncer is idle. It returns the last error if the cycle gave up.
func (s *Syncer) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil && !s.inFlight && !s.closed {
		s.stopTimerLocked()
		s.startLocked()
	}
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateGivenUp {
		return s.lastErr
	}
	return nil
}

// State returns the state of the current cycle.
func (s *Syncer) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending reports whether a follow-up save has been requested.
func (s *Syncer) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// LastError returns the error of the most recent failed attempt.
func (s *Syncer) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Close stops timers and abandons any write in flight.
func (s *Syncer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.stopTimerLocked()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.inFlight = false
	s.idleLocked()
}

// =============================================================================
// SAVE CYCLE
// =============================================================================

// startLocked validates the task's conversation and launches one attempt.
func (s *Syncer) startLocked() {
	task := s.task
	if task == nil {
		s.finishLocked(StateIdle)
		return
	}
	logger := logging.Component("syncer").With().Str("conversation", task.ConversationID).Logger()

	conv, ok := s.store.Snapshot(task.ConversationID)
	if !ok {
		logger.Debug().Msg("conversation gone, nothing to save")
		s.task = nil
		s.finishLocked(StateIdle)
		return
	}
	msgs := conv.Persistable()
	if len(msgs) == 0 {
		logger.Debug().Int("messages", len(conv.Messages)).Msg("no persistable messages, skipping save")
		s.task = nil
		s.finishLocked(StateIdle)
		return
	}
	conv.Messages = msgs

	if conv.Title == "" || conv.Title == PlaceholderTitle {
		if first, ok := conv.FirstUserMessage(); ok {
			conv.Title = DeriveTitle(first)
			_ = s.store.SetTitle(conv.ID, conv.Title)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	s.cancel = cancel
	s.inFlight = true
	s.state = StateSaving
	s.busyLocked()

	attempt := task.RetryCount + 1
	logger.Debug().Int("attempt", attempt).Int("messages", len(msgs)).Msg("saving conversation")
	go s.write(ctx, cancel, s.generation, attempt, conv)
}

func (s *Syncer) write(ctx context.Context, cancel context.CancelFunc, gen uint64, attempt int, conv Conversation) {
	err := s.writer.Write(ctx, conv)
	cancel()

	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.inFlight = false
	s.cancel = nil

	var notify func()
	if err == nil {
		s.succeededLocked(conv.ID)
	} else {
		notify = s.failedLocked(conv.ID, attempt, err)
	}
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
}

func (s *Syncer) succeededLocked(id string) {
	s.lastErr = nil
	logger := logging.Component("syncer")
	logger.Debug().Str("conversation", id).Msg("conversation saved")

	if s.pending {
		s.pending = false
		s.task = &SaveTask{ConversationID: s.pendingID, Immediate: true, Generation: s.generation}
		s.state = StateSucceeded
		s.armLocked(s.cfg.FollowUpDelay, s.startLocked)
		return
	}
	s.task = nil
	s.finishLocked(StateSucceeded)
}

// failedLocked schedules a retry or ends the cycle. The returned function,
// if any, must be called after the lock is released.
func (s *Syncer) failedLocked(id string, attempt int, err error) func() {
	s.lastErr = err
	logger := logging.Component("syncer").With().Str("conversation", id).Logger()

	if attempt >= s.cfg.MaxAttempts {
		logger.Warn().Err(err).Int("attempts", attempt).Msg("giving up on saving conversation")
		s.pending = false
		s.task = nil
		s.finishLocked(StateGivenUp)
		if n := s.cfg.Notifier; n != nil {
			return func() { n.SaveFailed(id, err) }
		}
		return nil
	}

	delay := Backoff(s.cfg.RetryBase, s.cfg.RetryMax, attempt)
	logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("save failed, retrying")
	s.task.RetryCount = attempt
	s.state = StateRetrying
	s.armLocked(delay, s.startLocked)
	return nil
}

// supersedeLocked abandons the cycle in progress.
func (s *Syncer) supersedeLocked() {
	s.generation++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.inFlight = false
	s.pending = false
	s.stopTimerLocked()
}

// =============================================================================
// TIMERS AND IDLE TRACKING
// =============================================================================

// armLocked replaces the single timer slot. fn runs with the lock held.
func (s *Syncer) armLocked(d time.Duration, fn func()) {
	s.stopTimerLocked()
	seq := s.timerSeq
	s.timer = s.cfg.Clock.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || seq != s.timerSeq {
			return
		}
		s.timer = nil
		fn()
	})
}

func (s *Syncer) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerSeq++
}

func (s *Syncer) busyLocked() {
	select {
	case <-s.idle:
		s.idle = make(chan struct{})
	default:
	}
}

func (s *Syncer) idleLocked() {
	select {
	case <-s.idle:
	default:
		close(s.idle)
	}
}

func (s *Syncer) finishLocked(state SyncState) {
	s.state = state
	s.idleLocked()
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
