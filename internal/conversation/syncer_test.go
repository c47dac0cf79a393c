// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// scriptedWriter records every write and answers with behave(call number).
type scriptedWriter struct {
	mu     sync.Mutex
	writes []Conversation
	behave func(ctx context.Context, call int) error
}

func (w *scriptedWriter) Write(ctx context.Context, c Conversation) error {
	w.mu.Lock()
	w.writes = append(w.writes, c)
	call := len(w.writes)
	behave := w.behave
	w.mu.Unlock()

	if behave == nil {
		return nil
	}
	return behave(ctx, call)
}

func (w *scriptedWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.writes)
}

func (w *scriptedWriter) last() Conversation {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes[len(w.writes)-1]
}

func storeWithExchange(clock clockwork.Clock) *Store {
	s := NewStore(clock)
	s.Append(Message{ID: NewMessageID(), Role: RoleUser, Content: "김포공항(GMP, Gimpo) 운영시간?"})
	s.Append(Message{ID: NewMessageID(), Role: RoleAssistant, Content: "운영시간은..."})
	return s
}

func flush(t *testing.T, s *Syncer) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Flush(ctx)
}

// =============================================================================
// DEBOUNCE
// =============================================================================

func TestSyncerCoalescesBurst(t *testing.T) {
	clock := clockwork.NewFakeClock()
	w := &scriptedWriter{}
	s := NewSyncer(storeWithExchange(clock), w, SyncConfig{Clock: clock, Debounce: 2 * time.Second})
	defer s.Close()

	for i := 0; i < 3; i++ {
		s.RequestSave(SaveOptions{})
		clock.Advance(500 * time.Millisecond)
	}
	assert.Equal(t, StateDebouncing, s.State())
	assert.Zero(t, w.count())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(2 * time.Second)

	require.Eventually(t, func() bool { return s.State() == StateSucceeded }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, w.count(), "three requests inside the window produce one write")
}

func TestSyncerDebounceResets(t *testing.T) {
	clock := clockwork.NewFakeClock()
	w := &scriptedWriter{}
	s := NewSyncer(storeWithExchange(clock), w, SyncConfig{Clock: clock, Debounce: 2 * time.Second})
	defer s.Close()

	s.RequestSave(SaveOptions{})
	clock.Advance(1500 * time.Millisecond)
	s.RequestSave(SaveOptions{})
	clock.Advance(1500 * time.Millisecond)

	// 3s since the first request but only 1.5s since the last.
	assert.Equal(t, StateDebouncing, s.State())
	assert.Zero(t, w.count())

	clock.Advance(500 * time.Millisecond)
	require.Eventually(t, func() bool { return w.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSyncerImmediate(t *testing.T) {
	w := &scriptedWriter{}
	s := NewSyncer(storeWithExchange(nil), w, SyncConfig{Debounce: time.Hour})
	defer s.Close()

	s.RequestSave(SaveOptions{Immediate: true})
	require.NoError(t, flush(t, s))
	assert.Equal(t, 1, w.count())
	assert.Equal(t, StateSucceeded, s.State())
}

func TestSyncerFlushStartsDebouncedSave(t *testing.T) {
	w := &scriptedWriter{}
	s := NewSyncer(storeWithExchange(nil), w, SyncConfig{Debounce: time.Hour})
	defer s.Close()

	s.RequestSave(SaveOptions{})
	require.NoError(t, flush(t, s))
	assert.Equal(t, 1, w.count())
}

// =============================================================================
// IN-FLIGHT AND PENDING
// =============================================================================

func TestSyncerPendingProducesOneFollowUp(t *testing.T) {
	release := make(chan struct{})
	w := &scriptedWriter{behave: func(ctx context.Context, call int) error {
		if call == 1 {
			<-release
		}
		return nil
	}}
	s := NewSyncer(storeWithExchange(nil), w, SyncConfig{FollowUpDelay: time.Millisecond})
	defer s.Close()

	s.RequestSave(SaveOptions{Immediate: true})
	require.Eventually(t, func() bool { return w.count() == 1 }, time.Second, time.Millisecond)

	s.RequestSave(SaveOptions{})
	s.RequestSave(SaveOptions{Immediate: true})
	s.RequestSave(SaveOptions{})
	assert.True(t, s.Pending())
	assert.Equal(t, 1, w.count(), "no second write while one is in flight")

	close(release)
	require.NoError(t, flush(t, s))
	assert.Equal(t, 2, w.count())
	assert.False(t, s.Pending())
}

func TestSyncerForceSupersedes(t *testing.T) {
	w := &scriptedWriter{behave: func(ctx context.Context, call int) error {
		if call == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}}
	s := NewSyncer(storeWithExchange(nil), w, SyncConfig{})
	defer s.Close()

	s.RequestSave(SaveOptions{Immediate: true})
	require.Eventually(t, func() bool { return w.count() == 1 }, time.Second, time.Millisecond)

	s.RequestSave(SaveOptions{Force: true})
	require.NoError(t, flush(t, s))

	assert.Equal(t, 2, w.count())
	assert.Equal(t, StateSucceeded, s.State())
	assert.NoError(t, s.LastError(), "the abandoned write's error is ignored")
}

// =============================================================================
// RETRY
// =============================================================================

func TestSyncerGivesUpAfterMaxAttempts(t *testing.T) {
	saveErr := errors.New("503 service unavailable")
	w := &scriptedWriter{behave: func(context.Context, int) error { return saveErr }}

	notified := make(chan string, 4)
	store := storeWithExchange(nil)
	s := NewSyncer(store, w, SyncConfig{
		RetryBase:   time.Millisecond,
		RetryMax:    4 * time.Millisecond,
		MaxAttempts: 3,
		Notifier:    NotifierFunc(func(id string, err error) { notified <- id }),
	})
	defer s.Close()

	s.RequestSave(SaveOptions{Immediate: true})

	select {
	case id := <-notified:
		assert.Equal(t, store.CurrentID(), id)
	case <-time.After(2 * time.Second):
		t.Fatal("no failure notification")
	}

	assert.ErrorIs(t, flush(t, s), saveErr)
	assert.Equal(t, StateGivenUp, s.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, w.count(), "exactly MaxAttempts writes, then no more")
	assert.Len(t, notified, 0, "notified once")
}

func TestSyncerRetryThenSucceed(t *testing.T) {
	w := &scriptedWriter{behave: func(_ context.Context, call int) error {
		if call == 1 {
			return errors.New("timeout")
		}
		return nil
	}}
	s := NewSyncer(storeWithExchange(nil), w, SyncConfig{RetryBase: time.Millisecond})
	defer s.Close()

	s.RequestSave(SaveOptions{Immediate: true})
	require.NoError(t, flush(t, s))
	assert.Equal(t, 2, w.count())
	assert.Equal(t, StateSucceeded, s.State())
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{60, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(time.Second, 30*time.Second, tt.attempt); got != tt.want {
			t.Errorf("Backoff(attempt %d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

// =============================================================================
// VALIDATION AND TITLE
// =============================================================================

func TestSyncerSkipsTransientOnlyConversation(t *testing.T) {
	store := NewStore(nil)
	store.Append(Message{ID: NewTransientID(), Role: RoleAssistant, Content: "partial"})

	w := &scriptedWriter{}
	s := NewSyncer(store, w, SyncConfig{})
	defer s.Close()

	s.RequestSave(SaveOptions{Immediate: true})
	require.NoError(t, flush(t, s))
	assert.Zero(t, w.count())
	assert.Equal(t, StateIdle, s.State())
}

func TestSyncerWritesOnlyPersistableMessagesAndDerivesTitle(t *testing.T) {
	store := storeWithExchange(nil)
	store.Append(Message{ID: NewTransientID(), Role: RoleAssistant, Content: "in progress"})

	w := &scriptedWriter{}
	s := NewSyncer(store, w, SyncConfig{})
	defer s.Close()

	s.RequestSave(SaveOptions{Immediate: true})
	require.NoError(t, flush(t, s))

	written := w.last()
	assert.Len(t, written.Messages, 2)
	for _, m := range written.Messages {
		assert.False(t, m.Transient())
	}
	assert.Equal(t, "김포공항 운영시간?", written.Title)
	assert.Equal(t, "김포공항 운영시간?", store.Current().Title)
	assert.Len(t, store.Current().Messages, 3, "the store keeps the transient message")
}

func TestSyncerKeepsExistingTitle(t *testing.T) {
	store := storeWithExchange(nil)
	require.NoError(t, store.SetTitle(store.CurrentID(), "Airport hours"))

	w := &scriptedWriter{}
	s := NewSyncer(store, w, SyncConfig{})
	defer s.Close()

	s.RequestSave(SaveOptions{Immediate: true})
	require.NoError(t, flush(t, s))
	assert.Equal(t, "Airport hours", w.last().Title)
}

func TestSyncerClosedIgnoresRequests(t *testing.T) {
	w := &scriptedWriter{}
	s := NewSyncer(storeWithExchange(nil), w, SyncConfig{})
	s.Close()

	s.RequestSave(SaveOptions{Immediate: true})
	require.NoError(t, flush(t, s))
	assert.Zero(t, w.count())
}
