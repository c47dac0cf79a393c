// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ragchat/internal/config"
	"github.com/jeranaias/ragchat/internal/conversation"
	"github.com/jeranaias/ragchat/internal/devserver"
	"github.com/jeranaias/ragchat/internal/persist"
	"github.com/jeranaias/ragchat/internal/session"
	"github.com/jeranaias/ragchat/internal/stream"
)

// =============================================================================
// HELPERS
// =============================================================================

// writeConfig points a config file at a dev backend and a file store.
func writeConfig(t *testing.T, baseURL string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	store := filepath.Join(dir, "conversations")
	path := filepath.Join(dir, "config.toml")
	content := fmt.Sprintf(`
[backend]
base_url = %q

[render]
tick_interval = "1ms"

[persistence]
backend = "file"
dir = %q
debounce = "10ms"

[log]
console = false
level = "error"
`, baseURL, store)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path, store
}

func startDevServer(t *testing.T) string {
	t.Helper()
	srv := devserver.New(devserver.Options{ChunkRunes: 16})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

// execute runs the command line and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// =============================================================================
// EXIT CODES
// =============================================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"usage", &UsageError{Message: "bad"}, ExitUsageError},
		{"config", config.ValidateErrors{{Field: "x", Message: "y"}}, ExitConfigError},
		{"no base url", fmt.Errorf("open: %w", config.ErrNoBaseURL), ExitConfigError},
		{"timeout", context.DeadlineExceeded, ExitTimeoutError},
		{"not found", commandError("history", "show", conversation.ErrConversationNotFound), ExitNotFoundError},
		{"status", &stream.StatusError{StatusCode: 502}, ExitNetworkError},
		{"backend", &persist.BackendError{Message: "nope"}, ExitNetworkError},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestAskThenHistory(t *testing.T) {
	cfgPath, _ := writeConfig(t, startDevServer(t))

	out, err := execute(t, "--config", cfgPath, "ask", "--json", "which", "gate?")
	require.NoError(t, err)

	var res askResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "which gate?", res.Query)
	assert.Equal(t, "completed", res.State)
	assert.Contains(t, res.Answer, "Gates are assigned about 90 minutes before departure.")
	require.NotNil(t, res.ReferencedDocs)
	assert.Contains(t, *res.ReferencedDocs, "wayfinding.md")

	out, err = execute(t, "--config", cfgPath, "history", "list")
	require.NoError(t, err)
	assert.Contains(t, out, res.ConversationID)
	assert.Contains(t, out, "which gate?")

	out, err = execute(t, "--config", cfgPath, "history", "show", "--raw", res.ConversationID)
	require.NoError(t, err)
	assert.Contains(t, out, "# which gate?")
	assert.Contains(t, out, "**You**")
	assert.Contains(t, out, "90 minutes")

	out, err = execute(t, "--config", cfgPath, "history", "delete", res.ConversationID)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted "+res.ConversationID)

	_, err = execute(t, "--config", cfgPath, "history", "show", res.ConversationID)
	require.Error(t, err)
	assert.Equal(t, ExitNotFoundError, ExitCode(err))
}

func TestTranscriptMarkdown(t *testing.T) {
	docs := `<div class="referenced-docs">wayfinding.md (p. 2)</div>`
	conv := conversation.Conversation{
		Title: "Gate question",
		Messages: []conversation.Message{
			{ID: "msg_1", Role: conversation.RoleUser, Content: "which gate?",
				Time: time.Date(2025, 3, 4, 9, 41, 0, 0, time.Local).Format(conversation.TimeFormat)},
			{ID: "msg_2", Role: conversation.RoleAssistant, Content: "<p>Gate <strong>12</strong></p>",
				Time: "not a time", ReferencedDocs: &docs},
		},
	}

	md := transcriptMarkdown(conv)
	assert.True(t, strings.HasPrefix(md, "# Gate question\n\n"))
	assert.Contains(t, md, "**You** _2025-03-04 09:41_\n\nwhich gate?")
	assert.Contains(t, md, "**Assistant**\n\nGate 12")
	assert.Contains(t, md, "> wayfinding.md (p. 2)")
}

func TestAskRequiresQuestion(t *testing.T) {
	cfgPath, _ := writeConfig(t, "http://127.0.0.1:1")
	_, err := execute(t, "--config", cfgPath, "ask")
	require.Error(t, err)
}

func TestAskUnreachableBackend(t *testing.T) {
	cfgPath, _ := writeConfig(t, "http://127.0.0.1:1")
	_, err := execute(t, "--config", cfgPath, "ask", "hello")
	require.Error(t, err)
	assert.NotEqual(t, ExitSuccess, ExitCode(err))
}

func TestGlossaryRewriteFromFile(t *testing.T) {
	cfgPath, _ := writeConfig(t, "http://127.0.0.1:1")
	file := filepath.Join(t.TempDir(), "glossary.yaml")
	require.NoError(t, os.WriteFile(file, []byte("김포공항: [GMP, Gimpo]\n"), 0600))

	out, err := execute(t, "--config", cfgPath, "glossary", "--file", file, "rewrite", "김포공항 운영시간?")
	require.NoError(t, err)
	assert.Equal(t, "김포공항(GMP, Gimpo) 운영시간?\n", out)

	out, err = execute(t, "--config", cfgPath, "glossary", "--file", file, "list")
	require.NoError(t, err)
	assert.Equal(t, "김포공항\tGMP, Gimpo\n", out)
}

func TestUnknownConfigFile(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.toml"), "glossary", "list")
	require.Error(t, err)
}

// =============================================================================
// LINE MODE
// =============================================================================

func TestRunChat(t *testing.T) {
	baseURL := startDevServer(t)
	cfgPath, _ := writeConfig(t, baseURL)
	cfg, err := config.LoadFromPath(cfgPath)
	require.NoError(t, err)

	app, err := NewApp(context.Background(), cfg, AppOptions{})
	require.NoError(t, err)
	defer app.Close()

	lines := []string{"gate?", "", "/new", "/quit"}
	read := func(string) (string, error) {
		if len(lines) == 0 {
			return "", io.EOF
		}
		line := lines[0]
		lines = lines[1:]
		return line, nil
	}

	var out bytes.Buffer
	require.NoError(t, runChat(context.Background(), app.Coordinator, read, &out))

	text := out.String()
	assert.Contains(t, text, "Gates are assigned about 90 minutes before departure.")
	assert.Contains(t, text, "started a new conversation")
	assert.Empty(t, lines)
	assert.Empty(t, app.Store.Current().Messages)
}

func TestRunChatEndsOnEOF(t *testing.T) {
	cfg := config.Default()
	cfg.Persistence.Backend = "file"
	cfg.Persistence.Dir = t.TempDir()
	cfg.Glossary.Remote = false

	app, err := NewApp(context.Background(), cfg, AppOptions{})
	require.NoError(t, err)
	defer app.Close()

	read := func(string) (string, error) { return "", io.EOF }
	var out bytes.Buffer
	require.NoError(t, runChat(context.Background(), app.Coordinator, read, &out))
	assert.True(t, strings.HasPrefix(out.String(), "ragchat"))
}

func TestAppCloseFlushesPendingSave(t *testing.T) {
	cfgPath, store := writeConfig(t, startDevServer(t))
	cfg, err := config.LoadFromPath(cfgPath)
	require.NoError(t, err)
	cfg.Persistence.Debounce = config.D(time.Hour)

	app, err := NewApp(context.Background(), cfg, AppOptions{})
	require.NoError(t, err)
	reply, err := app.Coordinator.Send(context.Background(), session.SendRequest{Text: "gate?"})
	require.NoError(t, err)
	require.NoError(t, app.Close())

	backend, err := persist.NewFileBackend(store)
	require.NoError(t, err)
	conv, err := persist.LoadConversation(context.Background(), backend, reply.ConversationID)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2)
}
