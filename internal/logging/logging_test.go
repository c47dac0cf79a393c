// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ragchat/internal/config"
)

func TestSetup_ConsoleAndFile(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	})

	var console bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "ragchat.log")

	closer, err := Setup(config.LogConfig{Level: "debug", File: file, Console: true}, Options{Console: &console})
	require.NoError(t, err)

	logger := Component("syncer")
	logger.Debug().Str("conversation", "c1").Msg("save scheduled")
	require.NoError(t, closer.Close())

	assert.Contains(t, console.String(), "save scheduled")
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"syncer"`)
}

func TestSetup_QuietWithoutFileDiscards(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	var console bytes.Buffer
	_, err := Setup(config.LogConfig{Level: "info", Console: true}, Options{Quiet: true, Console: &console})
	require.NoError(t, err)

	log.Info().Msg("hidden")
	assert.Empty(t, console.String())
}
