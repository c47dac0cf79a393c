// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package finalize turns the displayed answer into the stored message
// content once a stream ends, completed or cancelled.
package finalize
