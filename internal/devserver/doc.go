// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package devserver provides a local stand-in for the answer backend.
//
// Endpoints:
//   - POST   /api/query                 - answer as an event stream ending in [DONE]
//   - POST   /api/documents             - documents behind an answer
//   - GET    /api/glossary              - facility definitions
//   - GET    /api/conversations         - paginated conversation summaries
//   - POST   /api/conversations         - save a conversation
//   - GET    /api/conversations/{id}    - load a conversation
//   - DELETE /api/conversations/{id}    - delete a conversation
//   - GET    /api/image-proxy, /images/ - placeholder images
//
// Answers come from a keyword corpus (built in, or YAML via LoadCorpus).
// Conversations live in any persist.Backend: memory by default, redis for a
// server shared between clients. Faults injects save failures, refused
// queries and mid-stream errors.
package devserver
