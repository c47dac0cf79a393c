// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"github.com/jeranaias/ragchat/internal/glossary"
	"github.com/jeranaias/ragchat/internal/markup"
	"github.com/jeranaias/ragchat/internal/util"
)

// TitleLength is the title budget in characters, ellipsis included.
const TitleLength = 30

// DeriveTitle builds a conversation title from the first user message:
// markup and glossary annotations are removed, whitespace collapsed, and the
// result cut to TitleLength characters.
func DeriveTitle(firstUser string) string {
	text := markup.PlainText(firstUser)
	text = glossary.StripAnnotations(text)
	text = util.CollapseSpace(text)
	if text == "" {
		return PlaceholderTitle
	}
	return util.TruncateRunes(text, TitleLength)
}
