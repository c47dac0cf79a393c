// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"encoding/json"
	"strings"
)

// DoneSentinel is the payload that marks the end of the answer.
const DoneSentinel = "[DONE]"

// =============================================================================
// EVENT DECODER
// =============================================================================

// Decoder splits an event stream into event payloads. Bytes are held until
// a blank line completes an event, so a read that ends inside a multi-byte
// character or inside an event is carried over to the next Feed.
type Decoder struct {
	buf []byte
}

// Feed appends p and returns the payloads of every event it completed.
// Events without data lines (comments, keep-alives) are skipped.
func (d *Decoder) Feed(p []byte) []string {
	d.buf = append(d.buf, p...)

	var payloads []string
	for {
		end, width := delimiter(d.buf)
		if end < 0 {
			break
		}
		if payload, ok := eventData(d.buf[:end]); ok {
			payloads = append(payloads, payload)
		}
		d.buf = d.buf[end+width:]
	}

	if len(d.buf) == 0 {
		d.buf = nil
	}
	return payloads
}

// Flush returns the payload of a trailing event that was never terminated
// by a blank line, and resets the decoder.
func (d *Decoder) Flush() []string {
	rest := d.buf
	d.buf = nil
	if payload, ok := eventData(rest); ok {
		return []string{payload}
	}
	return nil
}

// Pending returns the number of buffered bytes not yet part of an event.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// delimiter finds the earliest "\n\n" or "\r\n\r\n" in b.
func delimiter(b []byte) (int, int) {
	lf := bytes.Index(b, []byte("\n\n"))
	crlf := bytes.Index(b, []byte("\r\n\r\n"))
	switch {
	case lf < 0 && crlf < 0:
		return -1, 0
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf, 4
	default:
		return lf, 2
	}
}

// eventData joins the data lines of one event.
func eventData(event []byte) (string, bool) {
	var lines []string
	for _, line := range strings.Split(string(event), "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		lines = append(lines, strings.TrimSpace(line[len("data:"):]))
	}
	if len(lines) == 0 {
		return "", false
	}
	return strings.Join(lines, "\n"), true
}

// =============================================================================
// FRAME PAYLOADS
// =============================================================================

type frame struct {
	Content *string         `json:"content"`
	Text    *string         `json:"text"`
	Error   json.RawMessage `json:"error"`
}

// ParseFrame extracts the text fragment from a JSON frame payload. A frame
// carrying an error yields a *ContentError; anything that is not a JSON
// object yields a *FrameError.
func ParseFrame(payload string) (string, error) {
	var f frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		return "", &FrameError{Payload: payload, Err: err}
	}

	if msg, ok := errorMessage(f.Error); ok {
		return "", &ContentError{Message: msg}
	}

	var text string
	switch {
	case f.Content != nil:
		text = *f.Content
	case f.Text != nil:
		text = *f.Text
	}
	return unquote(text), nil
}

// errorMessage interprets the error field, which backends send as a string,
// an object with a message, or a bare true.
func errorMessage(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" || string(raw) == "false" || string(raw) == `""` {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var obj struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message, true
		}
		if obj.Detail != "" {
			return obj.Detail, true
		}
	}
	return string(raw), true
}

// unquote strips one layer of enclosing double quotes left by backends that
// encode the fragment twice.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
