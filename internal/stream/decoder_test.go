// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderSplitsEvents(t *testing.T) {
	var d Decoder
	got := d.Feed([]byte("data: {\"content\":\"a\"}\n\ndata: {\"content\":\"b\"}\n\ndata: [DO"))
	assert.Equal(t, []string{`{"content":"a"}`, `{"content":"b"}`}, got)
	assert.Equal(t, len("data: [DO"), d.Pending())

	got = d.Feed([]byte("NE]\n\n"))
	assert.Equal(t, []string{"[DONE]"}, got)
	assert.Zero(t, d.Pending())
}

func TestDecoderCRLF(t *testing.T) {
	var d Decoder
	got := d.Feed([]byte("data: one\r\n\r\ndata: two\r\n\r\n"))
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestDecoderMultiByteSplitAcrossReads(t *testing.T) {
	frame := []byte("data: {\"content\":\"운영시간\"}\n\n")

	var d Decoder
	var got []string
	// Feed one byte at a time so every Hangul rune is split across reads.
	for i := range frame {
		got = append(got, d.Feed(frame[i:i+1])...)
	}

	require.Len(t, got, 1)
	text, err := ParseFrame(got[0])
	require.NoError(t, err)
	assert.Equal(t, "운영시간", text)
}

func TestDecoderJoinsDataLinesAndSkipsComments(t *testing.T) {
	var d Decoder
	got := d.Feed([]byte(": keep-alive\n\nevent: message\ndata: line one\ndata: line two\nid: 7\n\n"))
	assert.Equal(t, []string{"line one\nline two"}, got)
}

func TestDecoderFlush(t *testing.T) {
	var d Decoder
	assert.Empty(t, d.Feed([]byte("data: tail")))
	assert.Equal(t, []string{"tail"}, d.Flush())
	assert.Empty(t, d.Flush())
}

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		errType any
	}{
		{name: "content", payload: `{"content":"hello"}`, want: "hello"},
		{name: "text fallback", payload: `{"text":"hi"}`, want: "hi"},
		{name: "content wins", payload: `{"content":"a","text":"b"}`, want: "a"},
		{name: "double encoded", payload: `{"content":"\"quoted\""}`, want: "quoted"},
		{name: "only one layer", payload: `{"content":"\"\"x\"\""}`, want: `"x"`},
		{name: "empty object", payload: `{}`, want: ""},
		{name: "null error ignored", payload: `{"content":"x","error":null}`, want: "x"},
		{name: "string error", payload: `{"error":"model overloaded"}`, errType: &ContentError{}},
		{name: "object error", payload: `{"error":{"message":"boom"}}`, errType: &ContentError{}},
		{name: "not json", payload: `hello`, errType: &FrameError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFrame(tt.payload)
			switch want := tt.errType.(type) {
			case nil:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			case *ContentError:
				require.Error(t, err)
				assert.True(t, errors.As(err, &want))
			case *FrameError:
				require.Error(t, err)
				assert.True(t, errors.As(err, &want))
			}
		})
	}
}

func TestContentErrorMessage(t *testing.T) {
	_, err := ParseFrame(`{"error":{"message":"boom"}}`)
	var ce *ContentError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "boom", ce.Message)
}
