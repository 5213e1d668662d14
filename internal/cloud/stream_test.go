// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkedBody returns its chunks one Read at a time.
type chunkedBody struct {
	chunks [][]byte
	closed bool
	err    error // returned after the chunks instead of io.EOF
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	if len(b.chunks) == 0 {
		if b.err != nil {
			return 0, b.err
		}
		return 0, io.EOF
	}
	n := copy(p, b.chunks[0])
	b.chunks[0] = b.chunks[0][n:]
	if len(b.chunks[0]) == 0 {
		b.chunks = b.chunks[1:]
	}
	return n, nil
}

func (b *chunkedBody) Close() error {
	b.closed = true
	return nil
}

func bodyOf(chunks ...string) *chunkedBody {
	b := &chunkedBody{}
	for _, c := range chunks {
		b.chunks = append(b.chunks, []byte(c))
	}
	return b
}

// drain collects all events of a stream.
func drain(t *testing.T, s *Stream) (deltas []string, terminal Event) {
	t.Helper()
	count := 0
	for {
		ev, ok := s.Next()
		if !ok {
			break
		}
		switch ev.Kind {
		case EventDelta:
			require.Equal(t, 0, count, "delta after terminal event")
			deltas = append(deltas, ev.Delta)
		default:
			count++
			terminal = ev
		}
	}
	require.Equal(t, 1, count, "exactly one terminal event")
	return deltas, terminal
}

func frame(content string) string {
	return `data: {"choices":[{"delta":{"content":"` + content + `"}}]}` + "\n\n"
}

func TestStream_ChunkBoundaryIndependence(t *testing.T) {
	full := frame("Hello") + frame(", 世界") + frame("!") + "data: [DONE]\n\n"
	raw := []byte(full)

	want, _ := drain(t, newStream(context.Background(), bodyOf(full), zerolog.Nop()))
	require.Equal(t, []string{"Hello", ", 世界", "!"}, want)

	for split := 1; split < len(raw); split++ {
		body := &chunkedBody{chunks: [][]byte{append([]byte{}, raw[:split]...), append([]byte{}, raw[split:]...)}}
		got, term := drain(t, newStream(context.Background(), body, zerolog.Nop()))
		assert.Equal(t, want, got, "split at byte %d", split)
		assert.Equal(t, EventDone, term.Kind)
	}
}

func TestStream_OneByteReads(t *testing.T) {
	full := frame("ça") + frame("日本") + "data: [DONE]\n"
	body := &chunkedBody{}
	for i := 0; i < len(full); i++ {
		body.chunks = append(body.chunks, []byte{full[i]})
	}

	got, term := drain(t, newStream(context.Background(), body, zerolog.Nop()))
	assert.Equal(t, []string{"ça", "日本"}, got)
	assert.Equal(t, EventDone, term.Kind)
}

func TestStream_MultibyteCharacterSplitAcrossReads(t *testing.T) {
	// "世" is E4 B8 96; the first read ends after E4 B8.
	line := frame("世界")
	idx := strings.Index(line, "世")
	raw := []byte(line)
	body := &chunkedBody{chunks: [][]byte{raw[:idx+2], raw[idx+2:]}}

	got, term := drain(t, newStream(context.Background(), body, zerolog.Nop()))
	assert.Equal(t, []string{"世界"}, got)
	assert.Equal(t, EventDone, term.Kind)
}

func TestStream_DoneStopsBufferedLines(t *testing.T) {
	body := bodyOf(frame("a") + "data: [DONE]\n" + frame("never"))

	got, term := drain(t, newStream(context.Background(), body, zerolog.Nop()))
	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, EventDone, term.Kind)
	assert.True(t, body.closed)
}

func TestStream_DoneWithSurroundingWhitespace(t *testing.T) {
	got, term := drain(t, newStream(context.Background(), bodyOf("data:   [DONE]  \r\n"+frame("x")), zerolog.Nop()))
	assert.Empty(t, got)
	assert.Equal(t, EventDone, term.Kind)
}

func TestStream_EmptyVersusAbsentContent(t *testing.T) {
	body := bodyOf(
		`data: {"choices":[{"delta":{"content":""}}]}`+"\n",
		`data: {"choices":[{"delta":{}}]}`+"\n",
		`data: {"choices":[{"delta":{"content":null}}]}`+"\n",
		`data: {"choices":[]}`+"\n",
		"data: [DONE]\n",
	)

	got, term := drain(t, newStream(context.Background(), body, zerolog.Nop()))
	assert.Equal(t, []string{""}, got)
	assert.Equal(t, EventDone, term.Kind)
}

func TestStream_MalformedLineSkipped(t *testing.T) {
	body := bodyOf(frame("one") + "data: {not json\n" + frame("two") + "data: [DONE]\n")

	got, term := drain(t, newStream(context.Background(), body, zerolog.Nop()))
	assert.Equal(t, []string{"one", "two"}, got)
	assert.Equal(t, EventDone, term.Kind)
}

func TestStream_IgnoresNonDataLines(t *testing.T) {
	body := bodyOf(": keep-alive\nevent: message\nid: 7\nretry: 100\n" + frame("ok") + "data: [DONE]\n")

	got, _ := drain(t, newStream(context.Background(), body, zerolog.Nop()))
	assert.Equal(t, []string{"ok"}, got)
}

func TestStream_CRLFLines(t *testing.T) {
	body := bodyOf(`data: {"choices":[{"delta":{"content":"crlf"}}]}` + "\r\n\r\ndata: [DONE]\r\n")

	got, term := drain(t, newStream(context.Background(), body, zerolog.Nop()))
	assert.Equal(t, []string{"crlf"}, got)
	assert.Equal(t, EventDone, term.Kind)
}

func TestStream_EOFWithoutDoneFlushesFinalLine(t *testing.T) {
	// No trailing newline and no [DONE].
	body := bodyOf(frame("first") + `data: {"choices":[{"delta":{"content":"last"}}]}`)

	got, term := drain(t, newStream(context.Background(), body, zerolog.Nop()))
	assert.Equal(t, []string{"first", "last"}, got)
	assert.Equal(t, EventDone, term.Kind)
}

func TestStream_ReadErrorEndsWithError(t *testing.T) {
	body := bodyOf(frame("partial"))
	body.err = errors.New("connection reset")

	got, term := drain(t, newStream(context.Background(), body, zerolog.Nop()))
	assert.Equal(t, []string{"partial"}, got)
	require.Equal(t, EventError, term.Kind)
	assert.Contains(t, term.Err.Error(), "connection reset")
}

func TestStream_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, term := drain(t, newStream(ctx, bodyOf(frame("x")), zerolog.Nop()))
	require.Equal(t, EventError, term.Kind)
	assert.ErrorIs(t, term.Err, context.Canceled)
}

func TestStream_LineTooLong(t *testing.T) {
	body := bodyOf("data: " + strings.Repeat("a", MaxLineSize+10))

	_, term := drain(t, newStream(context.Background(), body, zerolog.Nop()))
	require.Equal(t, EventError, term.Kind)
	assert.ErrorIs(t, term.Err, ErrLineTooLong)
}

func TestStream_NextAfterEndReturnsFalse(t *testing.T) {
	s := newStream(context.Background(), bodyOf("data: [DONE]\n"), zerolog.Nop())
	drain(t, s)

	_, ok := s.Next()
	assert.False(t, ok)
	assert.NoError(t, s.Close())
}
