// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

const (
	// MaxLineSize bounds a single decoded line.
	MaxLineSize = 1024 * 1024

	readChunkSize = 4 * 1024
	dataPrefix    = "data:"
	doneSentinel  = "[DONE]"
)

// =============================================================================
// STREAMING TYPES
// =============================================================================

// EventKind tags a stream Event.
type EventKind int

const (
	// EventDelta carries one content delta, possibly empty.
	EventDelta EventKind = iota
	// EventDone is the successful end of the stream.
	EventDone
	// EventError is the failed end of the stream.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventDelta:
		return "delta"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one item yielded by a Stream.
type Event struct {
	Kind  EventKind
	Delta string
	Err   error
}

// streamChunk is the subset of a streaming frame that is read. Content is a
// pointer so an absent or null content can be told apart from "".
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// =============================================================================
// STREAM
// =============================================================================

// Stream yields the deltas of one streaming response. It is not safe for
// concurrent use; one goroutine calls Next until it returns false.
type Stream struct {
	ctx    context.Context
	body   io.ReadCloser
	text   io.Reader // UTF-8 decoded view of body
	log    zerolog.Logger
	chunk  []byte
	buf    []byte // decoded text not yet split into lines
	queue  []Event
	ended  bool // terminal event queued
	closed bool
}

func newStream(ctx context.Context, body io.ReadCloser, log zerolog.Logger) *Stream {
	return &Stream{
		ctx:   ctx,
		body:  body,
		text:  transform.NewReader(body, unicode.UTF8.NewDecoder()),
		log:   log,
		chunk: make([]byte, readChunkSize),
	}
}

// Next returns the next event. After the terminal EventDone or EventError
// has been returned, Next returns false.
func (s *Stream) Next() (Event, bool) {
	for len(s.queue) == 0 {
		if s.ended {
			return Event{}, false
		}
		s.fill()
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

// Close releases the response body. It is safe to call more than once and
// after the stream ended.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

// fill performs one read and queues the events it produced.
func (s *Stream) fill() {
	if err := s.ctx.Err(); err != nil {
		s.fail(err)
		return
	}

	n, err := s.text.Read(s.chunk)
	if n > 0 {
		s.buf = append(s.buf, s.chunk[:n]...)
		s.drainLines(false)
		if s.ended {
			return
		}
		if len(s.buf) > MaxLineSize {
			s.fail(ErrLineTooLong)
			return
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		// The decoder has flushed; whatever is buffered is the last line.
		s.drainLines(true)
		if !s.ended {
			s.finish()
		}
	default:
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		s.fail(errors.Wrap(err, "read stream"))
	}
}

// drainLines processes every complete line in buf. With final set the
// trailing partial line is processed too.
func (s *Stream) drainLines(final bool) {
	for !s.ended {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		line := s.buf[:i]
		s.buf = s.buf[i+1:]
		s.handleLine(line)
	}
	if final && !s.ended && len(s.buf) > 0 {
		line := s.buf
		s.buf = nil
		s.handleLine(line)
	}
	if len(s.buf) == 0 {
		s.buf = nil
	}
}

func (s *Stream) handleLine(line []byte) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])

	if string(payload) == doneSentinel {
		s.finish()
		return
	}

	var chunk streamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		perr := &ParseError{Line: string(payload), Err: err}
		s.log.Warn().Err(perr).Msg("skipping malformed stream line")
		return
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == nil {
		return
	}
	s.queue = append(s.queue, Event{Kind: EventDelta, Delta: *chunk.Choices[0].Delta.Content})
}

func (s *Stream) finish() {
	s.queue = append(s.queue, Event{Kind: EventDone})
	s.ended = true
	s.buf = nil
	_ = s.Close()
}

func (s *Stream) fail(err error) {
	s.queue = append(s.queue, Event{Kind: EventError, Err: err})
	s.ended = true
	s.buf = nil
	_ = s.Close()
}

// =============================================================================
// OPENING STREAMS
// =============================================================================

// Stream opens a streaming chat completion. A non-2xx status or a missing
// body is returned as *RequestError; after that every failure is delivered
// as an EventError.
func (c *Client) Stream(ctx context.Context, req ChatRequest) (*Stream, error) {
	if req.APIKey == "" {
		return nil, ErrNotConfigured
	}
	payload, err := buildPayload(req, true)
	if err != nil {
		return nil, err
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, req.chatURL(), req.APIKey, payload)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "request failed")
	}

	c.log.Debug().
		Int("status", resp.StatusCode).
		Dur("ttfb", time.Since(start)).
		Str("model", req.Model).
		Int("messages", len(payload.Messages)).
		Msg("stream opened")

	if !isSuccess(resp.StatusCode) {
		defer resp.Body.Close()
		return nil, requestError(resp)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, &RequestError{StatusCode: resp.StatusCode, Body: ErrNoBody.Error()}
	}

	return newStream(ctx, resp.Body, c.log), nil
}

// Handle controls a stream started with StartStream.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel aborts the stream. onError receives the cancellation unless the
// stream already ended.
func (h *Handle) Cancel() {
	h.cancel()
}

// Done is closed after the final callback returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// StartStream runs a stream on its own goroutine and reports through
// callbacks, invoked sequentially from that goroutine. onDelta receives each
// delta in order; then exactly one of onComplete or onError is called.
func (c *Client) StartStream(ctx context.Context, req ChatRequest, onDelta func(string), onComplete func(), onError func(error)) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		defer cancel()

		stream, err := c.Stream(ctx, req)
		if err != nil {
			onError(err)
			return
		}
		defer stream.Close()

		for {
			ev, ok := stream.Next()
			if !ok {
				return
			}
			switch ev.Kind {
			case EventDelta:
				onDelta(ev.Delta)
			case EventDone:
				onComplete()
			case EventError:
				onError(ev.Err)
			}
		}
	}()

	return h
}
