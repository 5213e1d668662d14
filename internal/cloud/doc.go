// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud talks to an OpenAI-compatible chat completion API.
//
// The streaming path is the core of the package. Client.Stream opens a
// chat completion with stream=true and returns a *Stream that is read by
// pulling events:
//
//	stream, err := client.Stream(ctx, req)
//	if err != nil {
//	    return err // *RequestError for non-2xx responses
//	}
//	defer stream.Close()
//	for {
//	    ev, ok := stream.Next()
//	    if !ok {
//	        break
//	    }
//	    switch ev.Kind {
//	    case cloud.EventDelta:
//	        fmt.Print(ev.Delta)
//	    case cloud.EventDone:
//	    case cloud.EventError:
//	        return ev.Err
//	    }
//	}
//
// The body is decoded incrementally, so a multi-byte character or a data
// line split across network reads is reassembled before parsing. A line
// "data: [DONE]" ends the stream immediately. A malformed JSON line is
// logged and skipped. Each stream ends with exactly one EventDone or one
// EventError.
//
// StartStream adapts the same stream to onDelta/onComplete/onError
// callbacks. Complete and ListModels cover the non-streaming calls. Nothing
// in this package retries.
package cloud
