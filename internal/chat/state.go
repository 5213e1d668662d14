// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

// State is the lifecycle of one send.
//
//	Idle -> AwaitingFirstByte -> Streaming -> Completed
//	                          \             \-> Failed
//	                           \-> Completed | Failed
type State int

const (
	StateIdle State = iota
	StateAwaitingFirstByte
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingFirstByte:
		return "awaiting_first_byte"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions follow.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Observer receives progress of a send. Calls for one send come from the
// sending goroutine, in order.
type Observer interface {
	OnState(conversationID string, state State)
	OnDelta(conversationID, delta string)
}

type nopObserver struct{}

func (nopObserver) OnState(string, State)   {}
func (nopObserver) OnDelta(string, string) {}
