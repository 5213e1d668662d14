// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// # Key Types
//
//   - Conversation: a titled, ordered transcript of messages
//   - Message: one turn with an immutable id and role
//   - Content: either TextContent or PartsContent (text plus image parts)
//   - Role: user, assistant or system
//
// # Usage
//
//	conv := model.NewConversation()
//	conv.Messages = append(conv.Messages,
//	    model.NewMessage(model.RoleUser, model.TextContent("Hello")),
//	    model.NewAssistantPlaceholder(),
//	)
//
// Content serializes the way the chat completion API expects it: a plain
// string for TextContent, an array of typed parts for PartsContent.
package model
