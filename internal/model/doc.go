// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// # Key Types
//
//   - ChatMessage: one transcript entry, user or assistant
//   - Cost / TokenUsage: authoritative accounting attached after reconciliation
//   - Session: a conversation with its system prompt and model selection
//   - ModelRef: the model and provider a session talks to
//
// # Usage
//
//	sess := model.NewSession(model.ModelRef{ModelID: "openai/gpt-4o-mini"})
//	sess.Messages = append(sess.Messages, model.NewUserMessage("Hello!"))
//	fmt.Printf("spent $%.6f\n", sess.TotalCost())
package model
