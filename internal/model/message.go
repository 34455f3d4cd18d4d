// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SENDER
// =============================================================================

// Sender identifies who authored a transcript entry.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// DisplayName returns a human-readable name for the sender.
func (s Sender) DisplayName() string {
	switch s {
	case SenderUser:
		return "You"
	case SenderAssistant:
		return "Assistant"
	default:
		return string(s)
	}
}

// =============================================================================
// ACCOUNTING
// =============================================================================

// Cost is the authoritative charge for one reply, in USD.
type Cost struct {
	Total float64 `json:"total" msgpack:"total"`
}

// TokenUsage is the authoritative token count for one reply.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens" msgpack:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens" msgpack:"completion_tokens"`
	TotalTokens      int `json:"total_tokens" msgpack:"total_tokens"`
}

// NewTokenUsage builds a TokenUsage whose total is the sum of its parts.
func NewTokenUsage(prompt, completion int) TokenUsage {
	return TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// =============================================================================
// CHAT MESSAGE
// =============================================================================

// ChatMessage is one entry in a transcript.
//
// An assistant entry starts as a Pending placeholder, fills in while the
// reply streams, and is finalized once usage has been reconciled (or
// reconciliation gave up). Cost and Tokens stay nil when usage is unknown.
type ChatMessage struct {
	ID     string `json:"id" msgpack:"id"`
	Sender Sender `json:"sender" msgpack:"sender"`
	Text   string `json:"text" msgpack:"text"`

	Cost   *Cost       `json:"cost,omitempty" msgpack:"cost,omitempty"`
	Tokens *TokenUsage `json:"tokens,omitempty" msgpack:"tokens,omitempty"`

	// ReasoningNote carries a diagnostic when usage could not be obtained.
	ReasoningNote string `json:"reasoning_note,omitempty" msgpack:"reasoning_note,omitempty"`
	// CorrelationID is the provider's generation id, once known.
	CorrelationID string `json:"correlation_id,omitempty" msgpack:"correlation_id,omitempty"`

	IsError bool `json:"is_error,omitempty" msgpack:"is_error,omitempty"`
	Pending bool `json:"pending,omitempty" msgpack:"pending,omitempty"`

	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
}

// NewID returns a fresh, time-ordered message id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewUserMessage creates a user entry.
func NewUserMessage(text string) ChatMessage {
	return ChatMessage{
		ID:        NewID(),
		Sender:    SenderUser,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

// NewPlaceholder creates the empty assistant entry a streamed reply fills.
func NewPlaceholder() ChatMessage {
	return ChatMessage{
		ID:        NewID(),
		Sender:    SenderAssistant,
		Pending:   true,
		CreatedAt: time.Now(),
	}
}

// IsAssistant reports whether the entry was authored by the model.
func (m ChatMessage) IsAssistant() bool {
	return m.Sender == SenderAssistant
}

// Preview returns a truncated single-line preview of the text.
// Uses rune-based truncation to handle Unicode correctly.
func (m ChatMessage) Preview(maxLen int) string {
	text := strings.Join(strings.Fields(m.Text), " ")
	runes := []rune(text)
	if maxLen <= 3 || len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen-3]) + "..."
}

// FormatUsage renders cost and tokens, e.g. "$0.000420 | 12 + 30 = 42 tokens".
// Returns the diagnostic note when usage is unknown.
func (m ChatMessage) FormatUsage() string {
	if !m.IsAssistant() || m.Pending {
		return ""
	}
	if m.Cost == nil {
		return m.ReasoningNote
	}
	s := fmt.Sprintf("$%.6f", m.Cost.Total)
	if m.Tokens != nil {
		s += fmt.Sprintf(" | %d + %d = %d tokens", m.Tokens.PromptTokens, m.Tokens.CompletionTokens, m.Tokens.TotalTokens)
	}
	return s
}
