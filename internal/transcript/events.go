// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transcript

import (
	"strings"

	"github.com/jeranaias/routerchat/internal/model"
)

// Event is a mutation request for the transcript.
type Event interface {
	// apply patches the log and returns how many entries changed.
	apply(t *Transcript) int
}

// Sink consumes transcript events. *Transcript is the production Sink.
type Sink interface {
	Apply(ev Event) int
}

// Appended adds an entry at the end of the log.
type Appended struct {
	Message model.ChatMessage
}

func (e Appended) apply(t *Transcript) int {
	t.messages = append(t.messages, e.Message)
	return 1
}

// TextUpdated replaces the placeholder's text with the full accumulated
// reply so far.
type TextUpdated struct {
	ID   string
	Text string
}

func (e TextUpdated) apply(t *Transcript) int {
	return t.updateWhere(ByID(e.ID), func(m *model.ChatMessage) {
		m.Text = e.Text
	})
}

// CorrelationCaptured records the generation id on the placeholder as soon
// as the stream reveals it.
type CorrelationCaptured struct {
	ID            string
	CorrelationID string
}

func (e CorrelationCaptured) apply(t *Transcript) int {
	return t.updateWhere(ByID(e.ID), func(m *model.ChatMessage) {
		m.CorrelationID = e.CorrelationID
	})
}

// StreamFailed marks the placeholder as an error with a visible message.
// Partial is the text received before the failure; it stays in front of
// the error line.
type StreamFailed struct {
	ID      string
	Partial string
	Message string
}

// ErrorText renders the entry text for a failed stream.
func ErrorText(partial, message string) string {
	if strings.TrimSpace(partial) == "" {
		return "Error: " + message
	}
	return partial + "\n\nError: " + message
}

func (e StreamFailed) apply(t *Transcript) int {
	return t.updateWhere(ByID(e.ID), func(m *model.ChatMessage) {
		m.Text = ErrorText(e.Partial, e.Message)
		m.IsError = true
	})
}

// Finalized closes out a reply once reconciliation has finished, either
// with authoritative usage or with a diagnostic Note and nil Cost/Tokens.
//
// The entry is found by placeholder id or by correlation id, so applying
// the same Finalized twice is harmless. When a correlation id is known the
// entry is re-keyed to it. A non-empty Text re-affirms the accumulated
// reply; error entries keep the text StreamFailed wrote.
type Finalized struct {
	PlaceholderID string
	CorrelationID string
	Text          string
	Cost          *model.Cost
	Tokens        *model.TokenUsage
	Note          string
}

func (e Finalized) apply(t *Transcript) int {
	return t.updateWhere(MatchEntry(e.PlaceholderID, e.CorrelationID), func(m *model.ChatMessage) {
		m.Pending = false
		m.ReasoningNote = e.Note
		if e.Text != "" && !m.IsError {
			m.Text = e.Text
		}
		m.Cost = nil
		m.Tokens = nil
		if e.Cost != nil {
			c := *e.Cost
			m.Cost = &c
		}
		if e.Tokens != nil {
			tk := *e.Tokens
			m.Tokens = &tk
		}
		if e.CorrelationID != "" {
			m.ID = e.CorrelationID
			m.CorrelationID = e.CorrelationID
		}
	})
}

// Predicate selects entries for UpdateWhere.
type Predicate func(m model.ChatMessage) bool

// ByID matches the entry with the given id.
func ByID(id string) Predicate {
	return func(m model.ChatMessage) bool {
		return id != "" && m.ID == id
	}
}

// MatchEntry matches an assistant entry by its placeholder id, or by its
// correlation id when one is given (the entry may already be re-keyed).
func MatchEntry(placeholderID, correlationID string) Predicate {
	return func(m model.ChatMessage) bool {
		if !m.IsAssistant() {
			return false
		}
		if placeholderID != "" && m.ID == placeholderID {
			return true
		}
		return correlationID != "" && (m.ID == correlationID || m.CorrelationID == correlationID)
	}
}
