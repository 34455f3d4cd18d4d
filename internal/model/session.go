// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "strings"

// ModelRef names the model a session talks to.
type ModelRef struct {
	ModelID   string `json:"model_id" msgpack:"model_id"`     // e.g. "openai/gpt-4o-mini"
	ModelName string `json:"model_name" msgpack:"model_name"` // display name, may be empty
	Provider  string `json:"provider" msgpack:"provider"`     // id prefix, e.g. "openai"
}

// ProviderOf returns the provider prefix of a model id ("openai/gpt-4o" -> "openai").
// Ids without a slash have no provider.
func ProviderOf(modelID string) string {
	provider, _, ok := strings.Cut(modelID, "/")
	if !ok {
		return ""
	}
	return provider
}

// NewModelRef builds a ref with the provider derived from the id.
func NewModelRef(modelID, name string) ModelRef {
	return ModelRef{ModelID: modelID, ModelName: name, Provider: ProviderOf(modelID)}
}

// Label returns the display name, falling back to the id.
func (r ModelRef) Label() string {
	if r.ModelName != "" {
		return r.ModelName
	}
	return r.ModelID
}

// Session is one conversation: its transcript, system prompt and model.
type Session struct {
	Messages     []ChatMessage `json:"messages"`
	SystemPrompt string        `json:"system_prompt"`
	Model        ModelRef      `json:"model"`
}

// NewSession creates an empty session for the given model.
func NewSession(ref ModelRef) *Session {
	return &Session{Model: ref}
}

// TotalCost sums the cost of finalized assistant entries. Entries with
// unknown cost contribute nothing.
func TotalCost(messages []ChatMessage) float64 {
	var total float64
	for _, m := range messages {
		if m.IsAssistant() && m.Cost != nil {
			total += m.Cost.Total
		}
	}
	return total
}

// TotalTokens sums token usage over finalized assistant entries.
func TotalTokens(messages []ChatMessage) TokenUsage {
	var prompt, completion int
	for _, m := range messages {
		if m.IsAssistant() && m.Tokens != nil {
			prompt += m.Tokens.PromptTokens
			completion += m.Tokens.CompletionTokens
		}
	}
	return NewTokenUsage(prompt, completion)
}

// TotalCost returns the session's running cost.
func (s *Session) TotalCost() float64 {
	return TotalCost(s.Messages)
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *Session) Clone() *Session {
	out := *s
	out.Messages = CloneMessages(s.Messages)
	return &out
}

// CloneMessages copies a message slice including the cost and token pointers.
func CloneMessages(in []ChatMessage) []ChatMessage {
	if in == nil {
		return nil
	}
	out := make([]ChatMessage, len(in))
	for i, m := range in {
		if m.Cost != nil {
			c := *m.Cost
			m.Cost = &c
		}
		if m.Tokens != nil {
			tk := *m.Tokens
			m.Tokens = &tk
		}
		out[i] = m
	}
	return out
}
