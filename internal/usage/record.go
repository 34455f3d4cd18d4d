// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package usage

import (
	"context"
	"time"
)

// Record is the usage outcome of one reply, as published to observers.
type Record struct {
	GenerationID     string    `json:"generation_id,omitempty"`
	MessageID        string    `json:"message_id"`
	Model            string    `json:"model"`
	Status           string    `json:"status"`
	Attempts         int       `json:"attempts"`
	Cost             float64   `json:"cost"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	Note             string    `json:"note,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Publisher fans usage records out of the process.
type Publisher interface {
	Publish(ctx context.Context, rec Record) error
	Close() error
}

// NopPublisher discards records.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Record) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }
