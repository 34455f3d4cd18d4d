// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jeranaias/routerchat/internal/model"
	"github.com/jeranaias/routerchat/internal/storage"
)

// JSONExporter exports the complete chat, suitable for re-import.
type JSONExporter struct{}

// NewJSONExporter creates a JSON exporter.
func NewJSONExporter() *JSONExporter {
	return &JSONExporter{}
}

type jsonChat struct {
	ID           int64               `json:"id"`
	Name         string              `json:"name"`
	SystemPrompt string              `json:"system_prompt,omitempty"`
	Model        model.ModelRef      `json:"model"`
	TotalCost    float64             `json:"total_cost"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	Messages     []model.ChatMessage `json:"messages"`
}

// Export renders the chat as indented JSON.
func (e *JSONExporter) Export(chat *storage.Chat) ([]byte, error) {
	if chat == nil {
		return nil, fmt.Errorf("chat is nil")
	}
	return json.MarshalIndent(jsonChat{
		ID:           chat.ID,
		Name:         chat.Name,
		SystemPrompt: chat.SystemPrompt,
		Model:        chat.Model,
		TotalCost:    model.TotalCost(chat.Messages),
		CreatedAt:    chat.CreatedAt,
		UpdatedAt:    chat.UpdatedAt,
		Messages:     chat.Messages,
	}, "", "  ")
}

// FileExtension returns ".json".
func (e *JSONExporter) FileExtension() string {
	return ".json"
}
