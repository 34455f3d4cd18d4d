// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/routerchat/internal/model"
	"github.com/jeranaias/routerchat/internal/storage"
)

func testChat() *storage.Chat {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	return &storage.Chat{
		ID:           7,
		Name:         "Deploy: notes",
		SystemPrompt: "be brief",
		Model:        model.NewModelRef("openai/gpt-4o", "GPT-4o"),
		CreatedAt:    at,
		Messages: []model.ChatMessage{
			{ID: "u1", Sender: model.SenderUser, Text: "How do I roll back?", CreatedAt: at},
			{
				ID: "gen-1", Sender: model.SenderAssistant, Text: "Use `kubectl rollout undo`.",
				Cost:      &model.Cost{Total: 0.00042},
				Tokens:    &model.TokenUsage{PromptTokens: 12, CompletionTokens: 30, TotalTokens: 42},
				CreatedAt: at,
			},
			{ID: "p2", Sender: model.SenderAssistant, Text: "Error: HTTP 502", IsError: true, ReasoningNote: "no generation id received from stream"},
		},
	}
}

func TestMarkdownExporter(t *testing.T) {
	opts := DefaultOptions()
	opts.Now = func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }

	out, err := NewMarkdownExporter(opts).Export(testChat())
	require.NoError(t, err)
	md := string(out)

	assert.True(t, strings.HasPrefix(md, "---\ntitle: \"Deploy: notes\"\n"), md)
	assert.Contains(t, md, "model: openai/gpt-4o\n")
	assert.Contains(t, md, "total_cost: 0.000420\n")
	assert.Contains(t, md, "exported: 2026-03-02T00:00:00Z\n")
	assert.Contains(t, md, "# Deploy: notes\n")
	assert.Contains(t, md, "> **System prompt:** be brief")
	assert.Contains(t, md, "### You <sub>09:30:00</sub>")
	assert.Contains(t, md, "### GPT-4o <sub>09:30:00</sub>")
	assert.Contains(t, md, "<sub>Cost: $0.000420 | Tokens: 12 prompt + 30 completion</sub>")
	assert.Contains(t, md, "<sub>no generation id received from stream</sub>")
}

func TestMarkdownExporter_Plain(t *testing.T) {
	out, err := NewMarkdownExporter(&Options{}).Export(testChat())
	require.NoError(t, err)
	md := string(out)

	assert.False(t, strings.HasPrefix(md, "---"))
	assert.Contains(t, md, "### You\n")
	assert.NotContains(t, md, "Cost:")
}

func TestMarkdownExporter_Empty(t *testing.T) {
	_, err := NewMarkdownExporter(nil).Export(&storage.Chat{Name: "x"})
	assert.ErrorIs(t, err, ErrEmptyChat)

	_, err = NewMarkdownExporter(nil).Export(nil)
	assert.Error(t, err)
}

func TestJSONExporter(t *testing.T) {
	out, err := NewJSONExporter().Export(testChat())
	require.NoError(t, err)

	var got struct {
		ID        int64               `json:"id"`
		TotalCost float64             `json:"total_cost"`
		Model     model.ModelRef      `json:"model"`
		Messages  []model.ChatMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(out, &got))
	assert.EqualValues(t, 7, got.ID)
	assert.InDelta(t, 0.00042, got.TotalCost, 1e-12)
	assert.Equal(t, "openai", got.Model.Provider)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, 42, got.Messages[1].Tokens.TotalTokens)
	assert.True(t, got.Messages[2].IsError)
}

func TestForFormat(t *testing.T) {
	for _, f := range []string{"", "md", "Markdown"} {
		e, err := ForFormat(f, nil)
		require.NoError(t, err)
		assert.Equal(t, ".md", e.FileExtension())
	}
	e, err := ForFormat("json", nil)
	require.NoError(t, err)
	assert.Equal(t, ".json", e.FileExtension())

	_, err = ForFormat("html", nil)
	assert.Error(t, err)
}

func TestToFile(t *testing.T) {
	dir := t.TempDir()
	path, err := ToFile(testChat(), NewJSONExporter(), dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "chat_7_Deploy-_notes.json"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct{ in, want string }{
		{"simple", "simple"},
		{"a/b\\c:d", "a-b-c-d"},
		{"with spaces\tand\ttabs", "with_spaces_and_tabs"},
		{"   ", "chat"},
		{strings.Repeat("x", 80), strings.Repeat("x", 50)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFilename(tt.in), tt.in)
	}
}
