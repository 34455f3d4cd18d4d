// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"fmt"
	"strings"

	"github.com/jeranaias/routerchat/internal/model"
	"github.com/jeranaias/routerchat/internal/ui/styles"
	"github.com/jeranaias/routerchat/internal/util"
)

// MessageView renders transcript entries.
type MessageView struct {
	Theme     *styles.Theme
	Markdown  *Markdown
	Width     int
	ShowUsage bool
}

// Render renders one entry: a speaker label, the body and, for finished
// assistant replies, the usage line.
func (v MessageView) Render(msg model.ChatMessage) string {
	t := v.Theme
	width := v.Width
	if width < 10 {
		width = 10
	}

	label := t.UserLabel.Render(msg.Sender.DisplayName())
	if msg.IsAssistant() {
		label = t.AssistantLabel.Render(msg.Sender.DisplayName())
	}

	var body string
	switch {
	case msg.IsError:
		body = t.ErrorBody.Width(width).Render(msg.Text)
	case msg.IsAssistant() && msg.Pending && msg.Text == "":
		body = t.Pending.Render("waiting for reply...")
	case msg.IsAssistant():
		body = t.Body.Render(v.Markdown.Render(msg.Text, width-2))
	default:
		body = t.Body.Width(width).Render(msg.Text)
	}

	lines := []string{label, body}
	if v.ShowUsage && msg.IsAssistant() {
		switch {
		case msg.Pending && msg.Text != "":
			lines = append(lines, t.Usage.Render("fetching usage..."))
		case !msg.Pending:
			if usage := UsageLine(msg); usage != "" {
				lines = append(lines, t.Usage.Render(usage))
			}
		}
	}
	return strings.Join(lines, "\n")
}

// RenderAll renders entries separated by blank lines.
func (v MessageView) RenderAll(msgs []model.ChatMessage) string {
	parts := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		parts = append(parts, v.Render(msg))
	}
	return strings.Join(parts, "\n\n")
}

// UsageLine formats a finished assistant entry's cost and tokens, or the
// note explaining why usage is unknown. Other entries yield "".
func UsageLine(msg model.ChatMessage) string {
	if !msg.IsAssistant() || msg.Pending {
		return ""
	}
	if msg.Cost == nil {
		return msg.ReasoningNote
	}
	s := "Cost: " + util.FormatCost(msg.Cost.Total)
	if msg.Tokens != nil {
		s += fmt.Sprintf(" | Tokens: %s prompt + %s completion",
			util.FormatTokens(msg.Tokens.PromptTokens),
			util.FormatTokens(msg.Tokens.CompletionTokens))
	}
	return s
}
