// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/routerchat/internal/model"
	"github.com/jeranaias/routerchat/internal/storage"
	"github.com/jeranaias/routerchat/internal/util"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports chats as Markdown.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export renders the chat.
func (e *MarkdownExporter) Export(chat *storage.Chat) ([]byte, error) {
	if chat == nil {
		return nil, fmt.Errorf("chat is nil")
	}
	if len(chat.Messages) == 0 {
		return nil, ErrEmptyChat
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(chat.Name))
		fmt.Fprintf(&sb, "model: %s\n", escapeYAML(chat.Model.ModelID))
		if !chat.CreatedAt.IsZero() {
			fmt.Fprintf(&sb, "date: %s\n", chat.CreatedAt.Format(time.RFC3339))
		}
		fmt.Fprintf(&sb, "messages: %d\n", len(chat.Messages))
		fmt.Fprintf(&sb, "total_cost: %.6f\n", model.TotalCost(chat.Messages))
		fmt.Fprintf(&sb, "exported: %s\n", e.options.now().Format(time.RFC3339))
		sb.WriteString("generator: routerchat\n")
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(chat.Name))

	if prompt := strings.TrimSpace(chat.SystemPrompt); prompt != "" {
		sb.WriteString("> **System prompt:** ")
		sb.WriteString(strings.ReplaceAll(prompt, "\n", "\n> "))
		sb.WriteString("\n\n")
	}

	for i, msg := range chat.Messages {
		label := msg.Sender.DisplayName()
		if msg.IsAssistant() && chat.Model.ModelID != "" {
			label = chat.Model.Label()
		}
		if e.options.IncludeTimestamps && !msg.CreatedAt.IsZero() {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", label, msg.CreatedAt.Format("15:04:05"))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", label)
		}

		sb.WriteString(strings.TrimSpace(msg.Text))
		sb.WriteString("\n\n")

		if e.options.IncludeMetadata && msg.IsAssistant() {
			if stats := formatUsage(msg); stats != "" {
				fmt.Fprintf(&sb, "<sub>%s</sub>\n\n", stats)
			}
		}

		if i < len(chat.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	return []byte(sb.String()), nil
}

// FileExtension returns ".md".
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// formatUsage renders reconciled cost and tokens, or the diagnostic note.
func formatUsage(msg model.ChatMessage) string {
	if msg.Cost == nil {
		return msg.ReasoningNote
	}
	s := "Cost: " + util.FormatCost(msg.Cost.Total)
	if msg.Tokens != nil {
		s += fmt.Sprintf(" | Tokens: %s prompt + %s completion",
			util.FormatTokens(msg.Tokens.PromptTokens), util.FormatTokens(msg.Tokens.CompletionTokens))
	}
	return s
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes characters that would break a heading.
func escapeMarkdown(s string) string {
	r := strings.NewReplacer("#", `\#`, "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`)
	return r.Replace(s)
}

// escapeYAML quotes values that contain YAML syntax.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`)
		return `"` + r.Replace(s) + `"`
	}
	return s
}
