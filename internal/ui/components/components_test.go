// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"

	"github.com/jeranaias/routerchat/internal/model"
	"github.com/jeranaias/routerchat/internal/ui/styles"
)

func testTheme() *styles.Theme {
	return styles.NewTheme(styles.ThemeDark)
}

func finished(text string, cost float64, prompt, completion int) model.ChatMessage {
	tokens := model.NewTokenUsage(prompt, completion)
	return model.ChatMessage{
		ID:     "gen-1",
		Sender: model.SenderAssistant,
		Text:   text,
		Cost:   &model.Cost{Total: cost},
		Tokens: &tokens,
	}
}

func TestUsageLine(t *testing.T) {
	assert.Equal(t, "Cost: $0.000420 | Tokens: 1,200 prompt + 30 completion",
		UsageLine(finished("hi", 0.00042, 1200, 30)))

	noted := model.ChatMessage{Sender: model.SenderAssistant, ReasoningNote: "usage unavailable"}
	assert.Equal(t, "usage unavailable", UsageLine(noted))

	pending := model.NewPlaceholder()
	assert.Empty(t, UsageLine(pending))
	assert.Empty(t, UsageLine(model.NewUserMessage("hello")))
}

func TestMessageView_Render(t *testing.T) {
	v := MessageView{
		Theme:     testTheme(),
		Markdown:  NewMarkdown("notty", false),
		Width:     60,
		ShowUsage: true,
	}

	out := v.Render(finished("Paris is the capital.", 0.0015, 10, 5))
	assert.Contains(t, out, "Paris is the capital.")
	assert.Contains(t, out, "Cost: $0.001500")

	pending := model.NewPlaceholder()
	assert.Contains(t, v.Render(pending), "waiting for reply...")

	pending.Text = "Par"
	out = v.Render(pending)
	assert.Contains(t, out, "Par")
	assert.Contains(t, out, "fetching usage...")

	failed := model.ChatMessage{Sender: model.SenderAssistant, Text: "Error: HTTP 500", IsError: true}
	assert.Contains(t, v.Render(failed), "Error: HTTP 500")

	v.ShowUsage = false
	assert.NotContains(t, v.Render(finished("x", 1, 1, 1)), "Cost:")
}

func TestMessageView_RenderAll(t *testing.T) {
	v := MessageView{Theme: testTheme(), Width: 40}
	out := v.RenderAll([]model.ChatMessage{model.NewUserMessage("one"), model.NewUserMessage("two")})
	assert.Equal(t, 1, strings.Count(out, "\n\n"))
}

func TestMarkdown_DisabledAndBlank(t *testing.T) {
	md := NewMarkdown("dark", false)
	assert.Equal(t, "# Title", md.Render("# Title", 80))

	var nilMD *Markdown
	assert.Equal(t, "text", nilMD.Render("text", 80))

	enabled := NewMarkdown("notty", true)
	assert.Equal(t, "  ", enabled.Render("  ", 80))
}

func TestMarkdown_Renders(t *testing.T) {
	md := NewMarkdown("notty", true)
	out := md.Render("Some **bold** text and `code`.\n\n- item one\n- item two", 40)
	assert.Contains(t, out, "bold")
	assert.Contains(t, out, "code")
	assert.Contains(t, out, "item two")
	assert.False(t, strings.HasSuffix(out, "\n"), "trailing newlines are trimmed")
}

func TestStatusBar_Render(t *testing.T) {
	th := testTheme()
	bar := StatusBar{
		Model:     model.NewModelRef("openai/gpt-4o", "GPT-4o"),
		Status:    StatusStreaming,
		TotalCost: 0.25,
		Tokens:    model.NewTokenUsage(1000, 234),
		Width:     120,
		Dirty:     true,
	}
	out := bar.Render(th)
	assert.Contains(t, out, "GPT-4o (openai)")
	assert.Contains(t, out, "Streaming...")
	assert.Contains(t, out, "$0.25")
	assert.Contains(t, out, "1,234")
	assert.Contains(t, out, "unsaved")
	assert.LessOrEqual(t, lipgloss.Width(out), 120)

	bar.ChatName = "Trip"
	assert.Contains(t, bar.Render(th), "Trip*")
	bar.Dirty = false
	assert.Contains(t, bar.Render(th), "Trip")

	bar.ChatName = ""
	assert.Contains(t, bar.Render(th), "new chat")
}

func TestStatusBar_Narrow(t *testing.T) {
	bar := StatusBar{Model: model.NewModelRef("anthropic/claude-3.5-sonnet", ""), Width: 30}
	out := bar.Render(testTheme())
	assert.NotEmpty(t, out)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "Ready", StatusReady.String())
	assert.Equal(t, "Fetching usage...", StatusReconciling.String())
}
