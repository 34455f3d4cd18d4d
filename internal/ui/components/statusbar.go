// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/routerchat/internal/model"
	"github.com/jeranaias/routerchat/internal/ui/styles"
	"github.com/jeranaias/routerchat/internal/util"
)

// =============================================================================
// STATUS
// =============================================================================

// Status is what the conversation is doing right now.
type Status int

const (
	StatusReady Status = iota
	StatusStreaming
	StatusReconciling
)

// String returns the display string for the status
func (s Status) String() string {
	switch s {
	case StatusStreaming:
		return "Streaming..."
	case StatusReconciling:
		return "Fetching usage..."
	default:
		return "Ready"
	}
}

// =============================================================================
// STATUS BAR COMPONENT
// =============================================================================

// StatusBar is the bottom line: model, status, running cost and save state.
type StatusBar struct {
	Model     model.ModelRef
	Status    Status
	TotalCost float64
	Tokens    model.TokenUsage
	ChatName  string // empty for an unsaved chat
	Dirty     bool
	Width     int
}

// Render lays the bar out to Width, truncating the model label first.
func (s StatusBar) Render(t *styles.Theme) string {
	label := s.Model.Label()
	if label == "" {
		label = "no model"
	}
	if s.Model.Provider != "" && s.Model.ModelName != "" {
		label += " (" + s.Model.Provider + ")"
	}

	var saved string
	switch {
	case s.ChatName == "" && s.Dirty:
		saved = t.StatusDirty.Render("unsaved")
	case s.Dirty:
		saved = t.StatusDirty.Render(s.ChatName + "*")
	case s.ChatName != "":
		saved = t.StatusSaved.Render(s.ChatName)
	default:
		saved = t.StatusKey.Render("new chat")
	}

	right := strings.Join([]string{
		t.StatusKey.Render(s.Status.String()),
		t.StatusKey.Render("total ") + t.StatusCost.Render(util.FormatCost(s.TotalCost)),
		t.StatusKey.Render("tokens ") + t.StatusValue.Render(util.FormatTokens(s.Tokens.TotalTokens)),
		saved,
	}, t.StatusKey.Render(" | "))

	inner := s.Width - t.StatusBar.GetHorizontalFrameSize()
	room := inner - lipgloss.Width(right) - 1
	left := t.StatusValue.Render(util.Truncate(label, max(room, 0)))

	gap := inner - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return t.StatusBar.Width(max(s.Width, 0)).Render(left + strings.Repeat(" ", gap) + right)
}
