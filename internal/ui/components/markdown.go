// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// Markdown renders assistant replies with glamour. The renderer is rebuilt
// only when the wrap width changes.
type Markdown struct {
	style    string
	width    int
	renderer *glamour.TermRenderer
	disabled bool
}

// NewMarkdown creates a renderer for a glamour standard style ("dark",
// "light", "notty" or "auto"). A disabled renderer returns text unchanged.
func NewMarkdown(style string, enabled bool) *Markdown {
	return &Markdown{style: style, disabled: !enabled}
}

// Render renders text wrapped at width. Rendering failures fall back to
// the raw text.
func (m *Markdown) Render(text string, width int) string {
	if m == nil || m.disabled || strings.TrimSpace(text) == "" {
		return text
	}
	if width < 20 {
		width = 20
	}
	if m.renderer == nil || m.width != width {
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(m.style),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			m.disabled = true
			return text
		}
		m.renderer = r
		m.width = width
	}

	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}
