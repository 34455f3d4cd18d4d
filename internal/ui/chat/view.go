// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/routerchat/internal/ui/components"
	"github.com/jeranaias/routerchat/internal/util"
)

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.renderNotice(),
		m.renderInput(),
		m.renderStatus(),
	)
}

func (m Model) renderHeader() string {
	t := m.theme
	title := t.HeaderTitle.Render("routerchat")
	ref := m.ctrl.Model()
	label := ref.Label()
	if label == "" {
		label = "no model selected"
	}
	room := m.width - t.Header.GetHorizontalFrameSize() - lipgloss.Width(title) - 2
	return t.Header.Width(m.width).Render(title + "  " + t.HeaderModel.Render(util.Truncate(label, max(room, 0))))
}

// renderNotice shows the last notice, or the spinner while a turn is in
// flight.
func (m Model) renderNotice() string {
	t := m.theme
	switch {
	case m.notice != "":
		style := t.Notice
		if m.noticeErr {
			style = t.NoticeError
		}
		return style.Render(util.Truncate(firstLine(m.notice), m.width))
	case m.ticking:
		return m.spinner.View() + " " + t.Notice.Render(m.status().String())
	default:
		return ""
	}
}

// renderInput draws the textarea, greyed out while a reply streams.
func (m Model) renderInput() string {
	style := m.theme.Input
	if m.sending || m.ctrl.IsLoading() {
		style = m.theme.InputDisabled
	}
	return style.Render(m.input.View())
}

func (m Model) renderStatus() string {
	tr := m.ctrl.Transcript()
	return components.StatusBar{
		Model:     m.ctrl.Model(),
		Status:    m.status(),
		TotalCost: tr.TotalCost(),
		Tokens:    tr.TotalTokens(),
		ChatName:  m.chatName,
		Dirty:     m.ctrl.Dirty(),
		Width:     m.width,
	}.Render(m.theme)
}

// welcome is shown in place of an empty transcript.
func (m Model) welcome() string {
	var b strings.Builder
	b.WriteString(m.theme.HeaderTitle.Render("Welcome to routerchat"))
	b.WriteString("\n\n")
	if ref := m.ctrl.Model(); ref.ModelID != "" {
		b.WriteString("Chatting with " + ref.Label() + ". ")
	}
	b.WriteString("Type a message and press Enter, or /help for commands.\n\n")

	for _, binding := range m.keys.ShortHelp() {
		h := binding.Help()
		b.WriteString(m.theme.StatusKey.Render(util.PadRight(h.Key, 10)))
		b.WriteString(h.Desc + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
