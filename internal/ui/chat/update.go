// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/jeranaias/routerchat/internal/session"
	"github.com/jeranaias/routerchat/internal/storage"
)

// inputHeight is the textarea height in lines.
const inputHeight = 3

// =============================================================================
// MESSAGES
// =============================================================================

// transcriptChangedMsg means the transcript changed since the last render.
type transcriptChangedMsg struct{}

// sendDoneMsg is returned when SendMessage returns.
type sendDoneMsg struct {
	text string
	err  error
}

// savedMsg reports a finished save.
type savedMsg struct {
	id   int64
	name string
	auto bool
	err  error
}

// =============================================================================
// COMMANDS
// =============================================================================

// waitForChange blocks until the transcript signals a change. Update
// re-arms it after every signal.
func (m Model) waitForChange() tea.Cmd {
	changes := m.ctrl.Transcript().Changes()
	ctx := m.ctx
	return func() tea.Msg {
		select {
		case <-changes:
			return transcriptChangedMsg{}
		case <-ctx.Done():
			return nil
		}
	}
}

// send runs one turn. It returns once the reply has streamed; any
// reconciliation continues in the background.
func (m Model) send(text string) tea.Cmd {
	ctrl, ctx := m.ctrl, m.ctx
	return func() tea.Msg {
		return sendDoneMsg{text: text, err: ctrl.SendMessage(ctx, text)}
	}
}

// save writes the conversation to the store. An empty name keeps the
// current one. Saving is refused while a reply is in flight so the
// stored copy always has finalized usage.
func (m *Model) save(name string, auto bool) tea.Cmd {
	switch {
	case m.store == nil:
		if !auto {
			m.setNotice("Saving is disabled.")
		}
		return nil
	case m.saving:
		return nil
	case m.sending || m.ctrl.Busy():
		if !auto {
			m.setNotice("Wait for the reply to finish before saving.")
		}
		return nil
	case m.ctrl.Transcript().Len() == 0:
		if !auto {
			m.setNotice("Nothing to save yet.")
		}
		return nil
	}

	if name == "" {
		name = m.chatName
	}
	chat := storage.ChatFromSession(m.ctrl.Snapshot(), name)
	chat.ID = m.chatID

	m.saving = true
	store, ctx := m.store, m.ctx
	return func() tea.Msg {
		err := store.Put(ctx, chat)
		if errors.Is(err, storage.ErrChatNotFound) {
			// deleted elsewhere; store it as a new chat
			chat.ID = 0
			_, err = store.Add(ctx, chat)
		}
		return savedMsg{id: chat.ID, name: chat.Name, auto: auto, err: err}
	}
}

// maybeAutoSave saves a settled, changed conversation when auto-save is on.
func (m *Model) maybeAutoSave() tea.Cmd {
	if !m.autoSave || m.sending || m.ctrl.Busy() || !m.ctrl.Dirty() {
		return nil
	}
	return m.save("", true)
}

// =============================================================================
// UPDATE
// =============================================================================

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case transcriptChangedMsg:
		m.refresh()
		return m, m.waitForChange()

	case sendDoneMsg:
		m.sending = false
		focus := m.input.Focus()
		if msg.err != nil {
			var guidance *session.GuidanceError
			if errors.As(msg.err, &guidance) {
				// nothing was sent; give the text back
				m.input.SetValue(msg.text)
			}
			m.setError(msg.err)
		}
		m.refresh()
		return m, focus

	case spinner.TickMsg:
		if !m.ticking {
			return m, nil
		}
		if !m.sending && !m.ctrl.Busy() {
			m.ticking = false
			m.refresh()
			save := m.maybeAutoSave()
			return m, save
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case savedMsg:
		m.saving = false
		if msg.err != nil {
			m.logger.Warn("save failed", zap.Error(msg.err))
			m.setError(fmt.Errorf("save failed: %w", msg.err))
			return m, nil
		}
		m.chatID, m.chatName = msg.id, msg.name
		if !m.ctrl.Busy() {
			m.ctrl.MarkSaved()
		}
		if !msg.auto {
			m.setNotice(fmt.Sprintf("Saved as %q (chat %d).", msg.name, msg.id))
		}
		return m, m.indexChats()

	case chatsListedMsg, loadedMsg, deletedMsg, exportedMsg, chatIndexMsg, keyReplacedMsg:
		return m.handleResult(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleKey routes key presses. Global bindings work in every state;
// everything else goes to the input, which ignores keys while blurred.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()
	case key.Matches(msg, m.keys.Save):
		cmd := m.save("", false)
		return m, cmd
	case key.Matches(msg, m.keys.New):
		m.newChat()
		return m, nil
	case key.Matches(msg, m.keys.PageUp):
		m.viewport.ViewUp()
		return m, nil
	case key.Matches(msg, m.keys.PageDown):
		m.viewport.ViewDown()
		return m, nil
	case key.Matches(msg, m.keys.Submit):
		return m.submit()
	case key.Matches(msg, m.keys.Complete):
		if !m.sending {
			m.complete()
		}
		return m, nil
	}

	if m.sending {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends the input as a message, or runs it as a /command.
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	m.panel = ""
	m.completion.Clear()
	if strings.HasPrefix(text, "/") {
		m.input.Reset()
		cmd := m.runCommand(text)
		m.refresh()
		return m, cmd
	}
	if m.sending || m.ctrl.IsLoading() {
		m.setNotice("A reply is still streaming.")
		return m, nil
	}

	m.input.Reset()
	m.input.Blur()
	m.sending = true
	m.setNotice("")

	cmds := []tea.Cmd{m.send(text)}
	if !m.ticking {
		m.ticking = true
		cmds = append(cmds, m.spinner.Tick)
	}
	return m, tea.Batch(cmds...)
}

// newChat clears the conversation. Refused while a reply is in flight.
func (m *Model) newChat() {
	if m.sending || m.ctrl.Busy() {
		m.setNotice("Wait for the reply to finish before starting a new chat.")
		return
	}
	if err := m.ctrl.Reset(); err != nil {
		m.setError(err)
		return
	}
	m.chatID, m.chatName = 0, ""
	m.panel = ""
	m.setNotice("Started a new chat.")
	m.refresh()
}

// quit exits, saving first when auto-save applies.
func (m Model) quit() (tea.Model, tea.Cmd) {
	if save := m.maybeAutoSave(); save != nil {
		return m, tea.Sequence(save, tea.Quit)
	}
	return m, tea.Quit
}

// =============================================================================
// LAYOUT
// =============================================================================

// resize lays out the widgets: header, transcript, notice, input and
// status bar, one line each except the transcript and the input.
func (m *Model) resize(width, height int) {
	m.width, m.height, m.ready = width, height, true

	m.input.SetWidth(max(width-m.theme.Input.GetHorizontalFrameSize(), 10))
	m.input.SetHeight(inputHeight)

	chrome := 1 + 1 + 1 + inputHeight + m.theme.Input.GetVerticalFrameSize()
	m.viewport.Width = width
	m.viewport.Height = max(height-chrome, 3)
	m.view.Width = max(width-2, 10)
}

// refresh re-renders the transcript into the viewport, following the
// bottom unless the user scrolled up.
func (m *Model) refresh() {
	follow := m.viewport.AtBottom() || m.sending

	content := m.welcome()
	if msgs := m.ctrl.Transcript().Messages(); len(msgs) > 0 {
		content = m.view.RenderAll(msgs)
	}
	if m.panel != "" {
		content += "\n\n" + m.panel
	}
	m.viewport.SetContent(content)

	if follow || m.panel != "" {
		m.viewport.GotoBottom()
	}
}
