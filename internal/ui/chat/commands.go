// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// commands.go - Slash commands typed into the chat input.

package chat

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/jeranaias/routerchat/internal/catalog"
	"github.com/jeranaias/routerchat/internal/commands"
	"github.com/jeranaias/routerchat/internal/export"
	"github.com/jeranaias/routerchat/internal/model"
	"github.com/jeranaias/routerchat/internal/storage"
	"github.com/jeranaias/routerchat/internal/util"
)

// maxListed caps the entries shown by /models and /chats.
const maxListed = 40

// =============================================================================
// RESULT MESSAGES
// =============================================================================

type chatsListedMsg struct {
	metas []storage.ChatMeta
	err   error
}

type loadedMsg struct {
	chat *storage.Chat
	err  error
}

type deletedMsg struct {
	id  int64
	err error
}

type exportedMsg struct {
	path string
	err  error
}

// keyReplacedMsg carries the model list fetched with a new key.
type keyReplacedMsg struct {
	cat *catalog.Catalog
	err error
}

// chatIndexMsg refreshes the chat ids offered by Tab completion.
type chatIndexMsg struct {
	metas []storage.ChatMeta
}

// =============================================================================
// DISPATCH
// =============================================================================

// runCommand executes a /command. Most commands act immediately; store
// access runs as a tea.Cmd.
func (m *Model) runCommand(line string) tea.Cmd {
	res := m.parser.Parse(line)
	if res.Error != nil {
		var unknown *commands.UnknownCommandError
		if errors.As(res.Error, &unknown) {
			m.setNotice(res.Error.Error())
			return nil
		}
		m.setError(res.Error)
		return nil
	}

	arg := res.Arg(0)
	switch res.Command.Name {
	case "/help":
		m.panel = m.registry.Help()
	case "/model":
		m.modelCommand(arg)
	case "/models":
		m.modelsCommand(arg)
	case "/provider":
		m.providerCommand(arg)
	case "/system":
		m.systemCommand(arg)
	case "/new":
		m.newChat()
	case "/save":
		return m.save(arg, false)
	case "/chats":
		return m.listChats(arg)
	case "/load":
		return m.loadChat(arg)
	case "/delete":
		return m.deleteChat(arg)
	case "/export":
		return m.exportChat(arg)
	case "/cost":
		m.costCommand()
	case "/key":
		return m.keyCommand(arg)
	case "/quit":
		_, cmd := m.quit()
		return cmd
	}
	return nil
}

// =============================================================================
// COMPLETION
// =============================================================================

// completer builds a completer over the current catalog and chat index.
func (m *Model) completer() *commands.Completer {
	c := commands.NewCompleter(m.registry)
	if cat := m.cat; cat != nil {
		c.ModelsFn = func() []string {
			models := cat.Models()
			ids := make([]string, len(models))
			for i, mdl := range models {
				ids[i] = mdl.ID
			}
			return ids
		}
		c.ProvidersFn = cat.Providers
	}
	chats := m.chats
	c.ChatsFn = func() []commands.ChatInfo { return chats }
	return c
}

// complete applies the next Tab candidate to the input. Repeated Tab
// cycles while the input still holds the last candidate.
func (m *Model) complete() {
	value := m.input.Value()
	if m.completion.Showing(value) {
		m.completion.Next()
	} else {
		m.completion.Update(value, m.completer().Complete(value))
		if !m.completion.Visible {
			return
		}
	}

	m.input.SetValue(m.completion.Accept())
	m.input.CursorEnd()
	if n := len(m.completion.Completions); n > 1 {
		sel := m.completion.GetSelected()
		m.setNotice(fmt.Sprintf("%s  (%d/%d, Tab for next)", sel.Display, m.completion.Selected+1, n))
	} else {
		m.setNotice("")
	}
}

// indexChats loads the saved chat ids for completion.
func (m Model) indexChats() tea.Cmd {
	if m.store == nil {
		return nil
	}
	store, ctx := m.store, m.ctx
	return func() tea.Msg {
		metas, err := store.Search(ctx, "")
		if err != nil {
			return nil
		}
		return chatIndexMsg{metas: metas}
	}
}

func chatInfos(metas []storage.ChatMeta) []commands.ChatInfo {
	out := make([]commands.ChatInfo, len(metas))
	for i, meta := range metas {
		out[i] = commands.ChatInfo{ID: strconv.FormatInt(meta.ID, 10), Name: meta.Name}
	}
	return out
}

// =============================================================================
// MODEL SELECTION
// =============================================================================

func (m *Model) modelCommand(arg string) {
	if arg == "" {
		ref := m.ctrl.Model()
		if ref.ModelID == "" {
			m.setNotice("No model selected. Use /model <id> or /models to browse.")
			return
		}
		m.setNotice(fmt.Sprintf("Model: %s (%s)", ref.Label(), ref.ModelID))
		return
	}

	if m.cat == nil {
		// no catalog: trust the id as typed
		m.sel.ModelID = arg
		m.sel.Provider = model.ProviderOf(arg)
		m.ctrl.SetModel(model.NewModelRef(arg, ""))
		m.setNotice("Model set to " + arg + ".")
		return
	}

	id, err := m.resolveModel(arg)
	if err != nil {
		m.setError(err)
		return
	}
	m.sel.SelectModel(m.cat, id)
	ref := m.sel.Ref(m.cat)
	m.ctrl.SetModel(ref)
	m.setNotice("Model set to " + ref.Label() + ".")
}

// resolveModel accepts an exact id or a search term matching one model.
func (m *Model) resolveModel(arg string) (string, error) {
	if _, ok := m.cat.Lookup(arg); ok {
		return arg, nil
	}
	matches := m.cat.FilterModels(arg)
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no model matches %q", arg)
	case 1:
		return matches[0].ID, nil
	default:
		m.panel = formatModels(matches)
		return "", fmt.Errorf("%d models match %q; use the full id", len(matches), arg)
	}
}

func (m *Model) modelsCommand(term string) {
	if m.cat == nil {
		m.setNotice("Model list unavailable.")
		return
	}
	matches := m.cat.FilterModels(term)
	if len(matches) == 0 {
		m.setNotice(fmt.Sprintf("No model matches %q.", term))
		return
	}
	m.panel = formatModels(matches)
}

func (m *Model) providerCommand(arg string) {
	if m.cat == nil {
		m.setNotice("Model list unavailable.")
		return
	}

	providers := m.cat.FilterProviders(arg)
	provider := ""
	for _, p := range providers {
		if strings.EqualFold(p, arg) {
			provider = p
		}
	}
	if provider == "" && len(providers) == 1 && arg != "" {
		provider = providers[0]
	}
	if provider == "" {
		if len(providers) == 0 {
			m.setNotice(fmt.Sprintf("No provider matches %q.", arg))
			return
		}
		m.panel = "Providers:\n  " + strings.Join(providers, "\n  ")
		return
	}

	m.sel.SelectProvider(m.cat, provider)
	if m.sel.ModelID == "" {
		m.setError(fmt.Errorf("provider %s has no models", provider))
		return
	}
	ref := m.sel.Ref(m.cat)
	m.ctrl.SetModel(ref)
	m.setNotice(fmt.Sprintf("Provider set to %s, model %s.", provider, ref.Label()))
}

func formatModels(models []catalog.Model) string {
	var b strings.Builder
	b.WriteString("Models:")
	for i, mdl := range models {
		if i == maxListed {
			fmt.Fprintf(&b, "\n  ... and %d more", len(models)-maxListed)
			break
		}
		price := "free"
		if !mdl.IsFree() {
			price = util.FormatCost(mdl.PromptPrice*1e6) + "/" + util.FormatCost(mdl.CompletionPrice*1e6) + " per 1M"
		}
		fmt.Fprintf(&b, "\n  %s  %s  %s",
			util.PadRight(util.Truncate(mdl.ID, 40), 40),
			util.PadRight(util.Truncate(mdl.DisplayName(), 28), 28),
			price)
	}
	return b.String()
}

// =============================================================================
// CONVERSATION SETTINGS
// =============================================================================

func (m *Model) systemCommand(arg string) {
	switch arg {
	case "":
		if p := m.ctrl.SystemPrompt(); p != "" {
			m.panel = "System prompt:\n  " + p
		} else {
			m.setNotice("No system prompt set.")
		}
	case "-":
		m.ctrl.SetSystemPrompt("")
		m.setNotice("System prompt cleared.")
	default:
		m.ctrl.SetSystemPrompt(arg)
		m.setNotice("System prompt set.")
	}
}

func (m *Model) costCommand() {
	tr := m.ctrl.Transcript()
	tokens := tr.TotalTokens()
	m.setNotice(fmt.Sprintf("Total: %s | Tokens: %s prompt + %s completion",
		util.FormatCost(tr.TotalCost()),
		util.FormatTokens(tokens.PromptTokens),
		util.FormatTokens(tokens.CompletionTokens)))
}

// keyCommand stores a new API key and reloads the model list with it.
func (m *Model) keyCommand(key string) tea.Cmd {
	if m.replaceKey == nil {
		m.setNotice("Changing the key is not available here.")
		return nil
	}
	replace, ctx := m.replaceKey, m.ctx
	m.setNotice("Checking the new key...")
	return func() tea.Msg {
		cat, err := replace(ctx, key)
		return keyReplacedMsg{cat: cat, err: err}
	}
}

// applyCatalog installs a freshly loaded model list, keeping the current
// selection when the list still offers it.
func (m *Model) applyCatalog(cat *catalog.Catalog) {
	m.cat = cat
	if m.sel.ModelID == "" {
		m.sel.ModelID = m.ctrl.Model().ModelID
	}
	if m.sel.ModelID == "" {
		if mdl, ok := cat.DefaultModel(m.preferred); ok {
			m.sel.ModelID = mdl.ID
		}
	}
	m.sel.Provider = model.ProviderOf(m.sel.ModelID)
	m.sel.Sync(cat)
	if ref := m.sel.Ref(cat); ref != m.ctrl.Model() {
		m.ctrl.SetModel(ref)
	}
}

// =============================================================================
// SAVED CHATS
// =============================================================================

func parseChatID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid chat id %q", arg)
	}
	return id, nil
}

func (m *Model) listChats(term string) tea.Cmd {
	if m.store == nil {
		m.setNotice("Saving is disabled.")
		return nil
	}
	store, ctx := m.store, m.ctx
	return func() tea.Msg {
		metas, err := store.Search(ctx, term)
		return chatsListedMsg{metas: metas, err: err}
	}
}

func (m *Model) loadChat(arg string) tea.Cmd {
	if m.store == nil {
		m.setNotice("Saving is disabled.")
		return nil
	}
	id, err := parseChatID(arg)
	if err != nil {
		m.setError(err)
		return nil
	}
	if m.sending || m.ctrl.Busy() {
		m.setNotice("Wait for the reply to finish before opening another chat.")
		return nil
	}
	store, ctx := m.store, m.ctx
	return func() tea.Msg {
		chat, err := store.Get(ctx, id)
		return loadedMsg{chat: chat, err: err}
	}
}

func (m *Model) deleteChat(arg string) tea.Cmd {
	if m.store == nil {
		m.setNotice("Saving is disabled.")
		return nil
	}
	id, err := parseChatID(arg)
	if err != nil {
		m.setError(err)
		return nil
	}
	store, ctx := m.store, m.ctx
	return func() tea.Msg {
		return deletedMsg{id: id, err: store.Delete(ctx, id)}
	}
}

// exportChat writes the live conversation, saved or not, into the
// working directory.
func (m *Model) exportChat(format string) tea.Cmd {
	exporter, err := export.ForFormat(format, export.DefaultOptions())
	if err != nil {
		m.setError(err)
		return nil
	}
	chat := storage.ChatFromSession(m.ctrl.Snapshot(), m.chatName)
	chat.ID = m.chatID
	if chat.Name == "" {
		chat.Name = "unsaved"
	}
	return func() tea.Msg {
		path, err := export.ToFile(chat, exporter, ".")
		return exportedMsg{path: path, err: err}
	}
}

// handleResult applies the outcome of a store or export command.
func (m Model) handleResult(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case chatsListedMsg:
		if msg.err != nil {
			m.setError(msg.err)
			break
		}
		if len(msg.metas) == 0 {
			m.setNotice("No saved chats.")
			break
		}
		m.panel = formatChats(msg.metas)

	case loadedMsg:
		if msg.err != nil {
			m.setError(msg.err)
			break
		}
		if err := m.ctrl.Load(msg.chat.Session()); err != nil {
			m.setError(err)
			break
		}
		m.chatID, m.chatName = msg.chat.ID, msg.chat.Name
		m.sel.ModelID = m.ctrl.Model().ModelID
		m.sel.Provider = m.ctrl.Model().Provider
		m.sel.Order = catalog.ModelFirst
		m.setNotice(fmt.Sprintf("Opened %q.", msg.chat.Name))

	case deletedMsg:
		if msg.err != nil {
			m.setError(msg.err)
			break
		}
		if msg.id == m.chatID {
			// the open conversation is now unsaved
			m.chatID, m.chatName = 0, ""
		}
		m.setNotice(fmt.Sprintf("Deleted chat %d.", msg.id))
		m.refresh()
		return m, m.indexChats()

	case chatIndexMsg:
		m.chats = chatInfos(msg.metas)
		return m, nil

	case keyReplacedMsg:
		if msg.err != nil {
			m.setError(msg.err)
			break
		}
		m.applyCatalog(msg.cat)
		m.setNotice(fmt.Sprintf("API key saved. %d models available.", msg.cat.Len()))

	case exportedMsg:
		if msg.err != nil {
			if errors.Is(msg.err, export.ErrEmptyChat) {
				m.setNotice("Nothing to export yet.")
				break
			}
			m.logger.Warn("export failed", zap.Error(msg.err))
			m.setError(msg.err)
			break
		}
		m.setNotice("Exported to " + msg.path)
	}
	m.refresh()
	return m, nil
}

func formatChats(metas []storage.ChatMeta) string {
	var b strings.Builder
	b.WriteString("Saved chats (/load <id>):")
	for i, c := range metas {
		if i == maxListed {
			fmt.Fprintf(&b, "\n  ... and %d more", len(metas)-maxListed)
			break
		}
		fmt.Fprintf(&b, "\n  %s %s  %s  %s",
			util.PadRight(strconv.FormatInt(c.ID, 10), 5),
			util.PadRight(util.Truncate(c.Name, 32), 32),
			util.PadRight(util.FormatCost(c.TotalCost), 10),
			c.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return b.String()
}
