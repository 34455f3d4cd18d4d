// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/jeranaias/routerchat/internal/catalog"
	"github.com/jeranaias/routerchat/internal/commands"
	"github.com/jeranaias/routerchat/internal/session"
	"github.com/jeranaias/routerchat/internal/storage"
	"github.com/jeranaias/routerchat/internal/ui/components"
	"github.com/jeranaias/routerchat/internal/ui/styles"
)

// Options configures the chat screen.
type Options struct {
	Controller *session.Controller
	Store      *storage.Store   // nil disables saving
	Catalog    *catalog.Catalog // nil when the model list could not be loaded
	Selector   catalog.Selector

	Theme     string // auto, dark or light
	Markdown  bool
	ShowUsage bool
	AutoSave  bool

	// Notice is shown under the transcript on start, e.g. a missing key.
	Notice string
	Logger *zap.Logger

	// ChatID and ChatName identify a resumed chat; zero for a new one.
	ChatID   int64
	ChatName string

	// ReplaceKey stores a new API key and returns the model list fetched
	// with it. Nil disables /key.
	ReplaceKey      func(ctx context.Context, key string) (*catalog.Catalog, error)
	PreferredModels []string
}

// =============================================================================
// CHAT MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	ctx    context.Context
	ctrl   *session.Controller
	store  *storage.Store
	cat    *catalog.Catalog
	sel    catalog.Selector
	logger *zap.Logger

	// Styling
	theme *styles.Theme
	view  components.MessageView
	keys  KeyMap

	// Widgets
	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model

	// Dimensions
	width  int
	height int
	ready  bool

	// Persistence
	chatID   int64
	chatName string
	autoSave bool
	saving   bool

	// Turn state. sending is set from submit until SendMessage returns;
	// ticking while the spinner runs, which lasts until the controller is
	// no longer Busy.
	sending bool
	ticking bool

	notice    string
	noticeErr bool

	// Slash commands
	registry   *commands.Registry
	parser     *commands.Parser
	completion commands.CompletionState
	chats      []commands.ChatInfo

	replaceKey func(ctx context.Context, key string) (*catalog.Catalog, error)
	preferred  []string

	// panel is command output (help, model lists) shown below the
	// transcript until the next submit.
	panel string
}

// New creates the chat model.
func New(ctx context.Context, opts Options) Model {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	theme := styles.NewTheme(opts.Theme)
	md := components.NewMarkdown(theme.GlamourStyle(), opts.Markdown)

	keys := DefaultKeyMap()

	ta := textarea.New()
	ta.Placeholder = "Type a message, or /help"
	ta.Prompt = ""
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys(keys.Newline.Keys()...))
	ta.Focus()

	vp := viewport.New(80, 20)
	vp.SetContent("")

	// ASCII frames render on every terminal
	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}
	sp.Style = theme.Spinner

	registry := commands.Builtins()

	return Model{
		ctx:      ctx,
		ctrl:     opts.Controller,
		store:    opts.Store,
		cat:      opts.Catalog,
		sel:      opts.Selector,
		logger:   logger.With(zap.String("component", "chat")),
		theme:    theme,
		view:     components.MessageView{Theme: theme, Markdown: md, Width: 80, ShowUsage: opts.ShowUsage},
		keys:     keys,
		viewport: vp,
		input:    ta,
		spinner:  sp,
		chatID:   opts.ChatID,
		chatName: opts.ChatName,
		autoSave: opts.AutoSave,
		notice:   opts.Notice,
		registry: registry,
		parser:   commands.NewParser(registry),

		replaceKey: opts.ReplaceKey,
		preferred:  opts.PreferredModels,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.waitForChange(), m.indexChats())
}

// =============================================================================
// ACCESSORS
// =============================================================================

// ChatID returns the id of the saved chat, or 0 before the first save.
func (m Model) ChatID() int64 {
	return m.chatID
}

// Notice returns the message shown under the transcript.
func (m Model) Notice() string {
	return m.notice
}

// Selector returns the current model selection.
func (m Model) Selector() catalog.Selector {
	return m.sel
}

// status reports what the controller is doing for the status bar.
func (m Model) status() components.Status {
	switch {
	case m.sending || m.ctrl.IsLoading():
		return components.StatusStreaming
	case m.ctrl.Busy():
		return components.StatusReconciling
	default:
		return components.StatusReady
	}
}

func (m *Model) setNotice(s string) {
	m.notice, m.noticeErr = s, false
}

func (m *Model) setError(err error) {
	m.notice, m.noticeErr = err.Error(), true
}
