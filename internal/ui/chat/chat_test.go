// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/routerchat/internal/catalog"
	"github.com/jeranaias/routerchat/internal/cloud"
	"github.com/jeranaias/routerchat/internal/model"
	"github.com/jeranaias/routerchat/internal/session"
	"github.com/jeranaias/routerchat/internal/storage"
	"github.com/jeranaias/routerchat/internal/transcript"
	"github.com/jeranaias/routerchat/internal/usage"
)

const testKey = "sk-or-test-abcdefghijklmnopqrstuvwxyz0123456789"

const stats = `{"data":{"total_cost":0.00042,"tokens_prompt":12,"tokens_completion":30}}`

func delta(id, text string) string {
	return fmt.Sprintf("data: {\"id\":%q,\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", id, text)
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// provider is a fake OpenRouter. When gate is set the stream stalls
// after its first chunk until the gate is closed.
type provider struct {
	gate chan struct{}
}

func (p *provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/chat/completions":
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, delta("gen-1", "Hel"))
		if p.gate != nil {
			w.(http.Flusher).Flush()
			select {
			case <-p.gate:
			case <-r.Context().Done():
				return
			}
		}
		_, _ = io.WriteString(w, delta("gen-1", "lo"))
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	case "/generation":
		_, _ = io.WriteString(w, stats)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type harness struct {
	ctrl  *session.Controller
	store *storage.Store
}

func newHarness(t *testing.T, p *provider) *harness {
	t.Helper()
	server := httptest.NewServer(p)
	t.Cleanup(server.Close)

	client := cloud.NewClient(testKey).WithBaseURL(server.URL)
	tr := transcript.New()
	rec := usage.NewReconciler(client, tr, usage.WithSleep(noSleep))
	ctrl := session.NewController(client, rec,
		session.WithTranscript(tr),
		session.WithModel(model.NewModelRef("openai/gpt-4o-mini", "GPT-4o mini")))
	t.Cleanup(ctrl.Close)

	store, err := storage.Open(filepath.Join(t.TempDir(), "chats.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return &harness{ctrl: ctrl, store: store}
}

func (h *harness) model(opts Options) Model {
	opts.Controller = h.ctrl
	opts.Store = h.store
	opts.Theme = "dark"
	m := New(context.Background(), opts)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model)
}

// update feeds msg to m and returns the new model.
func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

// drain runs cmd, expanding batches, and returns every message produced.
func drain(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, drain(c)...)
		}
		return out
	}
	if msg == nil {
		return nil
	}
	return []tea.Msg{msg}
}

// feed delivers every message cmd produces back into m. The command a
// spinner tick returns (another tick, or the auto-save) is fed as well;
// other follow-ups such as cursor blinks are dropped.
func feed(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	for _, msg := range drain(cmd) {
		var next tea.Cmd
		m, next = update(t, m, msg)
		if _, ok := msg.(spinner.TickMsg); ok {
			m = feed(t, m, next)
		}
	}
	return m
}

func typeText(t *testing.T, m Model, text string) Model {
	t.Helper()
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return m
}

func enter(t *testing.T, m Model) (Model, tea.Cmd) {
	t.Helper()
	return update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
}

func ctrlKey(t *testing.T, m Model, k tea.KeyType) (Model, tea.Cmd) {
	t.Helper()
	return update(t, m, tea.KeyMsg{Type: k})
}

// =============================================================================
// TURNS
// =============================================================================

func TestSubmit_SendsAndAutoSaves(t *testing.T) {
	h := newHarness(t, &provider{})
	m := h.model(Options{AutoSave: true, ShowUsage: true})

	m = typeText(t, m, "hi there")
	m, cmd := enter(t, m)
	require.NotNil(t, cmd)
	assert.True(t, m.sending)
	assert.True(t, m.ticking)
	assert.Empty(t, m.input.Value())

	// the send, then the spinner tick that settles the turn and auto-saves
	m = feed(t, m, cmd)
	assert.False(t, m.sending)

	msgs := h.ctrl.Transcript().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi there", msgs[0].Text)
	assert.Equal(t, "Hello", msgs[1].Text)
	assert.False(t, msgs[1].Pending)

	assert.False(t, m.ticking)
	assert.NotZero(t, m.ChatID(), "settled turn is auto-saved")
	assert.False(t, h.ctrl.Dirty())

	saved, err := h.store.Get(context.Background(), m.ChatID())
	require.NoError(t, err)
	assert.Len(t, saved.Messages, 2)
	assert.InDelta(t, 0.00042, saved.TotalCost, 1e-12)

	assert.Contains(t, m.viewport.View(), "Hello")
}

func TestSubmit_GuidanceErrorRestoresInput(t *testing.T) {
	h := newHarness(t, &provider{})
	h.ctrl.SetModel(model.ModelRef{})
	m := h.model(Options{})

	m = typeText(t, m, "hello")
	m, cmd := enter(t, m)
	m = feed(t, m, cmd)

	assert.Equal(t, "hello", m.input.Value())
	assert.True(t, m.noticeErr)
	assert.Equal(t, session.ErrNoModel.Error(), m.Notice())
	assert.Zero(t, h.ctrl.Transcript().Len())
}

func TestSubmit_BlankIgnored(t *testing.T) {
	h := newHarness(t, &provider{})
	m := h.model(Options{})

	m = typeText(t, m, "   ")
	m, cmd := enter(t, m)
	assert.Nil(t, cmd)
	assert.False(t, m.sending)
}

// =============================================================================
// BUSY GUARDS
// =============================================================================

func TestNewChat_RefusedWhileBusy(t *testing.T) {
	p := &provider{gate: make(chan struct{})}
	var once sync.Once
	release := func() { once.Do(func() { close(p.gate) }) }

	h := newHarness(t, p)
	t.Cleanup(release) // before the server closes
	m := h.model(Options{})

	done := make(chan error, 1)
	go func() { done <- h.ctrl.SendMessage(context.Background(), "hi") }()
	require.Eventually(t, func() bool {
		return h.ctrl.IsLoading() && h.ctrl.Transcript().Len() == 2
	}, 2*time.Second, 5*time.Millisecond)

	m, _ = ctrlKey(t, m, tea.KeyCtrlN)
	assert.Contains(t, m.Notice(), "Wait for the reply")
	assert.Equal(t, 2, h.ctrl.Transcript().Len())

	m, cmd := ctrlKey(t, m, tea.KeyCtrlS)
	assert.Nil(t, cmd)
	assert.Contains(t, m.Notice(), "before saving")

	release()
	require.NoError(t, <-done)
	require.False(t, h.ctrl.Busy())

	m, _ = ctrlKey(t, m, tea.KeyCtrlN)
	assert.Equal(t, "Started a new chat.", m.Notice())
	assert.Zero(t, h.ctrl.Transcript().Len())
	assert.Zero(t, m.ChatID())
}

func TestSubmit_RefusedWhileStreaming(t *testing.T) {
	h := newHarness(t, &provider{})
	m := h.model(Options{})
	m.sending = true
	m.input.SetValue("second")
	m, cmd := enter(t, m)
	assert.Nil(t, cmd)
	assert.Equal(t, "A reply is still streaming.", m.Notice())
	assert.Equal(t, "second", m.input.Value())
}

// =============================================================================
// SAVE
// =============================================================================

func TestSave_AddThenPut(t *testing.T) {
	h := newHarness(t, &provider{})
	m := h.model(Options{})

	m, cmd := ctrlKey(t, m, tea.KeyCtrlS)
	assert.Nil(t, cmd)
	assert.Equal(t, "Nothing to save yet.", m.Notice())

	require.NoError(t, h.ctrl.SendMessage(context.Background(), "hi"))
	require.True(t, h.ctrl.Dirty())

	m, cmd = ctrlKey(t, m, tea.KeyCtrlS)
	m = feed(t, m, cmd)
	id := m.ChatID()
	require.NotZero(t, id)
	assert.Contains(t, m.Notice(), "Saved as")
	assert.False(t, h.ctrl.Dirty())

	require.NoError(t, h.ctrl.SendMessage(context.Background(), "again"))
	m, cmd = ctrlKey(t, m, tea.KeyCtrlS)
	m = feed(t, m, cmd)
	assert.Equal(t, id, m.ChatID(), "second save overwrites")

	saved, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, saved.Messages, 4)
}

func TestSave_DeletedChatIsReAdded(t *testing.T) {
	h := newHarness(t, &provider{})
	m := h.model(Options{})
	require.NoError(t, h.ctrl.SendMessage(context.Background(), "hi"))

	cmd := m.runCommand("/save first")
	m = feed(t, m, cmd)
	id := m.ChatID()
	require.NoError(t, h.store.Delete(context.Background(), id))

	m, cmd = ctrlKey(t, m, tea.KeyCtrlS)
	m = feed(t, m, cmd)
	assert.NotZero(t, m.ChatID())
	assert.NotEqual(t, id, m.ChatID())
	assert.Equal(t, "first", m.chatName)
}

// =============================================================================
// COMMANDS
// =============================================================================

func testCatalog() *catalog.Catalog {
	return catalog.New([]catalog.Model{
		{ID: "openai/gpt-4o", Name: "GPT-4o", PromptPrice: 0.0000025, CompletionPrice: 0.00001},
		{ID: "openai/gpt-4o-mini", Name: "GPT-4o mini"},
		{ID: "anthropic/claude-3.5-sonnet", Name: "Claude 3.5 Sonnet"},
	})
}

func TestCommand_Model(t *testing.T) {
	h := newHarness(t, &provider{})
	m := h.model(Options{Catalog: testCatalog()})

	m.runCommand("/model claude")
	assert.Equal(t, "anthropic/claude-3.5-sonnet", h.ctrl.Model().ModelID)
	assert.Equal(t, "Claude 3.5 Sonnet", h.ctrl.Model().ModelName)
	assert.Equal(t, "anthropic", m.Selector().Provider)

	m.runCommand("/model gpt")
	assert.True(t, m.noticeErr, "ambiguous term")
	assert.Contains(t, m.panel, "openai/gpt-4o-mini")
	assert.Equal(t, "anthropic/claude-3.5-sonnet", h.ctrl.Model().ModelID)

	m.runCommand("/model openai/gpt-4o")
	assert.Equal(t, "openai/gpt-4o", h.ctrl.Model().ModelID)

	m.runCommand("/model nope")
	assert.Contains(t, m.Notice(), "no model matches")
}

func TestCommand_ModelWithoutCatalog(t *testing.T) {
	h := newHarness(t, &provider{})
	m := h.model(Options{})

	m.runCommand("/model meta-llama/llama-3-70b")
	assert.Equal(t, "meta-llama/llama-3-70b", h.ctrl.Model().ModelID)
	assert.Equal(t, "meta-llama", m.Selector().Provider)
}

func TestCommand_Provider(t *testing.T) {
	h := newHarness(t, &provider{})
	m := h.model(Options{Catalog: testCatalog()})

	m.runCommand("/provider")
	assert.Contains(t, m.panel, "anthropic")
	assert.Contains(t, m.panel, "openai")

	m.runCommand("/provider anthropic")
	assert.Equal(t, catalog.ProviderFirst, m.Selector().Order)
	assert.Equal(t, "anthropic/claude-3.5-sonnet", h.ctrl.Model().ModelID)
}

func TestCommand_System(t *testing.T) {
	h := newHarness(t, &provider{})
	m := h.model(Options{})

	m.runCommand("/system Be brief.")
	assert.Equal(t, "Be brief.", h.ctrl.SystemPrompt())
	m.runCommand("/system")
	assert.Contains(t, m.panel, "Be brief.")
	m.runCommand("/system -")
	assert.Empty(t, h.ctrl.SystemPrompt())
}

func TestCommand_ChatsLoadDelete(t *testing.T) {
	h := newHarness(t, &provider{})
	ctx := context.Background()

	sess := model.NewSession(model.NewModelRef("anthropic/claude-3.5-sonnet", "Claude 3.5 Sonnet"))
	sess.Messages = []model.ChatMessage{model.NewUserMessage("saved question")}
	chat := storage.ChatFromSession(sess, "old chat")
	id, err := h.store.Add(ctx, chat)
	require.NoError(t, err)

	m := h.model(Options{})
	cmd := m.runCommand("/chats")
	m = feed(t, m, cmd)
	assert.Contains(t, m.panel, "old chat")

	cmd = m.runCommand(fmt.Sprintf("/load %d", id))
	m = feed(t, m, cmd)
	assert.Equal(t, id, m.ChatID())
	assert.Equal(t, "anthropic/claude-3.5-sonnet", h.ctrl.Model().ModelID)
	assert.Equal(t, "saved question", h.ctrl.Transcript().Messages()[0].Text)

	cmd = m.runCommand(fmt.Sprintf("/delete %d", id))
	m = feed(t, m, cmd)
	assert.Zero(t, m.ChatID())
	_, err = h.store.Get(ctx, id)
	assert.ErrorIs(t, err, storage.ErrChatNotFound)

	m.runCommand("/load abc")
	assert.True(t, m.noticeErr)
}

func TestCommand_Misc(t *testing.T) {
	h := newHarness(t, &provider{})
	m := h.model(Options{})

	m.runCommand("/help")
	assert.Contains(t, m.panel, "/export")

	m.runCommand("/cost")
	assert.Contains(t, m.Notice(), "Total: ")

	m.runCommand("/bogus")
	assert.Contains(t, m.Notice(), "Unknown command /bogus")

	m.runCommand("/export yaml")
	assert.True(t, m.noticeErr)
}

func TestCommand_Key(t *testing.T) {
	h := newHarness(t, &provider{})
	var keys []string
	replace := func(_ context.Context, key string) (*catalog.Catalog, error) {
		keys = append(keys, key)
		if key == "sk-or-bad" {
			return nil, errors.New("API key rejected")
		}
		return testCatalog(), nil
	}
	h.ctrl.SetModel(model.ModelRef{})
	m := h.model(Options{ReplaceKey: replace, PreferredModels: []string{"claude"}})
	require.Nil(t, m.cat)

	cmd := m.runCommand("/key sk-or-bad")
	m = feed(t, m, cmd)
	assert.True(t, m.noticeErr)
	assert.Nil(t, m.cat)

	cmd = m.runCommand("/key sk-or-good")
	m = feed(t, m, cmd)
	assert.False(t, m.noticeErr)
	assert.Contains(t, m.Notice(), "3 models available")
	assert.Equal(t, []string{"sk-or-bad", "sk-or-good"}, keys)
	assert.Equal(t, "anthropic/claude-3.5-sonnet", h.ctrl.Model().ModelID, "preferred model picked once a list exists")

	m.runCommand("/key")
	assert.True(t, m.noticeErr, "key is required")
}

func TestCommand_KeyUnavailable(t *testing.T) {
	h := newHarness(t, &provider{})
	m := h.model(Options{})

	assert.Nil(t, m.runCommand("/key sk-or-x"))
	assert.Contains(t, m.Notice(), "not available")
	assert.Equal(t, "openai/gpt-4o-mini", h.ctrl.Model().ModelID)
}

func TestTabCompletion(t *testing.T) {
	h := newHarness(t, &provider{})
	ctx := context.Background()

	sess := model.NewSession(model.NewModelRef("openai/gpt-4o", "GPT-4o"))
	sess.Messages = []model.ChatMessage{model.NewUserMessage("hi")}
	id, err := h.store.Add(ctx, storage.ChatFromSession(sess, "greetings"))
	require.NoError(t, err)

	m := h.model(Options{Catalog: testCatalog()})
	tab := tea.KeyMsg{Type: tea.KeyTab}

	m = typeText(t, m, "/mode")
	m, _ = update(t, m, tab)
	assert.Equal(t, "/model ", m.input.Value())
	assert.Contains(t, m.Notice(), "(1/2")

	m, _ = update(t, m, tab)
	assert.Equal(t, "/models ", m.input.Value())

	m.input.SetValue("/model cla")
	m, _ = update(t, m, tab)
	assert.Equal(t, "/model anthropic/claude-3.5-sonnet", m.input.Value())

	m = feed(t, m, m.indexChats())
	m.input.SetValue("/load ")
	m, _ = update(t, m, tab)
	assert.Equal(t, fmt.Sprintf("/load %d", id), m.input.Value())

	// nothing to offer leaves the input alone
	m.input.SetValue("hello")
	m, _ = update(t, m, tab)
	assert.Equal(t, "hello", m.input.Value())
}

// =============================================================================
// VIEW
// =============================================================================

func TestView_Layout(t *testing.T) {
	h := newHarness(t, &provider{})
	m := h.model(Options{Notice: "No API key set."})

	view := m.View()
	assert.Contains(t, view, "routerchat")
	assert.Contains(t, view, "GPT-4o mini")
	assert.Contains(t, view, "No API key set.")
	assert.Contains(t, view, "Welcome to routerchat")
	assert.Contains(t, view, "new chat")
}

func TestView_NotReady(t *testing.T) {
	h := newHarness(t, &provider{})
	m := New(context.Background(), Options{Controller: h.ctrl})
	assert.Equal(t, "Loading...", m.View())
}
