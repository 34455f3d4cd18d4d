// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/jeranaias/routerchat/internal/catalog"
	"github.com/jeranaias/routerchat/internal/commands"
	"github.com/jeranaias/routerchat/internal/config"
	"github.com/jeranaias/routerchat/internal/model"
	"github.com/jeranaias/routerchat/internal/session"
	"github.com/jeranaias/routerchat/internal/storage"
)

const testKey = "sk-or-test-abcdefghijklmnopqrstuvwxyz0123456789"

const modelsBody = `{"data":[
	{"id":"openai/gpt-4o-mini","name":"GPT-4o mini","context_length":128000,
	 "pricing":{"prompt":"0.00000015","completion":"0.0000006"}},
	{"id":"anthropic/claude-3.5-sonnet","name":"Claude 3.5 Sonnet","context_length":200000,
	 "pricing":{"prompt":"0.000003","completion":"0.000015"}},
	{"id":"meta-llama/llama-3-8b:free","name":"Llama 3 8B (free)","context_length":8192,
	 "pricing":{"prompt":"0","completion":"0"}}
]}`

// router is a fake OpenRouter API.
type router struct {
	mu     sync.Mutex
	models []string    // model of every chat request
	reject atomic.Bool // answer 401 to everything
}

func (r *router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.reject.Load() || req.Header.Get("Authorization") != "Bearer "+testKey {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"code":401,"message":"No auth credentials found"}}`)
		return
	}

	switch req.URL.Path {
	case "/models":
		_, _ = io.WriteString(w, modelsBody)
	case "/chat/completions":
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)
		r.mu.Lock()
		r.models = append(r.models, body.Model)
		r.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hello", ", world"} {
			fmt.Fprintf(w, "data: {\"id\":\"gen-1\",\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	case "/generation":
		_, _ = io.WriteString(w, `{"data":{"total_cost":0.00042,"tokens_prompt":12,"tokens_completion":30}}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (r *router) requestedModels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.models...)
}

// setup isolates the config directory and points the client at a fake
// router. It returns the router and the config directory.
func setup(t *testing.T) (*router, string) {
	t.Helper()
	r := &router{}
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	home := t.TempDir()
	t.Setenv("ROUTERCHAT_HOME", home)
	t.Setenv("ROUTERCHAT_BASE_URL", server.URL)
	t.Setenv("ROUTERCHAT_CONFIG", "")
	t.Setenv("ROUTERCHAT_MODEL", "")
	t.Setenv("ROUTERCHAT_LOG_LEVEL", "")
	t.Setenv("ROUTERCHAT_REDIS_URL", "")
	t.Setenv("ROUTERCHAT_TRACES", "")
	t.Setenv(config.EnvAPIKey, testKey)

	// never read from a real terminal
	prompter := keyPrompter
	keyPrompter = func(*cli.Context) func(string) (string, error) { return nil }
	t.Cleanup(func() { keyPrompter = prompter })
	return r, home
}

// answerKeyPrompts makes key prompts answer with keys in turn and returns
// the prompts shown.
func answerKeyPrompts(t *testing.T, keys ...string) *[]string {
	t.Helper()
	var prompts []string
	keyPrompter = func(*cli.Context) func(string) (string, error) {
		return func(prompt string) (string, error) {
			prompts = append(prompts, prompt)
			if len(prompts) > len(keys) {
				return "", io.EOF
			}
			return keys[len(prompts)-1], nil
		}
	}
	return &prompts
}

// run executes the app with args and returns its output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := NewApp()
	app.Writer = &out
	app.ErrWriter = &out
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"routerchat"}, args...))
	return out.String(), err
}

func requireExitCode(t *testing.T, err error, code int) {
	t.Helper()
	require.Error(t, err)
	var exitErr cli.ExitCoder
	require.True(t, errors.As(err, &exitErr), "not an exit coder: %v", err)
	assert.Equal(t, code, exitErr.ExitCode(), "error: %v", err)
}

// =============================================================================
// MODELS & PROVIDERS
// =============================================================================

func TestModels_Table(t *testing.T) {
	setup(t)

	out, err := run(t, "models")
	require.NoError(t, err)
	assert.Contains(t, out, "openai/gpt-4o-mini")
	assert.Contains(t, out, "Claude 3.5 Sonnet")
	assert.Contains(t, out, "free")
	assert.Contains(t, out, "3 models")
}

func TestModels_Filters(t *testing.T) {
	setup(t)

	out, err := run(t, "models", "--provider", "anthropic")
	require.NoError(t, err)
	assert.Contains(t, out, "anthropic/claude-3.5-sonnet")
	assert.NotContains(t, out, "openai/gpt-4o-mini")
	assert.Contains(t, out, "1 models")

	out, err = run(t, "models", "--free")
	require.NoError(t, err)
	assert.Contains(t, out, "meta-llama/llama-3-8b:free")
	assert.Contains(t, out, "1 models")

	out, err = run(t, "models", "--search", "nothing-like-this")
	require.NoError(t, err)
	assert.Contains(t, out, "No models match.")
}

func TestModels_JSON(t *testing.T) {
	setup(t)

	out, err := run(t, "models", "--json")
	require.NoError(t, err)

	var models []modelJSON
	require.NoError(t, json.Unmarshal([]byte(out), &models))
	require.Len(t, models, 3)
	byID := map[string]modelJSON{}
	for _, m := range models {
		byID[m.ID] = m
	}
	mini := byID["openai/gpt-4o-mini"]
	assert.Equal(t, "openai", mini.Provider)
	assert.Equal(t, 128000, mini.ContextLength)
	assert.InDelta(t, 0.15, mini.PromptPerMillion, 1e-9)
	assert.InDelta(t, 0.6, mini.OutputPerMillion, 1e-9)
}

func TestModels_NoKey(t *testing.T) {
	setup(t)
	t.Setenv(config.EnvAPIKey, "")

	_, err := run(t, "models")
	requireExitCode(t, err, ExitAuthError)
}

func TestModels_RejectedKeyIsCleared(t *testing.T) {
	r, home := setup(t)
	t.Setenv(config.EnvAPIKey, "")
	credPath := filepath.Join(home, "credentials")
	require.NoError(t, os.WriteFile(credPath, []byte(testKey+"\n"), 0600))
	r.reject.Store(true)

	_, err := run(t, "models")
	requireExitCode(t, err, ExitAuthError)
	assert.NoFileExists(t, credPath)
}

func TestModels_RejectedKeyIsReplacedFromPrompt(t *testing.T) {
	_, home := setup(t)
	t.Setenv(config.EnvAPIKey, "")
	credPath := filepath.Join(home, "credentials")
	require.NoError(t, os.WriteFile(credPath, []byte("sk-or-stale-key-0123456789\n"), 0600))
	prompts := answerKeyPrompts(t, testKey)

	out, err := run(t, "models")
	require.NoError(t, err)
	assert.Contains(t, out, "3 models")
	assert.Equal(t, []string{promptRejectedKey}, *prompts)

	stored, err := os.ReadFile(credPath)
	require.NoError(t, err)
	assert.Equal(t, testKey, strings.TrimSpace(string(stored)))
}

func TestModels_ReplacementKeyAlsoRejected(t *testing.T) {
	r, home := setup(t)
	t.Setenv(config.EnvAPIKey, "")
	credPath := filepath.Join(home, "credentials")
	require.NoError(t, os.WriteFile(credPath, []byte(testKey+"\n"), 0600))
	r.reject.Store(true)
	prompts := answerKeyPrompts(t, testKey, testKey)

	_, err := run(t, "models")
	requireExitCode(t, err, ExitAuthError)
	assert.Len(t, *prompts, 1, "one retry only")
	assert.NoFileExists(t, credPath)
}

func TestModels_MissingKeyPrompted(t *testing.T) {
	_, home := setup(t)
	t.Setenv(config.EnvAPIKey, "")
	prompts := answerKeyPrompts(t, "  "+testKey+"  ")

	out, err := run(t, "models")
	require.NoError(t, err)
	assert.Contains(t, out, "3 models")
	assert.Equal(t, []string{promptMissingKey}, *prompts)
	assert.FileExists(t, filepath.Join(home, "credentials"))
}

func TestModels_InvalidPromptedKey(t *testing.T) {
	setup(t)
	t.Setenv(config.EnvAPIKey, "")
	prompts := answerKeyPrompts(t, "not-a-key")

	_, err := run(t, "models")
	requireExitCode(t, err, ExitAuthError)
	assert.Len(t, *prompts, 1)
}

func TestProviders(t *testing.T) {
	setup(t)

	out, err := run(t, "providers")
	require.NoError(t, err)
	for _, p := range []string{"anthropic", "meta-llama", "openai"} {
		assert.Contains(t, out, p)
	}

	out, err = run(t, "providers", "--json", "--search", "open")
	require.NoError(t, err)
	var providers []string
	require.NoError(t, json.Unmarshal([]byte(out), &providers))
	assert.Equal(t, []string{"openai"}, providers)
}

// =============================================================================
// ASK
// =============================================================================

func TestAsk_Raw(t *testing.T) {
	r, _ := setup(t)

	out, err := run(t, "--model", "anthropic/claude-3.5-sonnet", "ask", "--raw", "Say", "hello")
	require.NoError(t, err)
	assert.Contains(t, out, "Hello, world")
	assert.Contains(t, out, "Tokens: 12 prompt + 30 completion")
	assert.Equal(t, []string{"anthropic/claude-3.5-sonnet"}, r.requestedModels())
}

func TestAsk_PicksPreferredModel(t *testing.T) {
	r, _ := setup(t)

	out, err := run(t, "ask", "--no-usage", "hi")
	require.NoError(t, err)
	assert.Contains(t, out, "Hello")
	assert.NotContains(t, out, "Tokens:")
	assert.Equal(t, []string{"openai/gpt-4o-mini"}, r.requestedModels())
}

func TestAsk_BadLogLevel(t *testing.T) {
	setup(t)

	_, err := run(t, "--log-level", "loud", "ask", "hi")
	requireExitCode(t, err, ExitUsageError)
}

// =============================================================================
// KEY
// =============================================================================

func TestKey_SetStatusClear(t *testing.T) {
	_, home := setup(t)
	t.Setenv(config.EnvAPIKey, "")

	_, err := run(t, "key", "status")
	requireExitCode(t, err, ExitAuthError)

	out, err := run(t, "key", "set", "--key", testKey)
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(home, "credentials"))

	info, err := os.Stat(filepath.Join(home, "credentials"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	out, err = run(t, "key", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "credentials file")
	assert.NotContains(t, out, testKey, "status never prints the key")

	_, err = run(t, "key", "clear")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(home, "credentials"))
}

func TestKey_SetInvalid(t *testing.T) {
	setup(t)
	t.Setenv(config.EnvAPIKey, "")

	_, err := run(t, "key", "set", "--key", "not-a-key")
	requireExitCode(t, err, ExitAuthError)
}

func TestKey_EnvTakesPrecedence(t *testing.T) {
	setup(t)

	out, err := run(t, "key", "set", "--key", "sk-or-other-0123456789")
	require.NoError(t, err)
	assert.Contains(t, out, config.EnvAPIKey+" is set")
}

// =============================================================================
// CONFIG
// =============================================================================

func TestConfig_InitShowPath(t *testing.T) {
	_, home := setup(t)

	out, err := run(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(home, "config.toml"))
	assert.FileExists(t, filepath.Join(home, "config.toml"))

	_, err = run(t, "config", "init")
	requireExitCode(t, err, ExitUsageError)

	_, err = run(t, "config", "init", "--force")
	require.NoError(t, err)

	out, err = run(t, "--model", "openai/gpt-4o", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "[api]")
	assert.Contains(t, out, `default_model = "openai/gpt-4o"`)

	out, err = run(t, "config", "show", "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "base_url:")

	_, err = run(t, "config", "show", "--format", "ini")
	requireExitCode(t, err, ExitUsageError)

	out, err = run(t, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, home, strings.TrimSpace(out))
}

func TestConfig_InvalidFile(t *testing.T) {
	_, home := setup(t)
	path := filepath.Join(home, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[ui]\ntheme = \"neon\"\n"), 0600))

	_, err := run(t, "models")
	requireExitCode(t, err, ExitConfigError)
}

// =============================================================================
// CHATS
// =============================================================================

// seedChat stores one chat in the test database and returns its id.
func seedChat(t *testing.T, home string) int64 {
	t.Helper()
	store, err := storage.Open(filepath.Join(home, "chats.db"), nil)
	require.NoError(t, err)
	defer store.Close()

	sess := model.NewSession(model.NewModelRef("openai/gpt-4o-mini", "GPT-4o mini"))
	reply := model.NewPlaceholder()
	reply.Pending = false
	reply.Text = "Kubernetes schedules containers."
	reply.Cost = &model.Cost{Total: 0.0012}
	tokens := model.NewTokenUsage(10, 20)
	reply.Tokens = &tokens
	sess.Messages = []model.ChatMessage{model.NewUserMessage("What is kubernetes?"), reply}

	id, err := store.Add(context.Background(), storage.ChatFromSession(sess, "k8s notes"))
	require.NoError(t, err)
	return id
}

func TestChats_ListShowExportDelete(t *testing.T) {
	_, home := setup(t)
	id := seedChat(t, home)
	idArg := fmt.Sprint(id)

	out, err := run(t, "chats", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "k8s notes")

	out, err = run(t, "chats", "list", "--search", "KUBERNETES", "--json")
	require.NoError(t, err)
	var metas []chatMetaJSON
	require.NoError(t, json.Unmarshal([]byte(out), &metas))
	require.Len(t, metas, 1)
	assert.Equal(t, id, metas[0].ID)
	assert.Equal(t, 2, metas[0].MessageCount)
	assert.InDelta(t, 0.0012, metas[0].TotalCost, 1e-12)

	out, err = run(t, "chats", "list", "--search", "golang")
	require.NoError(t, err)
	assert.Contains(t, out, "No saved chats.")

	out, err = run(t, "chats", "show", idArg)
	require.NoError(t, err)
	assert.Contains(t, out, "What is kubernetes?")
	assert.Contains(t, out, "Kubernetes schedules containers.")
	assert.Contains(t, out, "Tokens: 10 prompt + 20 completion")

	dir := t.TempDir()
	out, err = run(t, "chats", "export", "--format", "json", "--output", dir, idArg)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported to")
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	out, err = run(t, "chats", "export", idArg)
	require.NoError(t, err)
	assert.Contains(t, out, "Kubernetes schedules containers.")

	out, err = run(t, "chats", "delete", idArg)
	require.NoError(t, err)
	assert.Contains(t, out, fmt.Sprintf("Deleted chat %d.", id))

	_, err = run(t, "chats", "show", idArg)
	requireExitCode(t, err, ExitNotFoundError)
}

func TestChats_BadArgs(t *testing.T) {
	setup(t)

	_, err := run(t, "chats", "show")
	requireExitCode(t, err, ExitUsageError)

	_, err = run(t, "chats", "show", "abc")
	requireExitCode(t, err, ExitUsageError)

	_, err = run(t, "chats", "export", "--format", "pdf", "1")
	requireExitCode(t, err, ExitUsageError)
}

// =============================================================================
// VERSION
// =============================================================================

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "routerchat "+Version)

	out, err = run(t, "version", "--json")
	require.NoError(t, err)
	var resp VersionResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, Version, resp.Version)
	assert.NotEmpty(t, resp.Platform)
}

// =============================================================================
// ERRORS
// =============================================================================

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

type refusedError struct{}

func (refusedError) Error() string   { return "connection refused" }
func (refusedError) Timeout() bool   { return false }
func (refusedError) Temporary() bool { return false }

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"usage", usageErrorf("bad flag"), ExitUsageError},
		{"no credential", session.ErrNoCredential, ExitAuthError},
		{"rejected", fmt.Errorf("load: %w", catalog.ErrCredentialRejected), ExitAuthError},
		{"invalid key", config.ErrInvalidAPIKey, ExitAuthError},
		{"no model", session.ErrNoModel, ExitUsageError},
		{"config", fmt.Errorf("invalid config: %w", config.ValidateErrors{{Field: "ui.theme", Message: "bad"}}), ExitConfigError},
		{"not found", fmt.Errorf("chat 3: %w", storage.ErrChatNotFound), ExitNotFoundError},
		{"deadline", context.DeadlineExceeded, ExitTimeoutError},
		{"net timeout", fmt.Errorf("post: %w", timeoutError{}), ExitTimeoutError},
		{"net refused", fmt.Errorf("post: %w", refusedError{}), ExitNetworkError},
		{"other", io.ErrUnexpectedEOF, ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestExitError(t *testing.T) {
	assert.NoError(t, ExitError(nil))

	coded := cli.Exit("already coded", 9)
	assert.Same(t, coded, ExitError(coded))

	err := ExitError(storage.ErrChatNotFound)
	var exitErr cli.ExitCoder
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, ExitNotFoundError, exitErr.ExitCode())
	assert.Equal(t, "Error: chat not found", err.Error())
}

// =============================================================================
// REPL COMMANDS
// =============================================================================

func TestRepl_Commands(t *testing.T) {
	var buf bytes.Buffer
	registry := replCommands()
	r := &repl{
		ctrl: session.NewController(nil, nil),
		cat: catalog.New([]catalog.Model{
			{ID: "openai/gpt-4o", Name: "GPT-4o"},
			{ID: "anthropic/claude-3.5-sonnet", Name: "Claude 3.5 Sonnet"},
		}),
		w:        &buf,
		registry: registry,
		parser:   commands.NewParser(registry),
	}
	defer r.ctrl.Close()
	ctx := context.Background()

	quit, err := r.command(ctx, "/help")
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Contains(t, buf.String(), "/system [prompt|-]")
	assert.NotContains(t, buf.String(), "/chats")

	_, err = r.command(ctx, "/system Be brief.")
	require.NoError(t, err)
	assert.Equal(t, "Be brief.", r.ctrl.SystemPrompt())

	_, err = r.command(ctx, "/model openai/gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o", r.ctrl.Model().ModelID)

	_, err = r.command(ctx, "/chats")
	var usage *UsageError
	require.ErrorAs(t, err, &usage)
	assert.Contains(t, usage.Error(), "Unknown command /chats")

	quit, err = r.command(ctx, "/q")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestRepl_Completer(t *testing.T) {
	r := &repl{
		cat:      catalog.New([]catalog.Model{{ID: "openai/gpt-4o", Name: "GPT-4o"}}),
		registry: replCommands(),
	}
	c := r.completer()

	got := c.Complete("/mo")
	require.Len(t, got, 1, "line mode has no /models")
	assert.Equal(t, "/model ", got[0].Value)

	got = c.Complete("/model gp")
	require.Len(t, got, 1)
	assert.Equal(t, "/model openai/gpt-4o", got[0].Value)
}
