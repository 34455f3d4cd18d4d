// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// repl.go - Line-mode chat command.
//
// Command: repl
// Short:   Chat line by line, replies stream as plain text
//
// Interactive Commands (during chat):
//   /help               Show available commands
//   /new                Start a new conversation
//   /save [name]        Save the conversation
//   /model [id]         Show or switch model
//   /system [prompt]    Show or set the system prompt
//   /cost               Show the running total
//   /quit               Exit
//   Ctrl+C              Abort the current line
//   Ctrl+D              Exit

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/jeranaias/routerchat/internal/catalog"
	"github.com/jeranaias/routerchat/internal/commands"
	"github.com/jeranaias/routerchat/internal/config"
	"github.com/jeranaias/routerchat/internal/model"
	"github.com/jeranaias/routerchat/internal/session"
	"github.com/jeranaias/routerchat/internal/storage"
	"github.com/jeranaias/routerchat/internal/ui/components"
	"github.com/jeranaias/routerchat/internal/util"
)

// ReplCommand returns the repl command.
func ReplCommand() *cli.Command {
	return &cli.Command{
		Name:   "repl",
		Usage:  "Chat in line mode with input history",
		Action: withRuntime(replAction),
	}
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader provides input history and line editing for the REPL.
type lineReader struct {
	line        *liner.State
	historyFile string
}

func newLineReader(completer *commands.Completer) *lineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetTabCompletionStyle(liner.TabPrints)
	line.SetCompleter(func(input string) []string {
		completions := completer.Complete(input)
		values := make([]string, len(completions))
		for i, c := range completions {
			values[i] = c.Value
		}
		return values
	})

	dir, err := config.Dir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &lineReader{line: line, historyFile: filepath.Join(dir, "repl_history")}
	if f, err := os.Open(r.historyFile); err == nil {
		_, _ = r.line.ReadHistory(f)
		f.Close()
	}
	return r
}

// Read reads one line. Non-empty input is added to history.
func (r *lineReader) Read(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history and restores the terminal.
// SECURITY: the history file is owner-only (0600).
func (r *lineReader) Close() {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = r.line.WriteHistory(f)
			f.Close()
		}
	}
	r.line.Close()
}

// =============================================================================
// REPL
// =============================================================================

// repl holds the state of one line-mode session.
type repl struct {
	rt     *Runtime
	ctrl   *session.Controller
	store  *storage.Store
	cat    *catalog.Catalog
	chatID int64
	name   string
	md     *components.Markdown
	w      io.Writer

	registry *commands.Registry
	parser   *commands.Parser
}

// replCommands are the slash commands line mode supports.
func replCommands() *commands.Registry {
	return commands.Builtins().Only("/help", "/new", "/save", "/model", "/system", "/cost", "/quit")
}

// completer offers command names and catalog model ids.
func (r *repl) completer() *commands.Completer {
	c := commands.NewCompleter(r.registry)
	if cat := r.cat; cat != nil {
		c.ModelsFn = func() []string {
			ids := make([]string, 0, cat.Len())
			for _, m := range cat.Models() {
				ids = append(ids, m.ID)
			}
			return ids
		}
	}
	return c
}

func replAction(c *cli.Context, rt *Runtime) error {
	if !IsTTY() {
		return fmt.Errorf("repl %w; use `routerchat ask` for piped input", ErrNotTTY)
	}

	ctx := c.Context
	ref, cat, err := rt.ResolveModel(ctx)
	if err != nil {
		return err
	}

	store, err := rt.OpenStore()
	if err != nil {
		return err
	}
	defer store.Close()

	registry := replCommands()
	r := &repl{
		rt:       rt,
		ctrl:     rt.NewController(ref, false),
		store:    store,
		cat:      cat,
		md:       components.NewMarkdown(glamourStyle(rt.Config.UI.Theme), false),
		w:        c.App.Writer,
		registry: registry,
		parser:   commands.NewParser(registry),
	}
	defer r.ctrl.Close()

	reader := newLineReader(r.completer())
	defer reader.Close()

	fmt.Fprintln(r.w, TitleStyle.Render("routerchat")+" "+DimStyle.Render(ref.Label()+" - /help for commands, Ctrl+D to exit"))

	for {
		input, err := reader.Read("you> ")
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if err != nil {
			// io.EOF on Ctrl+D
			break
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, err := r.command(ctx, input)
			if err != nil {
				fmt.Fprintln(r.w, ErrorStyle.Render(err.Error()))
			}
			if quit {
				break
			}
			continue
		}

		if err := r.send(ctx, input); err != nil {
			fmt.Fprintln(r.w, ErrorStyle.Render(err.Error()))
		}
	}

	r.autosave(ctx)
	return nil
}

func (r *repl) send(ctx context.Context, text string) error {
	fmt.Fprint(r.w, SpeakerStyle.Render("assistant> "))
	reply, err := runTurn(ctx, r.ctrl, text, r.w, true)
	if err != nil {
		fmt.Fprintln(r.w)
		return err
	}
	printReply(r.w, reply, true, r.md, r.rt.Config.UI.ShowUsage)
	r.autosave(ctx)
	return nil
}

// command runs a slash command. It reports whether the REPL should exit.
func (r *repl) command(ctx context.Context, input string) (bool, error) {
	res := r.parser.Parse(input)
	if res.Error != nil {
		return false, &UsageError{Msg: res.Error.Error()}
	}
	arg := res.Arg(0)

	switch res.Command.Name {
	case "/quit":
		return true, nil

	case "/help":
		fmt.Fprintln(r.w, r.registry.Help())

	case "/new":
		r.autosave(ctx)
		if err := r.ctrl.Reset(); err != nil {
			return false, err
		}
		r.chatID, r.name = 0, ""
		fmt.Fprintln(r.w, DimStyle.Render("Started a new conversation."))

	case "/save":
		if arg != "" {
			r.name = arg
		}
		if err := r.save(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(r.w, SuccessStyle.Render(fmt.Sprintf("Saved as #%d %q.", r.chatID, r.name)))

	case "/model":
		if arg == "" {
			fmt.Fprintln(r.w, r.ctrl.Model().ModelID)
			return false, nil
		}
		r.ctrl.SetModel(model.NewModelRef(arg, ""))
		fmt.Fprintln(r.w, DimStyle.Render("Model set to "+arg+"."))

	case "/system":
		if arg == "" {
			prompt := r.ctrl.SystemPrompt()
			if prompt == "" {
				prompt = "(none)"
			}
			fmt.Fprintln(r.w, prompt)
			return false, nil
		}
		r.ctrl.SetSystemPrompt(arg)
		fmt.Fprintln(r.w, DimStyle.Render("System prompt updated."))

	case "/cost":
		tr := r.ctrl.Transcript()
		tokens := tr.TotalTokens()
		fmt.Fprintf(r.w, "Total: %s over %s tokens\n", util.FormatCost(tr.TotalCost()), util.FormatTokens(tokens.TotalTokens))
	}
	return false, nil
}

// save writes the conversation, inserting it on first save.
func (r *repl) save(ctx context.Context) error {
	chat := storage.ChatFromSession(r.ctrl.Snapshot(), r.name)
	if r.chatID == 0 {
		id, err := r.store.Add(ctx, chat)
		if err != nil {
			return err
		}
		r.chatID, r.name = id, chat.Name
	} else {
		chat.ID = r.chatID
		if err := r.store.Put(ctx, chat); err != nil {
			return err
		}
	}
	r.ctrl.MarkSaved()
	return nil
}

func (r *repl) autosave(ctx context.Context) {
	if !r.rt.Config.Storage.AutoSave || !r.ctrl.Dirty() || r.ctrl.Transcript().Len() == 0 {
		return
	}
	if err := r.save(ctx); err != nil {
		r.rt.Logger.Warn("autosave failed", zap.Error(err))
	}
}
