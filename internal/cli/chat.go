// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Full-screen chat command (the default).
//
// Command: chat
// Short:   Open the terminal chat interface
//
// Examples:
//   routerchat                         Start with the configured model
//   routerchat -m openai/gpt-4o chat   Use a specific model
//   routerchat chat --resume 12        Continue saved chat 12

package cli

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/jeranaias/routerchat/internal/catalog"
	"github.com/jeranaias/routerchat/internal/model"
	"github.com/jeranaias/routerchat/internal/session"
	chatui "github.com/jeranaias/routerchat/internal/ui/chat"
)

// ChatCommand returns the chat command.
func ChatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Open the terminal chat interface (default command)",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:    "resume",
				Aliases: []string{"r"},
				Usage:   "Open saved chat `ID`",
			},
		},
		Action: chatAction,
	}
}

var chatAction = withRuntime(runChat)

func runChat(c *cli.Context, rt *Runtime) error {
	if !IsTTY() || !IsStdoutTTY() {
		return fmt.Errorf("chat %w; use `routerchat ask` for scripts", ErrNotTTY)
	}
	ctx := c.Context

	cat, notice := loadChatCatalog(c, rt)
	sel, ref := initialSelection(rt, cat)

	store, err := rt.OpenStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctrl := rt.NewController(ref, true)
	defer ctrl.Close()

	opts := chatui.Options{
		Controller: ctrl,
		Store:      store,
		Catalog:    cat,
		Selector:   sel,
		Theme:      rt.Config.UI.Theme,
		Markdown:   rt.Config.UI.Markdown,
		ShowUsage:  rt.Config.UI.ShowUsage,
		AutoSave:   rt.Config.Storage.AutoSave,
		Notice:     notice,
		Logger:     rt.Logger,

		ReplaceKey:      rt.SwapKey,
		PreferredModels: rt.Config.Chat.PreferredModels,
	}

	if id := c.Int64("resume"); id > 0 {
		chat, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := ctrl.Load(chat.Session()); err != nil {
			return err
		}
		opts.ChatID, opts.ChatName = chat.ID, chat.Name
		opts.Selector.ModelID = chat.Model.ModelID
		opts.Selector.Provider = chat.Model.Provider
	}

	return chatui.Run(ctx, opts)
}

// loadChatCatalog fetches the model list for the picker, prompting for a
// missing or rejected key before the screen opens. Failures are not
// fatal: the chat still opens, with the reason shown as a notice.
func loadChatCatalog(c *cli.Context, rt *Runtime) (*catalog.Catalog, string) {
	cat, err := rt.LoadCatalog(c.Context)
	switch {
	case errors.Is(err, session.ErrNoCredential):
		return nil, "No OpenRouter API key is set. Enter one with /key <key>."
	case errors.Is(err, catalog.ErrCredentialRejected):
		rt.Client.SetAPIKey("")
		return nil, "The API key was rejected and has been cleared. Enter a new one with /key <key>."
	case err != nil:
		rt.Logger.Warn("model catalog unavailable", zap.Error(err))
		return nil, "Model list unavailable: " + err.Error()
	}
	return cat, ""
}

// initialSelection applies the configured model and selection order.
func initialSelection(rt *Runtime, cat *catalog.Catalog) (catalog.Selector, model.ModelRef) {
	sel := catalog.Selector{
		Order:   catalog.ParseOrder(rt.Config.Chat.SelectionOrder),
		ModelID: rt.Config.Chat.DefaultModel,
	}
	if cat == nil {
		sel.Provider = model.ProviderOf(sel.ModelID)
		return sel, model.NewModelRef(sel.ModelID, "")
	}

	if sel.ModelID == "" {
		if m, ok := cat.DefaultModel(rt.Config.Chat.PreferredModels); ok {
			sel.ModelID = m.ID
		}
	}
	sel.Provider = model.ProviderOf(sel.ModelID)
	sel.Sync(cat)
	return sel, sel.Ref(cat)
}
