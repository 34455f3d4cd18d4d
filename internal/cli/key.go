// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// key.go - API key management.
//
// Command: key
// Short:   Set, clear or inspect the OpenRouter API key
//
// Examples:
//   routerchat key set                 Prompt for the key (hidden input)
//   routerchat key set --key sk-or-... Store the key given on the command line
//   routerchat key status              Show where the key comes from
//   routerchat key clear               Forget the stored key

package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/jeranaias/routerchat/internal/cloud"
	"github.com/jeranaias/routerchat/internal/config"
)

// KeyCommand returns the key command with subcommands.
func KeyCommand() *cli.Command {
	return &cli.Command{
		Name:  "key",
		Usage: "Manage the OpenRouter API key",
		Subcommands: []*cli.Command{
			{
				Name:  "set",
				Usage: "Store an API key (starts with " + config.APIKeyPrefix + ")",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "key",
						Usage: "The key; prompted for with hidden input when omitted",
					},
				},
				Action: action(keySetAction),
			},
			{
				Name:   "clear",
				Usage:  "Remove the stored API key",
				Action: action(keyClearAction),
			},
			{
				Name:   "status",
				Usage:  "Show whether a key is configured and where it comes from",
				Action: action(keyStatusAction),
			},
		},
	}
}

// The key commands work without a config file or network, so they use
// the credential store directly instead of a Runtime.

func keySetAction(c *cli.Context) error {
	store, err := config.NewCredentialStore("")
	if err != nil {
		return err
	}

	key := c.String("key")
	if key == "" {
		key, err = readSecret(c.App.Writer, "OpenRouter API key: ")
		if err != nil {
			return err
		}
	}
	if err := store.Set(key); err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintln(w, SuccessStyle.Render("API key saved to "+store.Path()))
	if _, source, _ := store.Key(); source == config.SourceEnv {
		fmt.Fprintln(w, WarningStyle.Render(config.EnvAPIKey+" is set and takes precedence over the stored key."))
	}
	return nil
}

func keyClearAction(c *cli.Context) error {
	store, err := config.NewCredentialStore("")
	if err != nil {
		return err
	}
	if err := store.Clear(); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, SuccessStyle.Render("Stored API key removed."))
	return nil
}

func keyStatusAction(c *cli.Context) error {
	store, err := config.NewCredentialStore("")
	if err != nil {
		return err
	}
	key, source, err := store.Key()
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintln(w, LabelStyle.Render("Source")+source.String())
	// SECURITY: only a fingerprint is ever shown
	fmt.Fprintln(w, LabelStyle.Render("Key")+cloud.NewClient(key).APIKeyMasked())
	if source == config.SourceNone {
		return cli.Exit("", ExitAuthError)
	}
	if err := config.ValidateAPIKey(key); err != nil {
		fmt.Fprintln(w, WarningStyle.Render("Warning: "+err.Error()))
	}
	return nil
}
