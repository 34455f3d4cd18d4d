// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Global flags, visible to every subcommand.
var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Config file (.toml or .yaml); default ~/.routerchat/config.toml",
		EnvVars: []string{"ROUTERCHAT_CONFIG"},
	}

	ModelFlag = &cli.StringFlag{
		Name:    "model",
		Aliases: []string{"m"},
		Usage:   "Model id, e.g. openai/gpt-4o-mini (overrides config)",
	}

	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error",
	}
)

// NewApp builds the routerchat command tree. Running it with no command
// starts the chat interface.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "routerchat",
		Usage:   "Chat with OpenRouter models, with per-reply cost tracking",
		Version: fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		Flags: []cli.Flag{
			ConfigFlag,
			ModelFlag,
			LogLevelFlag,
		},
		Action: chatAction,
		Commands: []*cli.Command{
			ChatCommand(),
			ReplCommand(),
			AskCommand(),
			ModelsCommand(),
			ProvidersCommand(),
			ChatsCommand(),
			KeyCommand(),
			ConfigCommand(),
			VersionCommand(),
		},
		EnableBashCompletion: true,
	}
}
