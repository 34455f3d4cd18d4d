// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot question command.
//
// Command: ask
// Short:   Ask a single question
//
// Examples:
//   routerchat ask "What is the capital of France?"
//   routerchat ask -m anthropic/claude-3.5-sonnet "Explain goroutines"
//   echo "Summarize this" | routerchat ask --raw

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/jeranaias/routerchat/internal/ui/components"
)

// AskCommand returns the ask command.
func AskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask a single question and print the answer with its cost",
		ArgsUsage: "<question>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "system",
				Aliases: []string{"s"},
				Usage:   "System prompt for this question",
			},
			&cli.BoolFlag{
				Name:  "raw",
				Usage: "Print the reply as it streams, without markdown rendering",
			},
			&cli.BoolFlag{
				Name:  "no-usage",
				Usage: "Do not print the cost line",
			},
		},
		Action: withRuntime(askAction),
	}
}

func askAction(c *cli.Context, rt *Runtime) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" && !IsTTY() {
		data, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
		if err != nil {
			return fmt.Errorf("failed to read question from stdin: %w", err)
		}
		question = strings.TrimSpace(string(data))
	}
	if question == "" {
		return usageErrorf("ask needs a question, e.g. routerchat ask \"What is Go?\"")
	}

	ctx := c.Context
	ref, _, err := rt.ResolveModel(ctx)
	if err != nil {
		return err
	}

	ctrl := rt.NewController(ref, false)
	defer ctrl.Close()
	if c.IsSet("system") {
		ctrl.SetSystemPrompt(c.String("system"))
	}

	w := c.App.Writer
	live := c.Bool("raw")
	reply, err := runTurn(ctx, ctrl, question, w, live)
	if err != nil {
		return err
	}

	md := components.NewMarkdown(glamourStyle(rt.Config.UI.Theme), rt.Config.UI.Markdown && !live)
	printReply(w, reply, live, md, rt.Config.UI.ShowUsage && !c.Bool("no-usage"))

	if reply.IsError {
		return cli.Exit("", ExitGeneralError)
	}
	return nil
}
