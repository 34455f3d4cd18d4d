// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chats.go - Saved chat management.
//
// Command: chats
// Short:   List, show, delete and export saved chats
//
// Examples:
//   routerchat chats list --search kubernetes
//   routerchat chats show 12
//   routerchat chats export 12 --format json --output ./exports
//   routerchat chats delete 12

package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/jeranaias/routerchat/internal/export"
	"github.com/jeranaias/routerchat/internal/storage"
	"github.com/jeranaias/routerchat/internal/ui/components"
	"github.com/jeranaias/routerchat/internal/util"
)

// ChatsCommand returns the chats command with subcommands.
func ChatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "chats",
		Usage: "Manage saved chats",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List saved chats, most recent first",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "search",
						Usage: "Only chats whose name or messages contain this text",
					},
					JSONFlag,
				},
				Action: withStore(chatsListAction),
			},
			{
				Name:      "show",
				Usage:     "Print a saved chat",
				ArgsUsage: "<id>",
				Action:    withStore(chatsShowAction),
			},
			{
				Name:      "delete",
				Usage:     "Delete a saved chat",
				ArgsUsage: "<id>",
				Action:    withStore(chatsDeleteAction),
			},
			{
				Name:      "export",
				Usage:     "Export a saved chat as Markdown or JSON",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Export format: md, json",
						Value:   "md",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write a file into this directory instead of stdout",
					},
				},
				Action: withStore(chatsExportAction),
			},
		},
	}
}

// withStore runs fn with an open chat store.
func withStore(fn func(c *cli.Context, rt *Runtime, store *storage.Store) error) cli.ActionFunc {
	return withRuntime(func(c *cli.Context, rt *Runtime) error {
		store, err := rt.OpenStore()
		if err != nil {
			return err
		}
		defer store.Close()
		return fn(c, rt, store)
	})
}

func chatIDArg(c *cli.Context) (int64, error) {
	if c.NArg() != 1 {
		return 0, usageErrorf("%s needs exactly one chat id", c.Command.Name)
	}
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil || id <= 0 {
		return 0, usageErrorf("invalid chat id %q", c.Args().First())
	}
	return id, nil
}

// chatMetaJSON is the JSON shape of one listed chat.
type chatMetaJSON struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Model        string  `json:"model"`
	TotalCost    float64 `json:"total_cost"`
	MessageCount int     `json:"message_count"`
	UpdatedAt    string  `json:"updated_at"`
}

func chatsListAction(c *cli.Context, _ *Runtime, store *storage.Store) error {
	metas, err := store.Search(c.Context, c.String("search"))
	if err != nil {
		return err
	}

	w := c.App.Writer
	if c.Bool("json") {
		out := make([]chatMetaJSON, 0, len(metas))
		for _, m := range metas {
			out = append(out, chatMetaJSON{
				ID:           m.ID,
				Name:         m.Name,
				Model:        m.Model.ModelID,
				TotalCost:    m.TotalCost,
				MessageCount: m.MessageCount,
				UpdatedAt:    m.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			})
		}
		return writeJSON(w, out)
	}

	if len(metas) == 0 {
		fmt.Fprintln(w, "No saved chats.")
		return nil
	}
	writeChatTable(w, metas, TerminalWidth())
	return nil
}

func writeChatTable(w io.Writer, metas []storage.ChatMeta, width int) {
	const (
		idCol    = 6
		msgCol   = 5
		costCol  = 11
		whenCol  = 16
		modelCol = 24
	)
	nameCol := width - idCol - msgCol - costCol - whenCol - modelCol - 5
	if nameCol < 12 {
		nameCol = 12
	}

	fmt.Fprintln(w, TitleStyle.Render(
		util.PadRight("ID", idCol)+" "+
			util.PadRight("NAME", nameCol)+" "+
			util.PadRight("MODEL", modelCol)+" "+
			util.PadRight("MSGS", msgCol)+" "+
			util.PadRight("COST", costCol)+" "+
			"UPDATED"))
	for _, m := range metas {
		fmt.Fprintln(w,
			util.PadRight(strconv.FormatInt(m.ID, 10), idCol)+" "+
				util.PadRight(util.Truncate(m.Name, nameCol), nameCol)+" "+
				util.PadRight(util.Truncate(m.Model.Label(), modelCol), modelCol)+" "+
				util.PadRight(strconv.Itoa(m.MessageCount), msgCol)+" "+
				util.PadRight(util.FormatCost(m.TotalCost), costCol)+" "+
				m.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
}

func chatsShowAction(c *cli.Context, rt *Runtime, store *storage.Store) error {
	id, err := chatIDArg(c)
	if err != nil {
		return err
	}
	chat, err := store.Get(c.Context, id)
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintln(w, TitleStyle.Render(chat.Name))
	fmt.Fprintln(w, LabelStyle.Render("Model")+chat.Model.Label())
	if chat.SystemPrompt != "" {
		fmt.Fprintln(w, LabelStyle.Render("System")+chat.SystemPrompt)
	}
	fmt.Fprintln(w, LabelStyle.Render("Total cost")+util.FormatCost(chat.TotalCost))
	fmt.Fprintln(w)

	md := components.NewMarkdown(glamourStyle(rt.Config.UI.Theme), rt.Config.UI.Markdown)
	for _, msg := range chat.Messages {
		fmt.Fprintln(w, SpeakerStyle.Render(msg.Sender.DisplayName()))
		if msg.IsAssistant() {
			printReply(w, msg, false, md, rt.Config.UI.ShowUsage)
		} else {
			fmt.Fprintln(w, msg.Text)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func chatsDeleteAction(c *cli.Context, _ *Runtime, store *storage.Store) error {
	id, err := chatIDArg(c)
	if err != nil {
		return err
	}
	if err := store.Delete(c.Context, id); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, SuccessStyle.Render(fmt.Sprintf("Deleted chat %d.", id)))
	return nil
}

func chatsExportAction(c *cli.Context, _ *Runtime, store *storage.Store) error {
	id, err := chatIDArg(c)
	if err != nil {
		return err
	}
	exporter, err := export.ForFormat(c.String("format"), export.DefaultOptions())
	if err != nil {
		return &UsageError{Msg: err.Error()}
	}
	chat, err := store.Get(c.Context, id)
	if err != nil {
		return err
	}

	if dir := c.String("output"); dir != "" {
		path, err := export.ToFile(chat, exporter, dir)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, SuccessStyle.Render("Exported to "+path))
		return nil
	}

	data, err := exporter.Export(chat)
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(data)
	return err
}
