// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/routerchat/internal/model"
	"github.com/jeranaias/routerchat/internal/session"
	"github.com/jeranaias/routerchat/internal/ui/components"
)

// errNoReply means SendMessage returned without recording a reply, which
// only happens for blank input.
var errNoReply = errors.New("no reply was recorded")

// runTurn sends text through a synchronous controller. With live set the
// reply text is echoed to w as it streams. It returns the finished reply
// entry once usage has been reconciled.
func runTurn(ctx context.Context, ctrl *session.Controller, text string, w io.Writer, live bool) (model.ChatMessage, error) {
	tr := ctrl.Transcript()
	replyIndex := tr.Len() + 1

	done := make(chan error, 1)
	go func() {
		done <- ctrl.SendMessage(ctx, text)
	}()

	printed := 0
	echo := func() {
		if !live {
			return
		}
		msgs := tr.Messages()
		if len(msgs) <= replyIndex {
			return
		}
		reply := msgs[replyIndex]
		// Error text is printed once, styled, by the caller.
		if reply.IsError || len(reply.Text) <= printed {
			return
		}
		fmt.Fprint(w, reply.Text[printed:])
		printed = len(reply.Text)
	}

	for {
		select {
		case <-tr.Changes():
			echo()
		case err := <-done:
			if err != nil {
				return model.ChatMessage{}, err
			}
			echo()
			if printed > 0 {
				fmt.Fprintln(w)
			}
			msgs := tr.Messages()
			if len(msgs) <= replyIndex {
				return model.ChatMessage{}, errNoReply
			}
			return msgs[replyIndex], nil
		}
	}
}

// printReply writes whatever runTurn did not: the rendered body when it
// was not streamed, the error text, and the usage line.
func printReply(w io.Writer, reply model.ChatMessage, streamed bool, md *components.Markdown, showUsage bool) {
	switch {
	case reply.IsError:
		fmt.Fprintln(w, ErrorStyle.Render(reply.Text))
	case !streamed:
		fmt.Fprintln(w, md.Render(reply.Text, TerminalWidth()-2))
	}
	if showUsage {
		if line := components.UsageLine(reply); line != "" {
			fmt.Fprintln(w, DimStyle.Render(line))
		}
	}
}

// glamourStyle picks the markdown style for line-mode output.
func glamourStyle(theme string) string {
	if !ColorsEnabled() {
		return "notty"
	}
	switch theme {
	case "dark", "light":
		return theme
	default:
		return "auto"
	}
}
