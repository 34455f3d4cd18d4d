// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat is the full-screen chat interface.
//
// The Model drives a session.Controller. A turn runs as a tea.Cmd that
// calls SendMessage; the transcript's change channel wakes the program
// so streamed text appears as it arrives. Usage reconciliation continues
// in the background after the stream ends, and the spinner keeps ticking
// until the controller is no longer Busy.
//
// # Keys
//
//	Enter            send the message or run a /command
//	Alt+Enter, C-j   insert a newline
//	Tab              complete a /command, model id or chat id
//	C-s              save the chat
//	C-n              start a new chat (refused while a reply is in flight)
//	PgUp / PgDn      scroll the transcript
//	C-c              quit
//
// # Usage
//
//	err := chat.Run(ctx, chat.Options{Controller: ctrl, Store: store})
package chat
