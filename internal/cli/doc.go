// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli wires routerchat's commands onto urfave/cli.
//
// Every command builds a Runtime from the global flags and the config
// file: logger, credential store, OpenRouter client, telemetry and usage
// publisher. Interactive commands add a session controller on top.
//
// # Commands
//
//   - chat (default): full-screen terminal UI
//   - repl: line-mode chat with history
//   - ask: one question, one rendered answer
//   - models, providers: browse the model catalog
//   - chats: list, show, delete and export saved chats
//   - key: set, clear or inspect the API key
//   - config: show or initialize the config file
//   - version
//
// Errors returned from actions are mapped to exit codes by ExitError.
package cli
