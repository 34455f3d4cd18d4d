// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands defines the slash commands of the chat screen.
//
// It knows what the commands are called, what arguments they take and
// how to complete them. Running a command is left to the screen.
//
// # Key Types
//
//   - Registry: the commands, looked up by name or alias
//   - Parser / ParseResult: a typed line split into command and arguments
//   - Completer: Tab completion for command names, model ids, providers
//     and saved chats
//   - CompletionState: cycling through candidates on repeated Tab
//
// # Usage
//
//	reg := commands.Builtins()
//	res := commands.NewParser(reg).Parse("/model gpt-4o")
//	if res.Command != nil && res.Error == nil {
//	    // dispatch on res.Command.Name
//	}
package commands
