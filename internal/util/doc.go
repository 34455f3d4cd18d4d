// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the CLI, the TUI and the
// stores.
//
// # Key Functions
//
// Display:
//   - Truncate, PadRight: display-width aware column helpers
//   - FormatCost, FormatTokens: locale-grouped numbers
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	fmt.Println(util.PadRight(util.Truncate(name, 30), 30), util.FormatCost(0.00042))
//
//	err := util.AtomicWriteFile(path, data, 0600, 0700)
package util
