// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package components renders the pieces of the chat screen: transcript
// entries, the status bar and markdown bodies.
//
// Components are plain values rendered with a *styles.Theme. They hold no
// conversation state of their own; the chat model passes in snapshots.
package components
