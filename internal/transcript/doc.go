// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transcript holds the live, ordered message log of the active
// conversation.
//
// Producers (the stream controller and the usage reconciler) never touch
// messages directly. They emit typed events (TextUpdated, Finalized, ...)
// and Transcript.Apply is the one place those events become mutations.
// Readers take snapshots and may watch Changes for redraw signals.
package transcript
