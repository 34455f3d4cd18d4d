// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session drives one conversation turn from user text to a
// reconciled reply.
//
// # Key Types
//
//   - Controller: owns the transcript, the model selection and the
//     in-flight flags; SendMessage is its single entry point
//   - GuidanceError: precondition failure with a hint for the user
//
// # Lifecycle of a turn
//
//  1. SendMessage checks the API key and model, then appends the user entry
//     and an empty pending assistant placeholder.
//  2. The reply streams in; every delta rewrites the placeholder's text with
//     the full reply so far.
//  3. On a transport failure the placeholder becomes an error entry.
//  4. Usage reconciliation always follows and closes the placeholder.
//
// Only one stream may be in flight per controller. Reconciliation of a turn
// may overlap the next turn's stream.
package session
