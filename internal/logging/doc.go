// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the zap logger used across routerchat.
//
// The terminal belongs to the chat interface, so logs go to a JSON file.
// Components take a *zap.Logger and tag it with a "component" field.
package logging
