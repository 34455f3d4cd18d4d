// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package usage reconciles authoritative cost and token usage for streamed
// replies.
//
// The stream only reveals a generation id; billing data appears on the
// generation endpoint a few seconds later. A Reconciler polls that endpoint
// under a bounded retry policy and always closes out the reply, either with
// the real numbers or with a diagnostic note. Every outcome is published as
// a Record to the configured Publisher (Redis pub/sub, or nothing).
package usage
