// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package retry runs an operation under a bounded exponential backoff
// policy.
//
// The policy is plain data (attempt budget, base delay, multiplier) so it
// can be loaded from configuration and asserted in tests. Callers decide per
// error whether another attempt is worthwhile via a Classifier.
package retry
