// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry wires OpenTelemetry tracing and metrics for routerchat.
//
// Instruments are created once from a MeterProvider and shared by the
// session controller and the usage reconciler. With no provider configured
// the global (no-op) providers are used. NewTracerProvider installs an SDK
// provider that writes finished spans to the zap log file.
//
// # Instruments
//
//   - routerchat.tokens: prompt/completion tokens billed, by model
//   - routerchat.cost: USD billed, by model
//   - routerchat.reconcile.attempts: generation lookups per reply
//   - routerchat.stream.duration: time from request to last delta
//
// # Privacy
//
// Only counts, costs and model ids are recorded. Message text never leaves
// the process.
package telemetry
