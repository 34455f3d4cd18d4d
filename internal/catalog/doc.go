// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package catalog holds the models the router offers and the
// model/provider selection derived from them.
//
// # Key Types
//
//   - Catalog: immutable, sorted list of models with numeric pricing
//   - Selector: keeps the model and provider choice consistent
//   - Loader: fetches the catalog and handles a rejected API key
//
// A provider is the part of a model id before the first slash
// ("openai/gpt-4o" belongs to "openai").
package catalog
