// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders saved chats as Markdown or JSON.
//
// # Usage
//
//	exporter, err := export.ForFormat("md", nil)
//	data, err := exporter.Export(chat)
//
//	path, err := export.ToFile(chat, exporter, "./exports")
package export
