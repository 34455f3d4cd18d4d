// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chats in a local SQLite database.
//
// # Key Types
//
//   - Store: the chat database
//   - Chat: one saved conversation with its messages
//   - ChatMeta: lightweight row for listings
//
// # Usage
//
//	store, err := storage.Open(path, logger)
//	id, err := store.Add(ctx, storage.ChatFromSession(sess, ""))
//	chat, err := store.Get(ctx, id)
//	metas, err := store.Search(ctx, "kubernetes")
//
// Chat ids are SQLite AUTOINCREMENT keys, so an id is never reused after a
// delete. Messages are stored as one msgpack blob per chat.
package storage
