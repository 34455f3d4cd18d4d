// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud implements the OpenRouter wire protocol.
//
// OpenRouter exposes many upstream LLM providers behind one
// OpenAI-compatible API. Replies stream back as server-sent events; cost
// and token usage are published afterwards on a separate, eventually
// consistent generation endpoint.
//
// # Key Types
//
//   - Client: authenticated HTTP client with pacing and error mapping
//   - FrameDecoder: splits streamed bytes into lines across chunk boundaries
//   - DeltaAccumulator: folds data lines into reply text and the generation id
//   - Stream: pull-based reader tying the two together over a response body
//   - GenerationStats: defensively parsed usage for one generation
//
// # Usage
//
//	client := cloud.NewClient(apiKey)
//	stream, err := client.StreamChat(ctx, cloud.ChatRequest{
//	    Model:    "openai/gpt-4o-mini",
//	    Messages: []cloud.ChatMessage{{Role: "user", Content: "Hello"}},
//	})
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for {
//	    upd, err := stream.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	}
//	stats, err := client.FetchGeneration(ctx, stream.CorrelationID())
//
// # Security
//
// API keys are never logged; diagnostics carry a SHA-256 fingerprint.
// All requests use TLS 1.2+.
package cloud
