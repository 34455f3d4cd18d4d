// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and the API key store for
// routerchat.
//
// Supports TOML and YAML configuration files, with defaults, environment
// variable overrides and validation.
//
// # Key Types
//
//   - Config: all settings, one section per concern
//   - CredentialStore: the OpenRouter API key on disk
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (ROUTERCHAT_*, OPENROUTER_API_KEY)
//   - ~/.routerchat/config.toml
//   - ~/.routerchat/config.yaml
//   - Built-in defaults
//
// ROUTERCHAT_HOME moves the whole ~/.routerchat directory.
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	policy := cfg.Reconcile.Policy()
package config
