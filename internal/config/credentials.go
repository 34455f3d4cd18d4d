// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jeranaias/routerchat/internal/util"
)

// EnvAPIKey overrides the stored key when set.
const EnvAPIKey = "OPENROUTER_API_KEY"

// APIKeyPrefix starts every OpenRouter key.
const APIKeyPrefix = "sk-or-"

var (
	// ErrNoAPIKey means neither the environment nor the store has a key.
	ErrNoAPIKey = errors.New("no API key configured")

	// ErrInvalidAPIKey means the key does not look like an OpenRouter key.
	ErrInvalidAPIKey = errors.New("API key must start with " + APIKeyPrefix)
)

// ValidateAPIKey checks the shape of a key without contacting the router.
func ValidateAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrNoAPIKey
	}
	if !strings.HasPrefix(key, APIKeyPrefix) || len(key) <= len(APIKeyPrefix) {
		return ErrInvalidAPIKey
	}
	if strings.ContainsAny(key, " \t\r\n") {
		return fmt.Errorf("%w: contains whitespace", ErrInvalidAPIKey)
	}
	return nil
}

// KeySource says where the active key came from.
type KeySource int

const (
	SourceNone KeySource = iota
	SourceEnv
	SourceFile
)

func (s KeySource) String() string {
	switch s {
	case SourceEnv:
		return "environment (" + EnvAPIKey + ")"
	case SourceFile:
		return "credentials file"
	default:
		return "not set"
	}
}

// CredentialStore keeps the API key in a single 0600 file.
type CredentialStore struct {
	path string
	mu   sync.Mutex
}

// NewCredentialStore uses path, or <config dir>/credentials when empty.
func NewCredentialStore(path string) (*CredentialStore, error) {
	if path == "" {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "credentials")
	}
	return &CredentialStore{path: path}, nil
}

// Path returns the credentials file path.
func (s *CredentialStore) Path() string {
	return s.path
}

// Key returns the active key and its source. The environment wins over the
// file. A missing file is not an error.
func (s *CredentialStore) Key() (string, KeySource, error) {
	if key := strings.TrimSpace(os.Getenv(EnvAPIKey)); key != "" {
		return key, SourceEnv, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", SourceNone, nil
	}
	if err != nil {
		return "", SourceNone, fmt.Errorf("failed to read credentials: %w", err)
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", SourceNone, nil
	}
	return key, SourceFile, nil
}

// Set validates and stores a key.
// SECURITY: written atomically with 0600 permissions.
func (s *CredentialStore) Set(key string) error {
	key = strings.TrimSpace(key)
	if err := ValidateAPIKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := util.AtomicWriteFile(s.path, []byte(key+"\n"), 0600, 0700); err != nil {
		return fmt.Errorf("failed to store API key: %w", err)
	}
	return nil
}

// Clear removes the stored key. Clearing an absent key succeeds.
func (s *CredentialStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear API key: %w", err)
	}
	return nil
}
