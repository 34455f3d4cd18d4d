// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jeranaias/routerchat/internal/cloud"
)

// ErrCredentialRejected means the router refused the API key while the
// catalog was loading. The stored key has been cleared.
var ErrCredentialRejected = errors.New("API key rejected; it has been cleared, set a new one with `routerchat key set`")

// Lister fetches the model listing. *cloud.Client implements it.
type Lister interface {
	ListModels(ctx context.Context) ([]cloud.ModelInfo, error)
}

// CredentialClearer forgets the stored API key.
type CredentialClearer interface {
	Clear() error
}

// Loader fetches the catalog.
type Loader struct {
	Lister      Lister
	Credentials CredentialClearer // optional
	Logger      *zap.Logger       // optional
}

// Load fetches and builds the catalog. A 401 or 403 clears the stored
// credential and returns ErrCredentialRejected.
func (l *Loader) Load(ctx context.Context) (*Catalog, error) {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	infos, err := l.Lister.ListModels(ctx)
	if err != nil {
		if errors.Is(err, cloud.ErrAuthFailed) || errors.Is(err, cloud.ErrForbidden) {
			logger.Warn("API key rejected while loading models", zap.Error(err))
			if l.Credentials != nil {
				if cerr := l.Credentials.Clear(); cerr != nil {
					return nil, fmt.Errorf("%w (clearing stored key failed: %v)", ErrCredentialRejected, cerr)
				}
			}
			return nil, ErrCredentialRejected
		}
		return nil, fmt.Errorf("failed to load models: %w", err)
	}

	c := FromInfos(infos)
	logger.Debug("model catalog loaded", zap.Int("models", c.Len()))
	return c, nil
}
