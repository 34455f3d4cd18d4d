// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/urfave/cli/v2"

	"github.com/jeranaias/routerchat/internal/catalog"
	"github.com/jeranaias/routerchat/internal/cloud"
	"github.com/jeranaias/routerchat/internal/config"
	"github.com/jeranaias/routerchat/internal/session"
	"github.com/jeranaias/routerchat/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitAuthError indicates a missing or rejected API key
	ExitAuthError = 4
	// ExitNetworkError indicates the router could not be reached
	ExitNetworkError = 5
	// ExitNotFoundError indicates a resource was not found
	ExitNotFoundError = 7
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
)

// UsageError is a bad argument or flag value.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string {
	return e.Msg
}

func usageErrorf(format string, args ...any) error {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

// ExitError converts err into a cli.ExitCoder with the matching exit code.
// Errors that already carry a code pass through unchanged.
func ExitError(err error) error {
	if err == nil {
		return nil
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		return err
	}

	return cli.Exit("Error: "+err.Error(), exitCode(err))
}

func exitCode(err error) int {
	var (
		usageErr    *UsageError
		guidance    *session.GuidanceError
		validation  config.ValidateErrors
		validation1 config.ValidationError
		netErr      net.Error
	)

	switch {
	case errors.As(err, &usageErr):
		return ExitUsageError
	case errors.Is(err, session.ErrNoCredential),
		errors.Is(err, catalog.ErrCredentialRejected),
		errors.Is(err, config.ErrNoAPIKey),
		errors.Is(err, config.ErrInvalidAPIKey),
		errors.Is(err, cloud.ErrAuthFailed),
		errors.Is(err, cloud.ErrForbidden),
		errors.Is(err, cloud.ErrNotConfigured):
		return ExitAuthError
	case errors.As(err, &guidance):
		return ExitUsageError
	case errors.As(err, &validation), errors.As(err, &validation1):
		return ExitConfigError
	case errors.Is(err, storage.ErrChatNotFound):
		return ExitNotFoundError
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeoutError
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return ExitTimeoutError
		}
		return ExitNetworkError
	default:
		return ExitGeneralError
	}
}

// action adapts fn so its errors leave with a proper exit code.
func action(fn cli.ActionFunc) cli.ActionFunc {
	return func(c *cli.Context) error {
		return ExitError(fn(c))
	}
}
