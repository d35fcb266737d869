// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

package marstek

import "fmt"

// The cloud API fails in three distinct ways and each demands a different
// reaction from the scheduling layer, so outcomes are typed errors rather
// than strings:
//
//   - AuthError: credentials or token are bad and a retry will not help.
//     User action (re-entering credentials) is required.
//   - PermissionRevokedError: the service revoked API access for the current
//     token (application code "8"). The token is cleared and a fresh login
//     happens lazily on the next scheduled cycle; the user is not prompted.
//   - TransientError: network failures, timeouts, 5xx responses, malformed
//     payloads. The next scheduled cycle retries naturally.

// AuthError reports a non-recoverable authentication failure.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("marstek authentication failed: %s", e.Reason)
}

// PermissionRevokedError reports application code "8": the account has no
// API access permission under the current token.
type PermissionRevokedError struct {
	Reason string
}

func (e *PermissionRevokedError) Error() string {
	return fmt.Sprintf("marstek API access denied: %s", e.Reason)
}

// TransientError reports a failure the next scheduled cycle may recover
// from on its own.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("marstek transient failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("marstek transient failure: %s", e.Reason)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// transientf builds a TransientError without a wrapped cause.
func transientf(format string, args ...any) *TransientError {
	return &TransientError{Reason: fmt.Sprintf(format, args...)}
}
