// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

// Package marstek implements the Marstek Cloud session client and the
// device-list fetcher.
//
// The cloud API is poll-only and authenticates with a short-lived opaque
// token: POST the MD5 digest of the account password to obtain a token, then
// pass it on every device-list GET. Errors arrive inconsistently — as HTTP
// statuses, as application codes inside HTTP 200 bodies, and as malformed
// payloads — so every outcome is reduced to one of three typed errors
// (AuthError, PermissionRevokedError, TransientError) before it leaves this
// package.
//
// The SessionClient owns the token; the Fetcher owns classification and the
// single re-login retry per cycle. Neither knows about scheduling.
package marstek
