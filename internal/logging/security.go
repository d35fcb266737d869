// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

package logging

import (
	"regexp"
	"strings"
)

// Marstek Cloud carries the session token and the password digest as URL
// query parameters, so any error that embeds a request URL (url.Error,
// timeouts, status messages with the full URL) can leak them. These patterns
// match the parameter value up to the next delimiter.
var (
	tokenParamPattern = regexp.MustCompile(`(?i)(token=)[^&\s"]+`)
	pwdParamPattern   = regexp.MustCompile(`(?i)(pwd=)[^&\s"]+`)
	mailboxPattern    = regexp.MustCompile(`(?i)(mailbox=)[^&\s"]+`)
)

// SanitizeToken returns a short fingerprint of a session token that is safe
// to log. The fingerprint reveals only the length and the first two
// characters, enough to tell tokens apart in a debug session without
// exposing a usable credential.
func SanitizeToken(token string) string {
	if token == "" {
		return "<none>"
	}
	if len(token) <= 2 {
		return "**"
	}
	return token[:2] + strings.Repeat("*", 6)
}

// SanitizeError strips credential material from an error string before it is
// logged. Token values, password digests, and account identifiers embedded
// in URLs are replaced with a redaction marker.
func SanitizeError(msg string) string {
	msg = tokenParamPattern.ReplaceAllString(msg, "${1}[REDACTED]")
	msg = pwdParamPattern.ReplaceAllString(msg, "${1}[REDACTED]")
	msg = mailboxPattern.ReplaceAllString(msg, "${1}[REDACTED]")
	return msg
}

// SanitizeURL redacts credential query parameters from a URL for logging.
func SanitizeURL(rawURL string) string {
	return SanitizeError(rawURL)
}
