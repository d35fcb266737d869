// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/battereye/battereye/internal/logging"
	"github.com/battereye/battereye/internal/metrics"
)

// requestLogger emits one structured log line per request and feeds the API
// metrics. Token query parameters never appear in our own URLs, but the URL
// is sanitized anyway so a probing client cannot reflect one into the logs.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		metrics.RecordAPIRequest(r.Method, r.URL.Path, ww.Status(), elapsed)

		logging.Debug().
			Str("method", r.Method).
			Str("path", logging.SanitizeURL(r.URL.String())).
			Str("remote", r.RemoteAddr).
			Int("status", ww.Status()).
			Dur("elapsed", elapsed).
			Msg("API request")
	})
}
