// Battereye - Marstek Cloud Battery Telemetry Bridge
// Copyright 2026 Battereye Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/battereye/battereye

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/battereye/battereye/internal/config"
	"github.com/battereye/battereye/internal/coordinator"
)

// Server exposes the read-only HTTP API over the coordinator's published
// snapshot. It never talks to the cloud itself; the only write-shaped
// endpoint, POST /api/v1/refresh, delegates to the coordinator's rate-limited
// manual refresh.
type Server struct {
	coord  *coordinator.Coordinator
	cfg    *config.Config
	router chi.Router
}

// New builds the API server and its route table.
func New(coord *coordinator.Coordinator, cfg *config.Config) *Server {
	s := &Server{
		coord: coord,
		cfg:   cfg,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(httprate.LimitByIP(
		s.cfg.Server.RateLimitReqs,
		s.cfg.Server.RateLimitWindow,
	))

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/devices", s.handleDevices)
		r.Get("/devices/{deviceID}", s.handleDevice)
		r.Get("/summary", s.handleSummary)
		r.Post("/refresh", s.handleRefresh)
	})

	return r
}
