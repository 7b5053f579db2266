package gatebot

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/subscription-gate/internal/http/middlewarectx"
)

// RegisterRoutes регистрирует маршруты HTTP-сервера. webhook может быть nil
// в pull-режиме, тогда сервер отдает только /health и /metrics.
func RegisterRoutes(r chi.Router, logger *slog.Logger, webhookPath string, webhook, health http.Handler, limiter *rate.Limiter) {
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	)

	r.Get("/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	if webhook != nil {
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RateLimitMiddleware(logger, limiter))
			r.Post(webhookPath, webhook.ServeHTTP)
		})
	}
}
