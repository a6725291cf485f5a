/*
Copyright © 2022 Red Hat, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package webui contains the dashboard that shows answers of configured
// questions for selected date range and on-call region. Besides HTML pages
// it provides JSON API, health check and Prometheus metrics.
package webui

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/openshift/osd-alert-analysis/questions"
)

//go:embed templates
var templatesFS embed.FS

// Source is the read-only cache the dashboard is backed by
type Source interface {
	questions.Source
	Ping(ctx context.Context) error
}

// Server serves the dashboard
type Server struct {
	source    Source
	questions []questions.Question
	templates *template.Template
	now       func() time.Time
}

// server timeouts
const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 2 * time.Minute
	idleTimeout     = time.Minute
	shutdownTimeout = 10 * time.Second
)

// New creates dashboard server answering given questions in given order
func New(source Source, active []questions.Question) *Server {
	return &Server{
		source:    source,
		questions: active,
		templates: template.Must(template.New("").Funcs(templateFuncs).ParseFS(templatesFS, "templates/*.html")),
		now:       time.Now,
	}
}

// Routes returns router with all dashboard endpoints
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.redirectToDefaultRange)
	r.Get("/range", s.redirectToSelectedRange)
	r.Get("/healthz", s.healthCheck)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/questions/{id}", s.answerQuestion)
	r.Get("/{since}/{until}", s.showAnswers)

	return r
}

// ListenAndServe serves the dashboard on given address until the context
// is canceled
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:         address,
		Handler:      s.Routes(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errs := make(chan error, 1)
	go func() {
		log.Info().Str("address", address).Msg("Dashboard is listening")
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down dashboard")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// unmatchedRoute is route label of requests not matching any route
const unmatchedRoute = "unmatched"

// requestLogger logs every served request and counts it by route pattern
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(wrapped, r)

		status := wrapped.Status()
		if status == 0 {
			status = http.StatusOK
		}

		// raw paths are never used as label values, every unknown
		// path would create new time series
		route := unmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()

		log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("Request served")
	})
}
