// Package httpapi is the administrative HTTP surface of kplane. Every route
// forwards to one kplane.Client operation and renders its result as JSON.
//
//	GET    /health
//	GET    /metrics
//	GET    /brokers
//
//	GET    /topics                                 ?brief=true for summaries
//	POST   /topics
//	GET    /topics/{topic}
//	DELETE /topics/{topic}
//	POST   /topics/{topic}/partitions
//	GET    /topics/{topic}/offsets                 live offset windows
//	GET    /topics/{topic}/partitions/{partition}/offsets/{position}
//	GET    /topics/{topic}/groups
//	GET    /topics/{topic}/config
//	PATCH  /topics/{topic}/config                  merge
//	PUT    /topics/{topic}/config                  replace
//	DELETE /topics/{topic}/config                  ?key=k1&key=k2
//	GET    /topics/{topic}/config/{key}
//	PUT    /topics/{topic}/config/{key}
//	DELETE /topics/{topic}/config/{key}
//
//	GET    /groups
//	GET    /groups/{group}                         ?type=old|new&topic=t
//	DELETE /groups/{group}                         old groups only
//	GET    /groups/{group}/legacy-offsets          ?topic=t
//	POST   /groups/{group}/reset
//	GET    /groups/{group}/topics/{topic}/commit-times
//
//	POST   /reassignments/plan
//	POST   /reassignments                          submit and report status
//	POST   /reassignments/status
//
// Errors are {"error": msg, "status": code}: 400 for invalid requests, 404
// for unknown groups and topics, 409 for active groups, 503 when a
// dependency fails or a deleted topic is still visible, and 500 otherwise.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kplane/kplane/internal/config"
	"github.com/kplane/kplane/pkg/kplane"
)

const timeFormat = time.RFC3339Nano

// RequestObserver records served requests.
type RequestObserver interface {
	ObserveRequest(method, route string, code int, took time.Duration)
}

// Opt is an option to configure a Server.
type Opt interface {
	apply(*Server)
}

type opt struct{ fn func(*Server) }

func (o opt) apply(s *Server) { o.fn(s) }

// Logger sets the request logger, overriding the default no-op logger.
func Logger(l *zap.Logger) Opt {
	return opt{func(s *Server) { s.log = l }}
}

// Metrics observes every request with obs and serves h on /metrics.
func Metrics(obs RequestObserver, h http.Handler) Opt {
	return opt{func(s *Server) { s.obs, s.metrics = obs, h }}
}

// Server is the admin HTTP server.
type Server struct {
	cl *kplane.Client

	router     *chi.Mux
	httpServer *http.Server

	log     *zap.Logger
	obs     RequestObserver
	metrics http.Handler
}

// New returns a server for cl listening on cfg.Addr once started.
func New(cl *kplane.Client, cfg config.HTTP, opts ...Opt) *Server {
	r := chi.NewRouter()
	s := &Server{
		cl:     cl,
		router: r,
		log:    zap.NewNop(),
	}
	for _, o := range opts {
		o.apply(s)
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	s.routes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until Shutdown. A clean shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.log.Info("starting admin server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down admin server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() {
	r := s.router
	r.Get("/health", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	r.Get("/brokers", s.listBrokers)

	r.Route("/topics", func(r chi.Router) {
		r.Get("/", s.listTopics)
		r.Post("/", s.createTopic)
		r.Route("/{topic}", func(r chi.Router) {
			r.Get("/", s.describeTopic)
			r.Delete("/", s.deleteTopic)
			r.Post("/partitions", s.addPartitions)
			r.Get("/offsets", s.watermarks)
			r.Get("/partitions/{partition}/offsets/{position}", s.fetchOffset)
			r.Get("/groups", s.groupsByTopic)
			r.Route("/config", func(r chi.Router) {
				r.Get("/", s.topicConfig)
				r.Patch("/", s.setTopicConfig)
				r.Put("/", s.replaceTopicConfig)
				r.Delete("/", s.deleteTopicConfig)
				r.Get("/{key}", s.topicConfigKey)
				r.Put("/{key}", s.setTopicConfigKey)
				r.Delete("/{key}", s.deleteTopicConfigKey)
			})
		})
	})

	r.Route("/groups", func(r chi.Router) {
		r.Get("/", s.listGroups)
		r.Route("/{group}", func(r chi.Router) {
			r.Get("/", s.describeGroup)
			r.Delete("/", s.deleteGroup)
			r.Get("/legacy-offsets", s.legacyOffsets)
			r.Post("/reset", s.resetOffset)
			r.Get("/topics/{topic}/commit-times", s.commitTimes)
		})
	})

	r.Route("/reassignments", func(r chi.Router) {
		r.Post("/plan", s.planReassignment)
		r.Post("/", s.executeReassignment)
		r.Post("/status", s.checkReassignment)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// logRequests logs and observes every request once it is served.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		took := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		if s.obs != nil {
			s.obs.ObserveRequest(r.Method, route, status, took)
		}
		s.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("took", took),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func errorResponse(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error":  msg,
		"status": status,
	})
}

// statusFor maps a kplane error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, kplane.ErrUnknownGroup), errors.Is(err, kplane.ErrUnknownTopic):
		return http.StatusNotFound
	case errors.Is(err, kplane.ErrGroupActive):
		return http.StatusConflict
	case errors.Is(err, kplane.ErrTopicNotDeleted):
		return http.StatusServiceUnavailable
	case errors.Is(err, kplane.ErrInvalidRequest):
		return http.StatusBadRequest
	case kplane.IsDependencyError(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Warn("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	errorResponse(w, status, err.Error())
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", kplane.ErrInvalidRequest, fmt.Sprintf(format, args...))
}
