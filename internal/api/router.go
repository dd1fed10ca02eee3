package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"patientsim/internal/logging"
)

// RegisterRoutes mounts the dialogue endpoints on r.
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/health", h.Health)
	r.Post("/dialogue/text", h.ProcessText)
	r.Get("/sessions", h.Sessions)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/history", h.History)
		r.Post("/select", h.Select)
		r.Delete("/", h.Delete)
	})
}

// NewRouter builds the full HTTP handler with middleware, serving the API
// under /api.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Route("/api", func(r chi.Router) {
		RegisterRoutes(r, h)
	})
	return r
}

// requestLogger logs each request to the api category.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		log := logging.Get(logging.CategoryAPI).With(
			"request_id", middleware.GetReqID(r.Context()),
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
		)
		if ww.Status() >= http.StatusInternalServerError {
			log.Warn("%s %s (%v)", r.Method, r.URL.Path, time.Since(start))
			return
		}
		log.Debug("%s %s (%v)", r.Method, r.URL.Path, time.Since(start))
	})
}

// cors lets the browser front end call the API from another origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
